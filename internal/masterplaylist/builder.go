package masterplaylist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/streamforge/gateway/internal/ffmpeg"
	"github.com/streamforge/gateway/internal/gateway"
)

// sourceProber is the probing surface Builder needs, satisfied by
// *ffmpeg.Prober. Declared narrowly so tests can substitute a fake.
type sourceProber interface {
	Probe(ctx context.Context, url string) (*ffmpeg.ProbeResult, error)
}

// warmer kicks off segment 0 of a variant in the background so the
// encoder has started by the time a client follows the master playlist's
// variant link, mirroring internal/httpapi's warm-up on a bare playlist
// request.
type warmer interface {
	EnsureSegment(ctx context.Context, req gateway.EnsureRequest) (string, error)
}

// Builder implements the master-playlist generator described in spec §1:
// a pure-transform collaborator over the core. It probes the source file
// directly (not a produced segment) to compute a variant ladder, prefers
// any already-persisted Variant Manifest info over its own estimate, and
// triggers background warm-up for every rendition it names.
type Builder struct {
	prober   sourceProber
	manifest *gateway.Manifest
	warmer   warmer
}

// NewBuilder creates a Builder.
func NewBuilder(prober *ffmpeg.Prober, manifest *gateway.Manifest, warmer_ warmer) *Builder {
	return &Builder{prober: prober, manifest: manifest, warmer: warmer_}
}

// Build probes sourcePath and returns the #EXTM3U master playlist naming
// every computed variant and audio rendition for videoId.
func (b *Builder) Build(ctx context.Context, videoId gateway.VideoId, sourcePath string) ([]byte, error) {
	probeResult, err := b.prober.Probe(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("masterplaylist: probing source: %w", err)
	}

	videoStream := probeResult.GetVideoStream()
	if videoStream == nil {
		return nil, fmt.Errorf("masterplaylist: no video stream in %s", sourcePath)
	}

	src := SourceInfo{
		Width:        videoStream.Width,
		Height:       videoStream.Height,
		VideoBitrate: probeResult.Bitrate(),
		VideoCodec:   videoStream.CodecName,
		VideoProfile: videoStream.Profile,
		VideoLevel:   videoStream.Level,
	}
	if audioStream := probeResult.GetAudioStream(); audioStream != nil {
		src.AudioChannels = audioStream.Channels
		src.AudioCodec = audioStream.CodecName
	}

	videos := VideoLadder(src)
	audios := AudioLadder(src)

	for _, v := range videos {
		b.warmUp(videoId, v, sourcePath)
	}
	for _, a := range audios {
		b.warmUp(videoId, a, sourcePath)
	}

	var out strings.Builder
	out.WriteString("#EXTM3U\n")
	out.WriteString("#EXT-X-VERSION:7\n\n")

	const audioGroupID = "audio"
	for _, a := range audios {
		out.WriteString(fmt.Sprintf(
			"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q,DEFAULT=%s,AUTOSELECT=YES,CHANNELS=%q,URI=%q\n",
			audioGroupID, a.Label, defaultFlag(a.Label == "audio_stereo"), fmt.Sprintf("%d", a.Channels),
			audioPlaylistURI(videoId, a),
		))
	}
	if len(audios) > 0 {
		out.WriteString("\n")
	}

	for _, v := range videos {
		codecs := b.codecsAttribute(videoId, v)
		out.WriteString(fmt.Sprintf(
			"#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,CODECS=%q,AUDIO=%q\n",
			v.Bitrate, v.Resolution, codecs, audioGroupID,
		))
		out.WriteString(videoPlaylistURI(videoId, v) + "\n")
	}

	return []byte(out.String()), nil
}

// codecsAttribute prefers persisted Variant Manifest info (a real probed
// RFC6381 string) and falls back to a ladder-estimated guess when the
// variant hasn't been transcoded yet.
func (b *Builder) codecsAttribute(videoId gateway.VideoId, v gateway.Variant) string {
	videoCodec := estimateVideoCodecString(v)
	audioCodec := "mp4a.40.2"

	if info, ok := b.manifest.PeekVideoInfo(videoId, v.Label); ok && info.RFCCodec != "" {
		videoCodec = info.RFCCodec
	}
	if info, ok := b.manifest.PeekAudioInfo(videoId, "audio_stereo"); ok && info.RFCAudioCodec != "" {
		audioCodec = info.RFCAudioCodec
	}
	return videoCodec + "," + audioCodec
}

// estimateVideoCodecString guesses an H.264 High-profile RFC6381 string per
// target height before the variant has ever been probed. It intentionally
// matches eleven-am-goshl's static per-resolution lookup rather than
// deriving profile/level, since nothing has been encoded yet to derive
// them from.
func estimateVideoCodecString(v gateway.Variant) string {
	switch v.Label {
	case "4k":
		return "avc1.640033"
	case "1080p":
		return "avc1.640028"
	case "720p":
		return "avc1.64001f"
	case "480p":
		return "avc1.64001e"
	default:
		return "avc1.640015"
	}
}

func defaultFlag(isDefault bool) string {
	if isDefault {
		return "YES"
	}
	return "NO"
}

func videoPlaylistURI(videoId gateway.VideoId, v gateway.Variant) string {
	return fmt.Sprintf("/api/stream/%s/%s/playlist.m3u8", videoId, v.Label)
}

func audioPlaylistURI(videoId gateway.VideoId, a gateway.Variant) string {
	if a.TrackIndex > 0 {
		return fmt.Sprintf("/api/stream/%s/audio/track_%d/playlist.m3u8", videoId, a.TrackIndex)
	}
	return fmt.Sprintf("/api/stream/%s/audio/audio_stereo/playlist.m3u8", videoId)
}

// warmUp ensures a variant's first segment is underway without blocking
// the master-playlist response, matching the warm-up the playlist routes
// already perform on a bare request.
func (b *Builder) warmUp(videoId gateway.VideoId, v gateway.Variant, sourcePath string) {
	if b.warmer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = b.warmer.EnsureSegment(ctx, gateway.EnsureRequest{
			ClientId:   "warmup",
			VideoId:    videoId,
			Variant:    v,
			SourcePath: sourcePath,
			Segment:    0,
		})
	}()
}
