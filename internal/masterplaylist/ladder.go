// Package masterplaylist is the (non-core, collaborator) master-playlist
// generator: given a source file's probed stream metadata it computes a
// variant ladder and emits the #EXTM3U document naming each variant and
// audio group. It never decides transcoding policy itself — it only reads
// persisted variant info and kicks off warm-up, per the core's scope.
package masterplaylist

import (
	"fmt"

	"github.com/streamforge/gateway/internal/gateway"
)

type bitrateBounds struct {
	min int
	max int
}

// targetHeights is the fixed cascading ladder, matching the label set
// Variant.Priority recognizes (4k, 1080p, 720p, 480p).
var targetHeights = []int{2160, 1080, 720, 480}

var videoLabelByHeight = map[int]gateway.VariantLabel{
	2160: "4k",
	1080: "1080p",
	720:  "720p",
	480:  "480p",
}

var bitrateBoundsByHeight = map[int]bitrateBounds{
	2160: {min: 8_000_000, max: 20_000_000},
	1080: {min: 2_000_000, max: 8_000_000},
	720:  {min: 1_000_000, max: 4_000_000},
	480:  {min: 500_000, max: 2_000_000},
}

// SourceInfo is the subset of a probed source file's streams the ladder
// needs to compute a variant list.
type SourceInfo struct {
	Width         int
	Height        int
	VideoBitrate  int
	VideoCodec    string
	VideoProfile  string
	VideoLevel    int
	AudioChannels int
	AudioCodec    string
}

// VideoLadder returns the video renditions at or below the source's native
// resolution, scaling bitrate by pixel-count ratio against the source and
// clamping to per-resolution bounds. A source below the lowest rung is
// offered as a single rendition at its native resolution.
func VideoLadder(src SourceInfo) []gateway.Variant {
	srcBitrate := src.VideoBitrate
	if srcBitrate <= 0 {
		srcBitrate = estimateBitrate(src.Height)
	}
	srcPixels := src.Width * src.Height
	if srcPixels <= 0 {
		srcPixels = 1
	}

	var out []gateway.Variant
	for _, height := range targetHeights {
		if height > src.Height {
			continue
		}
		width := scaleWidth(src.Width, src.Height, height)
		ratio := float64(width*height) / float64(srcPixels)
		bitrate := clampBitrate(height, int(float64(srcBitrate)*ratio))
		out = append(out, gateway.Variant{
			Label:      videoLabelByHeight[height],
			Kind:       gateway.KindVideo,
			Resolution: fmt.Sprintf("%dx%d", width, height),
			Bitrate:    bitrate,
			CodecHint:  src.VideoCodec,
		})
	}

	if len(out) == 0 {
		height := nearestRungAtOrBelow(src.Height)
		out = append(out, gateway.Variant{
			Label:      videoLabelByHeight[height],
			Kind:       gateway.KindVideo,
			Resolution: fmt.Sprintf("%dx%d", src.Width, src.Height),
			Bitrate:    srcBitrate,
			CodecHint:  src.VideoCodec,
		})
	}
	return out
}

func scaleWidth(srcWidth, srcHeight, targetHeight int) int {
	if srcHeight == 0 {
		return targetHeight
	}
	width := int(float64(targetHeight) * float64(srcWidth) / float64(srcHeight))
	if width%2 != 0 {
		width++
	}
	return width
}

func clampBitrate(height, bitrate int) int {
	b, ok := bitrateBoundsByHeight[height]
	if !ok {
		return bitrate
	}
	if bitrate < b.min {
		return b.min
	}
	if bitrate > b.max {
		return b.max
	}
	return bitrate
}

func estimateBitrate(height int) int {
	switch {
	case height >= 2160:
		return 15_000_000
	case height >= 1080:
		return 5_000_000
	case height >= 720:
		return 2_500_000
	default:
		return 1_200_000
	}
}

func nearestRungAtOrBelow(height int) int {
	lowest := targetHeights[len(targetHeights)-1]
	for _, h := range targetHeights {
		if h <= height {
			return h
		}
	}
	return lowest
}

// AudioLadder returns the audio renditions to offer: a stereo AAC
// rendition always, plus an indexed multichannel passthrough rendition
// when the source carries more than two channels. Labels match the routes
// servePlaylist/serveAudioPlaylist expose (audio_stereo, audio_<track>).
func AudioLadder(src SourceInfo) []gateway.Variant {
	out := []gateway.Variant{
		{Label: "audio_stereo", Kind: gateway.KindAudio, Channels: 2, CodecHint: "aac"},
	}
	if src.AudioChannels > 2 {
		out = append(out, gateway.Variant{
			Label:      "audio_1",
			Kind:       gateway.KindAudio,
			Channels:   src.AudioChannels,
			TrackIndex: 1,
			CodecHint:  src.AudioCodec,
		})
	}
	return out
}
