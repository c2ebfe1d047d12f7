package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/streamforge/gateway/internal/codec"
	"github.com/streamforge/gateway/internal/ffmpeg"
)

// SegmentProber is the probing surface Manifest needs, satisfied by
// *ffmpeg.Prober. Declared narrowly here so tests can substitute a fake
// without shelling out to ffprobe.
type SegmentProber interface {
	Probe(ctx context.Context, url string) (*ffmpeg.ProbeResult, error)
}

// segmentValidator is the MPEG-TS sanity-check surface Manifest needs,
// satisfied by *TSValidator. Declared narrowly so tests can substitute a
// fake that doesn't require real demuxable segment data on disk.
type segmentValidator interface {
	ValidateSegment(ctx context.Context, path string) (bool, error)
}

// Manifest implements the Variant Manifest (C7): it lazily probes the first
// N stable segments of a variant and persists the result as info.json or
// audio_info.json. Codec-reference generation races (multiple readers
// before the first write, per §9 Open Questions) are serialized with a
// single-flight guard keyed by VideoId+variant.
type Manifest struct {
	paths             Paths
	store             *Store
	prober            SegmentProber
	validator         segmentValidator
	segmentsToAnalyze int

	group singleflight.Group
}

// NewManifest creates a Manifest. segmentsToAnalyze is the number of
// initial segments to probe before writing the persisted info (default 12
// per §4.7 when 0 is passed).
func NewManifest(paths Paths, store *Store, prober SegmentProber, segmentsToAnalyze int) *Manifest {
	if segmentsToAnalyze <= 0 {
		segmentsToAnalyze = 12
	}
	return &Manifest{paths: paths, store: store, prober: prober, validator: NewTSValidator(), segmentsToAnalyze: segmentsToAnalyze}
}

// EnsureVideoInfo returns the persisted VideoVariantInfo for (videoId,
// variant), probing and writing it on first call. Concurrent callers for
// the same key share one probe via singleflight.
func (m *Manifest) EnsureVideoInfo(ctx context.Context, videoId VideoId, variant Variant) (*VideoVariantInfo, error) {
	if info, ok := m.readVideoInfo(videoId, variant.Label); ok {
		return info, nil
	}

	key := fmt.Sprintf("%s/%s", videoId, variant.Label)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if info, ok := m.readVideoInfo(videoId, variant.Label); ok {
			return info, nil
		}
		return m.probeAndWriteVideoInfo(ctx, videoId, variant)
	})
	if err != nil {
		return nil, err
	}
	return v.(*VideoVariantInfo), nil
}

// EnsureAudioInfo returns the persisted AudioVariantInfo for (videoId,
// variant), probing and writing it on first call.
func (m *Manifest) EnsureAudioInfo(ctx context.Context, videoId VideoId, variant Variant) (*AudioVariantInfo, error) {
	if info, ok := m.readAudioInfo(videoId, variant.Label); ok {
		return info, nil
	}

	key := fmt.Sprintf("%s/%s", videoId, variant.Label)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if info, ok := m.readAudioInfo(videoId, variant.Label); ok {
			return info, nil
		}
		return m.probeAndWriteAudioInfo(ctx, videoId, variant)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AudioVariantInfo), nil
}

// PeekVideoInfo returns the persisted VideoVariantInfo without probing or
// blocking, for collaborators (the master-playlist generator) that need a
// best-effort codec/resolution hint and must not wait on transcoding.
func (m *Manifest) PeekVideoInfo(videoId VideoId, label VariantLabel) (*VideoVariantInfo, bool) {
	return m.readVideoInfo(videoId, label)
}

// PeekAudioInfo is PeekVideoInfo's audio counterpart.
func (m *Manifest) PeekAudioInfo(videoId VideoId, label VariantLabel) (*AudioVariantInfo, bool) {
	return m.readAudioInfo(videoId, label)
}

func (m *Manifest) readVideoInfo(videoId VideoId, label VariantLabel) (*VideoVariantInfo, bool) {
	raw, err := os.ReadFile(m.paths.InfoPath(videoId, label, KindVideo))
	if err != nil {
		return nil, false
	}
	var info VideoVariantInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false
	}
	return &info, true
}

func (m *Manifest) readAudioInfo(videoId VideoId, label VariantLabel) (*AudioVariantInfo, bool) {
	raw, err := os.ReadFile(m.paths.InfoPath(videoId, label, KindAudio))
	if err != nil {
		return nil, false
	}
	var info AudioVariantInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false
	}
	return &info, true
}

// probeAndWriteVideoInfo waits for the first segmentsToAnalyze segments to
// stabilize, probes each, and persists the recorded bitrate as the maximum
// across probed segments (§4.7). No partial info file is ever written.
func (m *Manifest) probeAndWriteVideoInfo(ctx context.Context, videoId VideoId, variant Variant) (*VideoVariantInfo, error) {
	maxBitrate := 0
	var lastStream *ffmpeg.ProbeStream
	probed := 0

	for i := 0; i < m.segmentsToAnalyze; i++ {
		segPath := m.paths.SegmentPath(videoId, variant.Label, SegmentIndex(i), "ts")
		result := m.store.WaitForStability(ctx, segPath, 50)
		if result != StabilityOK {
			continue
		}
		if ok, err := m.validator.ValidateSegment(ctx, segPath); err != nil || !ok {
			continue
		}
		result2, err := m.prober.Probe(ctx, segPath)
		if err != nil {
			continue
		}
		vs := result2.GetVideoStream()
		if vs == nil || !codec.IsVideoDemuxable(vs.CodecName) {
			continue
		}
		probed++
		lastStream = vs
		if br := result2.Bitrate(); br > maxBitrate {
			maxBitrate = br
		}
	}

	if probed == 0 || lastStream == nil {
		return nil, fmt.Errorf("manifest: no segments could be probed for %s/%s", videoId, variant.Label)
	}

	info := &VideoVariantInfo{
		MeasuredBitrate: maxBitrate,
		Width:           lastStream.Width,
		Height:          lastStream.Height,
		RFCCodec:        rfcVideoCodec(lastStream.CodecName, lastStream.Profile, lastStream.Level),
		VideoRange:      videoRangeFromStream(lastStream),
		Done:            false,
	}

	if err := m.writeJSON(m.paths.InfoPath(videoId, variant.Label, KindVideo), info); err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manifest) probeAndWriteAudioInfo(ctx context.Context, videoId VideoId, variant Variant) (*AudioVariantInfo, error) {
	segPath := m.paths.SegmentPath(videoId, variant.Label, SegmentIndex(0), "ts")
	result := m.store.WaitForStability(ctx, segPath, 50)
	if result != StabilityOK {
		return nil, fmt.Errorf("manifest: audio segment for %s/%s did not stabilize", videoId, variant.Label)
	}
	if ok, err := m.validator.ValidateSegment(ctx, segPath); err != nil || !ok {
		return nil, fmt.Errorf("manifest: audio segment for %s/%s failed MPEG-TS validation", videoId, variant.Label)
	}

	probeResult, err := m.prober.Probe(ctx, segPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: probing audio segment: %w", err)
	}
	as := probeResult.GetAudioStream()
	if as == nil {
		return nil, fmt.Errorf("manifest: no audio stream found in %s", segPath)
	}
	if !codec.IsAudioDemuxable(as.CodecName) {
		return nil, fmt.Errorf("manifest: audio codec %q in %s is not demuxable", as.CodecName, segPath)
	}

	sampleRate := 0
	fmt.Sscanf(as.SampleRate, "%d", &sampleRate)

	info := &AudioVariantInfo{
		AudioCodec:    as.CodecName,
		RFCAudioCodec: rfcAudioCodec(as.CodecName, variant.Channels > 2),
		Channels:      as.Channels,
		SampleRate:    sampleRate,
		BitRate:       probeResult.Bitrate(),
		IsAtmos:       variant.Channels > 6,
		Done:          false,
	}

	if err := m.writeJSON(m.paths.InfoPath(videoId, variant.Label, KindAudio), info); err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manifest) writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest: creating variant dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshaling info: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// MarkDone sets the persisted info's done flag, matching §4.4's contract
// that the supervisor writes a `done` marker file separately from this
// JSON flag (the two are redundant on purpose: the marker file is cheap to
// check with a stat, the JSON flag is what playlist generation reads).
func (m *Manifest) MarkDone(videoId VideoId, label VariantLabel, kind VariantKind) error {
	path := m.paths.InfoPath(videoId, label, kind)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("manifest: reading info to mark done: %w", err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("manifest: unmarshaling info: %w", err)
	}
	generic["done"] = true

	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
