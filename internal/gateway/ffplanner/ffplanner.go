// Package ffplanner is the default EncoderPlanner implementation (§4.6):
// it turns a gateway.PlanRequest into an ffmpeg command line using
// internal/ffmpeg's CommandBuilder, the one place in this repository that
// understands the encoder's actual flags. The orchestrator never inspects
// what this package produces; it only schedules the resulting process.
package ffplanner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/streamforge/gateway/internal/codec"
	"github.com/streamforge/gateway/internal/ffmpeg"
	"github.com/streamforge/gateway/internal/gateway"
)

// Planner builds ffmpeg argument vectors for streaming and single-segment
// variant encodes.
type Planner struct {
	FFmpegBinary    string
	HWAccelPriority []string
}

// New creates a Planner that invokes ffmpegBinary, preferring hwaccel types
// in priority order when a request asks for hardware encoding.
func New(ffmpegBinary string, hwAccelPriority []string) *Planner {
	return &Planner{FFmpegBinary: ffmpegBinary, HWAccelPriority: hwAccelPriority}
}

func (p *Planner) chosenHWAccel() string {
	if len(p.HWAccelPriority) == 0 {
		return ""
	}
	return p.HWAccelPriority[0]
}

// videoCodecFor resolves the ffmpeg encoder name for a variant's hardware
// type via the codec registry (§4.5), which already knows the per-hwaccel
// encoder name for every video codec this gateway targets. Software encodes
// (and any hwType the registry has no encoder for) fall back to libx264.
func (p *Planner) videoCodecFor(req gateway.PlanRequest, hwType string) (videoCodec string, preset string) {
	if !req.UseHardware || hwType == "" {
		return codec.GetVideoEncoder(codec.VideoH264, codec.HWAccelNone), "veryfast"
	}
	encoder := codec.GetVideoEncoder(codec.VideoH264, codec.HWAccel(hwType))
	if codec.HWAccel(hwType) == codec.HWAccelCUDA {
		return encoder, "p4"
	}
	return encoder, ""
}

func (p *Planner) build(req gateway.PlanRequest, startNumber int) *ffmpeg.CommandBuilder {
	hwType := ""
	if req.UseHardware {
		hwType = p.chosenHWAccel()
	}

	b := ffmpeg.NewCommandBuilder(p.FFmpegBinary).
		HideBanner().
		Overwrite().
		LogLevel("warning")

	seekSeconds := int(req.StartSegment) * req.SegmentDuration
	b.InputArgs("-ss", strconv.Itoa(seekSeconds))

	b.InitHWDevice(hwType, "").
		HWAccel(hwType).
		HWAccelOutputFormat(hwAccelOutputFormat(hwType)).
		Input(req.SourcePath)

	videoCodec, preset := p.videoCodecFor(req, hwType)
	b.VideoCodec(videoCodec)
	if preset != "" {
		b.VideoPreset(preset)
	}
	b.VideoFilter(videoFilterChain(req))
	if req.Variant.Bitrate > 0 {
		b.VideoBitrate(fmt.Sprintf("%dk", req.Variant.Bitrate))
	}
	b.AudioCodec(codec.GetAudioEncoder(codec.AudioAAC)).AudioBitrate("128k")

	_ = startNumber
	return b
}

// videoFilterChain composes the scale and tonemap filters a variant needs.
// ForceSDR (§4.6, the HDR-source/SDR-variant fallback) applies a tonemap
// before any resolution scaling so the scaler operates on 8-bit output.
func videoFilterChain(req gateway.PlanRequest) string {
	var filters []string
	if req.ForceSDR && !req.Variant.IsSDR {
		filters = append(filters, "zscale=t=linear:npl=100", "tonemap=tonemap=hable:desat=0", "zscale=t=bt709:m=bt709:r=tv", "format=yuv420p")
	}
	if req.Variant.Resolution != "" {
		filters = append(filters, fmt.Sprintf("scale=%s", resolutionToScaleFilter(req.Variant.Resolution)))
	}
	if len(filters) == 0 {
		return "null"
	}
	return strings.Join(filters, ",")
}

func hwAccelOutputFormat(hwType string) string {
	switch hwType {
	case "vaapi":
		return "vaapi"
	case "cuda", "nvenc":
		return "cuda"
	case "qsv":
		return "qsv"
	default:
		return ""
	}
}

// resolutionToScaleFilter turns a variant's "WxH" resolution (e.g.
// "1280x720") into ffmpeg scale filter syntax ("1280:720").
func resolutionToScaleFilter(resolution string) string {
	return strings.Replace(resolution, "x", ":", 1)
}

// PlanStream implements gateway.EncoderPlanner: a continuously-running
// encode that writes numbered HLS segments starting at req.StartSegment.
func (p *Planner) PlanStream(req gateway.PlanRequest) (gateway.Plan, error) {
	if req.SourcePath == "" {
		return gateway.Plan{}, fmt.Errorf("ffplanner: empty source path")
	}
	startNumber := int(req.StartSegment)
	b := p.build(req, startNumber)
	b.HLSSegmentArgs(req.OutputDir, req.SegmentDuration, startNumber)
	cmd := b.Output(req.OutputDir + "/playlist.m3u8").Build()

	return gateway.Plan{
		Binary:           p.FFmpegBinary,
		Args:             cmd.Args,
		OutputPattern:    req.OutputDir + "/%03d.ts",
		FirstSegmentFile: fmt.Sprintf("%s/%03d.ts", req.OutputDir, startNumber),
	}, nil
}

// PlanSegment implements gateway.EncoderPlanner: a single-segment encode
// writing exactly one file at the offset implied by req.StartSegment.
func (p *Planner) PlanSegment(req gateway.PlanRequest) (gateway.Plan, error) {
	if req.SourcePath == "" {
		return gateway.Plan{}, fmt.Errorf("ffplanner: empty source path")
	}
	b := p.build(req, int(req.StartSegment))
	b.OutputArgs("-t", strconv.Itoa(req.SegmentDuration), "-f", "mpegts")
	outFile := fmt.Sprintf("%s/%03d.ts", req.OutputDir, int(req.StartSegment))
	cmd := b.Output(outFile).Build()

	return gateway.Plan{
		Binary:           p.FFmpegBinary,
		Args:             cmd.Args,
		OutputPattern:    outFile,
		FirstSegmentFile: outFile,
	}, nil
}
