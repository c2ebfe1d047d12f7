package gateway

import (
	"fmt"

	"github.com/streamforge/gateway/internal/codec"
	"github.com/streamforge/gateway/internal/ffmpeg"
)

// h264ProfileIDC maps ffprobe's human-readable H.264 profile name to the
// numeric profile_idc RFC6381 needs, per ITU-T H.264 Annex A.
var h264ProfileIDC = map[string]int{
	"Baseline":          66,
	"Constrained Baseline": 66,
	"Main":              77,
	"Extended":          88,
	"High":              100,
	"High 10":           110,
	"High 4:2:2":        122,
	"High 4:4:4":        244,
}

// hevcProfileIDC maps ffprobe's H.265 profile name to general_profile_idc.
var hevcProfileIDC = map[string]int{
	"Main":    1,
	"Main 10": 2,
	"Main Still Picture": 3,
	"Rext":    4,
}

// rfcVideoCodec builds an RFC 6381 codec string for an HLS #EXT-X-STREAM-INF
// CODECS attribute from ffprobe stream details. videoCodec is canonicalized
// through the codec package first, since ffprobe's codec_name varies across
// builds ("h264" vs "h.264"-style aliases); unknown profiles fall back to
// the "High"/"Main" baseline so playback isn't blocked on a missing
// mapping. The fallback is silent: nothing is logged for it.
func rfcVideoCodec(videoCodec, profile string, level int) string {
	switch codec.NormalizeVideo(videoCodec) {
	case codec.VideoH264.String():
		idc, ok := h264ProfileIDC[profile]
		if !ok {
			idc = h264ProfileIDC["High"]
		}
		return fmt.Sprintf("avc1.%02X00%02X", idc, level)
	case codec.VideoH265.String():
		idc, ok := hevcProfileIDC[profile]
		if !ok {
			idc = hevcProfileIDC["Main"]
		}
		// Simplified general-tier/level encoding; good enough for client
		// capability negotiation even though it omits compatibility flags.
		return fmt.Sprintf("hev1.%d.4.L%d.B0", idc, level)
	default:
		return videoCodec
	}
}

// rfcAudioCodec builds an RFC 6381 codec string for the AUDIO rendition.
func rfcAudioCodec(audioCodec string, isAtmos bool) string {
	switch codec.NormalizeAudio(audioCodec) {
	case codec.AudioAAC.String():
		return "mp4a.40.2"
	case codec.AudioAC3.String():
		return "ac-3"
	case codec.AudioEAC3.String():
		if isAtmos {
			return "ec-3"
		}
		return "ec-3"
	default:
		return audioCodec
	}
}

// videoRangeFromStream classifies a probed stream's transfer characteristic
// into the gateway's VideoRange enum (§4.7).
func videoRangeFromStream(s *ffmpeg.ProbeStream) VideoRange {
	if s == nil {
		return RangeSDR
	}
	switch s.ColorTransfer {
	case "smpte2084":
		return RangePQ
	case "arib-std-b67":
		return RangeHLG
	default:
		return RangeSDR
	}
}
