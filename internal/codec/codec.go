// Package codec provides a unified codec registry for video and audio codecs.
// It consolidates codec definitions, encoder mappings, and capability information
// used throughout the gateway for transcoding, muxing, and stream handling.
//
// The registry is scoped to what this gateway actually produces and probes:
// MPEG-TS HLS segments encoded as H.264/H.265 video with AAC/AC-3/E-AC-3
// audio. Codecs that only make sense in an fMP4/CMAF pipeline (VP9, AV1,
// Opus, ...) have no encode path here and are intentionally absent.
package codec

import "strings"

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	// Legacy codecs, recognized for probing/detection but never an encode
	// target.
	VideoMPEG1 Video = "mpeg1"
	VideoMPEG2 Video = "mpeg2"
	VideoMPEG4 Video = "mpeg4"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC  Audio = "aac"  // AAC
	AudioMP3  Audio = "mp3"  // MP3
	AudioAC3  Audio = "ac3"  // Dolby Digital (AC-3)
	AudioEAC3 Audio = "eac3" // Dolby Digital Plus (E-AC-3)
)

// HWAccel represents a hardware acceleration type.
type HWAccel string

// Hardware acceleration constants.
const (
	HWAccelAuto  HWAccel = "auto"         // Auto-detect best available
	HWAccelNone  HWAccel = "none"         // Disabled (software only)
	HWAccelCUDA  HWAccel = "cuda"         // NVIDIA CUDA/NVDEC
	HWAccelQSV   HWAccel = "qsv"          // Intel QuickSync
	HWAccelVAAPI HWAccel = "vaapi"        // Linux VA-API
	HWAccelVT    HWAccel = "videotoolbox" // macOS VideoToolbox
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	// Canonical name (h264, h265, etc.)
	Name Video
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg encoders for each hardware acceleration type
	Encoders map[HWAccel]string
	// Whether this codec can be demuxed by mediacommon MPEG-TS demuxer
	Demuxable bool
	// MPEG-TS stream type identifier (0 if not supported)
	MPEGTSStreamType uint8
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	// Canonical name (aac, mp3, etc.)
	Name Audio
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg encoder name
	Encoder string
	// Whether this codec can be demuxed by mediacommon MPEG-TS demuxer
	Demuxable bool
	// MPEG-TS stream type identifier (0 if not supported)
	MPEGTSStreamType uint8
}

// MPEG-TS stream type constants.
const (
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
	StreamTypeAAC  uint8 = 0x0F
	StreamTypeAC3  uint8 = 0x81
	StreamTypeEAC3 uint8 = 0x87
	StreamTypeMP3  uint8 = 0x03
)

// videoRegistry contains all video codec definitions.
var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name: VideoH264,
		Aliases: []string{
			"h264", "avc", "avc1", "h.264",
			// Encoders
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi",
			"h264_videotoolbox", "h264_amf", "h264_mf", "h264_omx", "h264_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx264",
			HWAccelAuto:  "libx264",
			HWAccelCUDA:  "h264_nvenc",
			HWAccelQSV:   "h264_qsv",
			HWAccelVAAPI: "h264_vaapi",
			HWAccelVT:    "h264_videotoolbox",
		},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeH264,
	},
	VideoH265: {
		Name: VideoH265,
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			// Encoders
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi",
			"hevc_videotoolbox", "hevc_amf", "hevc_mf", "hevc_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx265",
			HWAccelAuto:  "libx265",
			HWAccelCUDA:  "hevc_nvenc",
			HWAccelQSV:   "hevc_qsv",
			HWAccelVAAPI: "hevc_vaapi",
			HWAccelVT:    "hevc_videotoolbox",
		},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeH265,
	},
	VideoMPEG1: {
		Name:             VideoMPEG1,
		Aliases:          []string{"mpeg1", "mpeg1video"},
		Encoders:         map[HWAccel]string{HWAccelNone: "mpeg1video"},
		Demuxable:        true,
		MPEGTSStreamType: 0x01,
	},
	VideoMPEG2: {
		Name:             VideoMPEG2,
		Aliases:          []string{"mpeg2", "mpeg2video"},
		Encoders:         map[HWAccel]string{HWAccelNone: "mpeg2video"},
		Demuxable:        true,
		MPEGTSStreamType: 0x02,
	},
	VideoMPEG4: {
		Name:             VideoMPEG4,
		Aliases:          []string{"mpeg4"},
		Encoders:         map[HWAccel]string{HWAccelNone: "mpeg4"},
		Demuxable:        true,
		MPEGTSStreamType: 0x10,
	},
}

// audioRegistry contains all audio codec definitions.
var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:             AudioAAC,
		Aliases:          []string{"aac", "mp4a", "libfdk_aac", "aac_at"},
		Encoder:          "aac",
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeAAC,
	},
	AudioMP3: {
		Name:             AudioMP3,
		Aliases:          []string{"mp3", "mp3float", "libmp3lame"},
		Encoder:          "libmp3lame",
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeMP3,
	},
	AudioAC3: {
		Name:             AudioAC3,
		Aliases:          []string{"ac3", "ac-3", "a52", "ac3_fixed"},
		Encoder:          "ac3",
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeAC3,
	},
	AudioEAC3: {
		Name:             AudioEAC3,
		Aliases:          []string{"eac3", "ec-3"},
		Encoder:          "eac3",
		Demuxable:        false, // static default; mediacommon_detect.go replaces it at init with the demuxer's detected support
		MPEGTSStreamType: 0x87,
	},
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

func init() {
	// Build video alias index
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	// Build audio alias index
	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo parses a string (codec name, alias, or encoder) to a Video codec.
// Returns the canonical codec and whether the parse was successful.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	codec, ok := videoAliasIndex[s]
	return codec, ok
}

// ParseAudio parses a string (codec name, alias, or encoder) to an Audio codec.
// Returns the canonical codec and whether the parse was successful.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	codec, ok := audioAliasIndex[s]
	return codec, ok
}

// NormalizeVideo normalizes a video codec/encoder name to its canonical form.
// Returns the canonical codec string (e.g., "h264", "h265") or the input unchanged.
func NormalizeVideo(name string) string {
	if codec, ok := ParseVideo(name); ok {
		return string(codec)
	}
	return name
}

// NormalizeAudio normalizes an audio codec/encoder name to its canonical form.
// Returns the canonical codec string (e.g., "aac", "mp3") or the input unchanged.
func NormalizeAudio(name string) string {
	if codec, ok := ParseAudio(name); ok {
		return string(codec)
	}
	return name
}

// GetVideoEncoder returns the FFmpeg encoder name for a video codec with the given
// hardware acceleration. Falls back to software encoder if hwaccel not supported.
func GetVideoEncoder(v Video, hwaccel HWAccel) string {
	info, ok := videoRegistry[v]
	if !ok {
		return string(v) // Return as-is for unknown codecs
	}

	// Try requested hwaccel first
	if encoder, ok := info.Encoders[hwaccel]; ok {
		return encoder
	}

	// Fall back to software encoder
	if encoder, ok := info.Encoders[HWAccelNone]; ok {
		return encoder
	}

	return string(v)
}

// GetAudioEncoder returns the FFmpeg encoder name for an audio codec.
func GetAudioEncoder(a Audio) string {
	info, ok := audioRegistry[a]
	if !ok {
		return string(a) // Return as-is for unknown codecs
	}
	return info.Encoder
}

// IsDemuxable returns true if the video codec can be demuxed by mediacommon.
func (v Video) IsDemuxable() bool {
	info, ok := videoRegistry[v]
	if !ok {
		return true // Assume demuxable for unknown (most common codecs are)
	}
	return info.Demuxable
}

// IsDemuxable returns true if the audio codec can be demuxed by mediacommon.
func (a Audio) IsDemuxable() bool {
	info, ok := audioRegistry[a]
	if !ok {
		return false // Assume NOT demuxable for unknown (safer)
	}
	return info.Demuxable
}

// MPEGTSStreamType returns the MPEG-TS stream type for the video codec (0 if unknown).
func (v Video) MPEGTSStreamType() uint8 {
	info, ok := videoRegistry[v]
	if !ok {
		return 0
	}
	return info.MPEGTSStreamType
}

// MPEGTSStreamType returns the MPEG-TS stream type for the audio codec (0 if unknown).
func (a Audio) MPEGTSStreamType() uint8 {
	info, ok := audioRegistry[a]
	if !ok {
		return 0
	}
	return info.MPEGTSStreamType
}

// IsVideoDemuxable checks if a video codec string is demuxable by mediacommon.
// This is a convenience function that parses and checks demuxability.
func IsVideoDemuxable(codecName string) bool {
	codec, ok := ParseVideo(codecName)
	if !ok {
		return true // Assume demuxable for unknown (most common codecs are H.264/H.265)
	}
	return codec.IsDemuxable()
}

// IsAudioDemuxable checks if an audio codec string is demuxable by mediacommon.
// This is a convenience function that parses and checks demuxability.
func IsAudioDemuxable(codecName string) bool {
	codec, ok := ParseAudio(codecName)
	if !ok {
		return false // Assume NOT demuxable for unknown (safer)
	}
	return codec.IsDemuxable()
}

// ValidHWAccels returns a map of valid hardware acceleration types.
func ValidHWAccels() map[string]HWAccel {
	return map[string]HWAccel{
		"auto":         HWAccelAuto,
		"none":         HWAccelNone,
		"cuda":         HWAccelCUDA,
		"qsv":          HWAccelQSV,
		"vaapi":        HWAccelVAAPI,
		"videotoolbox": HWAccelVT,
	}
}

// ParseHWAccel parses a hardware acceleration string.
func ParseHWAccel(s string) (HWAccel, bool) {
	hwaccels := ValidHWAccels()
	hw, ok := hwaccels[strings.ToLower(strings.TrimSpace(s))]
	return hw, ok
}

// SupportedEncodingVideoCodecs returns the list of video codecs supported as encoding targets.
func SupportedEncodingVideoCodecs() []Video {
	return []Video{VideoH264, VideoH265}
}

// SupportedEncodingAudioCodecs returns the list of audio codecs supported as encoding targets.
func SupportedEncodingAudioCodecs() []Audio {
	return []Audio{AudioAAC, AudioAC3, AudioEAC3}
}
