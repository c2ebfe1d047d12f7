package codec

import (
	"testing"
)

func TestParseVideo(t *testing.T) {
	tests := []struct {
		input    string
		expected Video
		ok       bool
	}{
		// Canonical names
		{"h264", VideoH264, true},
		{"h265", VideoH265, true},
		// Aliases
		{"hevc", VideoH265, true},
		{"avc", VideoH264, true},
		{"avc1", VideoH264, true},
		{"hev1", VideoH265, true},
		{"hvc1", VideoH265, true},
		// Encoder names
		{"libx264", VideoH264, true},
		{"h264_nvenc", VideoH264, true},
		{"h264_qsv", VideoH264, true},
		{"h264_vaapi", VideoH264, true},
		{"libx265", VideoH265, true},
		{"hevc_nvenc", VideoH265, true},
		{"hevc_qsv", VideoH265, true},
		// Case insensitive
		{"H264", VideoH264, true},
		{"HEVC", VideoH265, true},
		{"H264_NVENC", VideoH264, true},
		// Invalid
		{"", "", false},
		{"invalid", "", false},
		{"xyz123", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseVideo(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseVideo(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseVideo(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseAudio(t *testing.T) {
	tests := []struct {
		input    string
		expected Audio
		ok       bool
	}{
		// Canonical names
		{"aac", AudioAAC, true},
		{"mp3", AudioMP3, true},
		{"ac3", AudioAC3, true},
		{"eac3", AudioEAC3, true},
		// Aliases
		{"mp4a", AudioAAC, true},
		{"mp3float", AudioMP3, true},
		{"ac-3", AudioAC3, true},
		{"a52", AudioAC3, true},
		{"ec-3", AudioEAC3, true},
		// Encoder names
		{"libfdk_aac", AudioAAC, true},
		{"libmp3lame", AudioMP3, true},
		// Case insensitive
		{"AAC", AudioAAC, true},
		{"MP3", AudioMP3, true},
		// Invalid
		{"", "", false},
		{"invalid", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseAudio(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseAudio(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseAudio(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeVideo(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"libx264", "h264"},
		{"h264_nvenc", "h264"},
		{"hevc", "h265"},
		{"libx265", "h265"},
		{"hevc_nvenc", "h265"},
		{"h264", "h264"},
		{"h265", "h265"},
		{"unknown", "unknown"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeVideo(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeVideo(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeAudio(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"libfdk_aac", "aac"},
		{"libmp3lame", "mp3"},
		{"ac-3", "ac3"},
		{"ec-3", "eac3"},
		{"aac", "aac"},
		{"unknown", "unknown"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeAudio(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeAudio(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGetVideoEncoder(t *testing.T) {
	tests := []struct {
		codec    Video
		hwaccel  HWAccel
		expected string
	}{
		// H.264
		{VideoH264, HWAccelNone, "libx264"},
		{VideoH264, HWAccelAuto, "libx264"},
		{VideoH264, HWAccelCUDA, "h264_nvenc"},
		{VideoH264, HWAccelQSV, "h264_qsv"},
		{VideoH264, HWAccelVAAPI, "h264_vaapi"},
		{VideoH264, HWAccelVT, "h264_videotoolbox"},
		// H.265
		{VideoH265, HWAccelNone, "libx265"},
		{VideoH265, HWAccelCUDA, "hevc_nvenc"},
		{VideoH265, HWAccelQSV, "hevc_qsv"},
		{VideoH265, HWAccelVAAPI, "hevc_vaapi"},
		// MPEG1 has no hardware encoders; falls back to software
		{VideoMPEG1, HWAccelVAAPI, "mpeg1video"},
	}

	for _, tt := range tests {
		t.Run(string(tt.codec)+"_"+string(tt.hwaccel), func(t *testing.T) {
			got := GetVideoEncoder(tt.codec, tt.hwaccel)
			if got != tt.expected {
				t.Errorf("GetVideoEncoder(%v, %v) = %q, want %q", tt.codec, tt.hwaccel, got, tt.expected)
			}
		})
	}
}

func TestGetAudioEncoder(t *testing.T) {
	tests := []struct {
		codec    Audio
		expected string
	}{
		{AudioAAC, "aac"},
		{AudioMP3, "libmp3lame"},
		{AudioAC3, "ac3"},
		{AudioEAC3, "eac3"},
	}

	for _, tt := range tests {
		t.Run(string(tt.codec), func(t *testing.T) {
			got := GetAudioEncoder(tt.codec)
			if got != tt.expected {
				t.Errorf("GetAudioEncoder(%v) = %q, want %q", tt.codec, got, tt.expected)
			}
		})
	}
}

func TestIsDemuxable(t *testing.T) {
	videoTests := []struct {
		codec    Video
		expected bool
	}{
		{VideoH264, true},
		{VideoH265, true},
		{VideoMPEG1, true},
		{VideoMPEG2, true},
		{VideoMPEG4, true},
	}

	for _, tt := range videoTests {
		t.Run("video_"+string(tt.codec), func(t *testing.T) {
			got := tt.codec.IsDemuxable()
			if got != tt.expected {
				t.Errorf("Video(%v).IsDemuxable() = %v, want %v", tt.codec, got, tt.expected)
			}
		})
	}

	audioTests := []struct {
		codec    Audio
		expected bool
	}{
		{AudioAAC, true},
		{AudioMP3, true},
		{AudioAC3, true},
		{AudioEAC3, true}, // overridden at init by mediacommon_detect.go's runtime probe
	}

	for _, tt := range audioTests {
		t.Run("audio_"+string(tt.codec), func(t *testing.T) {
			got := tt.codec.IsDemuxable()
			if got != tt.expected {
				t.Errorf("Audio(%v).IsDemuxable() = %v, want %v", tt.codec, got, tt.expected)
			}
		})
	}
}

func TestIsVideoDemuxable(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"h264", true},
		{"h265", true},
		{"hevc", true},
		{"libx264", true}, // Encoder maps to h264
		{"h264_nvenc", true},
		{"hevc_nvenc", true},
		{"mpeg2", true},
		// Unknown - defaults to true
		{"unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsVideoDemuxable(tt.input)
			if got != tt.expected {
				t.Errorf("IsVideoDemuxable(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsAudioDemuxable(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"aac", true},
		{"mp3", true},
		{"ac3", true},
		{"libfdk_aac", true},
		{"libmp3lame", true},
		// Unknown - defaults to false (safer)
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsAudioDemuxable(tt.input)
			if got != tt.expected {
				t.Errorf("IsAudioDemuxable(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMPEGTSStreamType(t *testing.T) {
	videoTests := []struct {
		codec    Video
		expected uint8
	}{
		{VideoH264, 0x1B},
		{VideoH265, 0x24},
		{VideoMPEG1, 0x01},
		{VideoMPEG2, 0x02},
		{VideoMPEG4, 0x10},
	}

	for _, tt := range videoTests {
		t.Run("video_"+string(tt.codec), func(t *testing.T) {
			got := tt.codec.MPEGTSStreamType()
			if got != tt.expected {
				t.Errorf("Video(%v).MPEGTSStreamType() = 0x%02X, want 0x%02X", tt.codec, got, tt.expected)
			}
		})
	}

	audioTests := []struct {
		codec    Audio
		expected uint8
	}{
		{AudioAAC, 0x0F},
		{AudioMP3, 0x03},
		{AudioAC3, 0x81},
		{AudioEAC3, 0x87},
	}

	for _, tt := range audioTests {
		t.Run("audio_"+string(tt.codec), func(t *testing.T) {
			got := tt.codec.MPEGTSStreamType()
			if got != tt.expected {
				t.Errorf("Audio(%v).MPEGTSStreamType() = 0x%02X, want 0x%02X", tt.codec, got, tt.expected)
			}
		})
	}
}

func TestParseHWAccel(t *testing.T) {
	tests := []struct {
		input    string
		expected HWAccel
		ok       bool
	}{
		{"auto", HWAccelAuto, true},
		{"none", HWAccelNone, true},
		{"cuda", HWAccelCUDA, true},
		{"qsv", HWAccelQSV, true},
		{"vaapi", HWAccelVAAPI, true},
		{"videotoolbox", HWAccelVT, true},
		{"AUTO", HWAccelAuto, true}, // Case insensitive
		{"CUDA", HWAccelCUDA, true},
		{"invalid", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseHWAccel(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseHWAccel(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseHWAccel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
