// Package config provides configuration management for streamgate using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultSegmentDuration     = 5 * time.Second
	defaultSegmentsToAnalyze   = 12
	defaultMaxHWProcesses      = 2
	defaultMaxConcurrentJobs   = 8
	defaultMaxJobsPerClient    = 3
	defaultSessionTimeout      = 10 * time.Minute
	defaultVariantSwitchWindow = 20 * time.Second
	defaultLockTTL             = 55 * time.Minute
	defaultSweepInterval       = 1 * time.Minute
	defaultLockSweepInterval   = 10 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds on-disk layout configuration for segment/session state.
type StorageConfig struct {
	HLSOutputDir  string `mapstructure:"hls_output_dir"`
	VideoSourceDir string `mapstructure:"video_source_dir"`

	// MaxOutputSize caps the HLS output directory's total size; the janitor's
	// lock sweep logs a warning once usage exceeds it. Zero means unlimited.
	MaxOutputSize ByteSize `mapstructure:"max_output_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// TranscodeConfig holds encoder/variant planning configuration.
type TranscodeConfig struct {
	SegmentDuration           time.Duration `mapstructure:"segment_duration"`
	SegmentsToAnalyze         int           `mapstructure:"segments_to_analyze"`
	IframeEnabled             bool          `mapstructure:"iframe_enabled"`
	HardwareEncodingEnabled   bool          `mapstructure:"hardware_encoding_enabled"`
	MaxHWProcesses            int           `mapstructure:"max_hw_processes"`
	MaxConcurrentTranscodings int           `mapstructure:"max_concurrent_transcodings"`
	MaxTranscodingsPerClient  int           `mapstructure:"max_transcodings_per_client"`
}

// JanitorConfig holds cleanup-sweep timing configuration.
type JanitorConfig struct {
	SessionTimeout       time.Duration `mapstructure:"session_timeout"`
	VariantSwitchTimeout time.Duration `mapstructure:"variant_switch_timeout"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	LockSweepInterval    time.Duration `mapstructure:"lock_sweep_interval"`
	CleanupEnabled       bool          `mapstructure:"cleanup_enabled"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string   `mapstructure:"probe_path"`       // Path to ffprobe binary (empty = auto-detect)
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // Priority order: vaapi, nvenc, qsv, amf
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMGATE_ and use underscores for nesting.
// Example: STREAMGATE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamgate")
		v.AddConfigPath("$HOME/.streamgate")
	}

	// Environment variable settings
	v.SetEnvPrefix("STREAMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.hls_output_dir", "tmp/hls")
	v.SetDefault("storage.video_source_dir", "/videos")
	v.SetDefault("storage.max_output_size", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Transcode defaults
	v.SetDefault("transcode.segment_duration", defaultSegmentDuration)
	v.SetDefault("transcode.segments_to_analyze", defaultSegmentsToAnalyze)
	v.SetDefault("transcode.iframe_enabled", false)
	v.SetDefault("transcode.hardware_encoding_enabled", false)
	v.SetDefault("transcode.max_hw_processes", defaultMaxHWProcesses)
	v.SetDefault("transcode.max_concurrent_transcodings", defaultMaxConcurrentJobs)
	v.SetDefault("transcode.max_transcodings_per_client", defaultMaxJobsPerClient)

	// Janitor defaults
	v.SetDefault("janitor.session_timeout", defaultSessionTimeout)
	v.SetDefault("janitor.variant_switch_timeout", defaultVariantSwitchWindow)
	v.SetDefault("janitor.lock_ttl", defaultLockTTL)
	v.SetDefault("janitor.sweep_interval", defaultSweepInterval)
	v.SetDefault("janitor.lock_sweep_interval", defaultLockSweepInterval)
	v.SetDefault("janitor.cleanup_enabled", false)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"vaapi", "nvenc", "qsv", "amf"})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.HLSOutputDir == "" {
		return fmt.Errorf("storage.hls_output_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Transcode.SegmentDuration <= 0 {
		return fmt.Errorf("transcode.segment_duration must be positive")
	}
	if c.Transcode.SegmentsToAnalyze < 1 {
		return fmt.Errorf("transcode.segments_to_analyze must be at least 1")
	}
	if c.Transcode.MaxConcurrentTranscodings < 1 {
		return fmt.Errorf("transcode.max_concurrent_transcodings must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
