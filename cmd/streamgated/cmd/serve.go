package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamforge/gateway/internal/config"
	"github.com/streamforge/gateway/internal/ffmpeg"
	"github.com/streamforge/gateway/internal/gateway"
	"github.com/streamforge/gateway/internal/gateway/ffplanner"
	"github.com/streamforge/gateway/internal/httpapi"
	"github.com/streamforge/gateway/internal/masterplaylist"
	"github.com/streamforge/gateway/internal/observability"
	"github.com/streamforge/gateway/internal/scheduler"
	"github.com/streamforge/gateway/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming gateway",
	Long: `Start the streamgate HTTP server.

The server transcodes source video files into adaptive-bitrate HLS on
demand, spawning and reusing ffmpeg subprocesses per (video, variant) and
serving master/variant playlists and segments as HTTP player requests
arrive.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("hls-output-dir", "tmp/hls", "Directory for transcoded segments and playlists")
	serveCmd.Flags().String("video-source-dir", "/videos", "Directory containing source media files")
	serveCmd.Flags().Bool("hardware-encoding", false, "Enable hardware-accelerated encoding when available")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.hls_output_dir", serveCmd.Flags().Lookup("hls-output-dir"))
	mustBindPFlag("storage.video_source_dir", serveCmd.Flags().Lookup("video-source-dir"))
	mustBindPFlag("transcode.hardware_encoding_enabled", serveCmd.Flags().Lookup("hardware-encoding"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	logger.Info("starting streamgate gateway",
		slog.String("version", version.Version),
		slog.String("hls_output_dir", cfg.Storage.HLSOutputDir),
		slog.String("video_source_dir", cfg.Storage.VideoSourceDir),
	)

	ffmpegBinary := cfg.FFmpeg.BinaryPath
	ffprobeBinary := cfg.FFmpeg.ProbePath
	if ffmpegBinary == "" || ffprobeBinary == "" {
		detector := ffmpeg.NewBinaryDetector()
		detectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		binInfo, err := detector.Detect(detectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("locating ffmpeg/ffprobe binaries: %w", err)
		}
		if ffmpegBinary == "" {
			ffmpegBinary = binInfo.FFmpegPath
		}
		if ffprobeBinary == "" {
			ffprobeBinary = binInfo.FFprobePath
		}
		logger.Info("detected ffmpeg installation",
			slog.String("ffmpeg", ffmpegBinary),
			slog.String("ffprobe", ffprobeBinary),
			slog.String("version", binInfo.Version),
		)
		if !binInfo.HasFormat("hls") {
			logger.Warn("ffmpeg build reports no hls muxer; segment output may fail")
		}
	}
	if ffprobeBinary == "" {
		return fmt.Errorf("ffprobe binary not found and ffmpeg.probe_path is not set")
	}

	var hwAccelPriority []string
	if cfg.Transcode.HardwareEncodingEnabled {
		detector := ffmpeg.NewHWAccelDetector(ffmpegBinary)
		detectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		accels, err := detector.Detect(detectCtx)
		cancel()
		if err != nil {
			logger.Warn("hardware accelerator detection failed, continuing with software encoding",
				slog.String("error", err.Error()))
		} else {
			available := make(map[string]bool, len(accels))
			for _, a := range accels {
				available[string(a.Type)] = true
			}
			for _, want := range cfg.FFmpeg.HWAccelPriority {
				if available[want] {
					hwAccelPriority = append(hwAccelPriority, want)
				}
			}
			logger.Info("detected hardware accelerators", slog.Any("available", hwAccelPriority))
		}
	}

	prober := ffmpeg.NewProber(ffprobeBinary)

	paths := gateway.NewPaths(cfg.Storage.HLSOutputDir)
	store := gateway.NewStore(time.Second)
	locks := gateway.NewLockManager(paths)
	supervisor := gateway.NewSupervisor(paths, logger)
	hwSlots := gateway.NewHWSlotLimiter(cfg.Transcode.MaxHWProcesses)
	registry := gateway.NewRegistry(cfg.Transcode.MaxConcurrentTranscodings, cfg.Transcode.MaxTranscodingsPerClient)

	sessions := gateway.NewSessionTracker(func(videoId gateway.VideoId, clientId gateway.ClientId, variant gateway.VariantLabel) {
		logger.Info("variant demoted",
			slog.String("video_id", string(videoId)),
			slog.String("client_id", string(clientId)),
			slog.String("variant", string(variant)),
		)
	})

	planner := ffplanner.New(ffmpegBinary, hwAccelPriority)

	orchestrator := gateway.NewOrchestrator(
		paths, store, locks, supervisor, hwSlots, registry, sessions, planner,
		int(cfg.Transcode.SegmentDuration.Seconds()), logger,
	)

	manifest := gateway.NewManifest(paths, store, prober, cfg.Transcode.SegmentsToAnalyze)
	playlists := gateway.NewPlaylistCache(paths, store)
	masterBuilder := masterplaylist.NewBuilder(prober, manifest, orchestrator)

	janitor := gateway.NewJanitor(paths, registry, sessions, supervisor, logger).
		WithMaxOutputSize(cfg.Storage.MaxOutputSize.Bytes())
	if cfg.Janitor.CleanupEnabled {
		sched := scheduler.New(logger)
		if err := janitor.RegisterWithScheduler(sched); err != nil {
			return fmt.Errorf("registering janitor sweeps: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	serverConfig := httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := httpapi.NewServer(serverConfig, logger, version.Version)

	streamHandlers := httpapi.NewStreamHandlers(
		paths, orchestrator, playlists, manifest, masterBuilder,
		cfg.Storage.VideoSourceDir, int(cfg.Transcode.SegmentDuration.Seconds()),
		cfg.Transcode.HardwareEncodingEnabled,
	)
	streamHandlers.Register(server.Router())

	opsHandler := httpapi.NewOperationsHandler(version.Version, registry, sessions, hwSlots, supervisor)
	opsHandler.Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	return server.ListenAndServe(ctx)
}
