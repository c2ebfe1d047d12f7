package httpapi

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/streamforge/gateway/internal/gateway"
)

// OperationsHandler exposes the gateway's JSON operational surface:
// liveness/health and a snapshot of orchestration state. Registered through
// Huma since these responses are ordinary JSON with no streaming
// requirement.
type OperationsHandler struct {
	version      string
	startTime    time.Time
	registry     *gateway.Registry
	sessions     *gateway.SessionTracker
	hwSlots      *gateway.HWSlotLimiter
	supervisor   *gateway.Supervisor
}

// NewOperationsHandler creates an OperationsHandler.
func NewOperationsHandler(version string, registry *gateway.Registry, sessions *gateway.SessionTracker, hwSlots *gateway.HWSlotLimiter, supervisor *gateway.Supervisor) *OperationsHandler {
	return &OperationsHandler{
		version:    version,
		startTime:  time.Now(),
		registry:   registry,
		sessions:   sessions,
		hwSlots:    hwSlots,
		supervisor: supervisor,
	}
}

// Register mounts the health and stats operations onto api.
func (h *OperationsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Liveness and resource health",
		Description: "Returns process uptime, load, and memory for liveness probes.",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getGatewayStats",
		Method:      "GET",
		Path:        "/api/v1/gateway/stats",
		Summary:     "Orchestration state snapshot",
		Description: "Returns active task, session, and hardware-slot counts.",
		Tags:        []string{"Gateway"},
	}, h.GetStats)
}

// HealthInput has no parameters.
type HealthInput struct{}

// HealthOutput wraps HealthResponse.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Load1Min      float64 `json:"load_1min"`
	CPUCores      int     `json:"cpu_cores"`
	ProcessRSSMB  float64 `json:"process_rss_mb"`
}

// GetHealth reports process-level liveness metrics.
func (h *OperationsHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	uptime := time.Since(h.startTime)

	var load1 float64
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		load1 = avg.Load1
	}

	var rssMB float64
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			rssMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}

	return &HealthOutput{Body: HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: uptime.Seconds(),
		Load1Min:      load1,
		CPUCores:      runtime.NumCPU(),
		ProcessRSSMB:  rssMB,
	}}, nil
}

// GatewayStatsInput has no parameters.
type GatewayStatsInput struct{}

// GatewayStatsOutput wraps GatewayStatsResponse.
type GatewayStatsOutput struct {
	Body GatewayStatsResponse
}

// GatewayStatsResponse is a snapshot of the orchestrator's live state.
type GatewayStatsResponse struct {
	ActiveTasks       int     `json:"active_tasks"`
	ActiveSessions    int     `json:"active_sessions"`
	ActiveProcesses   int     `json:"active_processes"`
	HWSlotsInUse      int     `json:"hw_slots_in_use"`
	HWSlotsCapacity   int     `json:"hw_slots_capacity"`
	EncoderCPUPercent float64 `json:"encoder_cpu_percent"`
	EncoderRSSMB      float64 `json:"encoder_rss_mb"`
	MemoryTotalMB     float64 `json:"memory_total_mb"`
	MemoryAvailableMB float64 `json:"memory_available_mb"`
}

// GetStats returns a point-in-time snapshot of the task registry, session
// tracker, and hardware-slot limiter.
func (h *OperationsHandler) GetStats(ctx context.Context, _ *GatewayStatsInput) (*GatewayStatsOutput, error) {
	resp := GatewayStatsResponse{
		ActiveTasks:     len(h.registry.Snapshot()),
		ActiveSessions:  len(h.sessions.Snapshot()),
		ActiveProcesses: h.supervisor.ActiveCount(),
		HWSlotsInUse:    h.hwSlots.InUse(),
		HWSlotsCapacity: h.hwSlots.Capacity(),
	}

	for _, stat := range h.supervisor.Stats(ctx) {
		resp.EncoderCPUPercent += stat.CPUPercent
		resp.EncoderRSSMB += float64(stat.RSSBytes) / 1024 / 1024
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		resp.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
		resp.MemoryAvailableMB = float64(vm.Available) / 1024 / 1024
	}

	return &GatewayStatsOutput{Body: resp}, nil
}
