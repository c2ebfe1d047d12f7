package gateway

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shirou/gopsutil/v4/process"
)

// SupervisorHandle is a live reference to a spawned encoder process (§3
// Task.process, §4.4 C4). ProcessId is a ULID, time-sortable for log
// correlation across a process's stderr lines.
type SupervisorHandle struct {
	ProcessId string
	VideoId   VideoId
	Variant   VariantLabel
	StartedAt time.Time

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	hwSlot   *HWSlotHandle
	doneCh   chan struct{}
	exitErr  error
	exitOnce sync.Once

	mu          sync.RWMutex
	lastStderr  string
	lastTSMark  time.Duration
}

// progressTimeRe extracts the "time=HH:MM:SS.cc" marker (hundredths of a
// second) ffmpeg-family encoders emit on stderr, used only for
// observability per §4.4.
var progressTimeRe = regexp.MustCompile(`time=(\d\d):(\d\d):(\d\d)\.(\d+)`)

// ExitEvent reports a process's terminal state to the caller's lifecycle
// channel, per the design note that the orchestrator awaits supervisor
// events rather than polling the process directly.
type ExitEvent struct {
	Handle   *SupervisorHandle
	ExitCode int
	Err      error
}

// Supervisor implements the Subprocess Supervisor (C4): launches encoder
// processes, captures stderr line-by-line, reports exit codes, and supports
// forceful termination and hardware-slot accounting.
type Supervisor struct {
	logger *slog.Logger
	paths  Paths

	mu       sync.Mutex
	handles  map[string]*SupervisorHandle
}

// NewSupervisor creates a Supervisor rooted at paths for writing done
// markers.
func NewSupervisor(paths Paths, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{paths: paths, logger: logger, handles: make(map[string]*SupervisorHandle)}
}

func newProcessId() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Spawn starts binary with args in cwd, optionally holding a hardware slot
// for the process's lifetime, and returns immediately with a handle plus a
// channel that receives exactly one ExitEvent when the process terminates.
// The core never inspects args; it only schedules the process (§4.6).
func (s *Supervisor) Spawn(ctx context.Context, videoId VideoId, variant VariantLabel, binary string, args []string, cwd string, hwSlot *HWSlotHandle) (*SupervisorHandle, <-chan ExitEvent, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, binary, args...)
	cmd.Dir = cwd

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	h := &SupervisorHandle{
		ProcessId: newProcessId(),
		VideoId:   videoId,
		Variant:   variant,
		StartedAt: time.Now(),
		cmd:       cmd,
		cancel:    cancel,
		hwSlot:    hwSlot,
		doneCh:    make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if hwSlot != nil {
			hwSlot.Release()
		}
		return nil, nil, fmt.Errorf("starting encoder: %w", err)
	}

	s.mu.Lock()
	s.handles[h.ProcessId] = h
	s.mu.Unlock()

	exitCh := make(chan ExitEvent, 1)

	go s.captureStderr(h, stderr)

	go func() {
		waitErr := cmd.Wait()
		cancel()

		// Hardware slot release is single-shot and tied to this handle
		// regardless of which path (normal exit vs forced kill) got here.
		if h.hwSlot != nil {
			h.hwSlot.Release()
		}

		exitCode := 0
		if waitErr != nil {
			exitCode = -1
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			}
		}

		if exitCode == 0 {
			donePath := s.paths.DonePath(videoId, variant)
			if werr := os.WriteFile(donePath, []byte(time.Now().Format(time.RFC3339)), 0o644); werr != nil {
				s.logger.Warn("failed writing done marker",
					slog.String("video_id", string(videoId)),
					slog.String("variant", string(variant)),
					slog.String("error", werr.Error()))
			}
		} else {
			s.logger.Warn("encoder exited nonzero",
				slog.String("video_id", string(videoId)),
				slog.String("variant", string(variant)),
				slog.Int("exit_code", exitCode),
				slog.String("last_stderr", h.LastStderr()))
		}

		s.mu.Lock()
		delete(s.handles, h.ProcessId)
		s.mu.Unlock()

		h.exitOnce.Do(func() {
			h.exitErr = waitErr
			close(h.doneCh)
		})
		exitCh <- ExitEvent{Handle: h, ExitCode: exitCode, Err: waitErr}
		close(exitCh)
	}()

	return h, exitCh, nil
}

func (s *Supervisor) captureStderr(h *SupervisorHandle, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		h.mu.Lock()
		h.lastStderr = line
		if m := progressTimeRe.FindStringSubmatch(line); len(m) == 5 {
			hh, mm, ss, ms := atoiSafe(m[1]), atoiSafe(m[2]), atoiSafe(m[3]), atoiSafe(m[4])
			h.lastTSMark = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute +
				time.Duration(ss)*time.Second + time.Duration(ms)*10*time.Millisecond
		}
		h.mu.Unlock()
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// LastStderr returns the most recent stderr line captured from the process.
func (h *SupervisorHandle) LastStderr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastStderr
}

// ProgressTimestamp returns the most recent "time=" progress marker the
// process reported, for observability only.
func (h *SupervisorHandle) ProgressTimestamp() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTSMark
}

// HandleStats is a point-in-time resource sample for one encoder process,
// used by the gateway stats endpoint to report per-task CPU/memory rather
// than just an aggregate process count.
type HandleStats struct {
	PID        int32
	CPUPercent float64
	RSSBytes   uint64
}

// Stats samples the process's current CPU and memory usage via gopsutil.
// Returns an error if the process has already exited or cannot be read.
func (h *SupervisorHandle) Stats(ctx context.Context) (HandleStats, error) {
	if h.cmd.Process == nil {
		return HandleStats{}, fmt.Errorf("supervisor: process not started")
	}
	pid := int32(h.cmd.Process.Pid)

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return HandleStats{}, fmt.Errorf("supervisor: reading process %d: %w", pid, err)
	}

	stats := HandleStats{PID: pid}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		stats.RSSBytes = memInfo.RSS
	}
	return stats, nil
}

// Stats returns a resource sample for every process currently tracked.
func (s *Supervisor) Stats(ctx context.Context) []HandleStats {
	s.mu.Lock()
	handles := make([]*SupervisorHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	out := make([]HandleStats, 0, len(handles))
	for _, h := range handles {
		if stat, err := h.Stats(ctx); err == nil {
			out = append(out, stat)
		}
	}
	return out
}

// Kill sends signal (default SIGTERM) to the process and waits for it to
// exit, releasing its hardware slot exactly once regardless of the exit
// path. A process that exits (by the signal or with a nonzero code) is a
// successful kill; only other wait errors are returned.
func (h *SupervisorHandle) Kill(sig os.Signal) error {
	if sig == nil {
		sig = syscall.SIGTERM
	}
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(sig); err != nil {
		h.cancel()
	}
	<-h.doneCh
	if _, ok := h.exitErr.(*exec.ExitError); ok {
		return nil
	}
	return h.exitErr
}

// KillAll forcibly terminates every process currently tracked by the
// supervisor, used on shutdown.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	handles := make([]*SupervisorHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *SupervisorHandle) {
			defer wg.Done()
			_ = h.Kill(nil)
		}(h)
	}
	wg.Wait()
}

// ActiveCount returns the number of processes the supervisor is currently
// tracking.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
