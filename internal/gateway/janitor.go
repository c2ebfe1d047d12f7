package gateway

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/streamforge/gateway/internal/scheduler"
	"github.com/streamforge/gateway/pkg/format"
)

// dirSize sums file sizes under dir. Used only to report how much disk a
// stale variant directory is about to give back; a walk error just makes
// the reported number a (harmless) undercount.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// Janitor durations, per §4.11.
const (
	SessionTimeout       = 10 * time.Minute
	VariantSwitchTimeout = 20 * time.Second
	LockTTL              = 55 * time.Minute
)

// Janitor implements the periodic pruning sweeps (C11): stale client
// sessions, abandoned variants, completed/orphaned tasks, and lock files
// older than LockTTL.
type Janitor struct {
	paths         Paths
	registry      *Registry
	sessions      *SessionTracker
	supervisor    *Supervisor
	logger        *slog.Logger
	maxOutputSize int64 // bytes; 0 means unlimited
}

// WithMaxOutputSize sets a soft cap on the HLS output directory's total
// size. SweepLocks logs a warning once usage exceeds it; it does not evict
// anything beyond what LockTTL already reclaims.
func (j *Janitor) WithMaxOutputSize(maxBytes int64) *Janitor {
	j.maxOutputSize = maxBytes
	return j
}

// NewJanitor creates a Janitor over the given collaborators.
func NewJanitor(paths Paths, registry *Registry, sessions *SessionTracker, supervisor *Supervisor, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{paths: paths, registry: registry, sessions: sessions, supervisor: supervisor, logger: logger}
}

// SweepSessions purges client sessions inactive for SessionTimeout.
// Ownership of a removed client's tasks transfers to another attached
// client if any; otherwise the task is terminated and removed (§4.11).
func (j *Janitor) SweepSessions(now time.Time) {
	for clientId, session := range j.sessions.Snapshot() {
		if now.Sub(session.LastRequestTime) < SessionTimeout {
			continue
		}
		j.reassignOrTerminateTasksFor(clientId)
		j.sessions.Purge(clientId)
		j.logger.Debug("purged stale client session", slog.String("client_id", string(clientId)))
	}
}

func (j *Janitor) reassignOrTerminateTasksFor(clientId ClientId) {
	for key, task := range j.registry.Snapshot() {
		if j.registry.DetachClient(key, clientId) {
			j.terminateTask(key, task)
		}
	}
}

// SweepInactiveVariants stops transcoding of any non-active variant whose
// lastRequestTime is older than VariantSwitchTimeout, per §4.11.
func (j *Janitor) SweepInactiveVariants(now time.Time) {
	for _, session := range j.sessions.Snapshot() {
		for label, vs := range session.Variants {
			if label == session.CurrentActiveVariant {
				continue
			}
			if now.Sub(vs.LastRequestTime) < VariantSwitchTimeout {
				continue
			}
			key := TaskKey{VideoId: session.VideoId, Variant: label}
			if task, ok := j.registry.Get(key); ok {
				j.terminateTask(key, task)
			}
		}
	}
}

// SweepTasks removes finished tasks, tasks with no attached clients, and
// pendingStart tasks older than 2*VariantSwitchTimeout (§4.11).
func (j *Janitor) SweepTasks(now time.Time) {
	for key, task := range j.registry.Snapshot() {
		switch {
		case task.Finished:
			j.registry.Remove(key)
		case len(task.Attached) == 0:
			j.registry.Remove(key)
		case task.PendingStart && now.Sub(task.LastActivity) > 2*VariantSwitchTimeout:
			j.registry.Remove(key)
		}
	}
}

// SweepLocks scans the HLS output root and removes variant directories
// whose lock-file mtime exceeds LockTTL, per §4.11 (run every 10 minutes).
func (j *Janitor) SweepLocks() error {
	entries, err := os.ReadDir(j.paths.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, videoEntry := range entries {
		if !videoEntry.IsDir() {
			continue
		}
		videoId := VideoId(videoEntry.Name())
		variantEntries, err := os.ReadDir(j.paths.VideoDir(videoId))
		if err != nil {
			continue
		}
		for _, variantEntry := range variantEntries {
			if !variantEntry.IsDir() {
				continue
			}
			label := VariantLabel(variantEntry.Name())
			lockPath := j.paths.LockPath(videoId, label)
			info, err := os.Stat(lockPath)
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > LockTTL {
				dir := j.paths.VariantDir(videoId, label)
				reclaimed := dirSize(dir)
				if err := os.RemoveAll(dir); err != nil {
					j.logger.Warn("failed removing stale variant dir",
						slog.String("dir", dir), slog.String("error", err.Error()))
					continue
				}
				j.logger.Info("removed stale variant directory",
					slog.String("dir", filepath.ToSlash(dir)),
					slog.String("reclaimed", format.Bytes(reclaimed)))
			}
		}
	}

	if j.maxOutputSize > 0 {
		usage := dirSize(j.paths.Root)
		if usage > j.maxOutputSize {
			j.logger.Warn("hls output directory exceeds configured size cap",
				slog.String("usage", format.Bytes(usage)),
				slog.String("cap", format.Bytes(j.maxOutputSize)))
		}
	}

	return nil
}

// RegisterWithScheduler adds the janitor's sweeps as cron jobs: the
// session/variant/task sweeps run every VariantSwitchTimeout, the lock
// sweep runs every ten minutes, matching §4.11's periodic schedule.
func (j *Janitor) RegisterWithScheduler(sched *scheduler.Scheduler) error {
	interval := cronEvery(VariantSwitchTimeout)
	if err := sched.AddJob(scheduler.Job{
		Name:     "gateway-sweep-sessions-and-tasks",
		Schedule: interval,
		Run: func(ctx context.Context) {
			now := time.Now()
			j.SweepSessions(now)
			j.SweepInactiveVariants(now)
			j.SweepTasks(now)
		},
	}); err != nil {
		return err
	}
	return sched.AddJob(scheduler.Job{
		Name:     "gateway-sweep-locks",
		Schedule: "@every 10m",
		Run: func(ctx context.Context) {
			if err := j.SweepLocks(); err != nil {
				j.logger.Warn("lock sweep failed", slog.String("error", err.Error()))
			}
		},
	})
}

func cronEvery(d time.Duration) string {
	return "@every " + d.String()
}

func (j *Janitor) terminateTask(key TaskKey, task *Task) {
	if task.Process != nil {
		_ = task.Process.Kill(nil)
	}
	j.registry.Remove(key)
	j.logger.Debug("terminated task",
		slog.String("video_id", string(key.VideoId)),
		slog.String("variant", string(key.Variant)))
}
