// Package scheduler runs the gateway's periodic maintenance sweeps on
// robfig/cron, the same timing engine the rest of this codebase's lineage
// uses for recurring jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// NormalizeCronExpression normalizes a cron expression to 6-field format.
// It accepts both 6-field (default) and 7-field (legacy with year) formats.
//
// Supported formats:
//   - 6 fields: sec min hour dom month dow (passed through as-is)
//   - 7 fields: sec min hour dom month dow year (year stripped after validation)
//
// The year field (if present) must be "*" or a valid year/range (e.g., "2024", "2024-2030", "*").
func NormalizeCronExpression(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("empty cron expression")
	}

	if strings.HasPrefix(expr, "@") {
		return expr, nil
	}

	fields := strings.Fields(expr)
	switch len(fields) {
	case 6:
		return expr, nil
	case 7:
		yearField := fields[6]
		if !isValidYearField(yearField) {
			return "", fmt.Errorf("invalid year field %q: must be * or a valid year/range", yearField)
		}
		return strings.Join(fields[:6], " "), nil
	default:
		return "", fmt.Errorf("invalid cron expression: expected 6 or 7 fields, got %d", len(fields))
	}
}

// isValidYearField validates a cron year field.
// Accepts: *, specific years (2024), ranges (2024-2030), lists (2024,2025), step values (*/2, 2024/1).
func isValidYearField(field string) bool {
	if field == "*" {
		return true
	}
	for _, r := range field {
		if !((r >= '0' && r <= '9') || r == ',' || r == '-' || r == '/' || r == '*') {
			return false
		}
	}
	return len(field) > 0
}

// Job is a named, schedulable unit of work. Run receives the scheduler's
// background context and should return promptly; long sweeps should bail out
// on ctx.Done().
type Job struct {
	Name     string
	Schedule string // 6-field cron expression, or an @every/@hourly style descriptor
	Run      func(ctx context.Context)
}

// Scheduler wraps robfig/cron with named jobs and structured logging around
// each run, used to drive the janitor's periodic sweeps.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	ids    map[string]cron.EntryID
}

// New creates a Scheduler using a seconds-resolution cron parser (6-field
// expressions, plus @every/@hourly style descriptors), matching
// NormalizeCronExpression's output format.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		ids:    make(map[string]cron.EntryID),
	}
}

// AddJob registers a job under its normalized cron schedule. Returns an error
// if the schedule is malformed or the name is already registered.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	schedule, err := NormalizeCronExpression(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}

	name := job.Name
	run := job.Run
	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("sweep starting", slog.String("job", name))
		run(s.ctx)
		s.logger.Debug("sweep finished", slog.String("job", name))
	})
	if err != nil {
		return fmt.Errorf("job %q: scheduling: %w", job.Name, err)
	}
	s.ids[job.Name] = id
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop cancels running jobs' context and blocks until the cron engine's
// in-flight jobs return.
func (s *Scheduler) Stop() {
	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}
