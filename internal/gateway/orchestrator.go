package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tuning constants for the restart-vs-attach decision (§4.10). The spec
// names these but does not give defaults; values below were chosen to keep
// the momentum threshold comparable in scale to NormalPlaybackRange.
const (
	TranscodingMinSegments    = 5
	TranscodingMomentumFactor = 2.0
	PreloadThreshold          = 3
	SeekCooldown              = 2 * time.Second

	stabilityPollInterval = 200 * time.Millisecond
	stabilityMaxTries     = 5000
)

// Orchestrator implements the Segment Orchestrator (C10): the top-level
// ensureSegment operation combining C2/C8/C9 to decide serve/attach/restart
// and deduplicating concurrent identical requests.
type Orchestrator struct {
	paths      Paths
	store      *Store
	locks      *LockManager
	supervisor *Supervisor
	hwSlots    *HWSlotLimiter
	registry   *Registry
	sessions   *SessionTracker
	planner    EncoderPlanner
	logger     *slog.Logger

	segmentDuration int // seconds, per HLS_SEGMENT_TIME

	inflight singleflight.Group
}

// NewOrchestrator wires the collaborators the orchestrator needs.
func NewOrchestrator(paths Paths, store *Store, locks *LockManager, supervisor *Supervisor, hwSlots *HWSlotLimiter, registry *Registry, sessions *SessionTracker, planner EncoderPlanner, segmentDuration int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		paths: paths, store: store, locks: locks, supervisor: supervisor,
		hwSlots: hwSlots, registry: registry, sessions: sessions, planner: planner,
		segmentDuration: segmentDuration, logger: logger,
	}
}

// EnsureRequest carries the inputs to EnsureSegment.
type EnsureRequest struct {
	ClientId   ClientId
	VideoId    VideoId
	Variant    Variant
	SourcePath string
	Segment    SegmentIndex
	UseHardware bool
	ForceSDR    bool
}

// EnsureSegment implements the top-level operation from §4.10.
func (o *Orchestrator) EnsureSegment(ctx context.Context, req EnsureRequest) (string, error) {
	ext := "ts"
	segPath := o.paths.SegmentPath(req.VideoId, req.Variant.Label, req.Segment, ext)

	// Step 1: already on disk.
	if o.store.Exists(segPath) {
		key := TaskKey{VideoId: req.VideoId, Variant: req.Variant.Label}
		o.registry.Touch(key, req.ClientId, req.Segment)
		_ = o.locks.Touch(req.VideoId, req.Variant.Label)
		return segPath, nil
	}

	// Step 7: dedup concurrent identical requests before doing any work.
	dedupKey := fmt.Sprintf("%s/%s/%d", req.VideoId, req.Variant.Label, req.Segment)
	v, err, _ := o.inflight.Do(dedupKey, func() (interface{}, error) {
		return o.ensureSegmentOnce(ctx, req, segPath)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Orchestrator) ensureSegmentOnce(ctx context.Context, req EnsureRequest, segPath string) (string, error) {
	if o.store.Exists(segPath) {
		return segPath, nil
	}

	analysis := o.sessions.Update(req.ClientId, req.VideoId, req.Variant, req.Segment)

	key := TaskKey{VideoId: req.VideoId, Variant: req.Variant.Label}
	task, exists := o.registry.Get(key)
	if !exists {
		task, exists = o.synthesizeFromDisk(req.VideoId, req.Variant)
		if exists {
			o.registry.Upsert(key, task)
		}
	}

	requesterOwnsOrAttached := o.registry.IsOwnerOrAttached(key, req.ClientId)
	decision := shouldStartNew(task, exists, req.Segment, analysis, req.Variant, requesterOwnsOrAttached)

	switch decision {
	case decisionStartNew:
		if err := o.startNew(ctx, req, key); err != nil {
			return "", err
		}
	case decisionRestart:
		if err := o.restart(ctx, req, key, task); err != nil {
			return "", err
		}
	case decisionAttach:
		o.registry.Touch(key, req.ClientId, req.Segment)
	}

	_ = o.locks.Touch(req.VideoId, req.Variant.Label)

	result := o.store.WaitForStability(ctx, segPath, stabilityMaxTries)
	if result != StabilityOK {
		o.registry.MarkNeedsRestart(key)
		return "", fmt.Errorf("%w: segment %d of %s/%s did not stabilize", ErrNotReady, req.Segment, req.VideoId, req.Variant.Label)
	}
	return segPath, nil
}

// synthesizeFromDisk rescans C2 for existing ranges and builds a task entry
// when ranges are found, so clients benefit from past work after a restart
// or process crash (§4.10 step 3).
func (o *Orchestrator) synthesizeFromDisk(videoId VideoId, variant Variant) (*Task, bool) {
	dir := o.paths.VariantDir(videoId, variant.Label)
	ranges, err := o.store.ScanRanges(dir)
	if err != nil || len(ranges) == 0 {
		return nil, false
	}
	latest := ranges[len(ranges)-1].End
	return &Task{
		Attached:      make(map[ClientId]struct{}),
		SegmentStart:  ranges[0].Start,
		LatestSegment: latest,
		LastActivity:  time.Now(),
		Priority:      variant.Priority(),
		Generated:     GeneratedRanges{Ranges: ranges, VerifiedAt: time.Now()},
		IsAudio:       variant.Kind == KindAudio,
		Channels:      variant.Channels,
	}, true
}

type decision int

const (
	decisionStartNew decision = iota
	decisionRestart
	decisionAttach
)

// shouldStartNew evaluates the ordered rules from §4.10 step 4.
// requesterOwnsOrAttached reports whether the requesting client owns or is
// already attached to task, gating the user_seek restart rule so a seek
// from an unrelated client cannot preempt another client's producer.
func shouldStartNew(task *Task, exists bool, segment SegmentIndex, analysis RequestAnalysis, variant Variant, requesterOwnsOrAttached bool) decision {
	if !exists || task == nil {
		return decisionStartNew
	}
	if task.Generated.Contains(segment) {
		return decisionAttach
	}
	if dist := task.Generated.NearestDistance(segment); dist >= 0 && dist < NormalPlaybackRange/2 {
		return decisionAttach
	}

	completed := task.Completed()
	threshold := float64(NormalPlaybackRange) + float64(max0(completed-TranscodingMinSegments))*TranscodingMomentumFactor
	if analysis.IsNormalPlayerBehavior {
		threshold *= 1.5
	}
	if variant.Kind == KindAudio && variant.Channels > 2 {
		threshold *= 1.25
	}

	distanceFromFrontier := int(segment) - (int(task.LatestSegment) + PreloadThreshold)
	if absInt(distanceFromFrontier) < int(threshold) {
		return decisionAttach
	}

	if time.Since(task.LastActivity) < SeekCooldown {
		return decisionAttach
	}

	if analysis.Intent == IntentUserSeek && requesterOwnsOrAttached {
		return decisionRestart
	}

	if absInt(distanceFromFrontier) > int(2*threshold) {
		return decisionRestart
	}

	if len(task.Attached) > 1 && analysis.IsNormalPlayerBehavior {
		return decisionAttach
	}

	return decisionAttach
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// startNew creates and spawns a fresh task with segmentStart set to the
// requested segment (there is no prior task).
func (o *Orchestrator) startNew(ctx context.Context, req EnsureRequest, key TaskKey) error {
	return o.spawn(ctx, req, key, req.Segment)
}

// restart kills the existing process (if any) and spawns a new one
// starting at the requested segment, per §4.10 step 5. Segments produced
// by the new process overwrite by index (§9 Open Questions decision).
func (o *Orchestrator) restart(ctx context.Context, req EnsureRequest, key TaskKey, task *Task) error {
	if task != nil && task.Process != nil {
		_ = task.Process.Kill(nil)
	}
	return o.spawn(ctx, req, key, req.Segment)
}

// spawn secures a registry slot before touching the supervisor, per §4.10
// step 5 ("evict-if-needed under the caps, then spawn"). The slot starts
// out as a pendingStart placeholder with no process; evictForCaps runs (and
// kills its victim, if any) while reserving that placeholder, so a new
// encoder is only ever exec'd once a slot is actually secured. If the caps
// are saturated and nothing is evictable, spawn fails before any process
// exists, closing the gap where a live encoder could run untracked.
func (o *Orchestrator) spawn(ctx context.Context, req EnsureRequest, key TaskKey, startSegment SegmentIndex) error {
	outputDir := o.paths.VariantDir(req.VideoId, req.Variant.Label)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: creating variant dir: %w", err)
	}

	placeholder := &Task{
		Owner:         req.ClientId,
		Attached:      map[ClientId]struct{}{req.ClientId: {}},
		SegmentStart:  startSegment,
		LatestSegment: startSegment,
		LastActivity:  time.Now(),
		Priority:      req.Variant.Priority(),
		PendingStart:  true,
		IsAudio:       req.Variant.Kind == KindAudio,
		Channels:      req.Variant.Channels,
	}
	if !o.registry.Upsert(key, placeholder) {
		return fmt.Errorf("%w: %s/%s", ErrResourceExhausted, req.VideoId, req.Variant.Label)
	}

	var hwSlot *HWSlotHandle
	useHW := req.UseHardware
	if useHW {
		hwSlot = o.hwSlots.Acquire(string(key.VideoId) + "/" + string(key.Variant))
		if hwSlot == nil {
			useHW = false // fall back to CPU encoding per §4.5
		}
	}

	plan, err := o.planner.PlanStream(PlanRequest{
		SourcePath:      req.SourcePath,
		Variant:         req.Variant,
		StartSegment:    startSegment,
		SegmentDuration: o.segmentDuration,
		UseHardware:     useHW,
		ForceSDR:        req.ForceSDR,
		OutputDir:       outputDir,
	})
	if err != nil {
		if hwSlot != nil {
			hwSlot.Release()
		}
		o.registry.Remove(key)
		return fmt.Errorf("orchestrator: planning encode: %w", err)
	}

	handle, exitCh, err := o.supervisor.Spawn(ctx, req.VideoId, req.Variant.Label, plan.Binary, plan.Args, outputDir, hwSlot)
	if err != nil {
		o.registry.Remove(key)
		return fmt.Errorf("orchestrator: spawning encoder: %w", err)
	}

	task := &Task{
		Owner:         req.ClientId,
		Attached:      map[ClientId]struct{}{req.ClientId: {}},
		SegmentStart:  startSegment,
		LatestSegment: startSegment,
		LastActivity:  time.Now(),
		Priority:      req.Variant.Priority(),
		Process:       handle,
		IsAudio:       req.Variant.Kind == KindAudio,
		Channels:      req.Variant.Channels,
	}
	o.registry.Upsert(key, task)

	go o.watchExit(key, exitCh)
	return nil
}

// watchExit marks the task needsRestart/finished based on the supervisor's
// reported exit, per the design note that the orchestrator awaits events
// rather than polling the process.
func (o *Orchestrator) watchExit(key TaskKey, exitCh <-chan ExitEvent) {
	ev, ok := <-exitCh
	if !ok {
		return
	}
	if ev.ExitCode == 0 {
		o.registry.MarkFinished(key)
		return
	}
	o.registry.MarkNeedsRestart(key)
	o.logger.Warn("encoder exited nonzero, flagged for restart",
		slog.String("video_id", string(key.VideoId)),
		slog.String("variant", string(key.Variant)),
		slog.Int("exit_code", ev.ExitCode))
}

var (
	// ErrNotReady signals the HTTP layer should respond 202 (§7).
	ErrNotReady = errNotReady{}
	// ErrResourceExhausted signals the concurrency caps are saturated and no
	// slot could be reserved for this task, per §4.8 and the §8 saturation
	// boundary. The HTTP layer treats it the same as ErrNotReady.
	ErrResourceExhausted = errResourceExhausted{}
)

type errNotReady struct{}

func (errNotReady) Error() string { return "segment not ready" }

type errResourceExhausted struct{}

func (errResourceExhausted) Error() string { return "no transcoding slot available" }
