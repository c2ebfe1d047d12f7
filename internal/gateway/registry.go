package gateway

import (
	"sync"
	"time"
)

// TaskKey identifies a transcoding task by its (video, variant) pair.
type TaskKey struct {
	VideoId VideoId
	Variant VariantLabel
}

// Task is the in-memory record the Segment Orchestrator consults and
// mutates for a single (videoId, variant) transcoding effort (§3 Task).
type Task struct {
	Owner    ClientId
	Attached map[ClientId]struct{}

	SegmentStart  SegmentIndex
	LatestSegment SegmentIndex
	LastActivity  time.Time
	Priority      int

	PendingStart bool
	NeedsRestart bool
	Finished     bool

	Generated GeneratedRanges

	Process *SupervisorHandle

	IsAudio  bool
	Channels int
}

// Completed returns the number of segments produced so far, per the
// momentum-threshold formula in §4.10.
func (t *Task) Completed() int {
	if t.PendingStart {
		return 0
	}
	return int(t.LatestSegment) - int(t.SegmentStart)
}

// Registry implements the Transcoding Task Registry (C8): a mutex-guarded
// map enforcing the concurrency caps in §4.8.
type Registry struct {
	mu    sync.Mutex
	tasks map[TaskKey]*Task

	maxConcurrent    int
	maxPerClient     int
}

// NewRegistry creates a Registry enforcing maxConcurrent total non-finished
// tasks and maxPerClient tasks owned by any one client.
func NewRegistry(maxConcurrent, maxPerClient int) *Registry {
	return &Registry{
		tasks:         make(map[TaskKey]*Task),
		maxConcurrent: maxConcurrent,
		maxPerClient:  maxPerClient,
	}
}

// Get returns the task at key, if any.
func (r *Registry) Get(key TaskKey) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	return t, ok
}

// Upsert inserts or replaces the task at key, enforcing the registry's
// concurrency caps. If the caps would be breached, Upsert first tries to
// evict the lowest-priority non-finished task that is neither key itself
// nor attached to more than one client; if no such task exists, Upsert
// fails and leaves the registry unchanged.
func (r *Registry) Upsert(key TaskKey, task *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[key]; exists {
		r.tasks[key] = task
		return true
	}

	if r.wouldBreachCaps(key, task.Owner) {
		if !r.evictForCaps(key, task.Owner) {
			return false
		}
	}

	r.tasks[key] = task
	return true
}

func (r *Registry) wouldBreachCaps(key TaskKey, owner ClientId) bool {
	total, perOwner := r.countNonFinished(owner)
	return total+1 > r.maxConcurrent || perOwner+1 > r.maxPerClient
}

func (r *Registry) countNonFinished(owner ClientId) (total int, perOwner int) {
	for _, t := range r.tasks {
		if t.Finished {
			continue
		}
		total++
		if t.Owner == owner {
			perOwner++
		}
	}
	return total, perOwner
}

// evictForCaps removes the lowest-priority evictable task. A task is
// evictable if it is not keyed the same as the new task and has at most
// one attached client (so we never evict work another client is relying
// on alongside its owner).
func (r *Registry) evictForCaps(key TaskKey, owner ClientId) bool {
	var victimKey TaskKey
	var victim *Task
	for k, t := range r.tasks {
		if k == key || t.Finished {
			continue
		}
		if len(t.Attached) > 1 {
			continue
		}
		if victim == nil || t.Priority < victim.Priority {
			victimKey, victim = k, t
		}
	}
	if victim == nil {
		return false
	}
	if victim.Process != nil {
		_ = victim.Process.Kill(nil)
	}
	delete(r.tasks, victimKey)
	return true
}

// Remove deletes the task at key.
func (r *Registry) Remove(key TaskKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, key)
}

// Touch updates lastActivity, adds clientId to attached, and raises
// latestSegment if segment is newer, per §4.8. The task at key is replaced
// with a clone rather than mutated in place, so callers holding a *Task from
// a prior Get/Snapshot never observe a torn write.
func (r *Registry) Touch(key TaskKey, clientId ClientId, segment SegmentIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return
	}
	next := cloneTask(t)
	next.LastActivity = time.Now()
	next.Attached[clientId] = struct{}{}
	if segment > next.LatestSegment {
		next.LatestSegment = segment
	}
	r.tasks[key] = next
}

// DetachClient removes clientId from the task at key's attached set. If
// clientId was the owner, ownership transfers to another attached client if
// one remains; otherwise DetachClient reports true and leaves the registry
// entry as-is, so the caller can terminate and remove it (§4.11).
func (r *Registry) DetachClient(key TaskKey, clientId ClientId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return false
	}
	next := cloneTask(t)
	delete(next.Attached, clientId)
	if next.Owner != clientId {
		r.tasks[key] = next
		return false
	}
	if newOwner, ok := anyAttached(next.Attached); ok {
		next.Owner = newOwner
		r.tasks[key] = next
		return false
	}
	return true
}

// MarkFinished flags the task at key as finished, per the supervisor exit
// callback in §4.4.
func (r *Registry) MarkFinished(key TaskKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return
	}
	next := cloneTask(t)
	next.Finished = true
	r.tasks[key] = next
}

// MarkNeedsRestart flags the task at key for a restart on its next request,
// per the nonzero-exit and stability-timeout paths in §4.4/§4.10.
func (r *Registry) MarkNeedsRestart(key TaskKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return
	}
	next := cloneTask(t)
	next.NeedsRestart = true
	r.tasks[key] = next
}

// IsOwnerOrAttached reports whether clientId owns or is attached to the
// task at key, for the §4.10 step 4 user_seek restart gate.
func (r *Registry) IsOwnerOrAttached(key TaskKey, clientId ClientId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return false
	}
	if t.Owner == clientId {
		return true
	}
	_, attached := t.Attached[clientId]
	return attached
}

// Snapshot returns a shallow copy of all tasks currently tracked, for the
// janitor's sweeps. The returned *Task pointers are never mutated in place
// (all registry updates clone-and-replace under the mutex), so callers may
// read their fields without holding r.mu.
func (r *Registry) Snapshot() map[TaskKey]*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[TaskKey]*Task, len(r.tasks))
	for k, v := range r.tasks {
		out[k] = v
	}
	return out
}

// cloneTask shallow-copies t and deep-copies its Attached set, so the
// returned Task can be stored over the original without aliasing mutable
// state with whatever holds the original pointer.
func cloneTask(t *Task) *Task {
	next := *t
	next.Attached = make(map[ClientId]struct{}, len(t.Attached))
	for k := range t.Attached {
		next.Attached[k] = struct{}{}
	}
	return &next
}

func anyAttached(m map[ClientId]struct{}) (ClientId, bool) {
	for k := range m {
		return k, true
	}
	return "", false
}
