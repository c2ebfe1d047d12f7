package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(owner ClientId, priority int) *Task {
	return &Task{
		Owner:        owner,
		Attached:     map[ClientId]struct{}{owner: {}},
		LastActivity: time.Now(),
		Priority:     priority,
	}
}

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := NewRegistry(8, 3)
	key := TaskKey{VideoId: "movie", Variant: "720p"}
	require.True(t, r.Upsert(key, newTask("client-1", 2)))

	got, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, ClientId("client-1"), got.Owner)
}

func TestRegistry_EnforcesMaxConcurrent(t *testing.T) {
	r := NewRegistry(1, 3)
	require.True(t, r.Upsert(TaskKey{VideoId: "a", Variant: "720p"}, newTask("client-1", 2)))

	// The existing task has a single attached client and the lowest priority, so it is evicted to make room.
	ok := r.Upsert(TaskKey{VideoId: "b", Variant: "720p"}, newTask("client-1", 3))
	assert.True(t, ok)

	_, exists := r.Get(TaskKey{VideoId: "a", Variant: "720p"})
	assert.False(t, exists, "lower-priority task should have been evicted")
}

func TestRegistry_FailsWhenNoEvictionCandidate(t *testing.T) {
	r := NewRegistry(1, 3)
	task := newTask("client-1", 2)
	task.Attached["client-2"] = struct{}{}
	require.True(t, r.Upsert(TaskKey{VideoId: "a", Variant: "720p"}, task))

	ok := r.Upsert(TaskKey{VideoId: "b", Variant: "720p"}, newTask("client-1", 3))
	assert.False(t, ok, "multi-client task must not be evicted")
}

func TestRegistry_EnforcesMaxPerClient(t *testing.T) {
	r := NewRegistry(8, 1)
	require.True(t, r.Upsert(TaskKey{VideoId: "a", Variant: "720p"}, newTask("client-1", 2)))

	ok := r.Upsert(TaskKey{VideoId: "b", Variant: "1080p"}, newTask("client-1", 1))
	assert.True(t, ok, "should evict the lower-priority task owned by the same client")
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry(8, 3)
	key := TaskKey{VideoId: "movie", Variant: "720p"}
	require.True(t, r.Upsert(key, newTask("client-1", 2)))

	r.Touch(key, "client-2", 42)

	got, _ := r.Get(key)
	assert.Equal(t, SegmentIndex(42), got.LatestSegment)
	_, attached := got.Attached["client-2"]
	assert.True(t, attached)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(8, 3)
	key := TaskKey{VideoId: "movie", Variant: "720p"}
	require.True(t, r.Upsert(key, newTask("client-1", 2)))
	r.Remove(key)
	_, ok := r.Get(key)
	assert.False(t, ok)
}
