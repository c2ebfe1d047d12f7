package gateway

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_SweepSessions_PurgesStaleClientAndTerminatesSoleTask(t *testing.T) {
	dir := t.TempDir()
	paths := NewPaths(dir)
	registry := NewRegistry(8, 3)
	sessions := NewSessionTracker(nil)
	supervisor := NewSupervisor(paths, nil)
	j := NewJanitor(paths, registry, sessions, supervisor, nil)

	sessions.Update("client-1", "movie", Variant{Label: "720p"}, 0)
	key := TaskKey{VideoId: "movie", Variant: "720p"}
	require.True(t, registry.Upsert(key, newTask("client-1", 2)))

	// Rewind lastRequestTime beyond SessionTimeout.
	s := sessions.Snapshot()["client-1"]
	s.LastRequestTime = time.Now().Add(-SessionTimeout - time.Minute)

	j.SweepSessions(time.Now())

	_, stillThere := sessions.Snapshot()["client-1"]
	assert.False(t, stillThere)
	_, taskExists := registry.Get(key)
	assert.False(t, taskExists)
}

func TestJanitor_SweepSessions_ReassignsOwnershipWhenOtherClientAttached(t *testing.T) {
	dir := t.TempDir()
	paths := NewPaths(dir)
	registry := NewRegistry(8, 3)
	sessions := NewSessionTracker(nil)
	supervisor := NewSupervisor(paths, nil)
	j := NewJanitor(paths, registry, sessions, supervisor, nil)

	sessions.Update("client-1", "movie", Variant{Label: "720p"}, 0)
	key := TaskKey{VideoId: "movie", Variant: "720p"}
	task := newTask("client-1", 2)
	task.Attached["client-2"] = struct{}{}
	require.True(t, registry.Upsert(key, task))

	s := sessions.Snapshot()["client-1"]
	s.LastRequestTime = time.Now().Add(-SessionTimeout - time.Minute)

	j.SweepSessions(time.Now())

	got, ok := registry.Get(key)
	require.True(t, ok, "task should survive because another client is attached")
	assert.Equal(t, ClientId("client-2"), got.Owner)
}

func TestJanitor_SweepTasks_RemovesFinishedAndEmptyTasks(t *testing.T) {
	dir := t.TempDir()
	paths := NewPaths(dir)
	registry := NewRegistry(8, 3)
	sessions := NewSessionTracker(nil)
	supervisor := NewSupervisor(paths, nil)
	j := NewJanitor(paths, registry, sessions, supervisor, nil)

	finished := newTask("client-1", 2)
	finished.Finished = true
	registry.Upsert(TaskKey{VideoId: "a", Variant: "720p"}, finished)

	empty := newTask("client-1", 2)
	empty.Attached = map[ClientId]struct{}{}
	registry.Upsert(TaskKey{VideoId: "b", Variant: "720p"}, empty)

	j.SweepTasks(time.Now())

	_, ok1 := registry.Get(TaskKey{VideoId: "a", Variant: "720p"})
	_, ok2 := registry.Get(TaskKey{VideoId: "b", Variant: "720p"})
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestJanitor_SweepLocks_RemovesStaleVariantDir(t *testing.T) {
	dir := t.TempDir()
	paths := NewPaths(dir)
	registry := NewRegistry(8, 3)
	sessions := NewSessionTracker(nil)
	supervisor := NewSupervisor(paths, nil)
	j := NewJanitor(paths, registry, sessions, supervisor, nil)

	variantDir := paths.VariantDir("movie", "720p")
	require.NoError(t, os.MkdirAll(variantDir, 0o755))
	lockPath := paths.LockPath("movie", "720p")
	require.NoError(t, os.WriteFile(lockPath, []byte("x"), 0o644))
	old := time.Now().Add(-LockTTL - time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	require.NoError(t, j.SweepLocks())

	_, err := os.Stat(variantDir)
	assert.True(t, os.IsNotExist(err))
}
