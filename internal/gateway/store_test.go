package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Exists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "001.ts")
	s := NewStore(10 * time.Millisecond)
	assert.False(t, s.Exists(path))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	assert.True(t, s.Exists(path))
}

func TestStore_WaitForStability_Missing(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	result := s.WaitForStability(ctx, filepath.Join(dir, "missing.ts"), 1000)
	assert.Equal(t, StabilityMissing, result)
}

func TestStore_WaitForStability_BecomesStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "001.ts")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	s := NewStore(5 * time.Millisecond)
	result := s.WaitForStability(context.Background(), path, 20)
	assert.Equal(t, StabilityOK, result)
}

func TestStore_WaitForStability_GrowingThenTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "001.ts")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			time.Sleep(2 * time.Millisecond)
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return
			}
			f.WriteString("y")
			f.Close()
		}
	}()

	s := NewStore(1 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result := s.WaitForStability(ctx, path, 100000)
	assert.Equal(t, StabilityTimeout, result)
	<-done
}

func TestStore_ScanRanges_MergesContiguous(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"000.ts", "001.ts", "002.ts", "005.ts", "006.ts", "010.ts"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "iframe_003.ts"), []byte("x"), 0o644))

	s := NewStore(0)
	ranges, err := s.ScanRanges(dir)
	require.NoError(t, err)
	require.Len(t, ranges, 3)
	assert.Equal(t, SegmentRange{Start: 0, End: 2}, ranges[0])
	assert.Equal(t, SegmentRange{Start: 5, End: 6}, ranges[1])
	assert.Equal(t, SegmentRange{Start: 10, End: 10}, ranges[2])
}

func TestStore_ScanRanges_MissingDir(t *testing.T) {
	s := NewStore(0)
	ranges, err := s.ScanRanges("/nonexistent/dir/for/test")
	require.NoError(t, err)
	assert.Nil(t, ranges)
}
