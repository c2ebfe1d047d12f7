package gateway

import (
	"fmt"
	"os"
	"time"
)

// LockManager implements the Session Lock (C3): a per-(videoId, variant)
// lock file whose mtime records last viewer activity, consulted by the
// janitor to decide when a variant's output can be reclaimed.
type LockManager struct {
	paths Paths
}

// NewLockManager creates a LockManager rooted at the given paths.
func NewLockManager(paths Paths) *LockManager {
	return &LockManager{paths: paths}
}

// Create atomically writes a timestamped lock file for (videoId, variant),
// creating the variant directory if needed.
func (l *LockManager) Create(id VideoId, label VariantLabel) error {
	dir := l.paths.VariantDir(id, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating variant dir: %w", err)
	}
	return l.Touch(id, label)
}

// Touch updates the lock file's mtime to now, creating it if absent.
func (l *LockManager) Touch(id VideoId, label VariantLabel) error {
	path := l.paths.LockPath(id, label)
	now := time.Now()
	content := []byte(now.Format(time.RFC3339Nano))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	return os.Chtimes(path, now, now)
}

// IsActive reports whether the lock file exists.
func (l *LockManager) IsActive(id VideoId, label VariantLabel) bool {
	_, err := os.Stat(l.paths.LockPath(id, label))
	return err == nil
}

// Age returns how long ago the lock file was last touched. The second
// return value is false if the lock file does not exist.
func (l *LockManager) Age(id VideoId, label VariantLabel) (time.Duration, bool) {
	info, err := os.Stat(l.paths.LockPath(id, label))
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}
