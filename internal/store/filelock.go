package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/chorus/internal/config"

	"github.com/gofrs/flock"
)

// ErrWorkspaceLocked is returned when another process holds the workspace.
var ErrWorkspaceLocked = errors.New("workspace is locked by another instance")

const lockFileName = "workspace.lock"

// FileLock keeps one chorus process per workspace. The counters file is only
// safe under this lock.
type FileLock struct {
	mu          sync.RWMutex
	flock       *flock.Flock
	path        string
	workspaceID string
	acquiredAt  time.Time
}

type FileLockConfig struct {
	Timeout time.Duration
	Retry   time.Duration
}

func DefaultFileLockConfig() FileLockConfig {
	return FileLockConfig{
		Timeout: config.MustDuration("", config.DefaultStoreLockTimeout),
		Retry:   config.MustDuration("", config.DefaultStoreLockRetry),
	}
}

// AcquireFileLock polls for the workspace lock until it is held, cfg.Timeout
// elapses or ctx is done.
func AcquireFileLock(ctx context.Context, workspaceID, basePath string, cfg FileLockConfig) (*FileLock, error) {
	defaults := DefaultFileLockConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retry <= 0 {
		cfg.Retry = defaults.Retry
	}

	path := filepath.Join(basePath, lockFileName)
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, cfg.Retry)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s (waited %v)", ErrWorkspaceLocked, workspaceID, cfg.Timeout)
		}
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceLocked, workspaceID)
	}

	lock := &FileLock{
		flock:       fl,
		path:        path,
		workspaceID: workspaceID,
		acquiredAt:  time.Now(),
	}
	slog.Info("Workspace lock acquired", "workspace", workspaceID, "path", path)
	return lock, nil
}

// Unlock releases the lock. Calling it twice is harmless.
func (l *FileLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.flock == nil {
		return
	}

	held := time.Since(l.acquiredAt)
	if err := l.flock.Unlock(); err != nil {
		slog.Error("Failed to release workspace lock", "workspace", l.workspaceID, "path", l.path, "error", err)
	} else {
		slog.Info("Workspace lock released", "workspace", l.workspaceID, "held_ms", held.Milliseconds())
	}
	l.flock = nil
}

func (l *FileLock) IsLocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flock != nil
}

func (l *FileLock) HeldDuration() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.flock == nil {
		return 0
	}
	return time.Since(l.acquiredAt)
}

// CleanupStaleLocks removes a lock file older than maxAge when force is set.
// Without force it only reports it.
func CleanupStaleLocks(basePath string, maxAge time.Duration, force bool) error {
	path := filepath.Join(basePath, lockFileName)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return nil
	}

	slog.Warn("Found stale workspace lock", "path", path, "age", age, "max_age", maxAge)
	if !force {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	slog.Info("Stale workspace lock removed", "path", path)
	return nil
}
