package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/daemon"
	"github.com/harunnryd/chorus/internal/store"
)

const StoreWorkerName = "StoreWorker"

type StoreWorkerComponent struct {
	workspaceID       string
	workspaceRootPath string
	storeCfg          config.StoreConfig
	worker            *store.Worker
	initialized       bool
	started           bool
	mu                sync.RWMutex
}

func NewStoreWorkerComponent(workspaceID string, workspaceRootPath string, storeCfg config.StoreConfig) *StoreWorkerComponent {
	return &StoreWorkerComponent{
		workspaceID:       workspaceID,
		workspaceRootPath: workspaceRootPath,
		storeCfg:          storeCfg,
	}
}

func (s *StoreWorkerComponent) Name() string {
	return StoreWorkerName
}

func (s *StoreWorkerComponent) Dependencies() []string {
	return nil
}

func (s *StoreWorkerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("StoreWorker init cancelled: %w", err)
	}

	runtimeCfg, err := store.RuntimeConfigFrom(s.storeCfg)
	if err != nil {
		return err
	}

	worker, err := store.NewWorker(ctx, s.workspaceID, s.workspaceRootPath, runtimeCfg)
	if err != nil {
		if errors.Is(err, store.ErrWorkspaceLocked) {
			return fmt.Errorf("workspace %s is locked by another instance: %w", s.workspaceID, err)
		}
		return fmt.Errorf("failed to init store worker: %w", err)
	}

	s.worker = worker
	s.initialized = true
	slog.Info("StoreWorker initialized", "component", s.Name(), "workspace", s.workspaceID, "path", worker.BasePath())
	return nil
}

func (s *StoreWorkerComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("StoreWorker not initialized")
	}

	s.worker.Start()
	s.started = true
	return nil
}

// Stop also releases the workspace lock. It is safe on a worker that was
// initialized but never started.
func (s *StoreWorkerComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == nil {
		return nil
	}
	s.worker.Stop()
	s.started = false
	return nil
}

func (s *StoreWorkerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.initialized:
		return daemon.NotReady(s.Name(), "not initialized"), nil
	case !s.started:
		return daemon.NotReady(s.Name(), "not started"), nil
	case !s.worker.IsLockHeld():
		return daemon.NotReady(s.Name(), "lock not held"), nil
	case !s.worker.IsRunning():
		return daemon.NotReady(s.Name(), "loop not running"), nil
	}
	return daemon.Healthy(s.Name(), map[string]string{
		"workspace": s.workspaceID,
		"path":      s.worker.BasePath(),
	}), nil
}

func (s *StoreWorkerComponent) Worker() *store.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}
