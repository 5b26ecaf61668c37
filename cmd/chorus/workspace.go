package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/harunnryd/chorus/internal/store"

	"github.com/spf13/cobra"
)

// openWorkspace takes the workspace lock and starts a store worker. It fails
// while a service holds the same workspace.
func openWorkspace(ctx context.Context, cmd *cobra.Command) (*store.Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	workspaceID := resolveWorkspaceID(cmd)

	runtimeCfg, err := store.RuntimeConfigFrom(cfg.Store)
	if err != nil {
		return nil, err
	}

	worker, err := store.NewWorker(ctx, workspaceID, cfg.Daemon.WorkspacePath, runtimeCfg)
	if err != nil {
		if errors.Is(err, store.ErrWorkspaceLocked) {
			return nil, fmt.Errorf("workspace %s is in use by a running service, stop it first: %w", workspaceID, err)
		}
		return nil, fmt.Errorf("failed to open workspace %s: %w", workspaceID, err)
	}
	worker.Start()
	return worker, nil
}
