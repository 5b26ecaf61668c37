package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/harunnryd/chorus/internal/daemon"
	"github.com/harunnryd/chorus/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon"},
	Short:   "Run the chat service",
	Long:    `Starts the chat API as a long-running service using component lifecycle orchestration. It exposes the chat, limit, health and metrics endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		storeComp := components.NewStoreWorkerComponent(workspaceID, cfg.Daemon.WorkspacePath, cfg.Store)
		observeComp := components.NewObserveComponent(cfg.Observe, version)
		gateComp := components.NewQuotaGateComponent(cfg.Quota, storeComp)
		orchComp := components.NewOrchestratorComponent(cfg, storeComp, observeComp)
		httpComp := components.NewHTTPServerComponent(daemonMgr, cfg, version, storeComp, gateComp, orchComp, observeComp)

		daemonMgr.AddComponent(storeComp)
		daemonMgr.AddComponent(observeComp)
		daemonMgr.AddComponent(gateComp)
		daemonMgr.AddComponent(orchComp)
		daemonMgr.AddComponent(httpComp)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		slog.Info("Chorus starting up...", "port", cfg.Server.Port, "workspace", workspaceID, "version", version)
		err = daemonMgr.Start(ctx)
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Chorus stopped gracefully", "workspace", workspaceID)
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Chorus stopped gracefully", "workspace", workspaceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	serveCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
