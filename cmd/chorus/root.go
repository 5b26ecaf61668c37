package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/logger"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chorus",
	Short: "Chorus multi-persona chat service",
	Long:  `Chorus streams tool-using, multi-persona chat completions under a per-session message allowance.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chorus/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("server.port", config.DefaultServerPort, "server port")
}

func resolveWorkspaceID(cmd *cobra.Command) string {
	if workspaceID, _ := cmd.Flags().GetString("workspace"); workspaceID != "" {
		return workspaceID
	}
	if cfg != nil && cfg.Daemon.WorkspaceID != "" {
		return cfg.Daemon.WorkspaceID
	}
	return config.DefaultWorkspaceID
}

func resolveServerURL(cmd *cobra.Command) string {
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		return u
	}
	port := config.DefaultServerPort
	if cfg != nil && cfg.Server.Port > 0 {
		port = cfg.Server.Port
	}
	return fmt.Sprintf("http://localhost:%d", port)
}
