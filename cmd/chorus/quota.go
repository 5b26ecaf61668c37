package main

import (
	"fmt"

	"github.com/harunnryd/chorus/internal/daemon/components"
	"github.com/harunnryd/chorus/internal/quota"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset per-session message allowances",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the message allowance of a session",
	Long:  `Asks the running service for a session's allowance. With --offline the workspace counters are read directly, which requires the service to be stopped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		principal, _ := cmd.Flags().GetString("principal")
		offline, _ := cmd.Flags().GetBool("offline")

		formatter, err := formatterFromFlags(cmd)
		if err != nil {
			return err
		}

		var status quota.Status
		if offline {
			status, err = withGate(cmd, func(gate *quota.Gate) (quota.Status, error) {
				return gate.Status(cmd.Context(), sessionID, principal)
			})
		} else {
			status, err = newAPIClient(resolveServerURL(cmd)).Limit(cmd.Context(), sessionID, principal)
		}
		if err != nil {
			return fmt.Errorf("failed to read allowance: %w", err)
		}

		out, err := formatter.FormatLimit(sessionID, status)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Restore a session's full message allowance",
	Long:  `Clears a session's message counter. The workspace is opened directly, so the service must be stopped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		_, err := withGate(cmd, func(gate *quota.Gate) (quota.Status, error) {
			return quota.Status{}, gate.Reset(cmd.Context(), sessionID)
		})
		if err != nil {
			return fmt.Errorf("failed to reset allowance: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s allowance reset\n", sessionID)
		return nil
	},
}

// withGate opens the workspace and the configured counter backend for the
// duration of fn.
func withGate(cmd *cobra.Command, fn func(*quota.Gate) (quota.Status, error)) (quota.Status, error) {
	worker, err := openWorkspace(cmd.Context(), cmd)
	if err != nil {
		return quota.Status{}, err
	}
	defer worker.Stop()

	counter, closeCounter, err := components.OpenCounter(cmd.Context(), cfg.Quota, worker)
	if err != nil {
		return quota.Status{}, err
	}
	defer closeCounter()

	return fn(quota.NewGate(counter, components.GateOptions(cfg.Quota)))
}

func formatterFromFlags(cmd *cobra.Command) (reportFormatter, error) {
	raw, _ := cmd.Flags().GetString("output")
	format, err := parseOutputFormat(raw)
	if err != nil {
		return nil, err
	}
	return newReportFormatter(format)
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaStatusCmd)
	quotaCmd.AddCommand(quotaResetCmd)

	quotaCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	quotaStatusCmd.Flags().String("url", "", "service base URL (default http://localhost:<server.port>)")
	quotaStatusCmd.Flags().StringP("principal", "p", "", "principal to evaluate (unlimited principals report no limit)")
	quotaStatusCmd.Flags().Bool("offline", false, "read the workspace directly instead of asking the service")
	quotaStatusCmd.Flags().StringP("output", "o", string(outputTable), "output format (table, json, yaml)")
}
