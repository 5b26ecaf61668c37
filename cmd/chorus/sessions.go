package main

import (
	"fmt"

	"github.com/harunnryd/chorus/internal/store"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage chat sessions",
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		formatter, err := formatterFromFlags(cmd)
		if err != nil {
			return err
		}

		var sessions []store.SessionMeta
		if offline {
			worker, err := openWorkspace(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer worker.Stop()
			sessions, err = worker.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
		} else {
			sessions, err = newAPIClient(resolveServerURL(cmd)).Sessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
		}

		out, err := formatter.FormatSessions(sessions)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Delete a session's transcript",
	Long:  `Removes the stored transcript and index entry of a session. The message counter is kept; use 'chorus quota reset' to restore the allowance. The service must be stopped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := openWorkspace(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer worker.Stop()

		if err := worker.ResetSession(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset successfully\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsLsCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)

	sessionsCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	sessionsLsCmd.Flags().String("url", "", "service base URL (default http://localhost:<server.port>)")
	sessionsLsCmd.Flags().Bool("offline", false, "read the workspace directly instead of asking the service")
	sessionsLsCmd.Flags().StringP("output", "o", string(outputTable), "output format (table, json, yaml)")
}
