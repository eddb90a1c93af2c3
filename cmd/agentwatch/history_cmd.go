package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agentwatch/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show recent state transitions from the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled")
			}
			sessionID := ""
			if len(args) > 0 {
				sessionID = args[0]
			}

			store, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			return runHistory(cmd.OutOrStdout(), store, sessionID, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of transitions")

	return cmd
}

func runHistory(w io.Writer, store *journal.Store, sessionID string, limit int) error {
	events, err := store.Recent(sessionID, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"transitions": events,
			"count":       len(events),
		})
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "No transitions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tSTATE\tAGENT\tSOURCE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			ev.At.Local().Format(time.DateTime), ev.SessionID, ev.State, ev.AgentActive, ev.Source)
	}
	return tw.Flush()
}
