package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/apperr"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear a user's conversation with an agent",
	}

	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryClearCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var (
		configPath string
		user       string
		agent      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the most recent turns, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, configPath, appOpts{Offline: true})
			if err != nil {
				return err
			}
			defer a.Close()

			agentID, ok := a.registry.Resolve(agent)
			if !ok {
				return apperr.Errorf(apperr.InvalidAgent, "history", "unknown agent %q", agent)
			}
			ctx := context.Background()
			turns, err := a.store.History(ctx, user, agentID, limit)
			if err != nil {
				return err
			}
			total, err := a.store.Count(ctx, user, agentID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s / %s: showing %d of %d turns\n", user, agentID, len(turns), total)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tROLE\tINTENT\tCONTENT")
			for _, t := range turns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role, t.Intent, oneLine(t.Content, 80))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent id (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of turns (default: memory.history_limit)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newHistoryClearCmd() *cobra.Command {
	var (
		configPath string
		user       string
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a user's conversation with an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, configPath, appOpts{Offline: true})
			if err != nil {
				return err
			}
			defer a.Close()

			agentID, ok := a.registry.Resolve(agent)
			if !ok {
				return apperr.Errorf(apperr.InvalidAgent, "history", "unknown agent %q", agent)
			}
			if err := a.store.Clear(context.Background(), user, agentID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared history for %s / %s\n", user, agentID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent id (required)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// oneLine flattens s and cuts it to at most maxRunes runes.
func oneLine(s string, maxRunes int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > maxRunes {
		return string(r[:maxRunes-3]) + "..."
	}
	return string(r)
}
