package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relocation-assistant/internal/config"
	"relocation-assistant/internal/domain"
)

func (c *cli) transcriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Read or expire stored conversation turns",
	}
	cmd.AddCommand(c.transcriptShowCmd(), c.transcriptPruneCmd())
	return cmd
}

func (c *cli) transcriptShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the most recent turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			turns, err := a.Store.RecentTurns(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintln(out, warnStyle.Render("no turns stored for "+args[0]))
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("conversation %s, last %d turn(s)", args[0], len(turns))))
			for _, t := range turns {
				style := userStyle
				if t.Role == domain.RoleAssistant {
					style = assistantStyle
				}
				fmt.Fprintln(out, style.Render(string(t.Role))+" "+metaStyle.Render(t.CreatedAt.Format(time.DateTime)))
				fmt.Fprintln(out, contentStyle.Render(t.Content))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", config.DefaultHistoryTurnLimit, "number of turns to show")
	return cmd
}

func (c *cli) transcriptPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete turns older than the retention window",
		Long: `prune deletes transcript turns older than --older-than, which defaults to
TRANSCRIPT_RETENTION. DynamoDB expires turns through its TTL attribute, so
prune has nothing to do there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if a.Pruner == nil {
				fmt.Fprintln(out, metaStyle.Render(fmt.Sprintf("%s store expires turns itself; nothing to prune", a.Config.StoreDriver)))
				return nil
			}
			retention := olderThan
			if retention <= 0 {
				retention = a.Config.TranscriptRetention
			}
			n, err := a.Pruner.Prune(cmd.Context(), time.Now().Add(-retention))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("pruned %d turn(s) older than %s", n, retention)))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (default TRANSCRIPT_RETENTION)")
	return cmd
}
