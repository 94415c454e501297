package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/repository"
)

func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and change conversation profiles",
	}
	cmd.AddCommand(c.profileShowCmd(), c.profileUnlimitedCmd())
	return cmd
}

func (c *cli) profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation's language and quota usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, ok, err := a.Store.GetProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no profile for conversation %s", args[0])
			}
			printProfile(cmd, p, a.Config.FreeRequestLimit)
			return nil
		},
	}
}

func (c *cli) profileUnlimitedCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "unlimited <conversation-id>",
		Short: "Exempt a conversation from the free request quota",
		Long:  "unlimited marks a conversation as paid. The profile is created when the chat has never written to the bot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, id := cmd.Context(), args[0]
			err = a.Store.SetUnlimited(ctx, id, !off)
			if errors.Is(err, repository.ErrProfileMissing) {
				if _, err = a.Store.CreateProfile(ctx, domain.Profile{
					ConversationID: id,
					Language:       a.Config.DefaultLanguage,
				}); err != nil {
					return err
				}
				err = a.Store.SetUnlimited(ctx, id, !off)
			}
			if err != nil {
				return err
			}
			p, _, err := a.Store.GetProfile(ctx, id)
			if err != nil {
				return err
			}
			printProfile(cmd, p, a.Config.FreeRequestLimit)
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "put the conversation back on the free quota")
	return cmd
}

func printProfile(cmd *cobra.Command, p domain.Profile, limit int) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("conversation "+p.ConversationID))
	quota := fmt.Sprintf("%d of %d free requests used", p.RequestCount, limit)
	switch {
	case p.IsUnlimited:
		quota = okStyle.Render(fmt.Sprintf("unlimited (%d requests)", p.RequestCount))
	case limit == 0:
		quota = fmt.Sprintf("%d requests, quota disabled", p.RequestCount)
	case p.RequestCount >= limit:
		quota = warnStyle.Render(quota)
	}
	fmt.Fprintln(out, metaStyle.Render("language: "+string(p.Language)))
	fmt.Fprintln(out, quota)
}
