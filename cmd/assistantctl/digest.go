package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/sanitize"
)

func (c *cli) digestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Inspect or clear the cached news digests",
	}
	cmd.AddCommand(c.digestShowCmd(), c.digestRefreshCmd())
	return cmd
}

func (c *cli) digestShowCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the digest /news would serve right now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			language, err := domain.ParseLanguage(lang)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			text, ok, err := a.Digests.GetFresh(cmd.Context(), language)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("no fresh digest for %s", language)))
				return nil
			}
			fmt.Fprintln(out, contentStyle.Render(sanitize.PlainText(text)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", string(domain.LanguageRU), "digest language (ru or en)")
	return cmd
}

func (c *cli) digestRefreshCmd() *cobra.Command {
	var langs []string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Drop cached digests so the next /news generates a new one",
		Long:  "refresh deletes the cached digests for --lang, or for every language when --lang is not given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected, err := parseLanguages(langs)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Digests.Invalidate(cmd.Context(), selected...)
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				selected = domain.Languages
			}
			names := make([]string, len(selected))
			for i, l := range selected {
				names[i] = string(l)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("deleted %d digest(s) for %s", n, strings.Join(names, ", "))))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&langs, "lang", "l", nil, "languages to clear (default all)")
	return cmd
}
