package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/sanitize"
	"relocation-assistant/internal/usecase"
)

func (c *cli) askCmd() *cobra.Command {
	var (
		lang         string
		conversation string
		digest       bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Answer a question through the full retry ladder",
		Long: `ask runs one question through the same orchestrator the webhook uses.
With --conversation the stored history of that chat is used as context.
Nothing is written to the transcript and no quota is charged.`,
		Example: `  assistantctl ask --lang en "Do I need a visa for Portugal?"
  assistantctl ask --digest --lang ru`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			mode := domain.ModeReply
			if digest {
				mode = domain.ModeDigest
			} else if question == "" {
				return fmt.Errorf("a question is required unless --digest is set")
			}
			language, err := domain.ParseLanguage(lang)
			if err != nil {
				return err
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			reply := a.Answer.Answer(cmd.Context(), usecase.AnswerRequest{
				ConversationID: conversation,
				Utterance:      question,
				Language:       language,
				Mode:           mode,
			})
			printReply(cmd, reply)
			if !reply.Succeeded() {
				return fmt.Errorf("generation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", string(domain.LanguageRU), "answer language (ru or en)")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "chat id whose history is used as context")
	cmd.Flags().BoolVar(&digest, "digest", false, "generate the news digest instead of a reply")
	return cmd
}

func printReply(cmd *cobra.Command, reply usecase.Reply) {
	text := reply.Text
	if reply.Format == domain.FormatHTML {
		text = sanitize.PlainText(text)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, metaStyle.Render("outcome: "+string(reply.Outcome)))
	fmt.Fprintln(out, contentStyle.Render(text))
}
