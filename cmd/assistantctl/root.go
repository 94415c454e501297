package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relocation-assistant/internal/app"
	"relocation-assistant/internal/config"
	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/integrations/paramstore"
)

// appFactory assembles the assistant for one command run.
type appFactory func(ctx context.Context, cfg config.Config, log *zap.Logger) (*app.App, error)

type cli struct {
	getenv  func(string) string
	build   appFactory
	verbose bool
}

func newRootCmd(getenv func(string) string, build appFactory) *cobra.Command {
	c := &cli{getenv: getenv, build: build}

	root := &cobra.Command{
		Use:   "assistantctl",
		Short: "Operate the relocation assistant's stores and models",
		Long: `assistantctl reads the same environment as the webhook (STORE_DRIVER,
STATE_TABLE, SQLITE_PATH, PARAM_PREFIX, ...) and works on the same stores.

Set OPENAI_API_KEY and TELEGRAM_BOT_TOKEN to bypass the SSM parameter store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		c.askCmd(),
		c.digestCmd(),
		c.profileCmd(),
		c.transcriptCmd(),
	)
	return root
}

// open parses the environment and assembles the assistant. The caller
// closes the returned App.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.FromEnv(c.getenv)
	if err != nil {
		return nil, err
	}
	// The terminal has no chat to show a typing indicator in.
	cfg.TypingInterval = 0

	log := zap.NewNop()
	if c.verbose {
		if log, err = app.NewLogger("debug"); err != nil {
			return nil, err
		}
	}
	return c.build(ctx, cfg, log)
}

func buildApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app.App, error) {
	var opts []app.Option
	if tokens := envTokens(cfg.ParamPrefix, os.Getenv); tokens != nil {
		opts = append(opts, app.WithTokenSource(tokens))
	}
	return app.New(ctx, cfg, log, opts...)
}

// envTokens returns the API tokens set in the environment, or nil when
// none are, so that SSM is used.
func envTokens(prefix string, getenv func(string) string) paramstore.TokenSource {
	tokens := paramstore.StaticTokens{}
	if v := strings.TrimSpace(getenv("OPENAI_API_KEY")); v != "" {
		tokens[prefix+"/open-ai-token"] = v
	}
	if v := strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		tokens[prefix+"/telegram-token"] = v
	}
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

func parseLanguages(values []string) ([]domain.Language, error) {
	var out []domain.Language
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			lang, err := domain.ParseLanguage(part)
			if err != nil {
				return nil, err
			}
			out = append(out, lang)
		}
	}
	return out, nil
}
