// Package cli is the cupidctl command tree: the sender and recipient device flows
// driven from a terminal against a running cupid server.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cupid/cmd/internal/app"

	"github.com/spf13/cobra"
)

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// Config is the cupidctl environment.
type Config struct {
	APIURL     string `env:"CUPIDCTL_API_URL" envDefault:"http://localhost:8080"`
	AppURL     string `env:"CUPIDCTL_APP_URL" envDefault:"http://localhost:8080"`
	SupportURL string `env:"CUPIDCTL_SUPPORT_URL"`
	CachePath  string `env:"CUPIDCTL_CACHE_PATH"`
	LogLevel   string `env:"CUPIDCTL_LOG_LEVEL" envDefault:"warn"`
}

// RootOptions holds the global flags, layered over Config.
type RootOptions struct {
	Config
	Format  string
	Verbose bool

	envErr error
}

// NewRootCommand builds the cupidctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cupidctl",
		Short: "Create, pay for, answer and follow cupid invitations",
		Long: `cupidctl drives the cupid device flows from a terminal.

Sender: create opens checkout, return reconciles the payment return URL,
recheck/resume pick up a verification that ran long, status follows the answer.
Recipient: view shows an invitation, accept answers it durably, sweep
retries an acceptance that did not reach the server.

Local state (history, drafts, pending acceptance) lives in a SQLite file,
CUPIDCTL_CACHE_PATH or the user config directory by default.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.envErr != nil {
				return opts.envErr
			}
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	var cfg Config
	opts.envErr = app.ParseEnv(&cfg)
	opts.Config = cfg

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")
	pf.StringVar(&opts.APIURL, "api-url", cfg.APIURL, "cupid server base URL")
	pf.StringVar(&opts.AppURL, "app-url", cfg.AppURL, "public app base URL used in links and return URLs")
	pf.StringVar(&opts.SupportURL, "support-url", cfg.SupportURL, "support contact URL")
	pf.StringVar(&opts.CachePath, "cache", cfg.CachePath, "path to the local SQLite cache")

	cmd.AddCommand(
		NewCreateCommand(opts),
		NewReturnCommand(opts),
		NewRecheckCommand(opts),
		NewDeferCommand(opts),
		NewResumeCommand(opts),
		NewAcceptCommand(opts),
		NewSweepCommand(opts),
		NewViewCommand(opts),
		NewStatusCommand(opts),
		NewHistoryCommand(opts),
		NewDraftCommand(opts),
	)
	return cmd
}

func defaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "cupid", "cache.db"), nil
}
