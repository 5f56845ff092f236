package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cupid/cmd/internal/accept"
	"cupid/cmd/internal/app"
	"cupid/cmd/internal/client"
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/reconcile"
	"cupid/cmd/internal/retry"

	"github.com/spf13/cobra"
)

const (
	// annotationSkipSweep marks commands that handle the pending acceptance themselves.
	annotationSkipSweep = "cupid.skip_sweep"

	startupSweepTimeout = 5 * time.Second
)

// session is what a single command invocation works with.
type session struct {
	opts   *RootOptions
	log    *slog.Logger
	client *client.Client
	cache  *localcache.Cache
	out    printer
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	level := opts.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	log := app.NewLoggerTo(cmd.ErrOrStderr(), level, app.LogFormatPretty)

	path := opts.CachePath
	if path == "" {
		p, err := defaultCachePath()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "cache path", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, WrapExitError(ExitCommandError, "create cache dir", err)
	}
	store, err := localcache.OpenSQLite(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open cache", err)
	}

	c, err := client.New(opts.APIURL)
	if err != nil {
		_ = store.Close()
		return nil, WrapExitError(ExitCommandError, "api url", err)
	}

	log.Debug("cli.session.open", "cache", path, "api_url", opts.APIURL)
	return &session{
		opts:   opts,
		log:    log,
		client: c,
		cache:  localcache.New(store, nil),
		out:    printer{format: opts.Format, w: cmd.OutOrStdout()},
	}, nil
}

func (s *session) Close() {
	if err := s.cache.Close(); err != nil {
		s.log.Warn("cli.cache.close.fail", "err", err)
	}
}

// engine builds a reconciliation engine. A non-zero poll overrides the default schedule.
func (s *session) engine(poll retry.Policy) (*reconcile.Engine, error) {
	e, err := reconcile.New(reconcile.Config{
		AppURL:     s.opts.AppURL,
		SupportURL: s.opts.SupportURL,
		Poll:       poll,
	}, s.client, s.cache,
		reconcile.WithLogger(s.log),
		reconcile.WithTransitionObserver(func(from, to reconcile.State) {
			s.log.Info("cli.state", "from", from, "to", to)
		}),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "engine", err)
	}
	return e, nil
}

func (s *session) submitter() (*accept.Submitter, error) {
	sub, err := accept.New(s.cache, s.client, accept.WithLogger(s.log))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "submitter", err)
	}
	return sub, nil
}

// sweepPending retries an acceptance left pending by an earlier run. It makes one
// attempt under a short deadline and never fails the command; the marker stays for
// the next run when the server cannot confirm.
func (s *session) sweepPending(ctx context.Context) {
	if _, ok, err := s.cache.PendingAccept(ctx); err != nil || !ok {
		if err != nil {
			s.log.Warn("cli.sweep.load.fail", "err", err)
		}
		return
	}

	sub, err := accept.New(s.cache, s.client,
		accept.WithLogger(s.log),
		accept.WithPolicy(retry.Policy{MaxAttempts: 1}),
	)
	if err != nil {
		s.log.Warn("cli.sweep.fail", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, startupSweepTimeout)
	defer cancel()

	res, err := sub.Sweep(ctx)
	switch {
	case errors.Is(err, accept.ErrNothingPending):
	case err != nil:
		s.log.Info("cli.sweep.offline", "invitation_id", res.ID, "err", err)
	case res.Confirmed:
		s.log.Info("cli.sweep.synced", "invitation_id", res.ID, "via", res.Via)
	default:
		s.log.Warn("cli.sweep.pending", "invitation_id", res.ID, "err", res.Err)
	}
}

// withSession opens a session for the duration of run. Unless the command opts out,
// a pending acceptance from an earlier run is swept first.
func withSession(opts *RootOptions, run func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, opts)
		if err != nil {
			return err
		}
		defer s.Close()
		if cmd.Annotations[annotationSkipSweep] == "" {
			s.sweepPending(cmd.Context())
		}
		return run(cmd, s, args)
	}
}
