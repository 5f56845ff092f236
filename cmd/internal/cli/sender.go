package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/reconcile"
	"cupid/cmd/internal/recovery"
	"cupid/cmd/internal/retry"

	"github.com/spf13/cobra"
)

// singleRead resolves with one live read and no waiting.
var singleRead = retry.Policy{MaxAttempts: 1}

// NewCreateCommand creates an invitation and opens checkout.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	var d localcache.Draft

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an invitation and open checkout",
		Long: `Create an invitation and open hosted checkout for it.

Missing flags are filled from the saved draft (see "cupidctl draft set").

Example:
  cupidctl create --sender Alex --recipient Sarah --plan spy`,
		Args: cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			ctx := cmd.Context()
			if saved, ok, err := s.cache.Draft(ctx); err == nil && ok {
				d = mergeDraft(d, saved)
			}
			if d.Plan == "" {
				d.Plan = string(invitation.PlanBasic)
			}

			e, err := s.engine(retry.Policy{})
			if err != nil {
				return err
			}
			defer e.Close()

			co, err := e.Submit(ctx, d)
			if err != nil {
				return WrapExitError(ExitCommandError, "create invitation", err)
			}
			return s.out.emit(co, func(w io.Writer) {
				fmt.Fprintln(w, "Invitation created. Complete payment at:")
				fmt.Fprintf(w, "  %s\n\n", co.URL)
				fmt.Fprintf(w, "  %-14s %s\n", "invitation:", co.ID)
				fmt.Fprintf(w, "  %-14s %s\n", "dashboard:", co.Links.Dashboard)
				fmt.Fprintln(w, "\nAfter paying, run: cupidctl return '<return url>'")
			})
		}),
	}

	cmd.Flags().StringVar(&d.Sender, "sender", "", "your name")
	cmd.Flags().StringVar(&d.RecipientName, "recipient", "", "recipient name")
	cmd.Flags().StringVar(&d.Plan, "plan", "", "basic or spy")
	return cmd
}

// NewReturnCommand reconciles a payment return URL.
func NewReturnCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "return <url>",
		Short: "Reconcile a payment return URL",
		Long: `Reconcile the URL checkout redirected to.

Polls the server until the payment is confirmed. If it takes too long the
flow is saved; pick it up later with "cupidctl recheck" or "cupidctl resume".`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, args []string) error {
			rp, err := recovery.ParseReturn(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "return url", err)
			}
			e, err := s.engine(retry.Policy{})
			if err != nil {
				return err
			}
			defer e.Close()

			out, err := e.Resume(cmd.Context(), rp)
			if err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitCommandError, "reconcile", err)
			}
			return s.settle(cmd.Context(), e, out)
		}),
	}
}

// NewDeferCommand saves a payment return for later without waiting on it.
func NewDeferCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "defer <url>",
		Short: "Save a payment return to check later",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, args []string) error {
			rp, err := recovery.ParseReturn(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "return url", err)
			}
			e, err := s.engine(singleRead)
			if err != nil {
				return err
			}
			defer e.Close()

			out, err := e.Resume(cmd.Context(), rp)
			if err != nil {
				return WrapExitError(ExitCommandError, "reconcile", err)
			}
			return s.settle(cmd.Context(), e, out)
		}),
	}
}

// NewRecheckCommand performs one live read of the saved flow.
func NewRecheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recheck",
		Short: "Check the saved payment once",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			return s.resumeDeferred(cmd.Context(), singleRead)
		}),
	}
}

// NewResumeCommand resumes the saved flow with the full polling schedule.
func NewResumeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume verifying the saved payment",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			return s.resumeDeferred(cmd.Context(), retry.Policy{})
		}),
	}
}

func (s *session) resumeDeferred(ctx context.Context, poll retry.Policy) error {
	e, err := s.engine(poll)
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := e.ResumeDeferred(ctx)
	switch {
	case errors.Is(err, reconcile.ErrNothingDeferred):
		return WrapExitError(ExitCommandError, "nothing to resume", err)
	case err != nil && !errors.Is(err, context.Canceled):
		return WrapExitError(ExitCommandError, "reconcile", err)
	}
	if out.State != reconcile.StateSuccess {
		if err := s.out.emit(out, func(w io.Writer) { writeOutcome(w, out) }); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: "payment not confirmed yet"}
	}
	return s.out.emit(out, func(w io.Writer) { writeOutcome(w, out) })
}

// settle prints the outcome and saves an unresolved flow for a later resume.
func (s *session) settle(ctx context.Context, e *reconcile.Engine, out reconcile.Outcome) error {
	unresolved := out.State == reconcile.StateVerifying || out.State == reconcile.StateVerifyingLong
	if unresolved {
		if err := e.Defer(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("cli.defer.fail", "invitation_id", out.ID, "err", err)
		}
	}
	if err := s.out.emit(out, func(w io.Writer) {
		writeOutcome(w, out)
		if unresolved {
			fmt.Fprintln(w, "\nSaved. Run \"cupidctl recheck\" or \"cupidctl resume\" later.")
		}
	}); err != nil {
		return err
	}
	if unresolved {
		return &ExitError{Code: ExitFailure, Message: "payment not confirmed yet"}
	}
	return nil
}

func mergeDraft(flags, saved localcache.Draft) localcache.Draft {
	if flags.Sender == "" {
		flags.Sender = saved.Sender
	}
	if flags.RecipientName == "" {
		flags.RecipientName = saved.RecipientName
	}
	if flags.Plan == "" {
		flags.Plan = saved.Plan
	}
	return flags
}
