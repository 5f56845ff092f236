package cli

import (
	"errors"
	"fmt"
	"io"

	"cupid/cmd/internal/accept"
	"cupid/cmd/internal/client"
	"cupid/cmd/internal/invitation"

	"github.com/spf13/cobra"
)

// NewViewCommand shows a paid invitation to its recipient and records the view.
func NewViewCommand(opts *RootOptions) *cobra.Command {
	var dodges int

	cmd := &cobra.Command{
		Use:   "view <id>",
		Short: "Open an invitation as its recipient",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, args []string) error {
			ctx := cmd.Context()
			view, err := s.client.GetPublic(ctx, args[0])
			if errors.Is(err, client.ErrNotFound) {
				return WrapExitError(ExitCommandError, "invitation not found", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "read invitation", err)
			}

			if _, err := s.client.MarkViewed(ctx, view.ID); err != nil {
				s.log.Warn("cli.view.mark.fail", "invitation_id", view.ID, "err", err)
			}
			for i := 0; i < dodges; i++ {
				if _, err := s.client.RecordAttempt(ctx, view.ID); err != nil {
					s.log.Warn("cli.view.attempt.fail", "invitation_id", view.ID, "err", err)
					break
				}
			}

			return s.out.emit(view, func(w io.Writer) {
				fmt.Fprintf(w, "%s, %s has a question for you.\n", view.RecipientName, view.Sender)
				switch view.GameStatus {
				case invitation.GameAccepted:
					fmt.Fprintln(w, "You already said yes.")
				case invitation.GameRejected:
					fmt.Fprintln(w, "You already answered.")
				default:
					fmt.Fprintf(w, "Answer with: cupidctl accept %s\n", view.ID)
				}
			})
		}),
	}

	cmd.Flags().IntVar(&dodges, "dodge", 0, "record this many dodged \"no\" clicks")
	return cmd
}

// NewAcceptCommand answers yes. The answer is saved locally first and synced with retries.
func NewAcceptCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "accept <id>",
		Short:       "Say yes to an invitation",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationSkipSweep: "true"},
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, args []string) error {
			sub, err := s.submitter()
			if err != nil {
				return err
			}
			res, err := sub.Accept(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "accept", err)
			}
			return s.out.emit(res, func(w io.Writer) {
				fmt.Fprintln(w, "Yes! Accepted.")
				if !res.Confirmed {
					fmt.Fprintln(w, "Not synced yet; it will be retried the next time cupidctl runs.")
				}
			})
		}),
	}
}

// NewSweepCommand retries an acceptance left pending by an earlier run.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "sweep",
		Short:       "Retry a pending acceptance",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipSweep: "true"},
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			sub, err := s.submitter()
			if err != nil {
				return err
			}
			res, err := sub.Sweep(cmd.Context())
			if errors.Is(err, accept.ErrNothingPending) {
				return s.out.emit(res, func(w io.Writer) { fmt.Fprintln(w, "Nothing pending.") })
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "server unreachable, acceptance still pending", err)
			}
			if !res.Confirmed {
				_ = s.out.emit(res, func(w io.Writer) { fmt.Fprintln(w, "Still pending.") })
				return &ExitError{Code: ExitFailure, Message: "acceptance not confirmed", Err: res.Err}
			}
			return s.out.emit(res, func(w io.Writer) { fmt.Fprintf(w, "Synced acceptance of %s.\n", res.ID) })
		}),
	}
}
