package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"cupid/cmd/internal/client"
	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/retry"
	v1 "cupid/shared/contracts/watch/v1"

	"github.com/spf13/cobra"
)

// NewStatusCommand reads the sender dashboard of an invitation.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var (
		token  string
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the sender dashboard of an invitation",
		Long: `Show payment and answer status, attempts and activity of an invitation.

The admin token is taken from local history unless --token is given.
--follow streams changes until the recipient answers, falling back to
polling when the live connection is unavailable.`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, args []string) error {
			ctx := cmd.Context()
			id := strings.ToLower(strings.TrimSpace(args[0]))

			given := token != ""
			if !given {
				entry, ok, err := s.cache.FindHistory(ctx, id)
				if err != nil {
					return WrapExitError(ExitCommandError, "read history", err)
				}
				if !ok || entry.AdminToken == "" {
					return WrapExitError(ExitCommandError, "no admin token for "+id, errors.New("pass --token"))
				}
				token = entry.AdminToken
			}

			// A token passed on the command line is stored only once the record accepts it.
			var remember func(invitation.PrivilegedView)
			if given {
				var once sync.Once
				remember = func(v invitation.PrivilegedView) {
					once.Do(func() { s.rememberToken(ctx, v, token) })
				}
			} else {
				remember = func(invitation.PrivilegedView) {}
			}

			if !follow {
				view, err := s.client.GetPrivileged(ctx, id, token)
				if err != nil {
					return WrapExitError(ExitCommandError, "read invitation", err)
				}
				remember(view)
				return s.out.emit(view, func(w io.Writer) { writeDashboard(w, view) })
			}
			return s.follow(ctx, id, token, remember)
		}),
	}

	cmd.Flags().StringVar(&token, "token", "", "admin token (default: from local history)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream changes until answered")
	return cmd
}

func (s *session) rememberToken(ctx context.Context, v invitation.PrivilegedView, token string) {
	err := s.cache.ConfirmHistory(ctx, localcache.Entry{
		ID:            v.ID,
		AdminToken:    token,
		Sender:        v.Sender,
		RecipientName: v.RecipientName,
		Plan:          string(v.Plan),
	})
	if err != nil {
		s.log.Warn("cli.history.confirm.fail", "invitation_id", v.ID, "err", err)
	}
}

func (s *session) follow(ctx context.Context, id, token string, remember func(invitation.PrivilegedView)) error {
	err := s.client.Watch(ctx, id, token, func(typ string, p v1.StatusPayload) bool {
		remember(invitation.PrivilegedView{PublicView: invitation.PublicView{ID: id}})
		_ = s.out.emit(p, func(w io.Writer) {
			fmt.Fprintf(w, "[%s] payment=%s answer=%s attempts=%d\n", typ, p.PaymentStatus, p.GameStatus, p.Attempts)
		})
		return !p.Terminal()
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, client.ErrNotFound):
		return WrapExitError(ExitCommandError, "invitation not found", err)
	}

	var werr *client.WatchError
	if errors.As(err, &werr) {
		return WrapExitError(ExitCommandError, "watch", err)
	}
	s.log.Warn("cli.watch.unavailable", "invitation_id", id, "err", err)

	e, eerr := s.engine(retry.Policy{})
	if eerr != nil {
		return eerr
	}
	defer e.Close()

	_, err = e.TrackAnswer(ctx, id, func(v invitation.PrivilegedView) {
		remember(v)
		_ = s.out.emit(v, func(w io.Writer) {
			fmt.Fprintf(w, "[poll] payment=%s answer=%s attempts=%d\n", v.PaymentStatus, v.GameStatus, v.Attempts)
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "track answer", err)
	}
	return nil
}

func writeDashboard(w io.Writer, v invitation.PrivilegedView) {
	fmt.Fprintf(w, "%s -> %s (%s)\n", v.Sender, v.RecipientName, v.Plan)
	fmt.Fprintf(w, "  %-10s %s\n", "payment:", v.PaymentStatus)
	fmt.Fprintf(w, "  %-10s %s\n", "answer:", v.GameStatus)
	fmt.Fprintf(w, "  %-10s %d\n", "attempts:", v.Attempts)
	if v.ViewedAt != nil {
		fmt.Fprintf(w, "  %-10s %s\n", "viewed:", v.ViewedAt.Format("2006-01-02 15:04"))
	}
	for _, a := range v.Activity {
		fmt.Fprintf(w, "  - %s %s\n", a.At.Format("2006-01-02 15:04:05"), a.Kind)
	}
}

// NewHistoryCommand lists the invitations created on this device.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List invitations created on this device",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			doc, err := s.cache.Load(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read history", err)
			}
			return s.out.emit(doc.History, func(w io.Writer) {
				if len(doc.History) == 0 {
					fmt.Fprintln(w, "No invitations yet.")
					return
				}
				for _, e := range doc.History {
					mark := " "
					if doc.Unlocked[e.ID] {
						mark = "*"
					}
					fmt.Fprintf(w, "%s %s  %s -> %s (%s)\n", mark, e.ID, e.Sender, e.RecipientName, e.Plan)
				}
			})
		}),
	}
}

// NewDraftCommand manages the saved creation form.
func NewDraftCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Manage the saved invitation draft",
	}

	var d localcache.Draft
	set := &cobra.Command{
		Use:   "set",
		Short: "Save draft fields",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			ctx := cmd.Context()
			if saved, ok, err := s.cache.Draft(ctx); err == nil && ok {
				d = mergeDraft(d, saved)
			}
			if err := s.cache.SaveDraft(ctx, d); err != nil {
				return WrapExitError(ExitCommandError, "save draft", err)
			}
			return s.out.emit(d, func(w io.Writer) { fmt.Fprintln(w, "Draft saved.") })
		}),
	}
	set.Flags().StringVar(&d.Sender, "sender", "", "your name")
	set.Flags().StringVar(&d.RecipientName, "recipient", "", "recipient name")
	set.Flags().StringVar(&d.Plan, "plan", "", "basic or spy")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the saved draft",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			saved, ok, err := s.cache.Draft(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read draft", err)
			}
			return s.out.emit(saved, func(w io.Writer) {
				if !ok {
					fmt.Fprintln(w, "No draft.")
					return
				}
				fmt.Fprintf(w, "%s -> %s (%s)\n", saved.Sender, saved.RecipientName, saved.Plan)
			})
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard the saved draft",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, s *session, _ []string) error {
			if err := s.cache.ClearDraft(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "clear draft", err)
			}
			return s.out.emit(struct{}{}, func(w io.Writer) { fmt.Fprintln(w, "Draft cleared.") })
		}),
	}

	cmd.AddCommand(set, show, clearCmd)
	return cmd
}
