package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cupid/cmd/internal/reconcile"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // unresolved outcome: still verifying, not confirmed
	ExitCommandError = 2 // bad input, unreachable server, cache failure
)

// ExitError carries a process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the exit code from an error returned by a command.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return ExitCommandError
}

// Response is the JSON output envelope.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// printer renders a command result as text or as a JSON envelope.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) emit(data any, text func(w io.Writer)) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(Response{Status: "ok", Data: data})
	}
	text(p.w)
	return nil
}

func writeOutcome(w io.Writer, o reconcile.Outcome) {
	switch o.State {
	case reconcile.StateSuccess:
		if o.Heuristic {
			fmt.Fprintln(w, "Payment confirmed for your most recent invitation.")
		} else {
			fmt.Fprintln(w, "Payment confirmed.")
		}
	case reconcile.StateVerifyingLong:
		fmt.Fprintln(w, "Payment not confirmed yet. It can take a few minutes.")
	case reconcile.StateIdle:
		fmt.Fprintln(w, "Checkout canceled.")
	default:
		fmt.Fprintf(w, "State: %s\n", o.State)
	}

	kv := func(k, v string) {
		if v != "" {
			fmt.Fprintf(w, "  %-14s %s\n", k+":", v)
		}
	}
	kv("invitation", o.ID)
	if o.Sender != "" || o.RecipientName != "" {
		kv("from/to", strings.TrimSpace(o.Sender+" -> "+o.RecipientName))
	}
	kv("plan", string(o.Plan))
	kv("answer", string(o.GameStatus))
	kv("share link", o.Links.Recipient)
	kv("dashboard", o.Links.Dashboard)
	if o.State != reconcile.StateSuccess {
		kv("support", o.Links.Support)
	}
	kv("last error", o.LastError)
	if o.Draft != nil {
		fmt.Fprintf(w, "  draft restored: %s -> %s (%s)\n", o.Draft.Sender, o.Draft.RecipientName, o.Draft.Plan)
	}
	if o.ShareText != "" {
		fmt.Fprintf(w, "\n%s\n", o.ShareText)
	}
}
