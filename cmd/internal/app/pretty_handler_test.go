package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
	if n := visualLen(in); n != len(want) {
		t.Fatalf("visualLen()=%d want=%d", n, len(want))
	}
}

func TestPrettyHandler_RemapsAndQuotes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.WithGroup("req").Info("http.request",
		"status_class", "2xx",
		"duration_ms", int64(12),
		"note", "two words",
	)

	out := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"req.class=2xx",
		"req.duration=12ms",
		`req.note="two words"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colors must be off: %q", out)
	}
}

func TestPrettyHandler_ColorizesStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("http.request", "status", 503, "method", "post")

	out := buf.String()
	if !strings.Contains(out, ansiRed+"503"+ansiReset) {
		t.Fatalf("expected red 503 in %q", out)
	}
	if !strings.Contains(stripANSI(out), "method=POST") {
		t.Fatalf("expected upper-cased method in %q", stripANSI(out))
	}
}

func TestPrettyHandler_InvitationVocabulary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).With("invitation_id", "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90")
	log.WithGroup("webhook").Info("payment.webhook.confirmed",
		"event_id", "evt_1",
		"admin_token", "x8X23OHBq1kL0mZ",
		"payment_status", "paid",
	)

	out := buf.String()
	for _, want := range []string{
		"inv=3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90",
		"webhook.evt=evt_1",
		"webhook.admin_token=x8X2***",
		"webhook.payment_status=paid",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "x8X23OHBq1kL0mZ") {
		t.Fatalf("admin token leaked: %q", out)
	}
}

func TestPrettyHandler_ColorizesLifecycle(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("cli.state", "from", "verifying", "to", "success")

	out := buf.String()
	if !strings.Contains(out, ansiYellow+"verifying"+ansiReset) || !strings.Contains(out, ansiGreen+"success"+ansiReset) {
		t.Fatalf("expected state colors in %q", out)
	}
}
