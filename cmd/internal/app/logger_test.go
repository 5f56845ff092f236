package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerTo_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	NewLoggerTo(&jsonBuf, "info", "json").Info("payment.webhook.duplicate", "invitation_id", "abc")
	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not decodable: %v (%q)", err, jsonBuf.String())
	}
	if rec["msg"] != "payment.webhook.duplicate" || rec["invitation_id"] != "abc" {
		t.Fatalf("unexpected json record: %v", rec)
	}

	var prettyBuf bytes.Buffer
	NewLoggerTo(&prettyBuf, "warn", "pretty").Info("dropped")
	if prettyBuf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level")
	}
	NewLoggerTo(&prettyBuf, "warn", "pretty").Warn("kept", "status", 503)
	out := prettyBuf.String()
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "msg=kept") || !strings.Contains(out, "status=503") {
		t.Fatalf("unexpected pretty output: %q", out)
	}
}
