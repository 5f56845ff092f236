package invitation

import (
	"errors"
	"strings"
	"testing"
)

const (
	testID    = "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"
	testToken = "Zm9vYmFyYmF6cXV4cXV1eGNvcmdlZ3JhdWx0Z2FycGx5"
)

func TestDraftNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      Draft
		wantErr bool
	}{
		{name: "ok", in: Draft{ID: testID, AdminToken: testToken, Sender: " Alex ", RecipientName: "Sarah", Plan: "basic"}},
		{name: "premium alias", in: Draft{ID: strings.ToUpper(testID), AdminToken: testToken, Sender: "Alex", RecipientName: "Sarah", Plan: "premium"}},
		{name: "bad id", in: Draft{ID: "nope", AdminToken: testToken, Sender: "Alex", RecipientName: "Sarah", Plan: "basic"}, wantErr: true},
		{name: "short token", in: Draft{ID: testID, AdminToken: "short", Sender: "Alex", RecipientName: "Sarah", Plan: "basic"}, wantErr: true},
		{name: "token charset", in: Draft{ID: testID, AdminToken: strings.Repeat("a", 40) + "/+", Sender: "Alex", RecipientName: "Sarah", Plan: "basic"}, wantErr: true},
		{name: "empty sender", in: Draft{ID: testID, AdminToken: testToken, Sender: "  ", RecipientName: "Sarah", Plan: "basic"}, wantErr: true},
		{name: "long recipient", in: Draft{ID: testID, AdminToken: testToken, Sender: "Alex", RecipientName: strings.Repeat("é", 61), Plan: "basic"}, wantErr: true},
		{name: "unknown plan", in: Draft{ID: testID, AdminToken: testToken, Sender: "Alex", RecipientName: "Sarah", Plan: "gold"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.in.Normalize()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got.ID != testID {
				t.Fatalf("expected lower-cased id, got %q", got.ID)
			}
			if got.Sender != strings.TrimSpace(got.Sender) {
				t.Fatalf("expected trimmed sender, got %q", got.Sender)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want GameStatus
	}{
		{in: "yes", want: GameAccepted},
		{in: "ACCEPTED", want: GameAccepted},
		{in: "no", want: GameRejected},
		{in: "rejected", want: GameRejected},
	}
	for _, tc := range cases {
		v, err := ParseVerdict(tc.in)
		if err != nil {
			t.Fatalf("ParseVerdict(%q): %v", tc.in, err)
		}
		if v.Outcome() != tc.want {
			t.Fatalf("ParseVerdict(%q).Outcome()=%q want=%q", tc.in, v.Outcome(), tc.want)
		}
	}
	if _, err := ParseVerdict("maybe"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGameStatusTerminal(t *testing.T) {
	t.Parallel()

	if GamePending.Terminal() {
		t.Fatalf("pending must not be terminal")
	}
	if !GameAccepted.Terminal() || !GameRejected.Terminal() {
		t.Fatalf("accepted/rejected must be terminal")
	}
}
