package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeHello, TS: now}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v0", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message_send"}, wantErr: true},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestStatusPayloadTerminal(t *testing.T) {
	t.Parallel()

	if (StatusPayload{GameStatus: "pending"}).Terminal() {
		t.Fatalf("pending must not be terminal")
	}
	if !(StatusPayload{GameStatus: "rejected"}).Terminal() {
		t.Fatalf("rejected must be terminal")
	}
}
