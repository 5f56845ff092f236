package recovery

import (
	"fmt"
	"net/url"
	"strings"
)

// ReturnParams is what the device reads back from a payment redirect.
type ReturnParams struct {
	Success   bool
	Canceled  bool
	ID        string
	State     string
	SessionID string
}

// HasReference reports whether the redirect identified an invitation at all.
func (p ReturnParams) HasReference() bool { return p.ID != "" || p.State != "" }

// ReturnURL builds the success return URL: base?success=true&id=<id>&state=<token>.
func ReturnURL(base string, p Payload) (string, error) {
	token, err := Encode(p)
	if err != nil {
		return "", err
	}
	return withQuery(base, map[string]string{
		ParamSuccess: "true",
		ParamID:      p.ID,
		ParamState:   token,
	})
}

// CancelURL builds the return URL used when the sender abandons checkout.
func CancelURL(base string) (string, error) {
	return withQuery(base, map[string]string{ParamCanceled: "true"})
}

// ParseReturn extracts ReturnParams from a full return URL or a bare query string.
func ParseReturn(raw string) (ReturnParams, error) {
	raw = strings.TrimSpace(raw)
	var q url.Values
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ReturnParams{}, fmt.Errorf("parse return url: %w", err)
		}
		q = u.Query()
	} else {
		v, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
		if err != nil {
			return ReturnParams{}, fmt.Errorf("parse return query: %w", err)
		}
		q = v
	}

	return ReturnParams{
		Success:   truthy(q.Get(ParamSuccess)),
		Canceled:  truthy(q.Get(ParamCanceled)),
		ID:        strings.ToLower(strings.TrimSpace(q.Get(ParamID))),
		State:     strings.TrimSpace(q.Get(ParamState)),
		SessionID: strings.TrimSpace(q.Get(ParamSessionID)),
	}, nil
}

func withQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("base url must be absolute: %q", base)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
