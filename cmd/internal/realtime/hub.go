package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"cupid/cmd/internal/invitation"
	v1 "cupid/shared/contracts/watch/v1"
)

// Hub owns the per-invitation topics and turns invitation changes into status envelopes.
// It implements invitation.Notifier; Publish never blocks.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		topics: make(map[string]*Topic),
	}
}

// Subscribe attaches a client to the invitation's topic.
func (h *Hub) Subscribe(invitationID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[invitationID]
	if !ok {
		t = NewTopic(h.log, invitationID)
		h.topics[invitationID] = t
	}
	t.Subscribe(client)
}

// Unsubscribe detaches a client and drops the topic once it is empty.
func (h *Hub) Unsubscribe(invitationID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[invitationID]
	if !ok {
		return
	}
	if t.Unsubscribe(sessionID) == 0 {
		delete(h.topics, invitationID)
	}
}

// Subscribers returns the number of clients watching an invitation.
func (h *Hub) Subscribers(invitationID string) int {
	h.mu.RLock()
	t := h.topics[invitationID]
	h.mu.RUnlock()
	return t.Len()
}

// Publish implements invitation.Notifier.
func (h *Hub) Publish(c invitation.Change) {
	if h == nil {
		return
	}

	h.mu.RLock()
	t := h.topics[c.Invitation.ID]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	payload := statusPayload(c.Invitation)
	payload.Field = c.Field
	env, err := newEnvelope(v1.TypeStatus, payload, c.At)
	if err != nil {
		h.log.Error("watch.publish.encode.fail", "invitation_id", c.Invitation.ID, "err", err)
		return
	}
	if dropped := t.Broadcast(env); dropped > 0 {
		h.log.Warn("watch.publish.dropped", "invitation_id", c.Invitation.ID, "dropped", dropped)
	}
}

func statusPayload(inv invitation.Invitation) v1.StatusPayload {
	return v1.StatusPayload{
		InvitationID:  inv.ID,
		PaymentStatus: string(inv.PaymentStatus),
		GameStatus:    string(inv.GameStatus),
		Attempts:      inv.Attempts,
		ViewedAt:      inv.ViewedAt,
		AnsweredAt:    inv.AnsweredAt,
	}
}

func snapshotPayload(view invitation.PrivilegedView) v1.StatusPayload {
	return v1.StatusPayload{
		InvitationID:  view.ID,
		PaymentStatus: string(view.PaymentStatus),
		GameStatus:    string(view.GameStatus),
		Attempts:      view.Attempts,
		ViewedAt:      view.ViewedAt,
		AnsweredAt:    view.AnsweredAt,
	}
}

func newEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: b,
	}, nil
}
