package realtime

import (
	"log/slog"
	"sync"

	v1 "cupid/shared/contracts/watch/v1"
)

// Topic is the subscriber set for one invitation.
//
// Subscribe/Unsubscribe are safe under concurrent Broadcast, and Broadcast never
// blocks: a full or closing subscriber queue drops the envelope.
type Topic struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewTopic constructs a topic.
func NewTopic(log *slog.Logger, id string) *Topic {
	return &Topic{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Subscribe adds a client.
func (t *Topic) Subscribe(client *Client) {
	if t == nil || client == nil || client.SessionID == "" {
		return
	}

	t.mu.Lock()
	t.members[client.SessionID] = client
	t.mu.Unlock()

	t.log.Debug("watch.subscribe", "invitation_id", t.ID, "session_id", client.SessionID)
}

// Unsubscribe removes a client and reports how many subscribers remain.
func (t *Topic) Unsubscribe(sessionID string) int {
	if t == nil || sessionID == "" {
		return 0
	}

	t.mu.Lock()
	delete(t.members, sessionID)
	n := len(t.members)
	t.mu.Unlock()

	t.log.Debug("watch.unsubscribe", "invitation_id", t.ID, "session_id", sessionID)
	return n
}

// Len returns the current subscriber count.
func (t *Topic) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Broadcast fans an envelope out to every subscriber and returns how many were dropped.
func (t *Topic) Broadcast(env v1.Envelope) int {
	if t == nil {
		return 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	dropped := 0
	for _, m := range t.members {
		if m != nil && !m.Offer(env) {
			dropped++
		}
	}
	return dropped
}
