package realtime

import (
	"sync"
	"sync/atomic"

	v1 "cupid/shared/contracts/watch/v1"
)

const defaultSendQueue = 64

// Client is one watch connection. The gateway's writer drains Send; publishers go
// through Offer and never block. Send is never closed, Close only signals done.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	dropped   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client whose queue holds sendQueueSize envelopes.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueue
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Offer queues env unless the client is closing or its queue is full.
func (c *Client) Offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped counts envelopes refused because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
