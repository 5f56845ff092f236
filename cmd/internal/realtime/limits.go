package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit). Inbound frames are tiny.
	maxFrameBytes = 4 << 10 // 4 KiB

	// Heartbeat defaults.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (inbound frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second

	// A socket that never subscribes is closed after this long.
	helloTimeout = 10 * time.Second
)
