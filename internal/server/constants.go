// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection WebSocket command rate limiting
	RateLimitMessages = 10          // Max messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Buffered broadcast events before slow consumers drop updates
	EventBacklog = 32

	// Upper bound on requested clip duration
	MaxClipSeconds = 3600
)
