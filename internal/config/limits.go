package config

import "time"

// Connection limits and protocol defaults
const (
	// Outbound rate limiting
	MaxMessagesPerWindow = 5
	RateLimitWindow      = time.Second

	// Reconnect protocol
	MaxReconnectAttempts = 5
	BackoffBase          = 500 * time.Millisecond
	BackoffMax           = 8 * time.Second

	// A socket that stays up this long counts as healthy even if the server
	// has not spoken yet
	StableAfter = 10 * time.Second

	// Timeouts
	DialTimeout  = 10 * time.Second
	WriteTimeout = 5 * time.Second
	PingInterval = 20 * time.Second
	HTTPTimeout  = 15 * time.Second

	// Frames larger than this are a protocol violation
	MaxFrameBytes = 64 << 10

	// Channel buffers
	OutboxSize       = 64
	SubscriberBuffer = 64
	RoomInboxSize    = 64
)
