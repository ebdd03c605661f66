package session

import "time"

// Config tunes the supervisor, reconnection policy and outbound gateway.
type Config struct {
	// Credits debited from the owner before a session is provisioned.
	SessionCost int64

	// Reconnection policy.
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffExpCap        int
	BackoffMax           time.Duration
	RestartDelay         time.Duration

	// Bounded wait for the QR payload or pairing code during bootstrap.
	BootstrapPollInterval time.Duration
	BootstrapPollAttempts int

	// Caps on the best-effort sync buffers.
	ContactBufferCap int
	ChatBufferCap    int
	MessageBufferCap int

	// Presence humanization before text sends.
	TypingDelayPerChar time.Duration
	TypingDelayMax     time.Duration

	// Timeout applied to chat-network round-trips made outside of a
	// caller-supplied context (reconciler and reconnect paths).
	OperationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionCost:           10,
		MaxReconnectAttempts:  8,
		BackoffBase:           time.Second,
		BackoffExpCap:         4,
		BackoffMax:            16 * time.Second,
		RestartDelay:          time.Second,
		BootstrapPollInterval: 500 * time.Millisecond,
		BootstrapPollAttempts: 20,
		ContactBufferCap:      1024,
		ChatBufferCap:         512,
		MessageBufferCap:      256,
		TypingDelayPerChar:    50 * time.Millisecond,
		TypingDelayMax:        3 * time.Second,
		OperationTimeout:      15 * time.Second,
	}
}
