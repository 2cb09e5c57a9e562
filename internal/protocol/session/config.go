package session

import "time"

const (
	// DefaultRetryTimeout is the fixed interval after which an unacknowledged
	// message is retransmitted.
	DefaultRetryTimeout     = 5 * time.Second
	DefaultHandshakeRetries = 3
	DefaultCloseRetries     = 2
)

// BackoffConfig defines delays between redial attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session reliability settings.
type Config struct {
	// User is written into the header of every outbound message.
	User         string
	RetryTimeout time.Duration
	// MaxRetries caps retransmissions of one DATA message; 0 retries forever.
	MaxRetries       int
	HandshakeRetries int
	CloseRetries     int
	Backoff          BackoffConfig
}

// DefaultConfig returns protocol defaults: 5s retry timeout, unbounded DATA
// retries.
func DefaultConfig() Config {
	return Config{
		RetryTimeout:     DefaultRetryTimeout,
		MaxRetries:       0,
		HandshakeRetries: DefaultHandshakeRetries,
		CloseRetries:     DefaultCloseRetries,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = def.RetryTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.HandshakeRetries <= 0 {
		c.HandshakeRetries = def.HandshakeRetries
	}
	if c.CloseRetries <= 0 {
		c.CloseRetries = def.CloseRetries
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
