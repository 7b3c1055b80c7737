package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/perfctl/internal/protocol"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session defaults shared by agent and collector.
type Config struct {
	// FrameSize is the datagram capacity handed to protocol.Encode.
	FrameSize int
	// RecvTimeout bounds each socket read; it is also the cancellation granularity.
	RecvTimeout time.Duration
	// ReadBufferSize is the receive buffer per datagram.
	ReadBufferSize int
	// QueueSize is the capacity of the completed-message queue.
	QueueSize int
	// PeerIdleTimeout drops a peer's partial message once no frame has
	// arrived for it this long.
	PeerIdleTimeout time.Duration
	// AckTimeout bounds one verified send.
	AckTimeout time.Duration
	// VerifyAttempts is how many verified sends a caller makes before giving up.
	VerifyAttempts int
	Backoff        BackoffConfig
	Limits         protocol.Limits
}

// DefaultConfig returns protocol defaults.
func DefaultConfig() Config {
	return Config{
		FrameSize:       256,
		RecvTimeout:     500 * time.Millisecond,
		ReadBufferSize:  64 * 1024,
		QueueSize:       1024,
		PeerIdleTimeout: 30 * time.Second,
		AckTimeout:      2 * time.Second,
		VerifyAttempts:  3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: protocol.DefaultLimits(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.FrameSize <= 0 {
		c.FrameSize = def.FrameSize
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = def.RecvTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.PeerIdleTimeout <= 0 {
		c.PeerIdleTimeout = def.PeerIdleTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = def.VerifyAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Limits.MaxMessageBytes <= 0 {
		c.Limits = def.Limits
	}
	return c
}

// Validate rejects configurations the protocol cannot run with.
func (c Config) Validate() error {
	if floor := protocol.MinCapacity(c.Limits.MaxMessageBytes); c.FrameSize < floor {
		return fmt.Errorf("%w: frame_size %d below minimum %d", ErrInvalidConfig, c.FrameSize, floor)
	}
	if c.ReadBufferSize < c.FrameSize {
		return fmt.Errorf("%w: read_buffer_size %d smaller than frame_size %d", ErrInvalidConfig, c.ReadBufferSize, c.FrameSize)
	}
	if c.RecvTimeout <= 0 {
		return fmt.Errorf("%w: recv_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
