package memory

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxMessages bounds the turns retained per channel.
	DefaultMaxMessages = 50
	// DefaultTTL is how long an idle conversation survives.
	DefaultTTL = 30 * time.Minute
	// DefaultSweepInterval is the cadence of the background expiry sweep.
	DefaultSweepInterval = 5 * time.Minute
)

// Option configures a Store.
type Option func(*Store)

// WithMaxMessages sets the per-channel turn bound. Values below 1 are ignored.
func WithMaxMessages(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.maxMessages = n
		}
	}
}

// WithTTL sets the idle lifetime of a conversation.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval sets the background sweep cadence. Zero or negative
// disables the background sweep; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by the sweep.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger.With().Str("component", "memory").Logger() }
}

// WithEvictHook registers a callback invoked for every conversation the
// sweep removes.
func WithEvictHook(fn func(channelID string)) Option {
	return func(s *Store) { s.onEvict = fn }
}
