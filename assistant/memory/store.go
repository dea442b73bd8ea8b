// Package memory keeps bounded per-channel conversation history in memory.
package memory

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// conversation is the per-channel state. turns, lastActivity and removed are
// guarded by mu; busy is guarded by Store.mu.
type conversation struct {
	mu           sync.Mutex
	turns        []ports.Turn
	lastActivity time.Time
	removed      bool

	busy  int
	cycle chan struct{}
}

func newConversation(now time.Time) *conversation {
	return &conversation{
		lastActivity: now,
		cycle:        make(chan struct{}, 1),
	}
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Conversations int
	Busy          int
	Turns         int
}

// Store holds conversation contexts keyed by channel id.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation

	maxMessages   int
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        zerolog.Logger
	onEvict       func(channelID string)

	stop      chan struct{}
	closeOnce sync.Once
	wg        conc.WaitGroup
}

// NewStore creates a store and starts its background sweep.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*conversation),
		maxMessages:   DefaultMaxMessages,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        zerolog.Nop(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		s.wg.Go(s.sweepLoop)
	}
	return s
}

// Close stops the background sweep. It is safe to call more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

// MaxMessages returns the configured per-channel bound.
func (s *Store) MaxMessages() int { return s.maxMessages }

// GetMessages returns a copy of the channel's turns in chronological order.
// Unknown channels yield an empty slice.
func (s *Store) GetMessages(channelID string) []ports.Turn {
	s.mu.RLock()
	conv, ok := s.conversations[channelID]
	s.mu.RUnlock()
	if !ok {
		return []ports.Turn{}
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	out := make([]ports.Turn, len(conv.turns))
	copy(out, conv.turns)
	return out
}

// AddMessage appends turn to the channel, creating the context if needed,
// and trims the history to the configured bound.
func (s *Store) AddMessage(channelID string, turn ports.Turn) {
	for {
		conv := s.getOrCreate(channelID)

		conv.mu.Lock()
		if conv.removed {
			// Lost a race with the sweep; look the channel up again.
			conv.mu.Unlock()
			continue
		}
		conv.turns = trim(append(conv.turns, turn), s.maxMessages)
		conv.lastActivity = s.now()
		conv.mu.Unlock()
		return
	}
}

// ClearChannel drops all history for the channel. A context that is in use
// by a generation cycle keeps its entry until the cycle releases it.
func (s *Store) ClearChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[channelID]
	if !ok {
		return
	}

	conv.mu.Lock()
	conv.turns = nil
	if conv.busy == 0 {
		conv.removed = true
		delete(s.conversations, channelID)
	}
	conv.mu.Unlock()
}

// Acquire serializes generation cycles on a channel. The returned release
// must be called once the cycle has finished. While held, the context is
// never removed by the sweep.
func (s *Store) Acquire(ctx context.Context, channelID string) (func(), error) {
	s.mu.Lock()
	conv, ok := s.conversations[channelID]
	if !ok {
		conv = newConversation(s.now())
		s.conversations[channelID] = conv
	}
	conv.busy++
	s.mu.Unlock()

	select {
	case conv.cycle <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		conv.busy--
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-conv.cycle
			s.mu.Lock()
			conv.busy--
			s.mu.Unlock()
		})
	}, nil
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Stats returns counts for metrics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Conversations: len(s.conversations)}
	for _, conv := range s.conversations {
		if conv.busy > 0 {
			stats.Busy++
		}
		conv.mu.Lock()
		stats.Turns += len(conv.turns)
		conv.mu.Unlock()
	}
	return stats
}

func (s *Store) getOrCreate(channelID string) *conversation {
	s.mu.RLock()
	conv, ok := s.conversations[channelID]
	s.mu.RUnlock()
	if ok {
		return conv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok = s.conversations[channelID]; ok {
		return conv
	}
	conv = newConversation(s.now())
	s.conversations[channelID] = conv
	return conv
}

// trim keeps the newest limit turns. When the first system turn falls off the
// front and the kept window does not already start with a system turn, it is
// put back at index 0, so the result may hold limit+1 turns.
func trim(turns []ports.Turn, limit int) []ports.Turn {
	if len(turns) <= limit {
		return turns
	}

	cut := len(turns) - limit
	system := -1
	for i := range turns {
		if turns[i].Role == ports.RoleSystem {
			system = i
			break
		}
	}

	kept := turns[cut:]
	out := make([]ports.Turn, 0, limit+1)
	if system >= 0 && system < cut && kept[0].Role != ports.RoleSystem {
		out = append(out, turns[system])
	}
	return append(out, kept...)
}
