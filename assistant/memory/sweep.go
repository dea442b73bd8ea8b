package memory

import "time"

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug().Int("evicted", n).Int("remaining", s.Len()).Msg("swept idle conversations")
			}
		}
	}
}

// Sweep removes every conversation idle for longer than the TTL that is not
// in use by a generation cycle, and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	// Collect candidates under the read lock so other channels stay usable.
	s.mu.RLock()
	var candidates []string
	for id, conv := range s.conversations {
		if conv.busy > 0 {
			continue
		}
		if s.expired(conv, now) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	evicted := 0
	for _, id := range candidates {
		if s.evict(id, now) {
			evicted++
			if s.onEvict != nil {
				s.onEvict(id)
			}
		}
	}
	return evicted
}

func (s *Store) evict(channelID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[channelID]
	if !ok || conv.busy > 0 {
		return false
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if now.Sub(conv.lastActivity) <= s.ttl {
		return false
	}
	conv.removed = true
	delete(s.conversations, channelID)
	return true
}

func (s *Store) expired(conv *conversation, now time.Time) bool {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return now.Sub(conv.lastActivity) > s.ttl
}
