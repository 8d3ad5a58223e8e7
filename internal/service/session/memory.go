package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

// MemoryStore keeps session records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.SessionRecord
	clock    clockwork.Clock
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates an empty store driven by clock.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.SessionRecord),
		clock:    clock,
	}
}

// Get returns a copy of the record for sessionID.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (chat.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sessions[sessionID]
	if !ok {
		return chat.SessionRecord{}, ErrSessionNotFound
	}
	return copyRecord(record), nil
}

// Append adds turn to the record for sessionID, creating it on first use.
func (s *MemoryStore) Append(_ context.Context, sessionID string, turn chat.Turn) (chat.SessionRecord, error) {
	if sessionID == "" {
		return chat.SessionRecord{}, ErrSessionIDRequired
	}

	now := s.clock.Now().UTC()
	if turn.At.IsZero() {
		turn.At = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.sessions[sessionID]
	record.ID = sessionID
	record.Turns = chat.AppendTurn(record.Turns, turn)
	record.UpdatedAt = now
	s.sessions[sessionID] = record

	return copyRecord(record), nil
}

// Len reports how many sessions are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than maxIdle and returns how many were removed.
func (s *MemoryStore) Prune(maxIdle time.Duration) int {
	cutoff := s.clock.Now().UTC().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.sessions {
		if record.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes idle sessions every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Prune(maxIdle)
		}
	}
}

func copyRecord(record chat.SessionRecord) chat.SessionRecord {
	turns := make([]chat.Turn, len(record.Turns))
	copy(turns, record.Turns)
	record.Turns = turns
	return record
}
