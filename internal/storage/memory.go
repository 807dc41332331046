package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/pismenka-api/internal/domain"
)

// MemoryStore keeps the three registers in process memory. State lives only
// as long as the process and is not shared between instances.
type MemoryStore struct {
	mu          sync.RWMutex
	currentGame *domain.DailyGame
	results     []domain.Result
	archive     []domain.ArchiveEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Kind returns the backend name
func (s *MemoryStore) Kind() string {
	return domain.BackendMemory
}

// CurrentGame returns a copy of the current game or nil
func (s *MemoryStore) CurrentGame(_ context.Context) *domain.DailyGame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentGame == nil {
		return nil
	}
	game := *s.currentGame
	return &game
}

// SetCurrentGame replaces the current game
func (s *MemoryStore) SetCurrentGame(_ context.Context, game domain.DailyGame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentGame = &game
	return true
}

// Results returns a copy of all stored results, oldest first
func (s *MemoryStore) Results(_ context.Context) []domain.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results)
}

// AppendResult appends a result and trims the oldest beyond keep
func (s *MemoryStore) AppendResult(_ context.Context, result domain.Result, keep int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = slices.Clone(TrimOldest(append(s.results, result), keep))
	return true
}

// Archive returns a copy of all archive entries, oldest first
func (s *MemoryStore) Archive(_ context.Context) []domain.ArchiveEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ArchiveEntry, len(s.archive))
	for i, entry := range s.archive {
		entry.Top10 = slices.Clone(entry.Top10)
		out[i] = entry
	}
	return out
}

// AppendArchive appends an archive entry and trims the oldest beyond keep
func (s *MemoryStore) AppendArchive(_ context.Context, entry domain.ArchiveEntry, keep int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Top10 = slices.Clone(entry.Top10)
	s.archive = slices.Clone(TrimOldest(append(s.archive, entry), keep))
	return true
}

// Health always reports a connected memory backend
func (s *MemoryStore) Health(_ context.Context) domain.StoreHealth {
	return domain.StoreHealth{
		Database:  domain.BackendMemory,
		Connected: true,
	}
}
