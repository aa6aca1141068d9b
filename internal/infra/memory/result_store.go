package memory

import (
	"context"
	"sync"

	"trivia-bingo/internal/domain"
)

// ResultStore keeps finished games in memory.
type ResultStore struct {
	mu    sync.RWMutex
	games []domain.GameRecord
}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// RecordGame implements app.ResultRecorder.
func (s *ResultStore) RecordGame(_ context.Context, rec domain.GameRecord) error {
	rec.Players = append([]domain.Summary(nil), rec.Players...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = append(s.games, rec)
	return nil
}

// Games returns recorded games, oldest first.
func (s *ResultStore) Games() []domain.GameRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.GameRecord(nil), s.games...)
}
