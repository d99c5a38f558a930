package store

import (
	"context"
	"sync"

	"newsletter/internal/publisher/models"
	"newsletter/pkg/platform/sentinel"
)

type InMemory struct {
	mu         sync.RWMutex
	byUsername map[string]models.Publisher
}

func NewInMemory() *InMemory {
	return &InMemory{byUsername: make(map[string]models.Publisher)}
}

func (s *InMemory) FindByUsername(_ context.Context, username string) (*models.Publisher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byUsername[username]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemory) Upsert(_ context.Context, p *models.Publisher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byUsername[p.Username]; ok {
		p.ID = existing.ID
	}
	s.byUsername[p.Username] = *p
	return nil
}
