package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"newsletter/internal/subscription/models"
	"newsletter/pkg/platform/sentinel"
)

// InMemory is a map-backed store for tests and local runs. Email identity
// is case-insensitive, as in the Postgres store.
type InMemory struct {
	mu    sync.RWMutex
	state *memoryState
}

type memoryState struct {
	subscribers map[models.SubscriberID]*models.Subscriber
	// byEmail is keyed by emailKey.
	byEmail     map[string]models.SubscriberID
	tokens      map[string]models.SubscriberID
}

func newMemoryState() *memoryState {
	return &memoryState{
		subscribers: make(map[models.SubscriberID]*models.Subscriber),
		byEmail:     make(map[string]models.SubscriberID),
		tokens:      make(map[string]models.SubscriberID),
	}
}

func (st *memoryState) clone() *memoryState {
	out := newMemoryState()
	for id, sub := range st.subscribers {
		cp := *sub
		out.subscribers[id] = &cp
	}
	for email, id := range st.byEmail {
		out.byEmail[email] = id
	}
	for token, id := range st.tokens {
		out.tokens[token] = id
	}
	return out
}

func emailKey(email string) string {
	return strings.ToLower(email)
}

func NewInMemory() *InMemory {
	return &InMemory{state: newMemoryState()}
}

// Atomically runs fn against a private copy of the store. The copy replaces
// the live state only when fn returns nil. Other callers block until fn
// finishes.
func (s *InMemory) Atomically(fn func(view *InMemory) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &InMemory{state: s.state.clone()}
	if err := fn(view); err != nil {
		return err
	}
	s.state = view.state
	return nil
}

func (s *InMemory) UpsertPending(_ context.Context, sub models.NewSubscriber, id models.SubscriberID, now time.Time) (models.SubscriberID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := sub.Email.String()
	key := emailKey(email)
	existingID, ok := s.state.byEmail[key]
	if !ok {
		s.state.subscribers[id] = &models.Subscriber{
			ID:           id,
			Email:        email,
			Name:         sub.Name.String(),
			Status:       models.StatusPendingConfirmation,
			SubscribedAt: now,
		}
		s.state.byEmail[key] = id
		return id, nil
	}

	existing := s.state.subscribers[existingID]
	if existing.IsConfirmed() {
		return models.SubscriberID{}, sentinel.ErrAlreadyUsed
	}

	// Rotate the id and carry bound tokens with it.
	delete(s.state.subscribers, existingID)
	existing.ID = id
	s.state.subscribers[id] = existing
	s.state.byEmail[key] = id
	for token, owner := range s.state.tokens {
		if owner == existingID {
			s.state.tokens[token] = id
		}
	}
	return id, nil
}

func (s *InMemory) InsertToken(_ context.Context, id models.SubscriberID, token models.SubscriptionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.subscribers[id]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.state.tokens[token.String()]; ok {
		return sentinel.ErrConflict
	}
	s.state.tokens[token.String()] = id
	return nil
}

func (s *InMemory) FindSubscriberIDByToken(_ context.Context, token models.SubscriptionToken) (models.SubscriberID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.tokens[token.String()]
	if !ok {
		return models.SubscriberID{}, sentinel.ErrNotFound
	}
	return id, nil
}

// LockTokenOwner resolves token to its subscriber. Atomically already
// serialises whole transactions, so no row lock is needed.
func (s *InMemory) LockTokenOwner(ctx context.Context, token models.SubscriptionToken) (models.SubscriberID, error) {
	return s.FindSubscriberIDByToken(ctx, token)
}

func (s *InMemory) MarkConfirmed(_ context.Context, id models.SubscriberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.state.subscribers[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	sub.Status = models.StatusConfirmed
	return nil
}

func (s *InMemory) DeleteTokensForSubscriber(_ context.Context, id models.SubscriberID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, owner := range s.state.tokens {
		if owner == id {
			delete(s.state.tokens, token)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemory) ListConfirmedEmails(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	confirmed := make([]*models.Subscriber, 0, len(s.state.subscribers))
	for _, sub := range s.state.subscribers {
		if sub.IsConfirmed() {
			confirmed = append(confirmed, sub)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool {
		return confirmed[i].SubscribedAt.Before(confirmed[j].SubscribedAt)
	})
	emails := make([]string, 0, len(confirmed))
	for _, sub := range confirmed {
		emails = append(emails, sub.Email)
	}
	return emails, nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.byEmail[emailKey(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.state.subscribers[id]
	return &cp, nil
}

func (s *InMemory) ListTokens(_ context.Context, id models.SubscriberID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []string
	for token, owner := range s.state.tokens {
		if owner == id {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

// Seed inserts a subscriber row as-is. Intended for tests that need a
// stored address the parsers would reject. A row whose address equals an
// existing one ignoring case replaces it.
func (s *InMemory) Seed(sub models.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(sub.Email)
	if existing, ok := s.state.byEmail[key]; ok && existing != sub.ID {
		delete(s.state.subscribers, existing)
	}
	cp := sub
	s.state.subscribers[sub.ID] = &cp
	s.state.byEmail[key] = sub.ID
}
