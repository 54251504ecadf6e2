package main

import (
	"context"
	"strings"
	"sync"
)

// FixtureStore defines the data operations mock mode relies on.
type FixtureStore interface {
	UserStories(ctx context.Context, status string) ([]UserStory, error)
	Promotions(ctx context.Context) ([]Promotion, error)
	Environments(ctx context.Context) ([]string, error)
	AppendPromotion(ctx context.Context, p Promotion) error
	FindPromotion(ctx context.Context, id string) (*Promotion, error)
	SetPromotionStatus(ctx context.Context, id, status string) (*Promotion, error)
	Close() error
}

// MemoryStore keeps the fixture in process memory. Each instance owns its
// own copy, so independent clients never share promotions.
type MemoryStore struct {
	mu           sync.Mutex
	userStories  []UserStory
	promotions   []Promotion
	environments []string
}

// NewMemoryStore constructs a MemoryStore seeded with f.
func NewMemoryStore(f Fixture) *MemoryStore {
	s := &MemoryStore{
		userStories:  append([]UserStory(nil), f.UserStories...),
		environments: append([]string(nil), f.Environments...),
	}
	for _, p := range f.Promotions {
		s.promotions = append(s.promotions, clonePromotion(p))
	}
	return s
}

func (s *MemoryStore) UserStories(ctx context.Context, status string) ([]UserStory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stories := make([]UserStory, 0, len(s.userStories))
	for _, us := range s.userStories {
		if status == "" || strings.EqualFold(us.Status, status) {
			stories = append(stories, us)
		}
	}
	return stories, nil
}

func (s *MemoryStore) Promotions(ctx context.Context) ([]Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promotions := make([]Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		promotions = append(promotions, clonePromotion(p))
	}
	return promotions, nil
}

func (s *MemoryStore) Environments(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.environments...), nil
}

func (s *MemoryStore) AppendPromotion(ctx context.Context, p Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions = append(s.promotions, clonePromotion(p))
	return nil
}

func (s *MemoryStore) FindPromotion(ctx context.Context, id string) (*Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.promotions {
		if s.promotions[i].ID == id {
			p := clonePromotion(s.promotions[i])
			return &p, nil
		}
	}
	return nil, notFoundError("find promotion", "Promotion %s not found", id)
}

func (s *MemoryStore) SetPromotionStatus(ctx context.Context, id, status string) (*Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.promotions {
		if s.promotions[i].ID == id {
			s.promotions[i].Status = status
			p := clonePromotion(s.promotions[i])
			return &p, nil
		}
	}
	return nil, notFoundError("update promotion", "Promotion %s not found", id)
}

func (s *MemoryStore) Close() error {
	return nil
}

func clonePromotion(p Promotion) Promotion {
	p.UserStories = append([]string{}, p.UserStories...)
	return p
}
