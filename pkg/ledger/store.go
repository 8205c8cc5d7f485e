package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	ErrNotFound         = errors.New("resolution decision not found")
	ErrAlreadyValidated = errors.New("resolution decision already validated")
	ErrDuplicate        = errors.New("resolution decision already recorded")
)

// Store is an append-only decision log. Validate may set the human fields of
// an entry exactly once.
type Store interface {
	Append(ctx context.Context, d *models.ResolutionDecision) error
	Get(ctx context.Context, id string) (*models.ResolutionDecision, error)
	Validate(ctx context.Context, id string, v models.Validation) (*models.ResolutionDecision, error)
	// ListBetween returns decisions created in [from, to) ordered by creation time
	ListBetween(ctx context.Context, from, to time.Time) ([]models.ResolutionDecision, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]*models.ResolutionDecision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{decisions: make(map[string]*models.ResolutionDecision)}
}

func (s *MemoryStore) Append(_ context.Context, d *models.ResolutionDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; ok {
		return ErrDuplicate
	}
	c := *d
	s.decisions[d.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ResolutionDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (s *MemoryStore) Validate(_ context.Context, id string, v models.Validation) (*models.ResolutionDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.HumanValidated {
		return nil, ErrAlreadyValidated
	}
	correct := v.Correct
	reviewer := v.ReviewerID
	at := v.ValidatedAt
	d.HumanValidated = true
	d.HumanCorrect = &correct
	d.ReviewerID = &reviewer
	d.ValidatedAt = &at
	d.HumanResolvedEntityID = v.ResolvedEntityID
	c := *d
	return &c, nil
}

func (s *MemoryStore) ListBetween(_ context.Context, from, to time.Time) ([]models.ResolutionDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ResolutionDecision
	for _, d := range s.decisions {
		if !d.CreatedAt.Before(from) && d.CreatedAt.Before(to) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
