package review

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	ErrNotFound          = errors.New("review queue entry not found")
	ErrAlreadyClaimed    = errors.New("review queue entry already claimed")
	ErrNotClaimant       = errors.New("review queue entry is claimed by another reviewer")
	ErrInvalidTransition = errors.New("invalid review status transition")
)

// Store persists queue entries. Every transition is a compare-and-set on the
// current status so concurrent reviewers cannot both win.
type Store interface {
	Insert(ctx context.Context, entry *models.ReviewQueueEntry) error
	Get(ctx context.Context, id string) (*models.ReviewQueueEntry, error)
	// Claim moves pending -> inReview. A lost race returns ErrAlreadyClaimed.
	Claim(ctx context.Context, id, reviewer string, at time.Time) (*models.ReviewQueueEntry, error)
	// Complete moves inReview -> completed for the claimant only
	Complete(ctx context.Context, id, reviewer string, decision models.ReviewDecision, resolvedEntityID *string, at time.Time) (*models.ReviewQueueEntry, error)
	// Skip moves inReview -> skipped for the claimant only
	Skip(ctx context.Context, id, reviewer string, at time.Time) (*models.ReviewQueueEntry, error)
	// ListPending orders by priority desc then created asc
	ListPending(ctx context.Context, limit int) ([]models.ReviewQueueEntry, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*models.ReviewQueueEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.ReviewQueueEntry)}
}

func (s *MemoryStore) Insert(_ context.Context, entry *models.ReviewQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return errors.New("review queue entry already exists")
	}
	c := *entry
	s.entries[entry.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *MemoryStore) Claim(_ context.Context, id, reviewer string, at time.Time) (*models.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.ReviewStatusPending {
		return nil, ErrAlreadyClaimed
	}
	e.Status = models.ReviewStatusInReview
	e.ClaimedBy = &reviewer
	e.ClaimedAt = &at
	e.UpdatedAt = at
	c := *e
	return &c, nil
}

func (s *MemoryStore) Complete(_ context.Context, id, reviewer string, decision models.ReviewDecision, resolvedEntityID *string, at time.Time) (*models.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.claimedBy(id, reviewer)
	if err != nil {
		return nil, err
	}
	e.Status = models.ReviewStatusCompleted
	e.Decision = &decision
	e.ResolvedEntityID = resolvedEntityID
	e.UpdatedAt = at
	c := *e
	return &c, nil
}

func (s *MemoryStore) Skip(_ context.Context, id, reviewer string, at time.Time) (*models.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.claimedBy(id, reviewer)
	if err != nil {
		return nil, err
	}
	e.Status = models.ReviewStatusSkipped
	e.UpdatedAt = at
	c := *e
	return &c, nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]models.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ReviewQueueEntry
	for _, e := range s.entries {
		if e.Status == models.ReviewStatusPending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// must hold mu
func (s *MemoryStore) claimedBy(id, reviewer string) (*models.ReviewQueueEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.ReviewStatusInReview {
		return nil, ErrInvalidTransition
	}
	if e.ClaimedBy == nil || *e.ClaimedBy != reviewer {
		return nil, ErrNotClaimant
	}
	return e, nil
}

var _ Store = (*MemoryStore)(nil)
