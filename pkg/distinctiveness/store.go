package distinctiveness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Store persists common-value records. Upsert must keep flags sticky
// (flagged = old OR new), keep the latest distinct count, add rejection counts,
// and return the merged rows.
type Store interface {
	Upsert(ctx context.Context, records []models.CommonValueRecord) ([]models.CommonValueRecord, error)
	ListFlagged(ctx context.Context) ([]models.CommonValueRecord, error)
	List(ctx context.Context, kind string, flaggedOnly bool, limit int) ([]models.CommonValueRecord, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.Mutex
	records map[models.AttributeKey]models.CommonValueRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[models.AttributeKey]models.CommonValueRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, records []models.CommonValueRecord) ([]models.CommonValueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.CommonValueRecord, 0, len(records))
	for _, r := range records {
		key := models.AttributeKey{Kind: r.AttributeKind, Value: r.NormalizedValue}
		merged := r
		if old, ok := s.records[key]; ok {
			merged.RejectionCount = old.RejectionCount + r.RejectionCount
			merged.Flagged = old.Flagged || r.Flagged
			if old.Flagged {
				merged.FlaggedAt = old.FlaggedAt
			}
			if r.DistinctEntityCount == 0 {
				merged.DistinctEntityCount = old.DistinctEntityCount
			}
		}
		if merged.Flagged && merged.FlaggedAt == nil {
			at := r.UpdatedAt
			merged.FlaggedAt = &at
		}
		s.records[key] = merged
		out = append(out, merged)
	}
	return out, nil
}

func (s *MemoryStore) ListFlagged(ctx context.Context) ([]models.CommonValueRecord, error) {
	return s.List(ctx, "", true, 0)
}

func (s *MemoryStore) List(_ context.Context, kind string, flaggedOnly bool, limit int) ([]models.CommonValueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CommonValueRecord
	for _, r := range s.records {
		if kind != "" && r.AttributeKind != kind {
			continue
		}
		if flaggedOnly && !r.Flagged {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistinctEntityCount != out[j].DistinctEntityCount {
			return out[i].DistinctEntityCount > out[j].DistinctEntityCount
		}
		if out[i].AttributeKind != out[j].AttributeKind {
			return out[i].AttributeKind < out[j].AttributeKind
		}
		return out[i].NormalizedValue < out[j].NormalizedValue
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

func now() time.Time { return time.Now().UTC() }
