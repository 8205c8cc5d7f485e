package distinctiveness

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Snapshot is an immutable set of flagged values. A new snapshot replaces the
// old one wholesale; it is never modified after publication.
type Snapshot struct {
	flagged    map[models.AttributeKey]struct{}
	Epoch      uint64
	ComputedAt time.Time
}

func newSnapshot(flagged map[models.AttributeKey]struct{}, epoch uint64, at time.Time) *Snapshot {
	return &Snapshot{flagged: flagged, Epoch: epoch, ComputedAt: at}
}

// IsFlagged is a single map lookup, safe for concurrent readers
func (s *Snapshot) IsFlagged(kind, value string) bool {
	_, ok := s.flagged[models.AttributeKey{Kind: kind, Value: value}]
	return ok
}

func (s *Snapshot) Len() int {
	return len(s.flagged)
}

// Keys returns a copy of the flagged keys
func (s *Snapshot) Keys() []models.AttributeKey {
	keys := make([]models.AttributeKey, 0, len(s.flagged))
	for k := range s.flagged {
		keys = append(keys, k)
	}
	return keys
}
