package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/Ramsey-B/clover/pkg/blocking"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// CandidateIndex is the registry's blocking index
type CandidateIndex interface {
	FindByBlockingKey(ctx context.Context, key models.AttributeKey, limit int) ([]string, error)
	GetEntities(ctx context.Context, ids []string) ([]*models.CanonicalEntity, error)
}

type RetrieverConfig struct {
	MaxCandidates int
	PerKeyLimit   int
}

func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{MaxCandidates: 50, PerKeyLimit: 200}
}

// Retriever unions independent blocking-key probes into a bounded candidate set
type Retriever struct {
	index  CandidateIndex
	config RetrieverConfig
}

func NewRetriever(index CandidateIndex, config RetrieverConfig) *Retriever {
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultRetrieverConfig().MaxCandidates
	}
	if config.PerKeyLimit <= 0 {
		config.PerKeyLimit = DefaultRetrieverConfig().PerKeyLimit
	}
	return &Retriever{index: index, config: config}
}

// Keys returns the blocking keys probed for rec. Flagged common values are
// left out unless nothing else is available.
func (r *Retriever) Keys(rec models.NormalizedRecord, flags FlagChecker) []models.AttributeKey {
	all := blocking.KeysForRecord(rec)
	if flags == nil {
		return all
	}
	var distinct []models.AttributeKey
	for _, k := range all {
		if !flags.IsFlagged(k.Kind, k.Value) {
			distinct = append(distinct, k)
		}
	}
	if len(distinct) == 0 {
		return all
	}
	return distinct
}

// Retrieve returns at most MaxCandidates entities. No keys or no hits yields
// an empty slice; index errors are returned unchanged for the caller to retry.
func (r *Retriever) Retrieve(ctx context.Context, rec models.NormalizedRecord, flags FlagChecker) ([]*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Retriever.Retrieve")
	defer span.End()

	keys := r.Keys(rec, flags)
	if len(keys) == 0 {
		return nil, nil
	}

	hits := make(map[string]int)
	for _, key := range keys {
		ids, err := r.index.FindByBlockingKey(ctx, key, r.config.PerKeyLimit)
		if err != nil {
			return nil, fmt.Errorf("blocking lookup %s: %w", key, err)
		}
		for _, id := range ids {
			hits[id]++
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities, err := r.index.GetEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}

	type preScored struct {
		entity *models.CanonicalEntity
		hits   int
		prefix int
	}
	ranked := make([]preScored, 0, len(entities))
	for _, e := range entities {
		if e == nil || !e.Active {
			continue
		}
		ranked = append(ranked, preScored{entity: e, hits: hits[e.ID], prefix: namePrefixLength(rec.Name.Value, e)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].hits != ranked[j].hits {
			return ranked[i].hits > ranked[j].hits
		}
		if ranked[i].prefix != ranked[j].prefix {
			return ranked[i].prefix > ranked[j].prefix
		}
		return ranked[i].entity.ID < ranked[j].entity.ID
	})

	if len(ranked) > r.config.MaxCandidates {
		ranked = ranked[:r.config.MaxCandidates]
	}
	out := make([]*models.CanonicalEntity, len(ranked))
	for i, p := range ranked {
		out[i] = p.entity
	}
	return out, nil
}

// namePrefixLength is the longest common prefix between name and any of e's names
func namePrefixLength(name string, e *models.CanonicalEntity) int {
	best := 0
	for _, n := range e.Names() {
		l := 0
		for l < len(name) && l < len(n) && name[l] == n[l] {
			l++
		}
		best = max(best, l)
	}
	return best
}
