package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/Ramsey-B/clover/pkg/blocking"
	"github.com/Ramsey-B/clover/pkg/models"
)

type identifierKey struct {
	kind, value string
}

// MemoryRegistry is a concurrency-safe in-process Registry
type MemoryRegistry struct {
	mu          sync.RWMutex
	entities    map[string]*models.CanonicalEntity
	identifiers map[identifierKey]string
	attributes  map[models.AttributeKey]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entities:    make(map[string]*models.CanonicalEntity),
		identifiers: make(map[identifierKey]string),
		attributes:  make(map[models.AttributeKey]map[string]struct{}),
	}
}

func (r *MemoryRegistry) FindByIdentifier(_ context.Context, kind, value string) (*models.CanonicalEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.identifiers[identifierKey{kind, value}]
	if !ok || !r.entities[id].Active {
		return nil, nil
	}
	return r.entities[id].Clone(), nil
}

func (r *MemoryRegistry) FindByBlockingKey(_ context.Context, key models.AttributeKey, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.attributes[key]))
	for id := range r.attributes[key] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *MemoryRegistry) GetEntities(_ context.Context, ids []string) ([]*models.CanonicalEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.CanonicalEntity, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entities[id]; ok && e.Active {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRegistry) GetEntity(_ context.Context, id string) (*models.CanonicalEntity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e.Clone(), nil
}

func (r *MemoryRegistry) Create(_ context.Context, e *models.CanonicalEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[e.ID]; ok {
		return ErrEntityExists
	}
	for _, kind := range sortedKinds(e.DefinitiveIdentifiers) {
		value := e.DefinitiveIdentifiers[kind]
		if owner, ok := r.identifiers[identifierKey{kind, value}]; ok {
			return &IdentifierConflictError{Kind: kind, Value: value, OwnerID: owner}
		}
	}

	stored := e.Clone()
	r.entities[stored.ID] = stored
	for kind, value := range stored.DefinitiveIdentifiers {
		r.identifiers[identifierKey{kind, value}] = stored.ID
	}
	r.index(stored)
	return nil
}

func (r *MemoryRegistry) Merge(_ context.Context, id string, patch models.EntityPatch) (*models.CanonicalEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[id]
	if !ok || !e.Active {
		return nil, ErrEntityNotFound
	}

	owned := make(map[string]string, len(patch.Identifiers))
	for kind, value := range patch.Identifiers {
		owner, taken := r.identifiers[identifierKey{kind, value}]
		if taken && owner != id {
			continue
		}
		if _, has := e.DefinitiveIdentifiers[kind]; has {
			continue
		}
		owned[kind] = value
	}
	patch.Identifiers = owned

	e.Apply(patch)
	for kind, value := range owned {
		r.identifiers[identifierKey{kind, value}] = id
	}
	r.index(e)
	return e.Clone(), nil
}

func (r *MemoryRegistry) CountDistinctValues(_ context.Context, kinds []string, minCount int) ([]models.CommonValueRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		wanted[k] = struct{}{}
	}

	var out []models.CommonValueRecord
	for key, ids := range r.attributes {
		if _, ok := wanted[key.Kind]; !ok {
			continue
		}
		count := 0
		for id := range ids {
			if r.entities[id].Active {
				count++
			}
		}
		if count >= minCount {
			out = append(out, models.CommonValueRecord{
				AttributeKind:       key.Kind,
				NormalizedValue:     key.Value,
				DistinctEntityCount: count,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttributeKind != out[j].AttributeKind {
			return out[i].AttributeKind < out[j].AttributeKind
		}
		return out[i].NormalizedValue < out[j].NormalizedValue
	})
	return out, nil
}

// Len returns the number of stored entities
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

func (r *MemoryRegistry) index(e *models.CanonicalEntity) {
	for _, key := range blocking.IndexKeys(e) {
		set, ok := r.attributes[key]
		if !ok {
			set = make(map[string]struct{})
			r.attributes[key] = set
		}
		set[e.ID] = struct{}{}
	}
}

func sortedKinds(ids map[string]string) []string {
	kinds := make([]string, 0, len(ids))
	for k := range ids {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
