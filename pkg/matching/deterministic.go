package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// DeterministicConfidence is reported for every exact identifier hit
const DeterministicConfidence = 0.999

// Kinds that are shared between unrelated entities and can never be exact keys
var nonDeterministicKinds = map[string]struct{}{
	"registeredagent": {}, "agent": {}, "agentname": {}, "address": {},
	"phone": {}, "email": {}, "emaildomain": {}, "name": {}, "officer": {},
}

// IdentifierIndex finds the active entity owning an identifier. A nil entity
// with a nil error means no owner.
type IdentifierIndex interface {
	FindByIdentifier(ctx context.Context, kind, value string) (*models.CanonicalEntity, error)
}

// ValidatePrecedence rejects empty, duplicate or shared-value identifier kinds
func ValidatePrecedence(kinds []string) error {
	seen := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("deterministic identifier kind cannot be empty")
		}
		if _, ok := nonDeterministicKinds[strings.ToLower(k)]; ok {
			return fmt.Errorf("%q is shared across entities and cannot be a deterministic identifier", k)
		}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("deterministic identifier kind %q listed twice", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// DeterministicMatcher looks up definitive identifiers in precedence order
type DeterministicMatcher struct {
	index      IdentifierIndex
	precedence []string
}

func NewDeterministicMatcher(index IdentifierIndex, precedence []string) (*DeterministicMatcher, error) {
	if err := ValidatePrecedence(precedence); err != nil {
		return nil, err
	}
	return &DeterministicMatcher{index: index, precedence: precedence}, nil
}

// Precedence returns the identifier kinds matched exactly, strongest first
func (m *DeterministicMatcher) Precedence() []string {
	return m.precedence
}

// IsDeterministic reports whether kind is matched exactly
func (m *DeterministicMatcher) IsDeterministic(kind string) bool {
	for _, k := range m.precedence {
		if k == kind {
			return true
		}
	}
	return false
}

// Match returns the first entity owning one of the record's identifiers and
// the identifier kind that matched. A miss returns a nil entity.
func (m *DeterministicMatcher) Match(ctx context.Context, rec models.NormalizedRecord) (*models.CanonicalEntity, string, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.DeterministicMatcher.Match")
	defer span.End()

	for _, kind := range m.precedence {
		value, ok := rec.Identifiers[kind]
		if !ok || value == "" {
			continue
		}
		entity, err := m.index.FindByIdentifier(ctx, kind, value)
		if err != nil {
			return nil, "", fmt.Errorf("identifier lookup %s: %w", kind, err)
		}
		if entity != nil {
			return entity, kind, nil
		}
	}
	return nil, "", nil
}
