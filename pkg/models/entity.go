package models

import "time"

// Fact attribute kinds stored on canonical entities
const (
	FactAddress         = "address"
	FactPhone           = "phone"
	FactEmail           = "email"
	FactEmailDomain     = "emailDomain"
	FactRegisteredAgent = "registeredAgent"
	FactOfficer         = "officer"
)

// FactAttribute is one observed, provenance-bearing value
type FactAttribute struct {
	Kind       string    `json:"kind"`
	Value      string    `json:"value"`
	Raw        string    `json:"raw,omitempty"`
	Source     string    `json:"source,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// CanonicalEntity is the registry's unit of identity
type CanonicalEntity struct {
	ID                    string            `json:"id" db:"id"`
	EntityType            EntityType        `json:"entity_type" db:"entity_type"`
	CanonicalName         string            `json:"canonical_name" db:"canonical_name"`
	Aliases               []string          `json:"aliases"`
	DefinitiveIdentifiers map[string]string `json:"definitive_identifiers"`
	FactAttributes        []FactAttribute   `json:"fact_attributes"`
	Active                bool              `json:"active" db:"active"`
	SupersededBy          *string           `json:"superseded_by,omitempty" db:"superseded_by"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	LastSeenAt            time.Time         `json:"last_seen_at" db:"last_seen_at"`
}

// Facts returns the distinct values of one fact kind in insertion order
func (e *CanonicalEntity) Facts(kind string) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, f := range e.FactAttributes {
		if f.Kind != kind {
			continue
		}
		if _, ok := seen[f.Value]; ok {
			continue
		}
		seen[f.Value] = struct{}{}
		values = append(values, f.Value)
	}
	return values
}

// Names returns the canonical name followed by aliases
func (e *CanonicalEntity) Names() []string {
	names := make([]string, 0, len(e.Aliases)+1)
	if e.CanonicalName != "" {
		names = append(names, e.CanonicalName)
	}
	for _, a := range e.Aliases {
		if a != e.CanonicalName {
			names = append(names, a)
		}
	}
	return names
}

// EntityPatch is an additive merge applied to an existing entity
type EntityPatch struct {
	Alias       string            `json:"alias,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
	Facts       []FactAttribute   `json:"facts,omitempty"`
	SeenAt      time.Time         `json:"seen_at"`
}

// Apply merges the patch into e, keeping aliases and facts as sets. It
// reports whether anything besides LastSeenAt changed.
func (e *CanonicalEntity) Apply(p EntityPatch) bool {
	changed := false
	if p.Alias != "" && p.Alias != e.CanonicalName && !contains(e.Aliases, p.Alias) {
		e.Aliases = append(e.Aliases, p.Alias)
		changed = true
	}
	for kind, value := range p.Identifiers {
		if e.DefinitiveIdentifiers == nil {
			e.DefinitiveIdentifiers = make(map[string]string)
		}
		if _, ok := e.DefinitiveIdentifiers[kind]; !ok {
			e.DefinitiveIdentifiers[kind] = value
			changed = true
		}
	}
	for _, f := range p.Facts {
		if e.hasFact(f.Kind, f.Value) {
			continue
		}
		e.FactAttributes = append(e.FactAttributes, f)
		changed = true
	}
	if p.SeenAt.After(e.LastSeenAt) {
		e.LastSeenAt = p.SeenAt
	}
	return changed
}

func (e *CanonicalEntity) hasFact(kind, value string) bool {
	for _, f := range e.FactAttributes {
		if f.Kind == kind && f.Value == value {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (e *CanonicalEntity) Clone() *CanonicalEntity {
	c := *e
	c.Aliases = append([]string(nil), e.Aliases...)
	c.FactAttributes = append([]FactAttribute(nil), e.FactAttributes...)
	if e.DefinitiveIdentifiers != nil {
		c.DefinitiveIdentifiers = make(map[string]string, len(e.DefinitiveIdentifiers))
		for k, v := range e.DefinitiveIdentifiers {
			c.DefinitiveIdentifiers[k] = v
		}
	}
	if e.SupersededBy != nil {
		s := *e.SupersededBy
		c.SupersededBy = &s
	}
	return &c
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
