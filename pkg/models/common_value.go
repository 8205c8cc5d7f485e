package models

import "time"

// CommonValueRecord tracks how many distinct entities share one attribute value
type CommonValueRecord struct {
	AttributeKind       string     `json:"attribute_kind" db:"attribute_kind"`
	NormalizedValue     string     `json:"normalized_value" db:"normalized_value"`
	DistinctEntityCount int        `json:"distinct_entity_count" db:"distinct_entity_count"`
	RejectionCount      int        `json:"rejection_count" db:"rejection_count"`
	Flagged             bool       `json:"flagged" db:"flagged"`
	FlaggedAt           *time.Time `json:"flagged_at,omitempty" db:"flagged_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// AttributeKey is one (kind, value) pair in the registry's attribute index
type AttributeKey struct {
	Kind  string `json:"kind" db:"kind"`
	Value string `json:"value" db:"value"`
}

func (k AttributeKey) String() string {
	return k.Kind + ":" + k.Value
}
