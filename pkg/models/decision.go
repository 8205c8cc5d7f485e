package models

import "time"

// Signal names produced by the scorer
const (
	SignalName            = "name"
	SignalAddress         = "address"
	SignalPhone           = "phone"
	SignalEmailDomain     = "email_domain"
	SignalRegisteredAgent = "registered_agent"
	SignalOfficers        = "officers"
	SignalIdentifier      = "identifier_match"
)

// MatchSignal is one comparison dimension between a record and an entity
type MatchSignal struct {
	Name                   string  `json:"name"`
	Value                  float64 `json:"value"`
	Weight                 float64 `json:"weight"`
	DistinctivenessPenalty float64 `json:"distinctiveness_penalty"`
	MatchedValue           string  `json:"matched_value,omitempty"`
}

// Contribution is the signal's share of the overall confidence
func (s MatchSignal) Contribution() float64 {
	return s.Value * s.Weight * s.DistinctivenessPenalty
}

// ScoredCandidate is a retrieved entity with its confidence breakdown
type ScoredCandidate struct {
	Entity     *CanonicalEntity `json:"entity"`
	Confidence float64          `json:"confidence"`
	Signals    []MatchSignal    `json:"signals"`
}

// ResolutionMethod records which tier produced a decision
type ResolutionMethod string

const (
	MethodDeterministic ResolutionMethod = "deterministic"
	MethodMultiSignal   ResolutionMethod = "multiSignal"
	MethodArbitration   ResolutionMethod = "arbitration"
	MethodEscalated     ResolutionMethod = "escalated"
	MethodCreation      ResolutionMethod = "creation"
)

// ResolutionDecision is an immutable ledger entry. Only the human validation
// fields may be set after creation, and only once.
type ResolutionDecision struct {
	ID                string           `json:"id" db:"id"`
	CandidateFeatures NormalizedRecord `json:"candidate_features"`
	MatchedEntityID   *string          `json:"matched_entity_id,omitempty" db:"matched_entity_id"`
	TopCandidateID    *string          `json:"top_candidate_id,omitempty" db:"top_candidate_id"`
	Confidence        float64          `json:"confidence" db:"confidence"`
	Signals           []MatchSignal    `json:"signals"`
	Method            ResolutionMethod `json:"method" db:"method"`
	AutoAccepted      bool             `json:"auto_accepted" db:"auto_accepted"`
	QueueEntryID      *string          `json:"queue_entry_id,omitempty" db:"queue_entry_id"`
	Rationale         string           `json:"rationale,omitempty" db:"rationale"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`

	HumanValidated        bool       `json:"human_validated" db:"human_validated"`
	HumanCorrect          *bool      `json:"human_correct,omitempty" db:"human_correct"`
	ReviewerID            *string    `json:"reviewer_id,omitempty" db:"reviewer_id"`
	ValidatedAt           *time.Time `json:"validated_at,omitempty" db:"validated_at"`
	HumanResolvedEntityID *string    `json:"human_resolved_entity_id,omitempty" db:"human_resolved_entity_id"`
}

// Validation is the human augmentation applied to a decision
type Validation struct {
	ReviewerID       string    `json:"reviewer_id"`
	Correct          bool      `json:"correct"`
	ResolvedEntityID *string   `json:"resolved_entity_id,omitempty"`
	ValidatedAt      time.Time `json:"validated_at"`
}

// ResolutionResult is returned to the caller of Resolve
type ResolutionResult struct {
	EntityID     string           `json:"entity_id,omitempty"`
	Confidence   float64          `json:"confidence"`
	Method       ResolutionMethod `json:"method"`
	Signals      []MatchSignal    `json:"signals"`
	DecisionID   string           `json:"decision_id"`
	QueueEntryID *string          `json:"queue_entry_id,omitempty"`
	Created      bool             `json:"created"`
}
