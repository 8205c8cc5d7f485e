package models

import "time"

// ReviewStatus only moves forward: pending -> inReview -> completed|skipped
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusInReview  ReviewStatus = "inReview"
	ReviewStatusCompleted ReviewStatus = "completed"
	ReviewStatusSkipped   ReviewStatus = "skipped"
)

// Rank orders statuses so a transition can be checked for regression
func (s ReviewStatus) Rank() int {
	switch s {
	case ReviewStatusPending:
		return 0
	case ReviewStatusInReview:
		return 1
	case ReviewStatusCompleted, ReviewStatusSkipped:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether from -> to is an allowed forward move
func CanTransition(from, to ReviewStatus) bool {
	switch from {
	case ReviewStatusPending:
		return to == ReviewStatusInReview
	case ReviewStatusInReview:
		return to == ReviewStatusCompleted || to == ReviewStatusSkipped
	default:
		return false
	}
}

// ReviewDecision is the reviewer's verdict
type ReviewDecision string

const (
	ReviewDecisionAccept    ReviewDecision = "accept"
	ReviewDecisionReject    ReviewDecision = "reject"
	ReviewDecisionCreateNew ReviewDecision = "createNew"
)

// ReviewQueueEntry is an escalated case waiting for a human
type ReviewQueueEntry struct {
	ID                string           `json:"id" db:"id"`
	DecisionID        string           `json:"decision_id" db:"decision_id"`
	Record            CandidateRecord  `json:"record"`
	CandidateFeatures NormalizedRecord `json:"candidate_features"`
	TopCandidateID    *string          `json:"top_candidate_id,omitempty" db:"top_candidate_id"`
	CandidateIDs      []string         `json:"candidate_ids"`
	Confidence        float64          `json:"confidence" db:"confidence"`
	Signals           []MatchSignal    `json:"signals"`
	Status            ReviewStatus     `json:"status" db:"status"`
	Priority          float64          `json:"priority" db:"priority"`
	Reason            string           `json:"reason,omitempty" db:"reason"`
	ClaimedBy         *string          `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt         *time.Time       `json:"claimed_at,omitempty" db:"claimed_at"`
	Decision          *ReviewDecision  `json:"decision,omitempty" db:"decision"`
	ResolvedEntityID  *string          `json:"resolved_entity_id,omitempty" db:"resolved_entity_id"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// ResolveReviewRequest is the reviewer's resolution payload
type ResolveReviewRequest struct {
	Decision         ReviewDecision `json:"decision" validate:"required,oneof=accept reject createNew"`
	ResolvedEntityID *string        `json:"resolved_entity_id,omitempty" validate:"omitempty,uuid"`
}

// ValidateDecisionRequest audits an automatic decision
type ValidateDecisionRequest struct {
	Correct          *bool   `json:"correct" validate:"required"`
	ResolvedEntityID *string `json:"resolved_entity_id,omitempty" validate:"omitempty,uuid"`
}
