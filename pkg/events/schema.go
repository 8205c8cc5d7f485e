package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityCreated       EventType = "entity.created"
	EventTypeEntityMatched       EventType = "entity.matched"
	EventTypeResolutionEscalated EventType = "resolution.escalated"
	EventTypeReviewResolved      EventType = "review.resolved"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// ResolutionEvent is emitted for every ledger decision that touched an entity
// or was escalated
type ResolutionEvent struct {
	BaseEvent
	DecisionID   string                  `json:"decision_id"`
	Method       models.ResolutionMethod `json:"method"`
	Confidence   float64                 `json:"confidence"`
	EntityID     string                  `json:"entity_id,omitempty"`
	EntityType   models.EntityType       `json:"entity_type,omitempty"`
	Name         string                  `json:"name,omitempty"`
	Source       string                  `json:"source,omitempty"`
	QueueEntryID string                  `json:"queue_entry_id,omitempty"`
	Entity       *models.CanonicalEntity `json:"entity,omitempty"`
}

// ReviewResolvedEvent is emitted when a reviewer completes a queue entry
type ReviewResolvedEvent struct {
	BaseEvent
	QueueEntryID string                `json:"queue_entry_id"`
	DecisionID   string                `json:"decision_id"`
	Decision     models.ReviewDecision `json:"decision"`
	ReviewerID   string                `json:"reviewer_id,omitempty"`
	EntityID     string                `json:"entity_id,omitempty"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, at time.Time) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Timestamp:     at.UTC(),
	}
}
