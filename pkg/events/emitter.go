// Package events publishes resolution lifecycle events
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher writes one keyed event. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, payload any, headers map[string]string) error
}

// Emitter turns resolver callbacks into events. It is registered as both a
// resolver.Listener and a resolver.ReviewListener.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnResolved emits entity.created, entity.matched or resolution.escalated
func (e *Emitter) OnResolved(ctx context.Context, d *models.ResolutionDecision, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.OnResolved")
	defer span.End()

	eventType := EventTypeEntityMatched
	switch {
	case entity == nil:
		eventType = EventTypeResolutionEscalated
	case d.Method == models.MethodCreation:
		eventType = EventTypeEntityCreated
	}

	event := ResolutionEvent{
		BaseEvent:  NewBaseEvent(eventType, e.now()),
		DecisionID: d.ID,
		Method:     d.Method,
		Confidence: d.Confidence,
		EntityType: d.CandidateFeatures.EntityType,
		Name:       d.CandidateFeatures.Name.Raw,
		Source:     d.CandidateFeatures.Source,
	}
	key := d.ID
	if entity != nil {
		event.EntityID = entity.ID
		event.EntityType = entity.EntityType
		event.Entity = entity
		key = entity.ID
	}
	if d.QueueEntryID != nil {
		event.QueueEntryID = *d.QueueEntryID
	}

	headers := map[string]string{"entity_type": string(event.EntityType)}
	if err := e.publisher.Publish(ctx, key, string(eventType), event, headers); err != nil {
		tracing.RecordError(span, err)
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}

// OnReviewResolved emits review.resolved
func (e *Emitter) OnReviewResolved(ctx context.Context, entry *models.ReviewQueueEntry, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.OnReviewResolved")
	defer span.End()

	event := ReviewResolvedEvent{
		BaseEvent:    NewBaseEvent(EventTypeReviewResolved, e.now()),
		QueueEntryID: entry.ID,
		DecisionID:   entry.DecisionID,
	}
	if entry.Decision != nil {
		event.Decision = *entry.Decision
	}
	if entry.ClaimedBy != nil {
		event.ReviewerID = *entry.ClaimedBy
	}
	key := entry.ID
	if entity != nil {
		event.EntityID = entity.ID
		key = entity.ID
	}

	if err := e.publisher.Publish(ctx, key, string(EventTypeReviewResolved), event, nil); err != nil {
		tracing.RecordError(span, err)
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit review.resolved event")
		return err
	}
	return nil
}
