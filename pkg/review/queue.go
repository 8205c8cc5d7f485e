// Package review manages the human review queue for escalated resolutions.
// Status only moves forward: pending, inReview, then completed or skipped.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
)

const defaultListLimit = 100

type Queue struct {
	store  Store
	logger ectologger.Logger
	now    func() time.Time
}

func NewQueue(store Store, logger ectologger.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue appends a new pending entry
func (q *Queue) Enqueue(ctx context.Context, entry *models.ReviewQueueEntry) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Enqueue")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	at := q.now()
	entry.Status = models.ReviewStatusPending
	entry.ClaimedBy = nil
	entry.ClaimedAt = nil
	entry.Decision = nil
	entry.ResolvedEntityID = nil
	entry.CreatedAt = at
	entry.UpdatedAt = at

	if err := q.store.Insert(ctx, entry); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("enqueueing review entry: %w", err)
	}
	metrics.ReviewTransitionsTotal.WithLabelValues(string(models.ReviewStatusPending)).Inc()

	q.logger.WithContext(ctx).WithFields(map[string]any{
		"queue_entry_id": entry.ID,
		"decision_id":    entry.DecisionID,
		"priority":       entry.Priority,
		"reason":         entry.Reason,
	}).Info("Escalated resolution to review queue")
	return entry, nil
}

func (q *Queue) Claim(ctx context.Context, id, reviewer string) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Claim")
	defer span.End()

	entry, err := q.store.Claim(ctx, id, reviewer, q.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			metrics.ReviewClaimConflictsTotal.Inc()
		}
		return nil, err
	}
	metrics.ReviewTransitionsTotal.WithLabelValues(string(models.ReviewStatusInReview)).Inc()
	q.logger.WithContext(ctx).WithFields(map[string]any{"queue_entry_id": id, "reviewer": reviewer}).Debug("Claimed review entry")
	return entry, nil
}

// CheckResolvable verifies that reviewer may resolve id right now, without
// changing anything. The outcome is applied before Resolve records it.
func (q *Queue) CheckResolvable(ctx context.Context, id, reviewer string) (*models.ReviewQueueEntry, error) {
	entry, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.ReviewStatusInReview {
		return nil, ErrInvalidTransition
	}
	if entry.ClaimedBy == nil || *entry.ClaimedBy != reviewer {
		return nil, ErrNotClaimant
	}
	return entry, nil
}

func (q *Queue) Resolve(ctx context.Context, id, reviewer string, decision models.ReviewDecision, resolvedEntityID *string) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Resolve")
	defer span.End()

	switch decision {
	case models.ReviewDecisionAccept, models.ReviewDecisionReject, models.ReviewDecisionCreateNew:
	default:
		return nil, fmt.Errorf("unknown review decision %q", decision)
	}

	entry, err := q.store.Complete(ctx, id, reviewer, decision, resolvedEntityID, q.now())
	if err != nil {
		return nil, err
	}
	metrics.ReviewTransitionsTotal.WithLabelValues(string(models.ReviewStatusCompleted)).Inc()
	q.logger.WithContext(ctx).WithFields(map[string]any{
		"queue_entry_id": id,
		"reviewer":       reviewer,
		"decision":       decision,
	}).Info("Resolved review entry")
	return entry, nil
}

func (q *Queue) Skip(ctx context.Context, id, reviewer string) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Skip")
	defer span.End()

	entry, err := q.store.Skip(ctx, id, reviewer, q.now())
	if err != nil {
		return nil, err
	}
	metrics.ReviewTransitionsTotal.WithLabelValues(string(models.ReviewStatusSkipped)).Inc()
	return entry, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.ReviewQueueEntry, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) ListPending(ctx context.Context, limit int) ([]models.ReviewQueueEntry, error) {
	if limit < 1 || limit > 500 {
		limit = defaultListLimit
	}
	return q.store.ListPending(ctx, limit)
}
