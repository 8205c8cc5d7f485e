package reviewqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var entryColumns = []string{
	"id", "decision_id", "record", "candidate_features", "top_candidate_id", "candidate_ids",
	"confidence", "signals", "status", "priority", "reason", "claimed_by", "claimed_at",
	"decision", "resolved_entity_id", "created_at", "updated_at",
}

type entryRow struct {
	ID               string                                  `db:"id"`
	DecisionID       string                                  `db:"decision_id"`
	Record           database.JSONB[models.CandidateRecord]  `db:"record"`
	Features         database.JSONB[models.NormalizedRecord] `db:"candidate_features"`
	TopCandidateID   *string                                 `db:"top_candidate_id"`
	CandidateIDs     pq.StringArray                          `db:"candidate_ids"`
	Confidence       float64                                 `db:"confidence"`
	Signals          database.JSONB[[]models.MatchSignal]    `db:"signals"`
	Status           models.ReviewStatus                     `db:"status"`
	Priority         float64                                 `db:"priority"`
	Reason           string                                  `db:"reason"`
	ClaimedBy        *string                                 `db:"claimed_by"`
	ClaimedAt        *time.Time                              `db:"claimed_at"`
	Decision         *models.ReviewDecision                  `db:"decision"`
	ResolvedEntityID *string                                 `db:"resolved_entity_id"`
	CreatedAt        time.Time                               `db:"created_at"`
	UpdatedAt        time.Time                               `db:"updated_at"`
}

func (r entryRow) toModel() models.ReviewQueueEntry {
	return models.ReviewQueueEntry{
		ID:                r.ID,
		DecisionID:        r.DecisionID,
		Record:            r.Record.GetValue(),
		CandidateFeatures: r.Features.GetValue(),
		TopCandidateID:    r.TopCandidateID,
		CandidateIDs:      []string(r.CandidateIDs),
		Confidence:        r.Confidence,
		Signals:           r.Signals.GetValue(),
		Status:            r.Status,
		Priority:          r.Priority,
		Reason:            r.Reason,
		ClaimedBy:         r.ClaimedBy,
		ClaimedAt:         r.ClaimedAt,
		Decision:          r.Decision,
		ResolvedEntityID:  r.ResolvedEntityID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// Repository is the Postgres review queue. Every transition is a single
// UPDATE guarded by the expected status, so concurrent reviewers race on the
// row and exactly one wins.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ review.Store = (*Repository)(nil)

func (r *Repository) Insert(ctx context.Context, e *models.ReviewQueueEntry) error {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Insert")
	defer span.End()

	candidateIDs := e.CandidateIDs
	if candidateIDs == nil {
		candidateIDs = []string{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("review_queue")
	ib.Cols(entryColumns...)
	ib.Values(
		e.ID, e.DecisionID, database.NewJSONB(e.Record), database.NewJSONB(e.CandidateFeatures),
		e.TopCandidateID, pq.StringArray(candidateIDs), e.Confidence, database.NewJSONB(e.Signals),
		e.Status, e.Priority, e.Reason, e.ClaimedBy, e.ClaimedAt, e.Decision, e.ResolvedEntityID,
		e.CreatedAt, e.UpdatedAt,
	)

	query, args := ib.Build()
	if _, err := r.db.Q(ctx).ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("queue_entry_id", e.ID).Error("Failed to insert review queue entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert review queue entry")
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("review_queue")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row entryRow
	if err := r.db.Q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", review.ErrNotFound, id)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("queue_entry_id", id).Error("Failed to get review queue entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get review queue entry")
	}
	e := row.toModel()
	return &e, nil
}

func (r *Repository) Claim(ctx context.Context, id, reviewer string, at time.Time) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Claim")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("review_queue")
	ub.Set(
		ub.Assign("status", models.ReviewStatusInReview),
		ub.Assign("claimed_by", reviewer),
		ub.Assign("claimed_at", at),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.ReviewStatusPending),
	)

	e, err := r.transition(ctx, ub)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if e != nil {
		return e, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", review.ErrAlreadyClaimed, id)
}

func (r *Repository) Complete(ctx context.Context, id, reviewer string, decision models.ReviewDecision, resolvedEntityID *string, at time.Time) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Complete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("review_queue")
	ub.Set(
		ub.Assign("status", models.ReviewStatusCompleted),
		ub.Assign("decision", decision),
		ub.Assign("resolved_entity_id", resolvedEntityID),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.ReviewStatusInReview),
		ub.Equal("claimed_by", reviewer),
	)

	e, err := r.transition(ctx, ub)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if e != nil {
		return e, nil
	}
	return nil, r.explain(ctx, id, reviewer)
}

func (r *Repository) Skip(ctx context.Context, id, reviewer string, at time.Time) (*models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.Skip")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("review_queue")
	ub.Set(
		ub.Assign("status", models.ReviewStatusSkipped),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.ReviewStatusInReview),
		ub.Equal("claimed_by", reviewer),
	)

	e, err := r.transition(ctx, ub)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if e != nil {
		return e, nil
	}
	return nil, r.explain(ctx, id, reviewer)
}

// transition runs a guarded update. A nil entry means the guard did not match.
func (r *Repository) transition(ctx context.Context, ub *sqlbuilder.UpdateBuilder) (*models.ReviewQueueEntry, error) {
	ub.SQL("RETURNING " + strings.Join(entryColumns, ", "))

	query, args := ub.Build()
	var row entryRow
	if err := r.db.Q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update review queue entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update review queue entry")
	}
	e := row.toModel()
	return &e, nil
}

// explain classifies a failed guarded update the way the in-memory store does
func (r *Repository) explain(ctx context.Context, id, reviewer string) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != models.ReviewStatusInReview {
		return fmt.Errorf("%w: %s is %s", review.ErrInvalidTransition, id, e.Status)
	}
	if e.ClaimedBy == nil || *e.ClaimedBy != reviewer {
		return fmt.Errorf("%w: %s", review.ErrNotClaimant, id)
	}
	// the row changed between the update and the read
	return fmt.Errorf("%w: %s", review.ErrInvalidTransition, id)
}

func (r *Repository) ListPending(ctx context.Context, limit int) ([]models.ReviewQueueEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "reviewqueue.Repository.ListPending")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("review_queue")
	sb.Where(sb.Equal("status", models.ReviewStatusPending))
	sb.OrderBy("priority DESC", "created_at ASC", "id ASC")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []entryRow
	if err := r.db.Q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending review queue entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending review queue entries")
	}

	out := make([]models.ReviewQueueEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
