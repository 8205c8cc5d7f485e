package resolutiondecision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var decisionColumns = []string{
	"id", "candidate_features", "matched_entity_id", "top_candidate_id", "confidence",
	"signals", "method", "auto_accepted", "queue_entry_id", "rationale", "created_at",
	"human_validated", "human_correct", "reviewer_id", "validated_at", "human_resolved_entity_id",
}

type decisionRow struct {
	ID                    string                                  `db:"id"`
	Features              database.JSONB[models.NormalizedRecord] `db:"candidate_features"`
	MatchedEntityID       *string                                 `db:"matched_entity_id"`
	TopCandidateID        *string                                 `db:"top_candidate_id"`
	Confidence            float64                                 `db:"confidence"`
	Signals               database.JSONB[[]models.MatchSignal]    `db:"signals"`
	Method                models.ResolutionMethod                 `db:"method"`
	AutoAccepted          bool                                    `db:"auto_accepted"`
	QueueEntryID          *string                                 `db:"queue_entry_id"`
	Rationale             string                                  `db:"rationale"`
	CreatedAt             time.Time                               `db:"created_at"`
	HumanValidated        bool                                    `db:"human_validated"`
	HumanCorrect          *bool                                   `db:"human_correct"`
	ReviewerID            *string                                 `db:"reviewer_id"`
	ValidatedAt           *time.Time                              `db:"validated_at"`
	HumanResolvedEntityID *string                                 `db:"human_resolved_entity_id"`
}

func (r decisionRow) toModel() models.ResolutionDecision {
	return models.ResolutionDecision{
		ID:                    r.ID,
		CandidateFeatures:     r.Features.GetValue(),
		MatchedEntityID:       r.MatchedEntityID,
		TopCandidateID:        r.TopCandidateID,
		Confidence:            r.Confidence,
		Signals:               r.Signals.GetValue(),
		Method:                r.Method,
		AutoAccepted:          r.AutoAccepted,
		QueueEntryID:          r.QueueEntryID,
		Rationale:             r.Rationale,
		CreatedAt:             r.CreatedAt,
		HumanValidated:        r.HumanValidated,
		HumanCorrect:          r.HumanCorrect,
		ReviewerID:            r.ReviewerID,
		ValidatedAt:           r.ValidatedAt,
		HumanResolvedEntityID: r.HumanResolvedEntityID,
	}
}

// Repository is the Postgres ledger store. Rows are never updated except for
// the human columns, and only while human_validated is false.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ ledger.Store = (*Repository)(nil)

func (r *Repository) Append(ctx context.Context, d *models.ResolutionDecision) error {
	ctx, span := tracing.StartSpan(ctx, "resolutiondecision.Repository.Append")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto("resolution_decisions")
	ib.Cols(decisionColumns...)
	ib.Values(
		d.ID, database.NewJSONB(d.CandidateFeatures), d.MatchedEntityID, d.TopCandidateID, d.Confidence,
		database.NewJSONB(d.Signals), d.Method, d.AutoAccepted, d.QueueEntryID, d.Rationale, d.CreatedAt,
		d.HumanValidated, d.HumanCorrect, d.ReviewerID, d.ValidatedAt, d.HumanResolvedEntityID,
	)

	query, args := ib.Build()
	if _, err := r.db.Q(ctx).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicate, d.ID)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", d.ID).Error("Failed to append resolution decision")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append resolution decision")
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.ResolutionDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutiondecision.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(decisionColumns...)
	sb.From("resolution_decisions")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row decisionRow
	if err := r.db.Q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", id).Error("Failed to get resolution decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution decision")
	}
	d := row.toModel()
	return &d, nil
}

// Validate sets the human columns with a conditional update. Zero affected
// rows means the decision is missing or was already validated.
func (r *Repository) Validate(ctx context.Context, id string, v models.Validation) (*models.ResolutionDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutiondecision.Repository.Validate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("resolution_decisions")
	ub.Set(
		ub.Assign("human_validated", true),
		ub.Assign("human_correct", v.Correct),
		ub.Assign("reviewer_id", v.ReviewerID),
		ub.Assign("validated_at", v.ValidatedAt),
		ub.Assign("human_resolved_entity_id", v.ResolvedEntityID),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("human_validated", false),
	)

	query, args := ub.Build()
	res, err := r.db.Q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", id).Error("Failed to validate resolution decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to validate resolution decision")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ledger.ErrAlreadyValidated, id)
	}
	return r.Get(ctx, id)
}

func (r *Repository) ListBetween(ctx context.Context, from, to time.Time) ([]models.ResolutionDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutiondecision.Repository.ListBetween")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(decisionColumns...)
	sb.From("resolution_decisions")
	sb.Where(
		sb.GreaterEqualThan("created_at", from),
		sb.LessThan("created_at", to),
	)
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var rows []decisionRow
	if err := r.db.Q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list resolution decisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list resolution decisions")
	}

	out := make([]models.ResolutionDecision, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
