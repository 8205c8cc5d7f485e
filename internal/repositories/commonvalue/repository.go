package commonvalue

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/distinctiveness"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var valueColumns = []string{
	"attribute_kind", "normalized_value", "distinct_entity_count", "rejection_count",
	"flagged", "flagged_at", "updated_at",
}

// Repository persists common-value records. Flags are sticky: an upsert can
// set flagged but never clear it.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ distinctiveness.Store = (*Repository)(nil)

func (r *Repository) Upsert(ctx context.Context, records []models.CommonValueRecord) ([]models.CommonValueRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "commonvalue.Repository.Upsert")
	defer span.End()

	records = collapse(records)
	if len(records) == 0 {
		return nil, nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("common_values")
	ib.Cols(valueColumns...)
	for _, rec := range records {
		flaggedAt := rec.FlaggedAt
		if rec.Flagged && flaggedAt == nil {
			at := rec.UpdatedAt
			flaggedAt = &at
		}
		ib.Values(rec.AttributeKind, rec.NormalizedValue, rec.DistinctEntityCount, rec.RejectionCount,
			rec.Flagged, flaggedAt, rec.UpdatedAt)
	}

	ub := ib.OnConflict("attribute_kind", "normalized_value")
	ub.Set(
		// a zero count is a rejection-only row and keeps the last computed count
		ub.Assign("distinct_entity_count", sqlbuilder.Raw("CASE WHEN EXCLUDED.distinct_entity_count = 0 THEN common_values.distinct_entity_count ELSE EXCLUDED.distinct_entity_count END")),
		ub.Assign("rejection_count", sqlbuilder.Raw("common_values.rejection_count + EXCLUDED.rejection_count")),
		ub.Assign("flagged", sqlbuilder.Raw("common_values.flagged OR EXCLUDED.flagged")),
		ub.Assign("flagged_at", sqlbuilder.Raw("COALESCE(common_values.flagged_at, EXCLUDED.flagged_at)")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ib.Returning(valueColumns...)

	query, args := ib.Build()
	var out []models.CommonValueRecord
	if err := r.db.Q(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(records)).Error("Failed to upsert common values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert common values")
	}
	return out, nil
}

func (r *Repository) ListFlagged(ctx context.Context) ([]models.CommonValueRecord, error) {
	return r.List(ctx, "", true, 0)
}

func (r *Repository) List(ctx context.Context, kind string, flaggedOnly bool, limit int) ([]models.CommonValueRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "commonvalue.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(valueColumns...)
	sb.From("common_values")
	var where []string
	if kind != "" {
		where = append(where, sb.Equal("attribute_kind", kind))
	}
	if flaggedOnly {
		where = append(where, "flagged")
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("distinct_entity_count DESC", "attribute_kind", "normalized_value")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var out []models.CommonValueRecord
	if err := r.db.Q(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list common values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list common values")
	}
	return out, nil
}

// collapse merges duplicate keys. Postgres rejects an upsert that touches the
// same row twice in one statement.
func collapse(records []models.CommonValueRecord) []models.CommonValueRecord {
	index := make(map[models.AttributeKey]int, len(records))
	out := make([]models.CommonValueRecord, 0, len(records))
	for _, rec := range records {
		key := models.AttributeKey{Kind: rec.AttributeKind, Value: rec.NormalizedValue}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}
		m := &out[i]
		m.RejectionCount += rec.RejectionCount
		m.Flagged = m.Flagged || rec.Flagged
		if rec.DistinctEntityCount > m.DistinctEntityCount {
			m.DistinctEntityCount = rec.DistinctEntityCount
		}
		if rec.UpdatedAt.After(m.UpdatedAt) {
			m.UpdatedAt = rec.UpdatedAt
		}
		if m.FlaggedAt == nil {
			m.FlaggedAt = rec.FlaggedAt
		}
	}
	return out
}
