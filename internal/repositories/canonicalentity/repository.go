package canonicalentity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/blocking"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	uniqueViolation = "23505"
	entityPkey      = "canonical_entities_pkey"
)

var entityColumns = []string{
	"id", "entity_type", "canonical_name", "aliases", "definitive_identifiers",
	"fact_attributes", "active", "superseded_by", "created_at", "last_seen_at",
}

type entityRow struct {
	ID            string                                 `db:"id"`
	EntityType    models.EntityType                      `db:"entity_type"`
	CanonicalName string                                 `db:"canonical_name"`
	Aliases       pq.StringArray                         `db:"aliases"`
	Identifiers   database.JSONB[map[string]string]      `db:"definitive_identifiers"`
	Facts         database.JSONB[[]models.FactAttribute] `db:"fact_attributes"`
	Active        bool                                   `db:"active"`
	SupersededBy  *string                                `db:"superseded_by"`
	CreatedAt     time.Time                              `db:"created_at"`
	LastSeenAt    time.Time                              `db:"last_seen_at"`
}

func (r entityRow) toModel() *models.CanonicalEntity {
	return &models.CanonicalEntity{
		ID:                    r.ID,
		EntityType:            r.EntityType,
		CanonicalName:         r.CanonicalName,
		Aliases:               []string(r.Aliases),
		DefinitiveIdentifiers: r.Identifiers.GetValue(),
		FactAttributes:        r.Facts.GetValue(),
		Active:                r.Active,
		SupersededBy:          r.SupersededBy,
		CreatedAt:             r.CreatedAt,
		LastSeenAt:            r.LastSeenAt,
	}
}

// Repository is the Postgres registry. Identifier ownership is enforced by a
// unique index on (kind, value) among active entities.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ registry.Registry = (*Repository)(nil)

func (r *Repository) FindByIdentifier(ctx context.Context, kind, value string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.FindByIdentifier")
	defer span.End()

	query, args := ownerQuery(kind, value)
	var id string
	if err := r.db.Q(ctx).GetContext(ctx, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind}).Error("Failed to find entity by identifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find entity by identifier")
	}
	return r.GetEntity(ctx, id)
}

func (r *Repository) FindByBlockingKey(ctx context.Context, key models.AttributeKey, limit int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.FindByBlockingKey")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("a.entity_id")
	sb.From("entity_attributes a")
	sb.Join("canonical_entities e", "e.id = a.entity_id")
	sb.Where(
		sb.Equal("a.kind", key.Kind),
		sb.Equal("a.value", key.Value),
		"e.active",
	)
	sb.OrderBy("a.entity_id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var ids []string
	if err := r.db.Q(ctx).SelectContext(ctx, &ids, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": key.Kind}).Error("Failed to find entities by blocking key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find entities by blocking key")
	}
	return ids, nil
}

func (r *Repository) GetEntities(ctx context.Context, ids []string) ([]*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.GetEntities")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(entityColumns...)
	sb.From("canonical_entities")
	sb.Where(
		sb.In("id", sqlbuilder.Flatten(ids)...),
		"active",
	)
	sb.OrderBy("id")

	query, args := sb.Build()
	var rows []entityRow
	if err := r.db.Q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("Failed to get entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entities")
	}

	out := make([]*models.CanonicalEntity, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *Repository) GetEntity(ctx context.Context, id string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.GetEntity")
	defer span.End()

	row, err := r.get(ctx, id, false)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return row.toModel(), nil
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*entityRow, error) {
	sb := database.NewSelectBuilder()
	sb.Select(entityColumns...)
	sb.From("canonical_entities")
	sb.Where(sb.Equal("id", id))
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var row entityRow
	if err := r.db.Q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", registry.ErrEntityNotFound, id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}
	return &row, nil
}

// Create inserts the entity, its identifiers and its index rows in one
// transaction. A unique violation on an identifier is reported with the
// current owner.
func (r *Repository) Create(ctx context.Context, e *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Create")
	defer span.End()

	err := database.WithTx(ctx, r.db, func(ctx context.Context) error {
		ib := database.NewInsertBuilder()
		ib.InsertInto("canonical_entities")
		ib.Cols(entityColumns...)
		ib.Values(
			e.ID, e.EntityType, e.CanonicalName, pq.StringArray(nonNil(e.Aliases)),
			database.NewJSONB(e.DefinitiveIdentifiers), database.NewJSONB(e.FactAttributes),
			e.Active, e.SupersededBy, e.CreatedAt, e.LastSeenAt,
		)
		query, args := ib.Build()
		if _, err := r.db.Q(ctx).ExecContext(ctx, query, args...); err != nil {
			return err
		}

		if len(e.DefinitiveIdentifiers) > 0 {
			ib := database.NewInsertBuilder()
			ib.InsertInto("entity_identifiers")
			ib.Cols("entity_id", "kind", "value", "active")
			for kind, value := range e.DefinitiveIdentifiers {
				ib.Values(e.ID, kind, value, true)
			}
			query, args := ib.Build()
			if _, err := r.db.Q(ctx).ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}

		return r.index(ctx, e)
	})
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == entityPkey {
			return registry.ErrEntityExists
		}
		return r.conflict(ctx, e.DefinitiveIdentifiers)
	}
	tracing.RecordError(span, err)
	r.logger.WithContext(ctx).WithError(err).WithField("entity_id", e.ID).Error("Failed to create entity")
	return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity")
}

func ownerQuery(kind, value string) (string, []any) {
	sb := database.NewSelectBuilder()
	sb.Select("i.entity_id")
	sb.From("entity_identifiers i")
	sb.Join("canonical_entities e", "e.id = i.entity_id")
	sb.Where(
		sb.Equal("i.kind", kind),
		sb.Equal("i.value", value),
		"i.active",
		"e.active",
	)
	sb.Limit(1)
	return sb.Build()
}

// conflict finds which identifier is already owned after a unique violation.
// It reads through the pool: a caller's transaction is aborted by the violation.
func (r *Repository) conflict(ctx context.Context, identifiers map[string]string) error {
	for kind, value := range identifiers {
		query, args := ownerQuery(kind, value)
		var owner string
		if err := r.db.GetContext(ctx, &owner, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			r.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to find identifier owner")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to find identifier owner")
		}
		return &registry.IdentifierConflictError{Kind: kind, Value: value, OwnerID: owner}
	}
	// the owner was deactivated between the insert and the lookup
	return httperror.NewHTTPError(http.StatusServiceUnavailable, "identifier ownership changed during create")
}

// Merge locks the entity row, claims the patch identifiers nobody else owns,
// and rewrites the entity with the patch applied
func (r *Repository) Merge(ctx context.Context, id string, patch models.EntityPatch) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.Merge")
	defer span.End()

	var merged *models.CanonicalEntity
	err := database.WithTx(ctx, r.db, func(ctx context.Context) error {
		row, err := r.get(ctx, id, true)
		if err != nil {
			return err
		}
		if !row.Active {
			return fmt.Errorf("%w: %s", registry.ErrEntityNotFound, id)
		}
		e := row.toModel()

		owned, err := r.claimIdentifiers(ctx, e, patch.Identifiers)
		if err != nil {
			return err
		}
		patch.Identifiers = owned
		e.Apply(patch)

		ub := database.NewUpdateBuilder()
		ub.Update("canonical_entities")
		ub.Set(
			ub.Assign("aliases", pq.StringArray(nonNil(e.Aliases))),
			ub.Assign("definitive_identifiers", database.NewJSONB(e.DefinitiveIdentifiers)),
			ub.Assign("fact_attributes", database.NewJSONB(e.FactAttributes)),
			ub.Assign("last_seen_at", e.LastSeenAt),
		)
		ub.Where(ub.Equal("id", id))
		query, args := ub.Build()
		if _, err := r.db.Q(ctx).ExecContext(ctx, query, args...); err != nil {
			return err
		}

		if err := r.index(ctx, e); err != nil {
			return err
		}
		merged = e
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrEntityNotFound) || httperror.IsHTTPError(err) {
			return nil, err
		}
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to merge entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entity")
	}
	return merged, nil
}

// claimIdentifiers inserts the identifiers e does not already carry. Rows
// rejected by the unique index belong to another entity and are dropped.
func (r *Repository) claimIdentifiers(ctx context.Context, e *models.CanonicalEntity, identifiers map[string]string) (map[string]string, error) {
	ib := database.NewInsertBuilder()
	ib.InsertInto("entity_identifiers")
	ib.Cols("entity_id", "kind", "value", "active")
	values := 0
	for kind, value := range identifiers {
		if _, has := e.DefinitiveIdentifiers[kind]; has {
			continue
		}
		ib.Values(e.ID, kind, value, true)
		values++
	}
	if values == 0 {
		return nil, nil
	}
	ib.OnConflictDoNothing()
	ib.Returning("kind", "value")

	query, args := ib.Build()
	var rows []models.AttributeKey
	if err := r.db.Q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	owned := make(map[string]string, len(rows))
	for _, row := range rows {
		owned[row.Kind] = row.Value
	}
	return owned, nil
}

func (r *Repository) index(ctx context.Context, e *models.CanonicalEntity) error {
	keys := blocking.IndexKeys(e)
	if len(keys) == 0 {
		return nil
	}
	ib := database.NewInsertBuilder()
	ib.InsertInto("entity_attributes")
	ib.Cols("entity_id", "kind", "value")
	for _, k := range keys {
		ib.Values(e.ID, k.Kind, k.Value)
	}
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	_, err := r.db.Q(ctx).ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) CountDistinctValues(ctx context.Context, kinds []string, minCount int) ([]models.CommonValueRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalentity.Repository.CountDistinctValues")
	defer span.End()

	if len(kinds) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(
		sb.As("a.kind", "attribute_kind"),
		sb.As("a.value", "normalized_value"),
		sb.As("COUNT(DISTINCT a.entity_id)", "distinct_entity_count"),
	)
	sb.From("entity_attributes a")
	sb.Join("canonical_entities e", "e.id = a.entity_id")
	sb.Where(
		sb.In("a.kind", sqlbuilder.Flatten(kinds)...),
		"e.active",
	)
	sb.GroupBy("a.kind", "a.value")
	sb.Having(sb.GreaterEqualThan("COUNT(DISTINCT a.entity_id)", minCount))
	sb.OrderBy("a.kind", "a.value")

	query, args := sb.Build()
	var out []models.CommonValueRecord
	if err := r.db.Q(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count distinct attribute values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count distinct attribute values")
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
