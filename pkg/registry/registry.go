// Package registry defines the canonical entity store the resolver works against.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	ErrIdentifierConflict = errors.New("identifier already owned by an active entity")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrEntityExists       = errors.New("entity already exists")
)

// IdentifierConflictError reports which identifier collided on create
type IdentifierConflictError struct {
	Kind    string
	Value   string
	OwnerID string
}

func (e *IdentifierConflictError) Error() string {
	return fmt.Sprintf("identifier %s=%s already owned by entity %s", e.Kind, e.Value, e.OwnerID)
}

func (e *IdentifierConflictError) Is(target error) bool {
	return target == ErrIdentifierConflict
}

// Registry is the identity store: exact identifier index, blocking index,
// create and additive merge. Only active entities are ever returned.
type Registry interface {
	FindByIdentifier(ctx context.Context, kind, value string) (*models.CanonicalEntity, error)
	FindByBlockingKey(ctx context.Context, key models.AttributeKey, limit int) ([]string, error)
	GetEntities(ctx context.Context, ids []string) ([]*models.CanonicalEntity, error)
	GetEntity(ctx context.Context, id string) (*models.CanonicalEntity, error)
	// Create inserts e. Identifier collisions return an *IdentifierConflictError
	// and a reused id returns ErrEntityExists.
	Create(ctx context.Context, e *models.CanonicalEntity) error
	// Merge appends aliases, facts and unowned identifiers. Identifiers owned
	// by another entity are skipped.
	Merge(ctx context.Context, id string, patch models.EntityPatch) (*models.CanonicalEntity, error)
	// CountDistinctValues returns values of the given fact kinds shared by at
	// least minCount distinct active entities.
	CountDistinctValues(ctx context.Context, kinds []string, minCount int) ([]models.CommonValueRecord, error)
}
