package resolver

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Listener observes committed resolutions. Entity is nil for escalations.
type Listener interface {
	OnResolved(ctx context.Context, decision *models.ResolutionDecision, entity *models.CanonicalEntity) error
}

// ReviewListener observes completed human reviews
type ReviewListener interface {
	OnReviewResolved(ctx context.Context, entry *models.ReviewQueueEntry, entity *models.CanonicalEntity) error
}
