package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
)

// signalFacts maps shared-value signals to the fact kind the tracker counts
var signalFacts = map[string]string{
	models.SignalAddress:         models.FactAddress,
	models.SignalPhone:           models.FactPhone,
	models.SignalEmailDomain:     models.FactEmailDomain,
	models.SignalRegisteredAgent: models.FactRegisteredAgent,
}

// ReviewOutcome is the result of applying a reviewer's decision
type ReviewOutcome struct {
	Entry   *models.ReviewQueueEntry `json:"entry"`
	Entity  *models.CanonicalEntity  `json:"entity"`
	Created bool                     `json:"created"`
}

// reviewEntities namespaces the ids of entities created by a review, so one
// queue entry always creates the same entity
var reviewEntities = uuid.MustParse("6f1c8a52-3d1e-4b7a-9c55-2e0d4f7b9a10")

// ReviewEntityID is the id of the entity a review of entryID creates
func ReviewEntityID(entryID string) string {
	return uuid.NewSHA1(reviewEntities, []byte(entryID)).String()
}

// ResolveReview applies a reviewer's decision to a claimed queue entry: the
// record is merged or a new entity created, the entry completed and the
// original ledger decision augmented with the human verdict. Calls for the
// same entry are serialized, and a repeated call never creates a second entity.
func (e *Engine) ResolveReview(ctx context.Context, id, reviewer string, req models.ResolveReviewRequest) (*ReviewOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Engine.ResolveReview")
	defer span.End()

	switch req.Decision {
	case models.ReviewDecisionAccept, models.ReviewDecisionReject, models.ReviewDecisionCreateNew:
	default:
		return nil, fmt.Errorf("unknown review decision %q", req.Decision)
	}

	unlock, err := e.Locker.Lock(ctx, "review:"+id)
	if err != nil {
		return nil, retryable("review lock", err)
	}
	defer unlock()

	entry, err := e.Queue.CheckResolvable(ctx, id, reviewer)
	if err != nil {
		return nil, err
	}

	var (
		entity    *models.CanonicalEntity
		created   bool
		correct   bool
		completed *models.ReviewQueueEntry
	)
	err = e.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		entity, created, correct, err = e.applyReview(ctx, entry, req)
		if err != nil {
			return err
		}
		completed, err = e.Queue.Resolve(ctx, id, reviewer, req.Decision, &entity.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if req.Decision == models.ReviewDecisionReject {
		e.recordRejections(entry)
	}

	if _, err := e.Ledger.Validate(ctx, entry.DecisionID, reviewer, correct, &entity.ID); err != nil {
		if !errors.Is(err, ledger.ErrAlreadyValidated) {
			return nil, retryable("ledger validate", err)
		}
		e.logger.WithContext(ctx).WithField("decision_id", entry.DecisionID).Warn("Escalated decision was already validated")
	}

	for _, l := range e.Listeners {
		rl, ok := l.(ReviewListener)
		if !ok {
			continue
		}
		if err := rl.OnReviewResolved(ctx, completed, entity); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("queue_entry_id", id).Warn("Review listener failed")
		}
	}

	return &ReviewOutcome{Entry: completed, Entity: entity, Created: created}, nil
}

// applyReview merges or creates as the reviewer decided. correct reports
// whether the escalated top candidate was the right answer.
func (e *Engine) applyReview(ctx context.Context, entry *models.ReviewQueueEntry, req models.ResolveReviewRequest) (entity *models.CanonicalEntity, created, correct bool, err error) {
	n := entry.CandidateFeatures

	switch req.Decision {
	case models.ReviewDecisionAccept:
		target := entry.TopCandidateID
		if req.ResolvedEntityID != nil {
			target = req.ResolvedEntityID
		}
		if target == nil {
			return nil, false, false, ErrNoTarget
		}
		entity, err = e.mergeReviewed(ctx, *target, n)
		correct = entry.TopCandidateID != nil && *entry.TopCandidateID == *target

	case models.ReviewDecisionReject:
		if req.ResolvedEntityID != nil {
			entity, err = e.mergeReviewed(ctx, *req.ResolvedEntityID, n)
		} else {
			entity, created, err = e.createReviewed(ctx, entry.ID, n)
		}

	case models.ReviewDecisionCreateNew:
		entity, created, err = e.createReviewed(ctx, entry.ID, n)
		correct = entry.TopCandidateID == nil
	}
	return entity, created, correct, err
}

// ValidateDecision audits any ledger decision, typically an auto-accept.
// Rejecting a multi-signal match feeds its shared values to the tracker.
func (e *Engine) ValidateDecision(ctx context.Context, id, reviewer string, correct bool, resolvedEntityID *string) (*models.ResolutionDecision, error) {
	d, err := e.Ledger.Validate(ctx, id, reviewer, correct, resolvedEntityID)
	if err != nil {
		return nil, err
	}
	if !correct && d.Method == models.MethodMultiSignal {
		e.recordSignalRejections(d.Signals)
	}
	return d, nil
}

func (e *Engine) mergeReviewed(ctx context.Context, entityID string, n models.NormalizedRecord) (*models.CanonicalEntity, error) {
	merged, err := e.Registry.Merge(ctx, entityID, e.patchFor(n))
	if err != nil {
		if errors.Is(err, registry.ErrEntityNotFound) {
			return nil, err
		}
		return nil, retryable("merge into "+entityID, err)
	}
	return merged, nil
}

// createReviewed creates without re-resolving: a human has already ruled out
// the candidates. The entity id is derived from the queue entry, so an entity
// left by an earlier attempt is reused. An identifier owned elsewhere still wins.
func (e *Engine) createReviewed(ctx context.Context, entryID string, n models.NormalizedRecord) (*models.CanonicalEntity, bool, error) {
	unlock, err := e.Locker.Lock(ctx, fingerprintKey(n))
	if err != nil {
		return nil, false, retryable("creation lock", err)
	}
	defer unlock()

	entity := e.newEntity(n)
	entity.ID = ReviewEntityID(entryID)

	existing, err := e.Registry.GetEntity(ctx, entity.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, registry.ErrEntityNotFound):
		return nil, false, retryable("load reviewed entity", err)
	}

	// a failed insert aborts a surrounding transaction, so owned identifiers
	// are looked up before creating
	for _, kind := range normalizers.SortedIdentifierKinds(entity.DefinitiveIdentifiers) {
		owner, err := e.Registry.FindByIdentifier(ctx, kind, entity.DefinitiveIdentifiers[kind])
		if err != nil {
			return nil, false, retryable("find identifier owner", err)
		}
		if owner != nil {
			merged, err := e.mergeReviewed(ctx, owner.ID, n)
			return merged, false, err
		}
	}

	if err := e.Registry.Create(ctx, entity); err != nil {
		if errors.Is(err, registry.ErrEntityExists) {
			existing, gerr := e.Registry.GetEntity(ctx, entity.ID)
			if gerr != nil {
				return nil, false, retryable("load reviewed entity", gerr)
			}
			return existing, false, nil
		}
		var conflict *registry.IdentifierConflictError
		if !errors.As(err, &conflict) {
			return nil, false, retryable("create entity", err)
		}
		merged, err := e.mergeReviewed(ctx, conflict.OwnerID, n)
		return merged, false, err
	}
	return entity, true, nil
}

func (e *Engine) recordRejections(entry *models.ReviewQueueEntry) {
	e.recordSignalRejections(entry.Signals)
}

func (e *Engine) recordSignalRejections(signals []models.MatchSignal) {
	for _, s := range signals {
		kind, ok := signalFacts[s.Name]
		if !ok || s.Value == 0 || s.MatchedValue == "" {
			continue
		}
		e.Tracker.RecordRejection(kind, s.MatchedValue)
	}
}
