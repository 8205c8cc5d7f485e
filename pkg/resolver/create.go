package resolver

import (
	"context"
	"errors"

	"github.com/Ramsey-B/clover/pkg/decision"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/registry"
)

// fingerprintKey is the creation lock key for a record
func fingerprintKey(n models.NormalizedRecord) string {
	return "create:" + fingerprint.Signature(n)
}

// create makes a new entity under the record's signature lock. The record is
// re-resolved under the lock so a concurrent creator's entity is found and
// merged into instead of duplicated. When settled is set the existing
// candidates were already ruled out (by the arbiter), so only a deterministic
// hit or an auto-accept can still turn the create into a match.
func (e *Engine) create(ctx context.Context, r *resolution, prior evaluation, method models.ResolutionMethod, rationale string, settled bool) (*models.ResolutionResult, error) {
	unlock, err := e.Locker.Lock(ctx, fingerprintKey(r.normalized))
	if err != nil {
		return nil, retryable("creation lock", err)
	}
	held := true
	release := func() {
		if held {
			unlock()
			held = false
		}
	}
	defer release()

	ev, err := e.evaluate(ctx, r)
	if err != nil {
		return nil, err
	}

	switch {
	case ev.hit != nil:
		release()
		metrics.CreationRacesTotal.WithLabelValues("deterministic").Inc()
		return e.acceptMatch(ctx, r, ev.hit, models.MethodDeterministic, matching.DeterministicConfidence, nil, "definitive identifier "+ev.hitKind)
	case ev.decision.Outcome == decision.OutcomeAutoAccept:
		release()
		if prior.decision.Outcome != decision.OutcomeAutoAccept {
			metrics.CreationRacesTotal.WithLabelValues("multiSignal").Inc()
		}
		best := ev.decision.Best
		return e.acceptMatch(ctx, r, best.Entity, models.MethodMultiSignal, best.Confidence, best.Signals, "")
	case ev.decision.Outcome == decision.OutcomeEscalate && !settled:
		release()
		metrics.CreationRacesTotal.WithLabelValues("escalated").Inc()
		return e.escalate(ctx, r, ev)
	}

	entity := e.newEntity(r.normalized)
	d := &models.ResolutionDecision{
		CandidateFeatures: r.normalized,
		MatchedEntityID:   &entity.ID,
		Confidence:        0,
		Method:            method,
		Rationale:         rationale,
	}
	if best := ev.decision.Best; best != nil {
		top := best.Entity.ID
		d.TopCandidateID = &top
		d.Confidence = best.Confidence
		d.Signals = best.Signals
	}

	// the entity and its creation decision commit together, under the lock
	var conflict *registry.IdentifierConflictError
	err = e.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.Registry.Create(ctx, entity); err != nil {
			if errors.As(err, &conflict) {
				return err
			}
			return retryable("create entity", err)
		}
		if err := e.Ledger.Append(ctx, d); err != nil {
			return retryable("ledger append", err)
		}
		return nil
	})
	release()
	if conflict != nil {
		metrics.CreationRacesTotal.WithLabelValues("conflict").Inc()
		owner, gerr := e.Registry.GetEntity(ctx, conflict.OwnerID)
		if gerr != nil {
			return nil, retryable("load conflicting entity", gerr)
		}
		return e.acceptMatch(ctx, r, owner, models.MethodDeterministic, matching.DeterministicConfidence, nil, "definitive identifier "+conflict.Kind)
	}
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entity.ID,
		"method":      method,
		"decision_id": d.ID,
	}).Info("Created canonical entity")
	e.notify(ctx, d, entity)

	return &models.ResolutionResult{
		EntityID:   entity.ID,
		Confidence: d.Confidence,
		Method:     method,
		Signals:    d.Signals,
		DecisionID: d.ID,
		Created:    true,
	}, nil
}
