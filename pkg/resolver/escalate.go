package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/arbitration"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/google/uuid"
)

// escalate tries arbitration and falls back to the review queue. It must not
// be called while a creation lock is held.
func (e *Engine) escalate(ctx context.Context, r *resolution, ev evaluation) (*models.ResolutionResult, error) {
	reason := ev.decision.Reason

	top := ev.scored
	if len(top) > e.config.ArbitrationTopK {
		top = top[:e.config.ArbitrationTopK]
	}
	req := arbitration.Request{Record: r.normalized, Candidates: top}

	verdict, err := e.arbitrate(ctx, req)
	if err == nil {
		switch verdict.Outcome {
		case arbitration.OutcomeMatch:
			for _, c := range top {
				if c.Entity.ID == verdict.EntityID {
					return e.acceptMatch(ctx, r, c.Entity, models.MethodArbitration, verdict.Confidence, c.Signals, verdict.Rationale)
				}
			}
		case arbitration.OutcomeCreateNew:
			return e.create(ctx, r, ev, models.MethodArbitration, verdict.Rationale, true)
		}
	}
	if err != nil && !errors.Is(err, arbitration.ErrUnavailable) {
		reason = fmt.Sprintf("%s; arbitration: %v", reason, err)
	}
	return e.enqueue(ctx, r, ev, reason)
}

// arbitrate calls the gateway under a deadline and checks the verdict. Any
// error means the case goes to review.
func (e *Engine) arbitrate(ctx context.Context, req arbitration.Request) (arbitration.Verdict, error) {
	actx, cancel := context.WithTimeout(ctx, e.config.ArbitrationTimeout)
	defer cancel()

	verdict, err := e.Gateway.Arbitrate(actx, req)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, arbitration.ErrUnavailable):
			outcome = "disabled"
		case errors.Is(err, arbitration.ErrCircuitOpen):
			outcome = "circuitOpen"
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
		}
		metrics.ArbitrationCallsTotal.WithLabelValues(outcome).Inc()
		if outcome != "disabled" {
			e.logger.WithContext(ctx).WithError(err).Warnf("Arbitration failed (%s); escalating to review", outcome)
		}
		return arbitration.Verdict{}, err
	}

	if err := arbitration.Check(verdict, req, e.config.ArbitrationMinConfidence); err != nil {
		metrics.ArbitrationCallsTotal.WithLabelValues("rejected").Inc()
		e.logger.WithContext(ctx).WithError(err).Info("Arbitration verdict not actionable; escalating to review")
		return arbitration.Verdict{}, err
	}
	metrics.ArbitrationCallsTotal.WithLabelValues(string(verdict.Outcome)).Inc()
	return verdict, nil
}

// enqueue records an escalated decision and its queue entry. The decision is
// written first so a failed ledger never leaves a pending entry behind.
func (e *Engine) enqueue(ctx context.Context, r *resolution, ev evaluation, reason string) (*models.ResolutionResult, error) {
	decisionID := uuid.New().String()
	entryID := uuid.New().String()

	entry := &models.ReviewQueueEntry{
		ID:                entryID,
		DecisionID:        decisionID,
		Record:            r.record,
		CandidateFeatures: r.normalized,
		Reason:            reason,
	}
	for i, c := range ev.scored {
		if i >= e.config.QueueTopK {
			break
		}
		entry.CandidateIDs = append(entry.CandidateIDs, c.Entity.ID)
	}
	if best := ev.decision.Best; best != nil {
		top := best.Entity.ID
		entry.TopCandidateID = &top
		entry.Confidence = best.Confidence
		entry.Signals = best.Signals
		entry.Priority = ev.decision.Priority
	}

	d := &models.ResolutionDecision{
		ID:                decisionID,
		CandidateFeatures: r.normalized,
		TopCandidateID:    entry.TopCandidateID,
		Confidence:        entry.Confidence,
		Signals:           entry.Signals,
		Method:            models.MethodEscalated,
		QueueEntryID:      &entryID,
		Rationale:         reason,
	}

	err := e.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.Ledger.Append(ctx, d); err != nil {
			return retryable("ledger append", err)
		}
		if _, err := e.Queue.Enqueue(ctx, entry); err != nil {
			return retryable("review enqueue", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, d, nil)

	return &models.ResolutionResult{
		Confidence:   d.Confidence,
		Method:       models.MethodEscalated,
		Signals:      d.Signals,
		DecisionID:   d.ID,
		QueueEntryID: &entryID,
	}, nil
}
