// Package ledger records every resolution decision and aggregates accuracy
// over time windows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/google/uuid"
)

// ConfidenceBuckets is the number of equal-width buckets over [0, 1]
const ConfidenceBuckets = 10

type Ledger struct {
	store  Store
	logger ectologger.Logger
	now    func() time.Time
}

func NewLedger(store Store, logger ectologger.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append records d, assigning an id and timestamp when missing
func (l *Ledger) Append(ctx context.Context, d *models.ResolutionDecision) error {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Append")
	defer span.End()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = l.now()
	}
	if err := l.store.Append(ctx, d); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("appending resolution decision: %w", err)
	}

	metrics.ResolutionsTotal.WithLabelValues(string(d.Method)).Inc()
	metrics.ResolutionConfidence.WithLabelValues(string(d.Method)).Observe(d.Confidence)
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.ResolutionDecision, error) {
	return l.store.Get(ctx, id)
}

// Validate attaches a human verdict to a decision. A second validation fails
// with ErrAlreadyValidated.
func (l *Ledger) Validate(ctx context.Context, id, reviewer string, correct bool, resolvedEntityID *string) (*models.ResolutionDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Validate")
	defer span.End()

	d, err := l.store.Validate(ctx, id, models.Validation{
		ReviewerID:       reviewer,
		Correct:          correct,
		ResolvedEntityID: resolvedEntityID,
		ValidatedAt:      l.now(),
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithContext(ctx).WithFields(map[string]any{
		"decision_id": id,
		"reviewer":    reviewer,
		"correct":     correct,
	}).Info("Validated resolution decision")
	return d, nil
}

func (l *Ledger) ListBetween(ctx context.Context, from, to time.Time) ([]models.ResolutionDecision, error) {
	return l.store.ListBetween(ctx, from, to)
}

// WindowMetrics summarizes the decisions created in one window
type WindowMetrics struct {
	Start        time.Time                       `json:"start"`
	End          time.Time                       `json:"end"`
	Total        int                             `json:"total"`
	ByMethod     map[models.ResolutionMethod]int `json:"by_method"`
	Buckets      [ConfidenceBuckets]int          `json:"confidence_buckets"`
	AutoAccepted int                             `json:"auto_accepted"`
	Reviewed     int                             `json:"reviewed"`
	Correct      int                             `json:"correct"`
	Precision    *float64                        `json:"precision"`
}

// Aggregate splits [from, to) into windows of the given width. The last
// window is truncated at to.
func (l *Ledger) Aggregate(ctx context.Context, from, to time.Time, window time.Duration) ([]WindowMetrics, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Aggregate")
	defer span.End()

	if !to.After(from) {
		return nil, fmt.Errorf("aggregate range end %s must be after start %s", to, from)
	}
	if window <= 0 {
		window = to.Sub(from)
	}

	decisions, err := l.store.ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}

	var windows []WindowMetrics
	for start := from; start.Before(to); start = start.Add(window) {
		end := start.Add(window)
		if end.After(to) {
			end = to
		}
		windows = append(windows, WindowMetrics{Start: start, End: end, ByMethod: make(map[models.ResolutionMethod]int)})
	}

	for _, d := range decisions {
		i := int(d.CreatedAt.Sub(from) / window)
		if i < 0 || i >= len(windows) {
			continue
		}
		w := &windows[i]
		w.Total++
		w.ByMethod[d.Method]++
		w.Buckets[bucket(d.Confidence)]++
		if d.AutoAccepted {
			w.AutoAccepted++
		}
		if d.HumanValidated && d.HumanCorrect != nil {
			w.Reviewed++
			if *d.HumanCorrect {
				w.Correct++
			}
		}
	}

	for i := range windows {
		if windows[i].Reviewed > 0 {
			p := float64(windows[i].Correct) / float64(windows[i].Reviewed)
			windows[i].Precision = &p
		}
	}
	return windows, nil
}

func bucket(confidence float64) int {
	b := int(confidence * ConfidenceBuckets)
	if b < 0 {
		return 0
	}
	if b >= ConfidenceBuckets {
		return ConfidenceBuckets - 1
	}
	return b
}
