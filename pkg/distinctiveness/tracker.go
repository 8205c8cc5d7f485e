// Package distinctiveness tracks attribute values shared by so many distinct
// entities that they no longer identify one (agent addresses, registered agents).
package distinctiveness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/blocking"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Source counts distinct active entities per fact value
type Source interface {
	CountDistinctValues(ctx context.Context, kinds []string, minCount int) ([]models.CommonValueRecord, error)
}

type Config struct {
	// Threshold is the distinct-entity count at which a value is flagged
	Threshold int
	// RejectionThreshold flags a value after this many reviewer rejections of matches that relied on it
	RejectionThreshold int
	// Kinds are the fact kinds tracked
	Kinds    []string
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:          10,
		RejectionThreshold: 3,
		Kinds: []string{
			models.FactRegisteredAgent,
			models.FactAddress,
			models.FactPhone,
			models.FactEmailDomain,
		},
		Interval: 15 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.Threshold < 2 {
		return fmt.Errorf("distinctiveness threshold must be at least 2, got %d", c.Threshold)
	}
	if c.RejectionThreshold < 1 {
		return fmt.Errorf("rejection threshold must be at least 1, got %d", c.RejectionThreshold)
	}
	tracked := make(map[string]struct{}, len(blocking.FactKinds))
	for _, k := range blocking.FactKinds {
		tracked[k] = struct{}{}
	}
	for _, k := range c.Kinds {
		if _, ok := tracked[k]; !ok {
			return fmt.Errorf("fact kind %q is not indexed and cannot be tracked", k)
		}
	}
	return nil
}

// Tracker publishes flagged-value snapshots. Readers call Snapshot or
// IsFlagged; only Recompute writes, and it swaps a complete new snapshot in.
type Tracker struct {
	source Source
	store  Store
	config Config
	logger ectologger.Logger

	snapshot atomic.Pointer[Snapshot]

	// recomputeMu serializes recomputes; rejectionsMu guards pending feedback
	recomputeMu  sync.Mutex
	rejectionsMu sync.Mutex
	rejections   map[models.AttributeKey]int
}

func NewTracker(source Source, store Store, config Config, logger ectologger.Logger) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		source:     source,
		store:      store,
		config:     config,
		logger:     logger,
		rejections: make(map[models.AttributeKey]int),
	}
	t.snapshot.Store(newSnapshot(map[models.AttributeKey]struct{}{}, 0, time.Time{}))
	return t, nil
}

// Snapshot returns the current flagged set. Hold on to it for the duration of
// one scoring pass so every candidate sees the same flags.
func (t *Tracker) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

func (t *Tracker) IsFlagged(kind, value string) bool {
	return t.snapshot.Load().IsFlagged(kind, value)
}

// Load seeds the snapshot from persisted flags
func (t *Tracker) Load(ctx context.Context) error {
	t.recomputeMu.Lock()
	defer t.recomputeMu.Unlock()

	records, err := t.store.ListFlagged(ctx)
	if err != nil {
		return fmt.Errorf("loading flagged values: %w", err)
	}

	prev := t.snapshot.Load()
	flagged := make(map[models.AttributeKey]struct{}, len(records)+prev.Len())
	for k := range prev.flagged {
		flagged[k] = struct{}{}
	}
	for _, r := range records {
		flagged[models.AttributeKey{Kind: r.AttributeKind, Value: r.NormalizedValue}] = struct{}{}
	}
	t.publish(newSnapshot(flagged, prev.Epoch+1, now()))
	t.logger.WithContext(ctx).Infof("Loaded %d flagged common values", len(flagged))
	return nil
}

// RecordRejection notes that a reviewer rejected a match that relied on this
// value. It takes effect at the next recompute.
func (t *Tracker) RecordRejection(kind, value string) {
	if value == "" {
		return
	}
	t.rejectionsMu.Lock()
	t.rejections[models.AttributeKey{Kind: kind, Value: value}]++
	t.rejectionsMu.Unlock()
}

// Recompute rescans the registry, persists counts and publishes a new
// snapshot. Previously flagged values stay flagged.
func (t *Tracker) Recompute(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "distinctiveness.Tracker.Recompute")
	defer span.End()

	t.recomputeMu.Lock()
	defer t.recomputeMu.Unlock()

	start := time.Now()
	counts, err := t.source.CountDistinctValues(ctx, t.config.Kinds, 2)
	if err != nil {
		return nil, fmt.Errorf("counting distinct values: %w", err)
	}

	rejections := t.takeRejections()
	prev := t.snapshot.Load()
	at := now()

	records := make([]models.CommonValueRecord, 0, len(counts)+len(rejections))
	seen := make(map[models.AttributeKey]struct{}, len(counts))
	for _, c := range counts {
		key := models.AttributeKey{Kind: c.AttributeKind, Value: c.NormalizedValue}
		seen[key] = struct{}{}
		records = append(records, models.CommonValueRecord{
			AttributeKind:       c.AttributeKind,
			NormalizedValue:     c.NormalizedValue,
			DistinctEntityCount: c.DistinctEntityCount,
			RejectionCount:      rejections[key],
			Flagged:             c.DistinctEntityCount >= t.config.Threshold || prev.IsFlagged(key.Kind, key.Value),
			UpdatedAt:           at,
		})
	}
	for key, n := range rejections {
		if _, ok := seen[key]; ok {
			continue
		}
		records = append(records, models.CommonValueRecord{
			AttributeKind:   key.Kind,
			NormalizedValue: key.Value,
			RejectionCount:  n,
			Flagged:         prev.IsFlagged(key.Kind, key.Value),
			UpdatedAt:       at,
		})
	}

	merged, err := t.store.Upsert(ctx, records)
	if err != nil {
		t.restoreRejections(rejections)
		return nil, fmt.Errorf("persisting common values: %w", err)
	}

	// upserted rejection counts are added, so a promotion row carries only the flag
	var promote []models.CommonValueRecord
	for _, m := range merged {
		if !m.Flagged && m.RejectionCount >= t.config.RejectionThreshold {
			promote = append(promote, models.CommonValueRecord{
				AttributeKind:   m.AttributeKind,
				NormalizedValue: m.NormalizedValue,
				Flagged:         true,
				UpdatedAt:       at,
			})
		}
	}
	if len(promote) > 0 {
		promoted, err := t.store.Upsert(ctx, promote)
		if err != nil {
			return nil, fmt.Errorf("persisting rejection flags: %w", err)
		}
		merged = append(merged, promoted...)
	}

	flagged := make(map[models.AttributeKey]struct{}, prev.Len()+len(merged))
	for k := range prev.flagged {
		flagged[k] = struct{}{}
	}
	for _, m := range merged {
		if m.Flagged {
			flagged[models.AttributeKey{Kind: m.AttributeKind, Value: m.NormalizedValue}] = struct{}{}
		}
	}

	next := newSnapshot(flagged, prev.Epoch+1, at)
	t.publish(next)
	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"epoch":         next.Epoch,
		"flagged":       next.Len(),
		"newly_flagged": next.Len() - prev.Len(),
		"tracked":       len(records),
	}).Info("Recomputed distinctiveness snapshot")

	return next, nil
}

// Run recomputes on the configured interval until ctx is cancelled
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := t.Recompute(ctx); err != nil && ctx.Err() == nil {
			t.logger.WithContext(ctx).WithError(err).Error("Distinctiveness recompute failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Tracker) publish(s *Snapshot) {
	t.snapshot.Store(s)
	metrics.CommonValuesFlagged.Set(float64(s.Len()))
}

func (t *Tracker) takeRejections() map[models.AttributeKey]int {
	t.rejectionsMu.Lock()
	defer t.rejectionsMu.Unlock()
	taken := t.rejections
	t.rejections = make(map[models.AttributeKey]int)
	return taken
}

func (t *Tracker) restoreRejections(r map[models.AttributeKey]int) {
	t.rejectionsMu.Lock()
	defer t.rejectionsMu.Unlock()
	for k, n := range r {
		t.rejections[k] += n
	}
}
