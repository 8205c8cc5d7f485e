// Package resolver orchestrates entity resolution: exact identifier lookup,
// blocking and scoring, threshold decisions, arbitration and escalation to
// human review. Every call to Resolve appends exactly one ledger decision.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/arbitration"
	"github.com/Ramsey-B/clover/pkg/decision"
	"github.com/Ramsey-B/clover/pkg/distinctiveness"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Tracker supplies the flagged-value snapshot and collects review feedback
type Tracker interface {
	Snapshot() *distinctiveness.Snapshot
	RecordRejection(kind, value string)
}

type Config struct {
	// ArbitrationTimeout bounds each gateway call
	ArbitrationTimeout time.Duration
	// ArbitrationMinConfidence is the lowest verdict confidence acted on
	ArbitrationMinConfidence float64
	// ArbitrationTopK is how many candidates the arbiter sees
	ArbitrationTopK int
	// QueueTopK is how many candidate ids are stored on a queue entry
	QueueTopK int
	// IdentifierNormalizers overrides identifier normalization per kind
	IdentifierNormalizers map[string][]string
}

func DefaultConfig() Config {
	return Config{
		ArbitrationTimeout:       10 * time.Second,
		ArbitrationMinConfidence: 0.9,
		ArbitrationTopK:          3,
		QueueTopK:                5,
	}
}

// Dependencies are the collaborators an Engine needs. Gateway defaults to
// arbitration.Disabled, Locker to an in-process KeyedMutex and Tx to NoTx.
type Dependencies struct {
	Registry      registry.Registry
	Deterministic *matching.DeterministicMatcher
	Retriever     *matching.Retriever
	Scorer        *matching.Scorer
	Decider       *decision.Engine
	Tracker       Tracker
	Gateway       arbitration.Gateway
	Queue         *review.Queue
	Ledger        *ledger.Ledger
	Locker        Locker
	Tx            Transactor
	Listeners     []Listener
}

type Engine struct {
	Dependencies
	config   Config
	logger   ectologger.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewEngine(deps Dependencies, config Config, logger ectologger.Logger) (*Engine, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("resolver requires a registry")
	case deps.Deterministic == nil, deps.Retriever == nil, deps.Scorer == nil, deps.Decider == nil:
		return nil, errors.New("resolver requires the matcher, retriever, scorer and decider")
	case deps.Tracker == nil:
		return nil, errors.New("resolver requires a distinctiveness tracker")
	case deps.Queue == nil || deps.Ledger == nil:
		return nil, errors.New("resolver requires a review queue and a ledger")
	}
	if deps.Gateway == nil {
		deps.Gateway = arbitration.Disabled{}
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	if deps.Tx == nil {
		deps.Tx = NoTx{}
	}
	if config.ArbitrationTopK < 1 {
		config.ArbitrationTopK = DefaultConfig().ArbitrationTopK
	}
	if config.QueueTopK < 1 {
		config.QueueTopK = DefaultConfig().QueueTopK
	}
	if config.ArbitrationTimeout <= 0 {
		config.ArbitrationTimeout = DefaultConfig().ArbitrationTimeout
	}

	return &Engine{
		Dependencies: deps,
		config:       config,
		logger:       logger,
		validate:     validator.New(),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// resolution carries one record through the pipeline
type resolution struct {
	record     models.CandidateRecord
	normalized models.NormalizedRecord
	flags      *distinctiveness.Snapshot
}

// evaluation is the outcome of the read-only part of the pipeline
type evaluation struct {
	hit      *models.CanonicalEntity
	hitKind  string
	scored   []models.ScoredCandidate
	decision decision.Decision
}

// Resolve decides whether rec describes an existing entity, a new one, or
// needs a human. Storage failures return a RetryableError and never create.
func (e *Engine) Resolve(ctx context.Context, rec models.CandidateRecord) (result *models.ResolutionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Engine.Resolve", attribute.String("source", rec.Context.Source))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			tracing.RecordError(span, err)
			kind := "internal"
			switch {
			case errors.Is(err, ErrInvalidRecord):
				kind = "invalid"
			case errors.Is(err, ErrRetryable):
				kind = "retryable"
			}
			metrics.ResolutionErrorsTotal.WithLabelValues(kind).Inc()
		}
	}()

	if err := e.validateRecord(rec); err != nil {
		return nil, err
	}

	r := &resolution{
		record:     rec,
		normalized: normalizers.NormalizeRecordWith(rec, e.normalizeOptions()),
		flags:      e.Tracker.Snapshot(),
	}

	ev, err := e.evaluate(ctx, r)
	if err != nil {
		return nil, err
	}

	switch {
	case ev.hit != nil:
		return e.acceptMatch(ctx, r, ev.hit, models.MethodDeterministic, matching.DeterministicConfidence, nil, "definitive identifier "+ev.hitKind)
	case ev.decision.Outcome == decision.OutcomeAutoAccept:
		best := ev.decision.Best
		return e.acceptMatch(ctx, r, best.Entity, models.MethodMultiSignal, best.Confidence, best.Signals, "")
	case ev.decision.Outcome == decision.OutcomeCreateNew:
		return e.create(ctx, r, ev, models.MethodCreation, "", false)
	default:
		return e.escalate(ctx, r, ev)
	}
}

func (e *Engine) validateRecord(rec models.CandidateRecord) error {
	if err := e.validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	name := normalizers.NormalizeName(rec.RawName)
	opts := e.normalizeOptions()
	hasID := false
	for kind, value := range rec.DefinitiveIdentifiers {
		if kind != "" && opts.Identifier(kind, value) != "" {
			hasID = true
			break
		}
	}
	if !name.Normalized && !hasID {
		return fmt.Errorf("%w: a record needs a name or a definitive identifier", ErrInvalidRecord)
	}
	return nil
}

func (e *Engine) normalizeOptions() normalizers.Options {
	return normalizers.Options{IdentifierChains: e.config.IdentifierNormalizers}
}

// evaluate runs the deterministic tier, then retrieval, scoring and the
// threshold decision. It has no side effects.
func (e *Engine) evaluate(ctx context.Context, r *resolution) (evaluation, error) {
	hit, kind, err := e.Deterministic.Match(ctx, r.normalized)
	if err != nil {
		return evaluation{}, retryable("deterministic lookup", err)
	}
	if hit != nil {
		return evaluation{hit: hit, hitKind: kind}, nil
	}

	candidates, err := e.Retriever.Retrieve(ctx, r.normalized, r.flags)
	if err != nil {
		return evaluation{}, retryable("candidate retrieval", err)
	}
	scored := e.Scorer.ScoreAll(r.normalized, candidates, r.flags)
	return evaluation{scored: scored, decision: e.Decider.Decide(scored)}, nil
}

// acceptMatch merges the record into entity and records the decision
func (e *Engine) acceptMatch(ctx context.Context, r *resolution, entity *models.CanonicalEntity, method models.ResolutionMethod, confidence float64, signals []models.MatchSignal, rationale string) (*models.ResolutionResult, error) {
	id := entity.ID
	d := &models.ResolutionDecision{
		CandidateFeatures: r.normalized,
		MatchedEntityID:   &id,
		TopCandidateID:    &id,
		Confidence:        confidence,
		Signals:           signals,
		Method:            method,
		AutoAccepted:      true,
		Rationale:         rationale,
	}

	var merged *models.CanonicalEntity
	err := e.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if merged, err = e.Registry.Merge(ctx, id, e.patchFor(r.normalized)); err != nil {
			return retryable("merge into "+id, err)
		}
		if err := e.Ledger.Append(ctx, d); err != nil {
			return retryable("ledger append", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   id,
		"method":      method,
		"confidence":  confidence,
		"decision_id": d.ID,
	}).Debug("Matched candidate record")
	e.notify(ctx, d, merged)

	return &models.ResolutionResult{
		EntityID:   id,
		Confidence: confidence,
		Method:     method,
		Signals:    signals,
		DecisionID: d.ID,
	}, nil
}

// patchFor is the additive merge of a record into an entity
func (e *Engine) patchFor(n models.NormalizedRecord) models.EntityPatch {
	ids, facts := e.splitIdentifiers(n)
	return models.EntityPatch{
		Alias:       n.Name.Value,
		Identifiers: ids,
		Facts:       append(facts, factsFor(n, e.now())...),
		SeenAt:      e.now(),
	}
}

// newEntity builds the canonical entity a record creates
func (e *Engine) newEntity(n models.NormalizedRecord) *models.CanonicalEntity {
	ids, facts := e.splitIdentifiers(n)
	at := e.now()
	return &models.CanonicalEntity{
		ID:                    uuid.New().String(),
		EntityType:            n.EntityType,
		CanonicalName:         n.Name.Value,
		DefinitiveIdentifiers: ids,
		FactAttributes:        append(facts, factsFor(n, at)...),
		Active:                true,
		CreatedAt:             at,
		LastSeenAt:            at,
	}
}

// splitIdentifiers keeps deterministic kinds as owned identifiers and stores
// the rest as secondary identifier facts
func (e *Engine) splitIdentifiers(n models.NormalizedRecord) (map[string]string, []models.FactAttribute) {
	var ids map[string]string
	var facts []models.FactAttribute
	for _, kind := range normalizers.SortedIdentifierKinds(n.Identifiers) {
		value := n.Identifiers[kind]
		if e.Deterministic.IsDeterministic(kind) {
			if ids == nil {
				ids = make(map[string]string)
			}
			ids[kind] = value
			continue
		}
		facts = append(facts, models.FactAttribute{
			Kind:       matching.SecondaryIdentifierPrefix + kind,
			Value:      value,
			Source:     n.Source,
			ObservedAt: e.now(),
		})
	}
	return ids, facts
}

func factsFor(n models.NormalizedRecord, at time.Time) []models.FactAttribute {
	var facts []models.FactAttribute
	add := func(kind, value, raw string) {
		if value == "" {
			return
		}
		facts = append(facts, models.FactAttribute{Kind: kind, Value: value, Raw: raw, Source: n.Source, ObservedAt: at})
	}
	for _, a := range n.Addresses {
		add(models.FactAddress, a.Key(), a.Raw)
	}
	for _, p := range n.Phones {
		add(models.FactPhone, p.Value, p.Raw)
	}
	for _, m := range n.Emails {
		add(models.FactEmail, m.Value, m.Raw)
	}
	for _, d := range n.EmailDomains {
		add(models.FactEmailDomain, d, "")
	}
	add(models.FactRegisteredAgent, n.Agent, "")
	for _, o := range n.Officers {
		add(models.FactOfficer, o, "")
	}
	return facts
}

func (e *Engine) notify(ctx context.Context, d *models.ResolutionDecision, entity *models.CanonicalEntity) {
	for _, l := range e.Listeners {
		if err := l.OnResolved(ctx, d, entity); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("decision_id", d.ID).Warn("Resolution listener failed")
		}
	}
}
