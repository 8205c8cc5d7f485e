package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// WeightTolerance is how far configured weights may drift from 1.0
const WeightTolerance = 1e-6

// SecondaryIdentifierPrefix marks fact kinds that hold non-deterministic identifiers
const SecondaryIdentifierPrefix = "id:"

// AllSignals lists every signal the scorer can produce
var AllSignals = []string{
	models.SignalName,
	models.SignalAddress,
	models.SignalPhone,
	models.SignalEmailDomain,
	models.SignalRegisteredAgent,
	models.SignalOfficers,
	models.SignalIdentifier,
}

// FlagChecker answers whether a normalized value is too common to trust
type FlagChecker interface {
	IsFlagged(kind, value string) bool
}

type noFlags struct{}

func (noFlags) IsFlagged(string, string) bool { return false }

// ScorerConfig holds the scoring weights and penalties
type ScorerConfig struct {
	Weights map[string]float64
	// Penalty multiplies a signal's contribution when every value it matched on is flagged
	Penalty float64
	// TokenThreshold is the minimum token similarity that counts as a token match
	TokenThreshold float64
	// DeterministicKinds are excluded from the secondary identifier signal
	DeterministicKinds []string
}

// DefaultScorerConfig returns the default scoring profile
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights: map[string]float64{
			models.SignalName:            0.20,
			models.SignalAddress:         0.25,
			models.SignalPhone:           0.20,
			models.SignalEmailDomain:     0.05,
			models.SignalRegisteredAgent: 0.10,
			models.SignalOfficers:        0.10,
			models.SignalIdentifier:      0.10,
		},
		Penalty:            0.1,
		TokenThreshold:     0.9,
		DeterministicKinds: []string{models.IdentifierDocumentNumber, models.IdentifierTaxID, models.IdentifierParcelID},
	}
}

// ValidateWeights rejects unknown signals, negative weights and sums that drift from 1.0
func ValidateWeights(weights map[string]float64) error {
	known := make(map[string]struct{}, len(AllSignals))
	for _, s := range AllSignals {
		known[s] = struct{}{}
	}

	sum := 0.0
	for name, w := range weights {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown signal %q in weights", name)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("weight for %q must be within [0, 1], got %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("signal weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Scorer computes weighted confidence between a record and candidate entities
type Scorer struct {
	config        ScorerConfig
	deterministic map[string]struct{}
}

// NewScorer validates the config and returns a scorer
func NewScorer(config ScorerConfig) (*Scorer, error) {
	if err := ValidateWeights(config.Weights); err != nil {
		return nil, err
	}
	if config.Penalty < 0 || config.Penalty > 1 {
		return nil, fmt.Errorf("distinctiveness penalty must be within [0, 1], got %v", config.Penalty)
	}
	if config.TokenThreshold <= 0 {
		config.TokenThreshold = DefaultScorerConfig().TokenThreshold
	}

	det := make(map[string]struct{}, len(config.DeterministicKinds))
	for _, k := range config.DeterministicKinds {
		det[k] = struct{}{}
	}
	return &Scorer{config: config, deterministic: det}, nil
}

// rawSignal is a signal before weights are renormalized
type rawSignal struct {
	name    string
	value   float64
	penalty float64
	matched string
}

// Score compares one record to one entity. Signals without data on both
// sides are dropped and the remaining weights renormalized to 1.0.
func (s *Scorer) Score(rec models.NormalizedRecord, e *models.CanonicalEntity, flags FlagChecker) models.ScoredCandidate {
	if flags == nil {
		flags = noFlags{}
	}

	var raw []rawSignal
	for _, fn := range []func(models.NormalizedRecord, *models.CanonicalEntity, FlagChecker) (rawSignal, bool){
		s.nameSignal,
		s.addressSignal,
		s.phoneSignal,
		s.emailDomainSignal,
		s.agentSignal,
		s.officerSignal,
		s.identifierSignal,
	} {
		if sig, ok := fn(rec, e, flags); ok && s.config.Weights[sig.name] > 0 {
			raw = append(raw, sig)
		}
	}

	total := 0.0
	for _, r := range raw {
		total += s.config.Weights[r.name]
	}

	result := models.ScoredCandidate{Entity: e, Signals: make([]models.MatchSignal, 0, len(raw))}
	if total == 0 {
		return result
	}

	confidence := 0.0
	for _, r := range raw {
		sig := models.MatchSignal{
			Name:                   r.name,
			Value:                  r.value,
			Weight:                 s.config.Weights[r.name] / total,
			DistinctivenessPenalty: r.penalty,
			MatchedValue:           r.matched,
		}
		confidence += sig.Contribution()
		result.Signals = append(result.Signals, sig)
	}
	result.Confidence = roundConfidence(confidence)
	return result
}

// ScoreAll scores every entity and sorts best first. Ties break on entity id
// so results are stable for a fixed registry state.
func (s *Scorer) ScoreAll(rec models.NormalizedRecord, entities []*models.CanonicalEntity, flags FlagChecker) []models.ScoredCandidate {
	scored := make([]models.ScoredCandidate, 0, len(entities))
	for _, e := range entities {
		scored = append(scored, s.Score(rec, e, flags))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].Entity.ID < scored[j].Entity.ID
	})
	return scored
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1e6) / 1e6
}

func (s *Scorer) nameSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, _ FlagChecker) (rawSignal, bool) {
	if len(rec.NameTokens) == 0 {
		return rawSignal{}, false
	}
	best := rawSignal{name: models.SignalName, penalty: 1}
	found := false
	for _, name := range e.Names() {
		tokens := normalizers.NameTokens(name, e.EntityType)
		if len(tokens) == 0 {
			continue
		}
		found = true
		if sim := TokenSimilarity(rec.NameTokens, tokens, s.config.TokenThreshold); sim > best.value || best.matched == "" {
			best.value = sim
			best.matched = name
		}
	}
	best.value = roundConfidence(best.value)
	return best, found
}

func (s *Scorer) addressSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, flags FlagChecker) (rawSignal, bool) {
	facts := e.Facts(models.FactAddress)
	if len(rec.Addresses) == 0 || len(facts) == 0 {
		return rawSignal{}, false
	}

	best := rawSignal{name: models.SignalAddress, penalty: 1}
	bestScore := -1.0
	for _, fact := range facts {
		ea := normalizers.ParseAddress(fact)
		for _, ra := range rec.Addresses {
			sim := AddressSimilarity(ra, ea)
			penalty := 1.0
			if sim > 0 && flags.IsFlagged(models.FactAddress, fact) {
				penalty = s.config.Penalty
			}
			if score := sim * penalty; score > bestScore {
				bestScore = score
				best.value, best.penalty, best.matched = sim, penalty, fact
			}
		}
	}
	if best.value == 0 {
		best.matched = ""
	}
	return best, true
}

// binarySignal matches any shared value. The penalty applies only when every
// shared value is flagged.
func (s *Scorer) binarySignal(name, kind string, recValues, entityValues []string, flags FlagChecker) (rawSignal, bool) {
	if len(recValues) == 0 || len(entityValues) == 0 {
		return rawSignal{}, false
	}
	entitySet := make(map[string]struct{}, len(entityValues))
	for _, v := range entityValues {
		entitySet[v] = struct{}{}
	}

	sig := rawSignal{name: name, penalty: 1}
	for _, v := range recValues {
		if _, ok := entitySet[v]; !ok {
			continue
		}
		flagged := kind != "" && flags.IsFlagged(kind, v)
		if sig.value == 0 || (sig.penalty < 1 && !flagged) {
			sig.value, sig.matched = 1, v
			sig.penalty = 1
			if flagged {
				sig.penalty = s.config.Penalty
			}
		}
	}
	return sig, true
}

func (s *Scorer) phoneSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, flags FlagChecker) (rawSignal, bool) {
	phones := make([]string, 0, len(rec.Phones))
	for _, p := range rec.Phones {
		phones = append(phones, p.Value)
	}
	return s.binarySignal(models.SignalPhone, models.FactPhone, phones, e.Facts(models.FactPhone), flags)
}

func (s *Scorer) emailDomainSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, flags FlagChecker) (rawSignal, bool) {
	return s.binarySignal(models.SignalEmailDomain, models.FactEmailDomain, rec.EmailDomains, e.Facts(models.FactEmailDomain), flags)
}

func (s *Scorer) agentSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, flags FlagChecker) (rawSignal, bool) {
	if rec.Agent == "" {
		return rawSignal{}, false
	}
	return s.binarySignal(models.SignalRegisteredAgent, models.FactRegisteredAgent, []string{rec.Agent}, e.Facts(models.FactRegisteredAgent), flags)
}

func (s *Scorer) officerSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, _ FlagChecker) (rawSignal, bool) {
	officers := e.Facts(models.FactOfficer)
	if len(rec.Officers) == 0 || len(officers) == 0 {
		return rawSignal{}, false
	}
	return rawSignal{
		name:    models.SignalOfficers,
		value:   roundConfidence(Jaccard(rec.Officers, officers)),
		penalty: 1,
		matched: strings.Join(intersect(rec.Officers, officers), "; "),
	}, true
}

func (s *Scorer) identifierSignal(rec models.NormalizedRecord, e *models.CanonicalEntity, _ FlagChecker) (rawSignal, bool) {
	sig := rawSignal{name: models.SignalIdentifier, penalty: 1}
	found := false
	for _, kind := range normalizers.SortedIdentifierKinds(rec.Identifiers) {
		if _, ok := s.deterministic[kind]; ok {
			continue
		}
		values := e.Facts(SecondaryIdentifierPrefix + kind)
		if len(values) == 0 {
			continue
		}
		found = true
		for _, v := range values {
			if v == rec.Identifiers[kind] {
				sig.value = 1
				sig.matched = kind + "=" + v
			}
		}
	}
	return sig, found
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
