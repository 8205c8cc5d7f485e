package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/decision"
	"github.com/Ramsey-B/clover/pkg/distinctiveness"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/resolver"
)

// ScoringProfile is the tunable part of resolution, loaded from YAML
type ScoringProfile struct {
	Weights                 map[string]float64    `yaml:"weights"`
	Penalty                 float64               `yaml:"penalty"`
	TokenThreshold          float64               `yaml:"token_threshold"`
	DeterministicPrecedence []string              `yaml:"deterministic_precedence"`
	Decision                decision.Config       `yaml:"decision"`
	Distinctiveness         DistinctivenessConfig `yaml:"distinctiveness"`
	Retrieval               RetrievalConfig       `yaml:"retrieval"`
	Arbitration             ArbitrationConfig     `yaml:"arbitration"`
	// IdentifierNormalizers maps an identifier kind to a chain of registered
	// normalizer names, e.g. parcelId: [trim, digits_only]
	IdentifierNormalizers map[string][]string `yaml:"identifier_normalizers"`
}

type DistinctivenessConfig struct {
	Threshold          int           `yaml:"threshold"`
	RejectionThreshold int           `yaml:"rejection_threshold"`
	Kinds              []string      `yaml:"kinds"`
	Interval           time.Duration `yaml:"interval"`
}

type RetrievalConfig struct {
	MaxCandidates int `yaml:"max_candidates"`
	PerKeyLimit   int `yaml:"per_key_limit"`
}

type ArbitrationConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
	TopK          int           `yaml:"top_k"`
	QueueTopK     int           `yaml:"queue_top_k"`
}

// DefaultScoringProfile mirrors the package defaults
func DefaultScoringProfile() ScoringProfile {
	sc := matching.DefaultScorerConfig()
	dc := distinctiveness.DefaultConfig()
	rc := matching.DefaultRetrieverConfig()
	ac := resolver.DefaultConfig()
	return ScoringProfile{
		Weights:                 sc.Weights,
		Penalty:                 sc.Penalty,
		TokenThreshold:          sc.TokenThreshold,
		DeterministicPrecedence: sc.DeterministicKinds,
		Decision:                decision.DefaultConfig(),
		Distinctiveness: DistinctivenessConfig{
			Threshold:          dc.Threshold,
			RejectionThreshold: dc.RejectionThreshold,
			Kinds:              dc.Kinds,
			Interval:           dc.Interval,
		},
		Retrieval: RetrievalConfig{MaxCandidates: rc.MaxCandidates, PerKeyLimit: rc.PerKeyLimit},
		Arbitration: ArbitrationConfig{
			Timeout:       ac.ArbitrationTimeout,
			MinConfidence: ac.ArbitrationMinConfidence,
			TopK:          ac.ArbitrationTopK,
			QueueTopK:     ac.QueueTopK,
		},
	}
}

// LoadScoringProfile overlays the YAML file at path on the defaults. An empty
// path returns the defaults. The result is validated.
func LoadScoringProfile(path string) (ScoringProfile, error) {
	profile := DefaultScoringProfile()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ScoringProfile{}, fmt.Errorf("failed to read scoring profile: %w", err)
		}
		// yaml merges into existing maps; a profile that lists weights replaces them
		var probe struct {
			Weights map[string]float64 `yaml:"weights"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return ScoringProfile{}, fmt.Errorf("failed to parse scoring profile %s: %w", path, err)
		}
		if probe.Weights != nil {
			profile.Weights = nil
		}
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return ScoringProfile{}, fmt.Errorf("failed to parse scoring profile %s: %w", path, err)
		}
	}
	if err := profile.Validate(); err != nil {
		return ScoringProfile{}, fmt.Errorf("invalid scoring profile: %w", err)
	}
	return profile, nil
}

// Validate fails on weight drift, bad thresholds, or an unusable precedence list
func (p ScoringProfile) Validate() error {
	var errs []error
	if err := matching.ValidateWeights(p.Weights); err != nil {
		errs = append(errs, err)
	}
	if p.Penalty < 0 || p.Penalty > 1 {
		errs = append(errs, fmt.Errorf("penalty must be within [0, 1], got %v", p.Penalty))
	}
	if p.TokenThreshold <= 0 || p.TokenThreshold > 1 {
		errs = append(errs, fmt.Errorf("token_threshold must be within (0, 1], got %v", p.TokenThreshold))
	}
	if err := matching.ValidatePrecedence(p.DeterministicPrecedence); err != nil {
		errs = append(errs, err)
	}
	if err := p.Decision.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := p.TrackerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if p.Arbitration.MinConfidence <= 0 || p.Arbitration.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("arbitration min_confidence must be within (0, 1], got %v", p.Arbitration.MinConfidence))
	}
	if p.Arbitration.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("arbitration timeout must be positive"))
	}
	for kind, chain := range p.IdentifierNormalizers {
		if err := normalizers.ValidateChain(chain...); err != nil {
			errs = append(errs, fmt.Errorf("identifier_normalizers.%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func (p ScoringProfile) ScorerConfig() matching.ScorerConfig {
	return matching.ScorerConfig{
		Weights:            p.Weights,
		Penalty:            p.Penalty,
		TokenThreshold:     p.TokenThreshold,
		DeterministicKinds: p.DeterministicPrecedence,
	}
}

func (p ScoringProfile) TrackerConfig() distinctiveness.Config {
	return distinctiveness.Config{
		Threshold:          p.Distinctiveness.Threshold,
		RejectionThreshold: p.Distinctiveness.RejectionThreshold,
		Kinds:              p.Distinctiveness.Kinds,
		Interval:           p.Distinctiveness.Interval,
	}
}

func (p ScoringProfile) RetrieverConfig() matching.RetrieverConfig {
	return matching.RetrieverConfig{
		MaxCandidates: p.Retrieval.MaxCandidates,
		PerKeyLimit:   p.Retrieval.PerKeyLimit,
	}
}

func (p ScoringProfile) ResolverConfig() resolver.Config {
	return resolver.Config{
		ArbitrationTimeout:       p.Arbitration.Timeout,
		ArbitrationMinConfidence: p.Arbitration.MinConfidence,
		ArbitrationTopK:          p.Arbitration.TopK,
		QueueTopK:                p.Arbitration.QueueTopK,
		IdentifierNormalizers:    p.IdentifierNormalizers,
	}
}
