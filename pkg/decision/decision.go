// Package decision turns scored candidates into an outcome using confidence
// thresholds and an ambiguity margin.
package decision

import (
	"fmt"
	"math"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Outcome is the terminal state of one decision
type Outcome string

const (
	OutcomeAutoAccept Outcome = "autoAccept"
	OutcomeEscalate   Outcome = "escalate"
	OutcomeCreateNew  Outcome = "createNew"
)

// Escalation reasons recorded on queue entries
const (
	ReasonMidBand   = "confidence between thresholds"
	ReasonAmbiguous = "top candidates within margin"
)

type Config struct {
	High   float64 `yaml:"high" json:"high"`
	Low    float64 `yaml:"low" json:"low"`
	Margin float64 `yaml:"margin" json:"margin"`
}

func DefaultConfig() Config {
	return Config{High: 0.85, Low: 0.60, Margin: 0.03}
}

func (c Config) Validate() error {
	if c.Low < 0 || c.High > 1 {
		return fmt.Errorf("thresholds must be within [0, 1], got low=%v high=%v", c.Low, c.High)
	}
	if c.Low >= c.High {
		return fmt.Errorf("low threshold %v must be below high threshold %v", c.Low, c.High)
	}
	if c.Margin < 0 || c.Margin >= c.High-c.Low {
		return fmt.Errorf("margin %v must be within [0, %v)", c.Margin, c.High-c.Low)
	}
	return nil
}

// Decision is the engine's verdict over a sorted candidate list
type Decision struct {
	Outcome  Outcome
	Best     *models.ScoredCandidate
	Second   *models.ScoredCandidate
	Priority float64
	Reason   string
}

type Engine struct {
	config Config
}

func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

// Decide expects candidates sorted by confidence descending
func (e *Engine) Decide(candidates []models.ScoredCandidate) Decision {
	if len(candidates) == 0 {
		return Decision{Outcome: OutcomeCreateNew}
	}

	d := Decision{Best: &candidates[0]}
	if len(candidates) > 1 {
		d.Second = &candidates[1]
	}
	best := d.Best.Confidence

	switch {
	case best < e.config.Low:
		d.Outcome = OutcomeCreateNew
	case best >= e.config.High && (d.Second == nil || best-d.Second.Confidence >= e.config.Margin):
		d.Outcome = OutcomeAutoAccept
	default:
		d.Outcome = OutcomeEscalate
		d.Reason = ReasonMidBand
		if best >= e.config.High {
			d.Reason = ReasonAmbiguous
		}
		d.Priority = e.Priority(best)
	}
	return d
}

// Priority is highest for confidences nearest a threshold, where a reviewer's
// answer moves the decision boundary the most.
func (e *Engine) Priority(confidence float64) float64 {
	half := (e.config.High - e.config.Low) / 2
	dist := math.Min(math.Abs(confidence-e.config.High), math.Abs(confidence-e.config.Low))
	p := 1 - dist/half
	return math.Max(0, math.Min(1, p))
}
