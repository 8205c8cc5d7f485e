// Package arbitration asks an external reasoner to settle cases the scorer
// could not. A gateway failure never decides anything; the case goes to review.
package arbitration

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Outcome is the arbiter's answer
type Outcome string

const (
	OutcomeMatch     Outcome = "match"
	OutcomeCreateNew Outcome = "createNew"
	OutcomeUnable    Outcome = "unable"
)

var (
	ErrUnavailable = errors.New("arbitration unavailable")
	ErrCircuitOpen = errors.New("arbitration circuit breaker is open")
	ErrBadVerdict  = errors.New("arbitration verdict could not be parsed")
)

// Request carries the record and the top-k scored candidates
type Request struct {
	Record     models.NormalizedRecord  `json:"record"`
	Candidates []models.ScoredCandidate `json:"candidates"`
}

// Verdict is the arbiter's structured answer
type Verdict struct {
	Outcome    Outcome `json:"outcome"`
	EntityID   string  `json:"entity_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type Gateway interface {
	Arbitrate(ctx context.Context, req Request) (Verdict, error)
}

// Disabled is a Gateway that is always unavailable
type Disabled struct{}

func (Disabled) Arbitrate(context.Context, Request) (Verdict, error) {
	return Verdict{}, ErrUnavailable
}

// Check reports whether a verdict may be acted on. Anything else goes to review.
func Check(v Verdict, req Request, minConfidence float64) error {
	switch v.Outcome {
	case OutcomeMatch:
		found := false
		for _, c := range req.Candidates {
			if c.Entity != nil && c.Entity.ID == v.EntityID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("verdict names entity %q outside the candidate set", v.EntityID)
		}
	case OutcomeCreateNew:
	case OutcomeUnable:
		return fmt.Errorf("arbiter was unable to decide: %s", v.Rationale)
	default:
		return fmt.Errorf("unknown verdict outcome %q", v.Outcome)
	}
	if v.Confidence < minConfidence {
		return fmt.Errorf("verdict confidence %.3f below %.3f", v.Confidence, minConfidence)
	}
	return nil
}
