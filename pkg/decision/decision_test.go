package decision

import (
	"testing"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(confidences ...float64) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, len(confidences))
	for i, c := range confidences {
		out[i] = models.ScoredCandidate{
			Entity:     &models.CanonicalEntity{ID: string(rune('a' + i))},
			Confidence: c,
		}
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: DefaultConfig()},
		{name: "inverted", config: Config{High: 0.5, Low: 0.6, Margin: 0.01}, wantErr: true},
		{name: "high above one", config: Config{High: 1.1, Low: 0.6, Margin: 0.01}, wantErr: true},
		{name: "margin too wide", config: Config{High: 0.85, Low: 0.6, Margin: 0.3}, wantErr: true},
		{name: "negative margin", config: Config{High: 0.85, Low: 0.6, Margin: -0.1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr {
				assert.Error(t, tt.config.Validate())
			} else {
				assert.NoError(t, tt.config.Validate())
			}
		})
	}
}

func TestDecide(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		name       string
		candidates []models.ScoredCandidate
		want       Outcome
		reason     string
	}{
		{name: "no candidates", candidates: nil, want: OutcomeCreateNew},
		{name: "exactly high", candidates: candidates(0.85), want: OutcomeAutoAccept},
		{name: "just below high", candidates: candidates(0.8499), want: OutcomeEscalate, reason: ReasonMidBand},
		{name: "exactly low", candidates: candidates(0.60), want: OutcomeEscalate, reason: ReasonMidBand},
		{name: "just below low", candidates: candidates(0.5999), want: OutcomeCreateNew},
		{name: "clear winner", candidates: candidates(0.95, 0.70), want: OutcomeAutoAccept},
		{name: "margin exceeded", candidates: candidates(0.94, 0.90), want: OutcomeAutoAccept},
		{name: "ambiguous above high", candidates: candidates(0.91, 0.89), want: OutcomeEscalate, reason: ReasonAmbiguous},
		{name: "ambiguous below low", candidates: candidates(0.40, 0.39), want: OutcomeCreateNew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(tt.candidates)
			assert.Equal(t, tt.want, d.Outcome)
			assert.Equal(t, tt.reason, d.Reason)
			if len(tt.candidates) > 0 {
				require.NotNil(t, d.Best)
				assert.Equal(t, tt.candidates[0].Entity.ID, d.Best.Entity.ID)
			}
		})
	}
}

func TestPriority(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		confidence float64
		want       float64
	}{
		{confidence: 0.85, want: 1},
		{confidence: 0.60, want: 1},
		{confidence: 0.725, want: 0},
		{confidence: 0.6625, want: 0.5},
		{confidence: 0.95, want: 1 - 0.1/0.125},
		{confidence: 0.99, want: 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, e.Priority(tt.confidence), 1e-9, "confidence %v", tt.confidence)
	}
}

func TestDecide_EscalationCarriesPriority(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	near := e.Decide(candidates(0.84))
	far := e.Decide(candidates(0.72))
	assert.Greater(t, near.Priority, far.Priority)
}
