package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultScoringProfileIsValid(t *testing.T) {
	require.NoError(t, DefaultScoringProfile().Validate())
}

func TestShippedScoringProfileMatchesDefaults(t *testing.T) {
	p, err := LoadScoringProfile("scoring.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultScoringProfile(), p)
}

func TestLoadScoringProfile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		check   func(t *testing.T, p ScoringProfile)
	}{
		{
			name: "weights replace defaults",
			body: `
weights:
  name: 0.4
  address: 0.3
  phone: 0.3
`,
			check: func(t *testing.T, p ScoringProfile) {
				assert.Len(t, p.Weights, 3)
				assert.Equal(t, 0.4, p.Weights["name"])
				assert.Equal(t, 0.85, p.Decision.High)
			},
		},
		{
			name: "durations and thresholds",
			body: `
decision:
  high: 0.9
  low: 0.5
  margin: 0.05
distinctiveness:
  interval: 5m
arbitration:
  timeout: 2s
`,
			check: func(t *testing.T, p ScoringProfile) {
				assert.Equal(t, 5*time.Minute, p.Distinctiveness.Interval)
				assert.Equal(t, 2*time.Second, p.ResolverConfig().ArbitrationTimeout)
				assert.Equal(t, 0.5, p.Decision.Low)
				assert.Equal(t, 10, p.TrackerConfig().Threshold)
			},
		},
		{
			name: "weight drift",
			body: `
weights:
  name: 0.5
  address: 0.3
  phone: 0.3
`,
			wantErr: "must sum to 1.0",
		},
		{
			name: "shared kind in precedence",
			body: `
deterministic_precedence: [documentNumber, registeredAgent]
`,
			wantErr: "cannot be a deterministic identifier",
		},
		{
			name: "inverted thresholds",
			body: `
decision:
  high: 0.5
  low: 0.6
  margin: 0.01
`,
			wantErr: "must be below high threshold",
		},
		{
			name: "identifier normalizer chain",
			body: `
identifier_normalizers:
  parcelId: [trim, digits_only]
`,
			check: func(t *testing.T, p ScoringProfile) {
				assert.Equal(t, []string{"trim", "digits_only"}, p.ResolverConfig().IdentifierNormalizers["parcelId"])
			},
		},
		{
			name: "unknown identifier normalizer",
			body: `
identifier_normalizers:
  parcelId: [trim, rot13]
`,
			wantErr: `identifier_normalizers.parcelId: unknown normalizer "rot13"`,
		},
		{
			name:    "malformed yaml",
			body:    "weights: [",
			wantErr: "failed to parse scoring profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadScoringProfile(writeProfile(t, tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestLoadScoringProfileMissingFile(t *testing.T) {
	_, err := LoadScoringProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scoring profile")
}
