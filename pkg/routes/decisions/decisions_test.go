package decisions_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/decisions"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledgerValidator validates straight through the ledger
type ledgerValidator struct {
	ledger *ledger.Ledger
}

func (v ledgerValidator) ValidateDecision(ctx context.Context, id, reviewer string, correct bool, resolvedEntityID *string) (*models.ResolutionDecision, error) {
	return v.ledger.Validate(ctx, id, reviewer, correct, resolvedEntityID)
}

func TestValidate(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	l := ledger.NewLedger(ledger.NewMemoryStore(), logger)
	entityID := "e1"
	require.NoError(t, l.Append(context.Background(), &models.ResolutionDecision{
		ID:              "d1",
		MatchedEntityID: &entityID,
		Confidence:      0.91,
		Method:          models.MethodMultiSignal,
		AutoAccepted:    true,
		CreatedAt:       time.Now().UTC(),
	}))

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	decisions.NewHandler(l, ledgerValidator{ledger: l}, logger).Register(e.Group("/api/v1"))

	steps := []struct {
		name       string
		method     string
		path       string
		user       string
		body       string
		wantStatus int
	}{
		{"get", http.MethodGet, "/api/v1/decisions/d1", "", "", http.StatusOK},
		{"get missing", http.MethodGet, "/api/v1/decisions/nope", "", "", http.StatusNotFound},
		{"validate needs a user", http.MethodPost, "/api/v1/decisions/d1/validate", "", `{"correct":true}`, http.StatusUnauthorized},
		{"validate needs a verdict", http.MethodPost, "/api/v1/decisions/d1/validate", "carol", `{}`, http.StatusBadRequest},
		{"validate missing", http.MethodPost, "/api/v1/decisions/nope/validate", "carol", `{"correct":true}`, http.StatusNotFound},
		{"validate", http.MethodPost, "/api/v1/decisions/d1/validate", "carol", `{"correct":false}`, http.StatusOK},
		{"validate twice", http.MethodPost, "/api/v1/decisions/d1/validate", "dave", `{"correct":true}`, http.StatusConflict},
	}

	for _, step := range steps {
		req := httptest.NewRequest(step.method, step.path, strings.NewReader(step.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if step.user != "" {
			req.Header.Set(middleware.HeaderUserID, step.user)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, step.wantStatus, rec.Code, "%s: %s", step.name, rec.Body.String())
	}

	d, err := l.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, d.HumanValidated)
	require.NotNil(t, d.HumanCorrect)
	assert.False(t, *d.HumanCorrect)
	require.NotNil(t, d.ReviewerID)
	assert.Equal(t, "carol", *d.ReviewerID)

	var body map[string]any
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/d1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "multiSignal", body["method"])
}
