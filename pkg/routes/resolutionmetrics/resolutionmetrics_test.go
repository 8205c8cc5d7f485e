package resolutionmetrics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/resolutionmetrics"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolution(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	l := ledger.NewLedger(ledger.NewMemoryStore(), logger)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []struct {
		offset time.Duration
		method models.ResolutionMethod
		auto   bool
	}{
		{10 * time.Minute, models.MethodDeterministic, true},
		{20 * time.Minute, models.MethodMultiSignal, true},
		{70 * time.Minute, models.MethodCreation, false},
	}
	for _, s := range seed {
		require.NoError(t, l.Append(context.Background(), &models.ResolutionDecision{
			Method:       s.method,
			Confidence:   0.9,
			AutoAccepted: s.auto,
			CreatedAt:    base.Add(s.offset),
		}))
	}

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	resolutionmetrics.NewHandler(l).Register(e.Group("/api/v1"))

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantTotals []int
	}{
		{"hourly", "?from=2026-03-01T00:00:00Z&to=2026-03-01T02:00:00Z&window=1h", http.StatusOK, []int{2, 1}},
		{"window wider than range", "?from=2026-03-01T00:00:00Z&to=2026-03-01T02:00:00Z&window=24h", http.StatusOK, []int{3}},
		{"bad from", "?from=yesterday", http.StatusBadRequest, nil},
		{"inverted range", "?from=2026-03-01T02:00:00Z&to=2026-03-01T00:00:00Z", http.StatusBadRequest, nil},
		{"bad window", "?from=2026-03-01T00:00:00Z&to=2026-03-01T02:00:00Z&window=-1h", http.StatusBadRequest, nil},
		{"too many windows", "?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z&window=1s", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics/resolution"+tt.query, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantTotals == nil {
				return
			}

			var resp resolutionmetrics.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Len(t, resp.Windows, len(tt.wantTotals))
			for i, want := range tt.wantTotals {
				assert.Equal(t, want, resp.Windows[i].Total, "window %d", i)
			}
		})
	}
}
