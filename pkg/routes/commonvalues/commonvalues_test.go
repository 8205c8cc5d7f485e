package commonvalues_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/distinctiveness"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/commonvalues"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	counts []models.CommonValueRecord
	err    error
}

func (s *fixedSource) CountDistinctValues(_ context.Context, _ []string, _ int) ([]models.CommonValueRecord, error) {
	return s.counts, s.err
}

func newServer(t *testing.T, src *fixedSource) *echo.Echo {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := distinctiveness.NewMemoryStore()
	tracker, err := distinctiveness.NewTracker(src, store, distinctiveness.DefaultConfig(), logger)
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	commonvalues.NewHandler(store, tracker, logger).Register(e.Group("/api/v1"))
	return e
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRecomputeThenList(t *testing.T) {
	src := &fixedSource{counts: []models.CommonValueRecord{
		{AttributeKind: models.FactRegisteredAgent, NormalizedValue: "CT CORPORATION SYSTEM", DistinctEntityCount: 40},
		{AttributeKind: models.FactAddress, NormalizedValue: "1 main st, springfield", DistinctEntityCount: 3},
	}}
	e := newServer(t, src)

	rec := serve(e, http.MethodPost, "/api/v1/common-values/recompute")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap commonvalues.RecomputeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Flagged)
	assert.Equal(t, uint64(1), snap.Epoch)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantValues []string
	}{
		{"all", "", http.StatusOK, []string{"CT CORPORATION SYSTEM", "1 main st, springfield"}},
		{"flagged only", "?flagged=true", http.StatusOK, []string{"CT CORPORATION SYSTEM"}},
		{"by kind", "?kind=" + models.FactAddress, http.StatusOK, []string{"1 main st, springfield"}},
		{"bad flag", "?flagged=maybe", http.StatusBadRequest, nil},
		{"bad limit", "?limit=0", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodGet, "/api/v1/common-values"+tt.query)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantValues == nil {
				return
			}
			var records []models.CommonValueRecord
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
			var values []string
			for _, r := range records {
				values = append(values, r.NormalizedValue)
			}
			assert.Equal(t, tt.wantValues, values)
		})
	}
}

func TestRecomputeFailure(t *testing.T) {
	e := newServer(t, &fixedSource{err: errors.New("registry unavailable")})
	rec := serve(e, http.MethodPost, "/api/v1/common-values/recompute")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
