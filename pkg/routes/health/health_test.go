package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	type check struct {
		critical bool
		probe    health.Probe
	}
	tests := []struct {
		name       string
		checks     map[string]check
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: health.StatusUp,
		},
		{
			name: "all up",
			checks: map[string]check{
				"database": {critical: true, probe: up},
				"redis":    {probe: up},
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusUp,
		},
		{
			name: "optional dependency down",
			checks: map[string]check{
				"database": {critical: true, probe: up},
				"graph":    {probe: down},
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusDegraded,
		},
		{
			name: "critical dependency down",
			checks: map[string]check{
				"database": {critical: true, probe: down},
				"graph":    {probe: down},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := health.NewChecker("test")
			for name, ch := range tt.checks {
				c.AddCheck(name, ch.critical, ch.probe)
			}
			e := echo.New()
			c.RegisterRoutes(e)

			rec := serve(e, "/api/v1/health")
			require.Equal(t, tt.wantCode, rec.Code)

			var report health.Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Len(t, report.Dependencies, len(tt.checks))
		})
	}
}

func TestReady(t *testing.T) {
	c := health.NewChecker("test")
	e := echo.New()
	c.RegisterRoutes(e)

	assert.Equal(t, http.StatusOK, serve(e, "/api/v1/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, "/api/v1/health/ready").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(e, "/api/v1/health/ready").Code)

	c.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, "/api/v1/health/ready").Code)
}
