// Package health serves liveness, readiness and dependency status.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const probeTimeout = 2 * time.Second

// Overall and per-dependency states
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Probe checks one dependency
type Probe func(ctx context.Context) error

type dependency struct {
	probe Probe
	// critical dependencies take the service down; others only degrade it
	critical bool
}

// Checker tracks readiness and the dependencies reported by /health
type Checker struct {
	version string
	started time.Time
	ready   atomic.Bool

	mu   sync.RWMutex
	deps map[string]dependency
}

func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		deps:    make(map[string]dependency),
	}
}

// AddCheck registers a dependency. A failing critical dependency turns the
// report down (503); a failing optional one marks it degraded (200).
func (c *Checker) AddCheck(name string, critical bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps[name] = dependency{probe: probe, critical: critical}
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

// Report is the /health response body
type Report struct {
	Status       string                       `json:"status"`
	Version      string                       `json:"version"`
	Uptime       string                       `json:"uptime"`
	Dependencies map[string]*DependencyStatus `json:"dependencies"`
	CheckedAt    time.Time                    `json:"checked_at"`
}

type DependencyStatus struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// Health probes every dependency
func (c *Checker) Health(ctx echo.Context) error {
	c.mu.RLock()
	names := make([]string, 0, len(c.deps))
	deps := make(map[string]dependency, len(c.deps))
	for name, d := range c.deps {
		names = append(names, name)
		deps[name] = d
	}
	c.mu.RUnlock()
	sort.Strings(names)

	report := &Report{
		Status:       StatusUp,
		Version:      c.version,
		Uptime:       time.Since(c.started).Round(time.Second).String(),
		Dependencies: make(map[string]*DependencyStatus, len(names)),
		CheckedAt:    time.Now().UTC(),
	}

	for _, name := range names {
		d := deps[name]
		status := probe(ctx.Request().Context(), d)
		report.Dependencies[name] = status

		switch {
		case status.Status == StatusUp:
		case d.critical:
			report.Status = StatusDown
		case report.Status == StatusUp:
			report.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if report.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, report)
}

func probe(ctx context.Context, d dependency) *DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := d.probe(ctx)
	if err != nil {
		return &DependencyStatus{Status: StatusDown, Critical: d.critical, Error: err.Error()}
	}
	return &DependencyStatus{Status: StatusUp, Critical: d.critical, Latency: time.Since(start).String()}
}

// Live answers as long as the process is serving
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": StatusUp})
}

// Ready is 503 until startup has finished and again once shutdown begins
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": StatusDown})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": StatusUp})
}
