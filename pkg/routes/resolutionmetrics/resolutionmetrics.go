package resolutionmetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/routes/apierror"
	"github.com/labstack/echo/v4"
)

const (
	defaultRange  = 24 * time.Hour
	defaultWindow = time.Hour
	maxWindows    = 1000
)

// Aggregator summarizes ledger decisions per time window
type Aggregator interface {
	Aggregate(ctx context.Context, from, to time.Time, window time.Duration) ([]ledger.WindowMetrics, error)
}

type Handler struct {
	ledger Aggregator
	now    func() time.Time
}

func NewHandler(ledger Aggregator) *Handler {
	return &Handler{ledger: ledger, now: func() time.Time { return time.Now().UTC() }}
}

// Register registers resolution metrics routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/metrics/resolution", h.Resolution)
}

// Response wraps the per-window summaries
type Response struct {
	From    time.Time              `json:"from"`
	To      time.Time              `json:"to"`
	Window  string                 `json:"window"`
	Windows []ledger.WindowMetrics `json:"windows"`
}

// Resolution reports method counts, confidence distribution and audited
// precision. Query: from, to (RFC 3339), window (Go duration). Defaults to
// the last 24h in hourly windows.
func (h *Handler) Resolution(c echo.Context) error {
	to := h.now()
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "to must be an RFC 3339 timestamp")
		}
		to = t
	}

	from := to.Add(-defaultRange)
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "from must be an RFC 3339 timestamp")
		}
		from = t
	}
	if !to.After(from) {
		return httperror.NewHTTPError(http.StatusBadRequest, "to must be after from")
	}

	window := defaultWindow
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return httperror.NewHTTPError(http.StatusBadRequest, "window must be a positive duration")
		}
		window = d
	}
	if window > to.Sub(from) {
		window = to.Sub(from)
	}
	if to.Sub(from)/window > maxWindows {
		return httperror.NewHTTPError(http.StatusBadRequest, "too many windows for the requested range")
	}

	windows, err := h.ledger.Aggregate(c.Request().Context(), from, to, window)
	if err != nil {
		return apierror.From(err)
	}

	return c.JSON(http.StatusOK, Response{
		From:    from,
		To:      to,
		Window:  window.String(),
		Windows: windows,
	})
}
