package commonvalues

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/distinctiveness"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/apierror"
	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Lister reads persisted common-value records
type Lister interface {
	List(ctx context.Context, kind string, flaggedOnly bool, limit int) ([]models.CommonValueRecord, error)
}

// Recomputer rebuilds the flagged-value snapshot
type Recomputer interface {
	Recompute(ctx context.Context) (*distinctiveness.Snapshot, error)
}

type Handler struct {
	store   Lister
	tracker Recomputer
	logger  ectologger.Logger
}

func NewHandler(store Lister, tracker Recomputer, logger ectologger.Logger) *Handler {
	return &Handler{store: store, tracker: tracker, logger: logger}
}

// Register registers common value routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/common-values", h.List)
	g.POST("/common-values/recompute", h.Recompute)
}

// List returns common values by descending entity count. Query: kind,
// flagged (bool), limit.
func (h *Handler) List(c echo.Context) error {
	flaggedOnly := false
	if raw := c.QueryParam("flagged"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "flagged must be a boolean")
		}
		flaggedOnly = b
	}

	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
		}
		limit = n
	}

	records, err := h.store.List(c.Request().Context(), c.QueryParam("kind"), flaggedOnly, limit)
	if err != nil {
		return apierror.From(err)
	}
	if records == nil {
		records = []models.CommonValueRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// RecomputeResponse describes the snapshot now in use
type RecomputeResponse struct {
	Epoch      uint64    `json:"epoch"`
	Flagged    int       `json:"flagged"`
	ComputedAt time.Time `json:"computed_at"`
}

// Recompute rescans the registry and publishes a new snapshot
func (h *Handler) Recompute(c echo.Context) error {
	ctx := c.Request().Context()

	snap, err := h.tracker.Recompute(ctx)
	if err != nil {
		return apierror.From(err)
	}

	h.logger.WithContext(ctx).Infof("common values recomputed: epoch %d, %d flagged", snap.Epoch, snap.Len())
	return c.JSON(http.StatusOK, RecomputeResponse{
		Epoch:      snap.Epoch,
		Flagged:    snap.Len(),
		ComputedAt: snap.ComputedAt,
	})
}
