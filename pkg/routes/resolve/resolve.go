package resolve

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/appctx"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/apierror"
	"github.com/labstack/echo/v4"
)

// Resolver is the resolution entry point
type Resolver interface {
	Resolve(ctx context.Context, rec models.CandidateRecord) (*models.ResolutionResult, error)
}

type Handler struct {
	resolver Resolver
	logger   ectologger.Logger
}

func NewHandler(resolver Resolver, logger ectologger.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

// Register registers resolve routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/resolve", h.Resolve)
}

// Resolve resolves one candidate record against the registry
func (h *Handler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()

	var rec models.CandidateRecord
	if err := c.Bind(&rec); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if rec.Context.Source == "" {
		rec.Context.Source = appctx.GetSource(ctx)
	}

	result, err := h.resolver.Resolve(ctx, rec)
	if err != nil {
		return apierror.From(err)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"decision_id": result.DecisionID,
		"method":      result.Method,
	}).Debugf("resolved record to %q", result.EntityID)

	return c.JSON(http.StatusOK, result)
}
