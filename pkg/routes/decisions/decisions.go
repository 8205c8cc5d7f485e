package decisions

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/appctx"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes/apierror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Ledger reads decisions
type Ledger interface {
	Get(ctx context.Context, id string) (*models.ResolutionDecision, error)
}

// Validator records a human verdict on a decision
type Validator interface {
	ValidateDecision(ctx context.Context, id, reviewer string, correct bool, resolvedEntityID *string) (*models.ResolutionDecision, error)
}

type Handler struct {
	ledger    Ledger
	validator Validator
	validate  *validator.Validate
	logger    ectologger.Logger
}

func NewHandler(ledger Ledger, v Validator, logger ectologger.Logger) *Handler {
	return &Handler{
		ledger:    ledger,
		validator: v,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Register registers decision ledger routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/decisions/:id", h.Get)
	g.POST("/decisions/:id/validate", h.Validate)
}

func (h *Handler) Get(c echo.Context) error {
	d, err := h.ledger.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, d)
}

// Validate audits a decision. Each decision can be validated once.
func (h *Handler) Validate(c echo.Context) error {
	ctx := c.Request().Context()

	reviewer := appctx.GetUserID(ctx)
	if reviewer == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-User-ID header is required")
	}

	var req models.ValidateDecisionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return apierror.From(err)
	}

	d, err := h.validator.ValidateDecision(ctx, c.Param("id"), reviewer, *req.Correct, req.ResolvedEntityID)
	if err != nil {
		return apierror.From(err)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"decision_id": d.ID,
		"correct":     *req.Correct,
		"reviewer":    reviewer,
	}).Info("decision validated")

	return c.JSON(http.StatusOK, d)
}
