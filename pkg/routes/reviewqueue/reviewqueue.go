package reviewqueue

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/appctx"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resolver"
	"github.com/Ramsey-B/clover/pkg/routes/apierror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Queue is the slice of review.Queue the routes need
type Queue interface {
	Get(ctx context.Context, id string) (*models.ReviewQueueEntry, error)
	ListPending(ctx context.Context, limit int) ([]models.ReviewQueueEntry, error)
	Claim(ctx context.Context, id, reviewer string) (*models.ReviewQueueEntry, error)
	Skip(ctx context.Context, id, reviewer string) (*models.ReviewQueueEntry, error)
}

// Resolver applies a reviewer's decision
type Resolver interface {
	ResolveReview(ctx context.Context, id, reviewer string, req models.ResolveReviewRequest) (*resolver.ReviewOutcome, error)
}

type Handler struct {
	queue    Queue
	resolver Resolver
	validate *validator.Validate
	logger   ectologger.Logger
}

func NewHandler(queue Queue, resolver Resolver, logger ectologger.Logger) *Handler {
	return &Handler{
		queue:    queue,
		resolver: resolver,
		validate: validator.New(),
		logger:   logger,
	}
}

// Register registers review queue routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/review-queue", h.ListPending)
	g.GET("/review-queue/:id", h.Get)
	g.POST("/review-queue/:id/claim", h.Claim)
	g.POST("/review-queue/:id/resolve", h.Resolve)
	g.POST("/review-queue/:id/skip", h.Skip)
}

// ListPending returns pending entries, highest priority first
func (h *Handler) ListPending(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	entries, err := h.queue.ListPending(c.Request().Context(), limit)
	if err != nil {
		return apierror.From(err)
	}
	if entries == nil {
		entries = []models.ReviewQueueEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) Get(c echo.Context) error {
	entry, err := h.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Claim assigns a pending entry to the caller. A lost race is a 409.
func (h *Handler) Claim(c echo.Context) error {
	ctx := c.Request().Context()
	reviewer, err := reviewerID(ctx)
	if err != nil {
		return err
	}

	entry, err := h.queue.Claim(ctx, c.Param("id"), reviewer)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Resolve applies the claimant's decision to the entry
func (h *Handler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()
	reviewer, err := reviewerID(ctx)
	if err != nil {
		return err
	}

	var req models.ResolveReviewRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return apierror.From(err)
	}

	outcome, err := h.resolver.ResolveReview(ctx, c.Param("id"), reviewer, req)
	if err != nil {
		return apierror.From(err)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"entry_id": outcome.Entry.ID,
		"decision": req.Decision,
		"reviewer": reviewer,
	}).Info("review entry resolved")

	return c.JSON(http.StatusOK, outcome)
}

// Skip returns a claimed entry unresolved
func (h *Handler) Skip(c echo.Context) error {
	ctx := c.Request().Context()
	reviewer, err := reviewerID(ctx)
	if err != nil {
		return err
	}

	entry, err := h.queue.Skip(ctx, c.Param("id"), reviewer)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func reviewerID(ctx context.Context) (string, error) {
	reviewer := appctx.GetUserID(ctx)
	if reviewer == "" {
		return "", httperror.NewHTTPError(http.StatusUnauthorized, "X-User-ID header is required")
	}
	return reviewer, nil
}
