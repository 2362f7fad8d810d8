package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/reconcile"
)

// Reconciler is the engine surface the HTTP API exposes.
type Reconciler interface {
	Run(ctx context.Context, tenantID string, mode models.RunMode) (*models.RunReport, error)
	Wipe(ctx context.Context, tenantID string) (*reconcile.WipeResult, error)
	Links(ctx context.Context, tenantID string, filter models.LinkFilter) ([]models.Link, error)
	LatestRun(ctx context.Context, tenantID string) (*models.RunReport, error)
}

// ReconcileHandler handles runs, wipes and the diagnostic link read.
type ReconcileHandler struct {
	engine Reconciler
	logger ectologger.Logger
}

func NewReconcileHandler(engine Reconciler, logger ectologger.Logger) *ReconcileHandler {
	return &ReconcileHandler{engine: engine, logger: logger}
}

// Run reconciles the tenant
// POST /api/v1/reconcile?mode=full|incremental
func (h *ReconcileHandler) Run(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	mode := models.RunMode(c.QueryParam("mode"))
	if mode == "" {
		mode = models.RunModeIncremental
	}
	if !mode.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid mode %q: must be full or incremental", mode)
	}

	report, err := h.engine.Run(c.Request().Context(), tenantID, mode)
	if err != nil {
		return engineError(err)
	}
	return SuccessResponse(c, report)
}

// Wipe deletes all links of the tenant
// DELETE /api/v1/links
func (h *ReconcileHandler) Wipe(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	res, err := h.engine.Wipe(c.Request().Context(), tenantID)
	if err != nil {
		return engineError(err)
	}
	return SuccessResponse(c, res)
}

// ListLinks returns persisted links with strategy and confidence
// GET /api/v1/links?account_id=&ticket_id=&strategy=
func (h *ReconcileHandler) ListLinks(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var filter models.LinkFilter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid link filter")
	}

	links, err := h.engine.Links(c.Request().Context(), tenantID, filter)
	if err != nil {
		return engineError(err)
	}
	if links == nil {
		links = []models.Link{}
	}
	return SuccessResponse(c, links)
}

// LatestRun returns the most recent run report
// GET /api/v1/runs/latest
func (h *ReconcileHandler) LatestRun(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	report, err := h.engine.LatestRun(c.Request().Context(), tenantID)
	if err != nil {
		return engineError(err)
	}
	return SuccessResponse(c, report)
}

func engineError(err error) error {
	switch {
	case httperror.IsHTTPError(err):
		return err
	case errors.Is(err, reconcile.ErrRunInProgress):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, reconcile.ErrTenantRequired), errors.Is(err, reconcile.ErrInvalidMode):
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
