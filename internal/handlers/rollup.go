package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/trellis/pkg/models"
)

type Rollups interface {
	AccountRollup(ctx context.Context, tenantID, accountID string, windowDays int) (models.Rollup, error)
	ThemeRollup(ctx context.Context, tenantID, themeKey string, windowDays int) (models.Rollup, error)
}

type RollupHandler struct {
	rollups Rollups
}

func NewRollupHandler(rollups Rollups) *RollupHandler {
	return &RollupHandler{rollups: rollups}
}

// Account returns the rollup for an account
// GET /api/v1/rollups/accounts/:id?window_days=
func (h *RollupHandler) Account(c echo.Context) error {
	return h.rollup(c, h.rollups.AccountRollup)
}

// Theme returns the rollup for a theme
// GET /api/v1/rollups/themes/:key?window_days=
func (h *RollupHandler) Theme(c echo.Context) error {
	return h.rollup(c, h.rollups.ThemeRollup)
}

func (h *RollupHandler) rollup(c echo.Context, fn func(context.Context, string, string, int) (models.Rollup, error)) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}
	windowDays, err := QueryInt(c, "window_days")
	if err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		id = c.Param("key")
	}

	r, err := fn(c.Request().Context(), tenantID, id, windowDays)
	if err != nil {
		return err
	}
	return SuccessResponse(c, r)
}
