package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/trellis/pkg/middleware"
)

// NewServer builds the echo server with middleware and every route registered.
func NewServer(appName string, logger ectologger.Logger, reconcile *ReconcileHandler, rollups *RollupHandler, health *HealthHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(appName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/api/v1/health", health.Health)
	e.GET("/api/v1/health/live", health.Live)
	e.GET("/api/v1/health/ready", health.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.POST("/reconcile", reconcile.Run)
	api.GET("/links", reconcile.ListLinks)
	api.DELETE("/links", reconcile.Wipe)
	api.GET("/runs/latest", reconcile.LatestRun)
	api.GET("/rollups/accounts/:id", rollups.Account)
	api.GET("/rollups/themes/:key", rollups.Theme)

	return e
}
