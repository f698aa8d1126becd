package routes

import (
	"github.com/duna/traceability/cmd/traceability/container"
	"github.com/duna/traceability/cmd/traceability/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterRunRoutes registers production run routes
func RegisterRunRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRunHandler(c.Execution)
	lots := handlers.NewLotHandler(c.Lots, c.Trace)

	runs := e.Group("/api/v1/runs")
	{
		runs.POST("", h.CreateRun)
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
		runs.GET("/:id/steps", h.Steps)
		runs.GET("/:id/lots", lots.ListByRun)
		runs.POST("/:id/start", h.Start)
		runs.POST("/:id/advance", h.AdvanceStep)
		runs.POST("/:id/hold", h.Hold)
		runs.POST("/:id/resume", h.Resume)
		runs.POST("/:id/abort", h.Abort)
		runs.POST("/:id/finish", h.Finish)
		runs.POST("/:id/archive", h.Archive)
	}
}
