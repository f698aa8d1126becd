package routes

import (
	"github.com/duna/traceability/cmd/traceability/container"
	"github.com/duna/traceability/cmd/traceability/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterLotRoutes registers lot lifecycle, genealogy and trace routes
func RegisterLotRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewLotHandler(c.Lots, c.Trace)
	qc := handlers.NewQCHandler(c.QC)

	lots := e.Group("/api/v1/lots")
	{
		lots.POST("", h.CreateLot)
		lots.GET("/:id", h.GetLot)
		lots.POST("/:id/transition", h.Transition)
		lots.POST("/:id/genealogy", h.LinkGenealogy)
		lots.GET("/:id/trace/backward", h.TraceBackward)
		lots.GET("/:id/trace/forward", h.TraceForward)
		lots.GET("/:id/decisions", qc.DecisionsForLot)
	}
}
