package routes

import (
	"github.com/duna/traceability/cmd/traceability/container"
	"github.com/duna/traceability/cmd/traceability/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterQCRoutes registers QC gate and decision routes
func RegisterQCRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewQCHandler(c.QC)

	qc := e.Group("/api/v1/qc")
	{
		qc.POST("/gates", h.CreateGate)
		qc.GET("/gates/:id", h.GetGate)
		qc.POST("/decisions", h.RecordDecision)
	}
}
