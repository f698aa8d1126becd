package routes

import (
	"github.com/duna/traceability/cmd/traceability/container"
	"github.com/duna/traceability/cmd/traceability/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterFlowRoutes registers flow definition and version routes
func RegisterFlowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewFlowHandler(c.Governance)

	flows := e.Group("/api/v1/flows")
	{
		flows.POST("", h.CreateDefinition)
		flows.GET("", h.ListDefinitions)
		flows.GET("/:id/versions", h.ListVersions)
		flows.POST("/:id/versions", h.CreateVersion)
		flows.GET("/:id/draft", h.LatestDraft)
	}

	versions := e.Group("/api/v1/versions")
	{
		versions.GET("/:id", h.GetVersion)
		versions.PUT("/:id/graph", h.SaveDraft)
		versions.POST("/:id/review", h.RequestReview)
		versions.POST("/:id/publish", h.Publish)
		versions.POST("/:id/deprecate", h.Deprecate)
		versions.GET("/:id/diff/:other", h.Diff)
	}
}
