package handlers

import (
	"net/http"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/duna/traceability/cmd/traceability/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// FlowHandler handles flow definition and version requests
type FlowHandler struct {
	governance *service.GovernanceService
}

// NewFlowHandler creates a new flow handler
func NewFlowHandler(governance *service.GovernanceService) *FlowHandler {
	return &FlowHandler{governance: governance}
}

// CreateDefinition creates a flow definition with its initial draft
// POST /api/v1/flows
func (h *FlowHandler) CreateDefinition(c echo.Context) error {
	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	def, draft, err := h.governance.CreateDefinition(c.Request().Context(), req.Name, req.Description, operatorID(c))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"definition": def, "draft": draft})
}

// ListDefinitions lists all flow definitions
// GET /api/v1/flows
func (h *FlowHandler) ListDefinitions(c echo.Context) error {
	defs, err := h.governance.ListDefinitions(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"definitions": defs})
}

// CreateVersion opens a fresh draft under a definition
// POST /api/v1/flows/:id/versions
func (h *FlowHandler) CreateVersion(c echo.Context) error {
	definitionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid definition ID"})
	}

	var graph flowgraph.Graph
	if err := c.Bind(&graph); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	draft, err := h.governance.CreateDraft(c.Request().Context(), definitionID, &graph, operatorID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, draft)
}

// ListVersions lists all versions of a definition
// GET /api/v1/flows/:id/versions
func (h *FlowHandler) ListVersions(c echo.Context) error {
	definitionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid definition ID"})
	}

	versions, err := h.governance.ListVersions(c.Request().Context(), definitionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"versions": versions})
}

// LatestDraft returns the current editable draft of a definition
// GET /api/v1/flows/:id/draft
func (h *FlowHandler) LatestDraft(c echo.Context) error {
	definitionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid definition ID"})
	}

	draft, err := h.governance.LatestDraft(c.Request().Context(), definitionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, draft)
}

// GetVersion retrieves one flow version
// GET /api/v1/versions/:id
func (h *FlowHandler) GetVersion(c echo.Context) error {
	versionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}

	version, err := h.governance.Get(c.Request().Context(), versionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

// SaveDraft replaces a draft version's graph
// PUT /api/v1/versions/:id/graph
func (h *FlowHandler) SaveDraft(c echo.Context) error {
	versionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}

	var graph flowgraph.Graph
	if err := c.Bind(&graph); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	version, err := h.governance.SaveDraft(c.Request().Context(), versionID, &graph)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

// RequestReview stages a draft for approval
// POST /api/v1/versions/:id/review
func (h *FlowHandler) RequestReview(c echo.Context) error {
	versionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}

	version, err := h.governance.RequestReview(c.Request().Context(), versionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

// Publish validates and publishes a version, returning the published
// version and the auto-created next draft
// POST /api/v1/versions/:id/publish
func (h *FlowHandler) Publish(c echo.Context) error {
	versionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}

	published, nextDraft, err := h.governance.Publish(c.Request().Context(), versionID, operatorID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"published": published, "next_draft": nextDraft})
}

// Deprecate retires a version
// POST /api/v1/versions/:id/deprecate
func (h *FlowHandler) Deprecate(c echo.Context) error {
	versionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}

	version, err := h.governance.Deprecate(c.Request().Context(), versionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

// Diff returns a merge patch between two versions' graphs
// GET /api/v1/versions/:id/diff/:other
func (h *FlowHandler) Diff(c echo.Context) error {
	aID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}
	bID, err := uuid.Parse(c.Param("other"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version ID"})
	}

	patch, err := h.governance.DiffVersions(c.Request().Context(), aID, bID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSONBlob(http.StatusOK, patch)
}
