package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/cmd/traceability/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// LotHandler handles lot lifecycle, genealogy and trace requests
type LotHandler struct {
	lots  *service.LotService
	trace *service.TraceService
}

// NewLotHandler creates a new lot handler
func NewLotHandler(lots *service.LotService, trace *service.TraceService) *LotHandler {
	return &LotHandler{lots: lots, trace: trace}
}

// CreateLot creates a lot in status CREATED
// POST /api/v1/lots
func (h *LotHandler) CreateLot(c echo.Context) error {
	var req struct {
		LotCode      string         `json:"lot_code"`
		LotType      models.LotType `json:"lot_type"`
		WeightKG     float64        `json:"weight_kg"`
		TemperatureC *float64       `json:"temperature_c,omitempty"`
		RunID        *uuid.UUID     `json:"production_run_id,omitempty"`
		StepIndex    int            `json:"step_index"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	lot, err := h.lots.CreateLot(c.Request().Context(), service.CreateLotParams{
		LotCode:      req.LotCode,
		LotType:      req.LotType,
		WeightKG:     req.WeightKG,
		TemperatureC: req.TemperatureC,
		RunID:        req.RunID,
		StepIndex:    req.StepIndex,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, lot)
}

// GetLot retrieves a lot by ID, or by code with ?by=code
// GET /api/v1/lots/:id
func (h *LotHandler) GetLot(c echo.Context) error {
	if c.QueryParam("by") == "code" {
		lot, err := h.lots.GetByCode(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, lot)
	}

	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lot ID"})
	}

	lot, err := h.lots.Get(c.Request().Context(), lotID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, lot)
}

// ListByRun lists the lots produced by a run
// GET /api/v1/runs/:id/lots
func (h *LotHandler) ListByRun(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run ID"})
	}

	lots, err := h.lots.ListByRun(c.Request().Context(), runID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"lots": lots})
}

// Transition moves a lot to a new status
// POST /api/v1/lots/:id/transition
func (h *LotHandler) Transition(c echo.Context) error {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lot ID"})
	}

	var req struct {
		Status models.LotStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Status == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status is required"})
	}

	lot, err := h.lots.Transition(c.Request().Context(), lotID, req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, lot)
}

// LinkGenealogy records parent -> child consumption edges
// POST /api/v1/lots/:id/genealogy
func (h *LotHandler) LinkGenealogy(c echo.Context) error {
	childID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lot ID"})
	}

	var req struct {
		Parents []struct {
			LotID          uuid.UUID `json:"lot_id"`
			QuantityUsedKG float64   `json:"quantity_used_kg"`
		} `json:"parents"`
		EventRef string `json:"event_ref"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	parentIDs := make([]uuid.UUID, len(req.Parents))
	quantities := make([]float64, len(req.Parents))
	for i, p := range req.Parents {
		parentIDs[i] = p.LotID
		quantities[i] = p.QuantityUsedKG
	}

	edges, err := h.lots.LinkGenealogy(c.Request().Context(), parentIDs, childID, quantities, req.EventRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"edges": edges})
}

// TraceBackward returns the lot's ancestry
// GET /api/v1/lots/:id/trace/backward
func (h *LotHandler) TraceBackward(c echo.Context) error {
	return h.traceResponse(c, h.trace.TraceBackward)
}

// TraceForward returns the lot's descendants
// GET /api/v1/lots/:id/trace/forward
func (h *LotHandler) TraceForward(c echo.Context) error {
	return h.traceResponse(c, h.trace.TraceForward)
}

func (h *LotHandler) traceResponse(c echo.Context, fn func(ctx context.Context, lotID uuid.UUID, maxDepth int) (*models.TraceResult, error)) error {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lot ID"})
	}

	depth := 0
	if raw := c.QueryParam("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid depth"})
		}
		depth = parsed
	}

	result, err := fn(c.Request().Context(), lotID, depth)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
