package handlers

import (
	"net/http"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/cmd/traceability/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// QCHandler handles QC gate and decision requests
type QCHandler struct {
	qc *service.QCService
}

// NewQCHandler creates a new QC handler
func NewQCHandler(qc *service.QCService) *QCHandler {
	return &QCHandler{qc: qc}
}

// CreateGate registers a QC gate
// POST /api/v1/qc/gates
func (h *QCHandler) CreateGate(c echo.Context) error {
	var gate models.QCGate
	if err := c.Bind(&gate); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if gate.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	if err := h.qc.CreateGate(c.Request().Context(), &gate); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, gate)
}

// GetGate retrieves a QC gate
// GET /api/v1/qc/gates/:id
func (h *QCHandler) GetGate(c echo.Context) error {
	gateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid gate ID"})
	}

	gate, err := h.qc.GetGate(c.Request().Context(), gateID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, gate)
}

// RecordDecision appends one inspection outcome for a lot
// POST /api/v1/qc/decisions
func (h *QCHandler) RecordDecision(c echo.Context) error {
	var req struct {
		LotID        uuid.UUID       `json:"lot_id"`
		GateID       uuid.UUID       `json:"qc_gate_id"`
		Decision     models.Decision `json:"decision"`
		Notes        string          `json:"notes"`
		TemperatureC *float64        `json:"temperature_c,omitempty"`
		Signature    *string         `json:"signature,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	switch req.Decision {
	case models.DecisionPass, models.DecisionHold, models.DecisionFail:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "decision must be PASS, HOLD or FAIL"})
	}

	decision, err := h.qc.RecordDecision(c.Request().Context(), service.RecordDecisionParams{
		LotID:        req.LotID,
		GateID:       req.GateID,
		Decision:     req.Decision,
		Notes:        req.Notes,
		OperatorID:   operatorID(c),
		TemperatureC: req.TemperatureC,
		Signature:    req.Signature,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, decision)
}

// DecisionsForLot retrieves a lot's inspection history
// GET /api/v1/lots/:id/decisions
func (h *QCHandler) DecisionsForLot(c echo.Context) error {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lot ID"})
	}

	decisions, err := h.qc.DecisionsForLot(c.Request().Context(), lotID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"decisions": decisions})
}
