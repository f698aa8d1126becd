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

// RunHandler handles production run requests
type RunHandler struct {
	execution *service.ExecutionService
}

// NewRunHandler creates a new run handler
func NewRunHandler(execution *service.ExecutionService) *RunHandler {
	return &RunHandler{execution: execution}
}

// CreateRun instantiates a run from a published flow version. The
// Idempotency-Key header makes retries safe.
// POST /api/v1/runs
func (h *RunHandler) CreateRun(c echo.Context) error {
	var req struct {
		FlowVersionID uuid.UUID `json:"flow_version_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.FlowVersionID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "flow_version_id is required"})
	}

	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key header is required"})
	}

	run, err := h.execution.CreateRun(c.Request().Context(), req.FlowVersionID, key, operatorID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// GetRun retrieves a run
// GET /api/v1/runs/:id
func (h *RunHandler) GetRun(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run ID"})
	}

	run, err := h.execution.GetRun(c.Request().Context(), runID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns lists runs newest first
// GET /api/v1/runs
func (h *RunHandler) ListRuns(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}

	runs, err := h.execution.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"runs": runs})
}

// Steps retrieves a run's step execution records
// GET /api/v1/runs/:id/steps
func (h *RunHandler) Steps(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run ID"})
	}

	steps, err := h.execution.Steps(c.Request().Context(), runID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"steps": steps})
}

// Start moves an IDLE run to RUNNING
// POST /api/v1/runs/:id/start
func (h *RunHandler) Start(c echo.Context) error {
	return h.mutate(c, h.execution.Start)
}

// AdvanceStep completes the named step and opens the next
// POST /api/v1/runs/:id/advance
func (h *RunHandler) AdvanceStep(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run ID"})
	}

	var req struct {
		StepIndex int `json:"step_index"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	run, err := h.execution.AdvanceStep(c.Request().Context(), runID, req.StepIndex, operatorID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// Hold pauses a RUNNING run
// POST /api/v1/runs/:id/hold
func (h *RunHandler) Hold(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run ID"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Reason == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reason is required"})
	}

	run, err := h.execution.Hold(c.Request().Context(), runID, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// Resume moves a HOLD run back to RUNNING
// POST /api/v1/runs/:id/resume
func (h *RunHandler) Resume(c echo.Context) error {
	return h.mutate(c, h.execution.Resume)
}

// Abort terminates a run early; unfinished steps become SKIPPED
// POST /api/v1/runs/:id/abort
func (h *RunHandler) Abort(c echo.Context) error {
	return h.mutate(c, h.execution.Abort)
}

// Finish ends a run early with final status COMPLETED
// POST /api/v1/runs/:id/finish
func (h *RunHandler) Finish(c echo.Context) error {
	return h.mutate(c, h.execution.Finish)
}

// Archive moves a finished run to ARCHIVED
// POST /api/v1/runs/:id/archive
func (h *RunHandler) Archive(c echo.Context) error {
	return h.mutate(c, h.execution.Archive)
}

func (h *RunHandler) mutate(c echo.Context, fn func(ctx context.Context, runID uuid.UUID) (*models.ProductionRun, error)) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid run ID"})
	}

	run, err := fn(c.Request().Context(), runID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
