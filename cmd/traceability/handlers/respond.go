package handlers

import (
	"errors"
	"net/http"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/labstack/echo/v4"
)

// operatorID extracts the caller identity forwarded by the auth layer.
// This service never infers identity on its own.
func operatorID(c echo.Context) string {
	return c.Request().Header.Get("X-Operator-Id")
}

// respondError maps a domain error to an HTTP response
func respondError(c echo.Context, err error) error {
	var (
		notFound     *models.NotFoundError
		graphInvalid *models.GraphInvalidError
		immutable    *models.ImmutableVersionError
		notDraft     *models.NotDraftError
		notPublished *models.VersionNotPublishedError
		outOfOrder   *models.StepOutOfOrderError
		blocked      *models.StepBlockedError
		illegal      *models.IllegalTransitionError
		cycle        *models.CycleDetectedError
		notes        *models.NotesRequiredError
		ccp          *models.CCPViolationError
	)

	switch {
	case errors.As(err, &notFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})

	case errors.As(err, &graphInvalid):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":  "graph is invalid",
			"issues": graphInvalid.Issues,
		})

	case errors.As(err, &notes), errors.As(err, &ccp):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})

	case errors.As(err, &immutable),
		errors.As(err, &notDraft),
		errors.As(err, &notPublished),
		errors.As(err, &outOfOrder),
		errors.As(err, &blocked),
		errors.As(err, &illegal),
		errors.As(err, &cycle):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})

	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
