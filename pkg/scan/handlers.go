package scan

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	scanner *Scanner
}

func (h *handler) run(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.scanner.Run(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, report))
}
