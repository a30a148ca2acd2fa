package contents

import (
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tomebox/tomebox/pkg/errcodes"
	"github.com/tomebox/tomebox/pkg/models"
)

type handler struct {
	contentService *Service
}

type listContentsResponse struct {
	Contents []*models.Content `json:"contents"`
	Total    int               `json:"total"`
}

type quarantineCountResponse struct {
	Count int `json:"count"`
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListContentsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := ListContentsOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
		Status: params.Status,
		Kind:   params.Kind,
	}

	// Non-admins only see the public shelf.
	if user, ok := c.Get("user").(*models.User); !ok || !user.IsAdmin() {
		opts.PublicOnly = true
	}

	contents, total, err := h.contentService.ListContentsWithTotal(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, listContentsResponse{Contents: contents, Total: total}))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Content")
	}

	content, err := h.contentService.RetrieveContent(ctx, RetrieveContentOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}

	if user, ok := c.Get("user").(*models.User); (!ok || !user.IsAdmin()) && !content.IsPublic() {
		return errcodes.NotFound("Content")
	}

	return errors.WithStack(c.JSON(http.StatusOK, content))
}

func (h *handler) cover(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Content")
	}

	content, err := h.contentService.RetrieveContent(ctx, RetrieveContentOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}

	if user, ok := c.Get("user").(*models.User); (!ok || !user.IsAdmin()) && !content.IsPublic() {
		return errcodes.NotFound("Content")
	}

	if content.CoverImagePath == nil || *content.CoverImagePath == "" {
		return errcodes.NotFound("Cover")
	}
	if _, err := os.Stat(*content.CoverImagePath); err != nil {
		return errcodes.NotFound("Cover")
	}

	return errors.WithStack(c.File(*content.CoverImagePath))
}

func (h *handler) updateVisibility(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Content")
	}

	payload := UpdateVisibilityPayload{}
	if err := c.Bind(&payload); err != nil {
		return errors.WithStack(err)
	}

	content, err := h.contentService.SetVisibility(ctx, id, payload.Visibility)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, content))
}

func (h *handler) listQuarantine(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListQuarantineQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	contents, total, err := h.contentService.ListQuarantine(ctx, params.Limit, params.Offset)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, listContentsResponse{Contents: contents, Total: total}))
}

func (h *handler) quarantineCount(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.contentService.CountQuarantine(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, quarantineCountResponse{Count: count}))
}
