package metadata

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tomebox/tomebox/pkg/errcodes"
)

type handler struct {
	metadataService *Service
}

type listSourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

type searchResponse struct {
	Candidates []Candidate `json:"candidates"`
}

func (h *handler) listSources(c echo.Context) error {
	params := ListSourcesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	sources := h.metadataService.ListSources(params.Kind)
	return errors.WithStack(c.JSON(http.StatusOK, listSourcesResponse{Sources: sources}))
}

func (h *handler) search(c echo.Context) error {
	ctx := c.Request().Context()

	params := SearchQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	candidates, err := h.metadataService.SearchSources(ctx, params.Query, params.Author, params.Source)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, searchResponse{Candidates: candidates}))
}

func (h *handler) apply(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Content")
	}

	payload := ApplyPayload{}
	if err := c.Bind(&payload); err != nil {
		return errors.WithStack(err)
	}

	result, err := h.metadataService.Apply(ctx, id, payload.candidate())
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}
