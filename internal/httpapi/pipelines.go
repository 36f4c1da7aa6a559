package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

func (s *Server) getPipeline(c echo.Context) error {
	p, err := s.opts.Store.Pipelines().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("pipeline")
		}
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) listPipelines(c echo.Context) error {
	flow, err := s.resolveFlow(c)
	if err != nil {
		return err
	}
	var published *bool
	if raw := c.QueryParam("published"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.Validation("published must be a boolean")
		}
		published = &v
	}
	pipelines, err := s.opts.Store.Pipelines().ListForFlow(c.Request().Context(), flow.ID, published)
	if err != nil {
		return err
	}
	if pipelines == nil {
		pipelines = []model.Pipeline{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": pipelines})
}

// publishPipeline promotes the version to published, demoting any previous
// one. At most one version per flow is published at a time.
func (s *Server) publishPipeline(c echo.Context) error {
	p, err := s.opts.Versions.Publish(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":           true,
		"pipeline_id":  p.ID,
		"flow_id":      p.FlowID,
		"version":      p.Version,
		"is_published": p.IsPublished,
	})
}
