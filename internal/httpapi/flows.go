package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type createFlowRequest struct {
	Slug string         `json:"slug"`
	Name string         `json:"name"`
	Meta map[string]any `json:"meta"`
}

func (s *Server) createFlow(c echo.Context) error {
	var req createFlowRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("request body must be a JSON object")
	}
	if strings.TrimSpace(req.Name) == "" {
		return apperr.Validation("name is required")
	}
	if req.Slug == "" {
		req.Slug = slugify(req.Name)
	}
	if !slugPattern.MatchString(req.Slug) {
		return apperr.Validation("slug must be lowercase letters, digits and hyphens")
	}

	now := time.Now().UTC()
	flow := model.Flow{
		ID:        uuid.NewString(),
		Slug:      req.Slug,
		Name:      req.Name,
		Meta:      req.Meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.opts.Store.Flows().Create(c.Request().Context(), flow); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return apperr.Newf(http.StatusConflict, apperr.CodeDuplicate, "flow slug %q already exists", req.Slug)
		}
		return err
	}
	return c.JSON(http.StatusCreated, flow)
}

func (s *Server) listFlows(c echo.Context) error {
	flows, err := s.opts.Store.Flows().List(c.Request().Context())
	if err != nil {
		return err
	}
	if flows == nil {
		flows = []model.Flow{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": flows})
}

func (s *Server) getFlow(c echo.Context) error {
	flow, err := s.resolveFlow(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, flow)
}

func (s *Server) deleteFlow(c echo.Context) error {
	flow, err := s.resolveFlow(c)
	if err != nil {
		return err
	}
	if err := s.opts.Store.Flows().Delete(c.Request().Context(), flow.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// resolveFlow accepts either a flow id or its slug.
func (s *Server) resolveFlow(c echo.Context) (model.Flow, error) {
	ctx := c.Request().Context()
	ref := c.Param("id")
	flow, err := s.opts.Store.Flows().Get(ctx, ref)
	if err == nil {
		return flow, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Flow{}, err
	}
	flow, err = s.opts.Store.Flows().GetBySlug(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Flow{}, apperr.NotFound("flow")
		}
		return model.Flow{}, err
	}
	return flow, nil
}

func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}
