package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dslhub/dslhub/internal/agent"
	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

type startRunRequest struct {
	Message     string         `json:"message"`
	Pipeline    map[string]any `json:"pipeline"`
	AutoPublish bool           `json:"auto_publish"`
}

// startRun queues a generation run and processes it in the background.
// Progress streams over /threads/:id/events. When the request carries a
// pipeline candidate that matches an existing version, the suggestion is also
// returned inline.
func (s *Server) startRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("request body must be a JSON object")
	}
	if req.Message == "" && req.Pipeline == nil {
		return apperr.Validation("message or pipeline is required")
	}
	ctx := c.Request().Context()
	run, err := s.opts.Engine.StartRun(ctx, agent.RunParams{
		ThreadID:    c.Param("id"),
		Prompt:      req.Message,
		Candidate:   req.Pipeline,
		AutoPublish: req.AutoPublish,
	})
	if err != nil {
		return err
	}

	response := map[string]any{
		"run_id": run.ID,
		"status": string(run.Status),
	}
	if req.Pipeline != nil {
		if match, err := s.opts.Engine.Suggest(ctx, run.FlowID, req.Pipeline); err == nil && match != nil {
			response["suggestion"] = map[string]any{
				"pipeline_id": match.Pipeline.ID,
				"version":     match.Pipeline.Version,
				"score":       match.Score,
			}
		}
	}
	go s.opts.Engine.Process(context.WithoutCancel(ctx), run.ID)
	return c.JSON(http.StatusAccepted, response)
}

func (s *Server) getRun(c echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.opts.Store.Runs().Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("run")
		}
		return err
	}
	issues, err := s.opts.Store.Runs().Issues(ctx, run.ID)
	if err != nil {
		return err
	}
	if issues == nil {
		issues = []model.ValidationIssue{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"run":    run,
		"issues": issues,
	})
}

func (s *Server) cancelRun(c echo.Context) error {
	if err := s.opts.Engine.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	run, err := s.opts.Store.Runs().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
