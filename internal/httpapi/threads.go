package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dslhub/dslhub/internal/agent"
	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/canonicaljson"
	"github.com/dslhub/dslhub/internal/intake"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/similarity"
	"github.com/dslhub/dslhub/internal/store"
)

// HeaderNextCursor points at the oldest returned message when older ones
// remain.
const HeaderNextCursor = "X-Next-Cursor"

const defaultMessagePageSize = 50

// EventThreadClosed is published when a thread is closed.
const EventThreadClosed = "thread.closed"

type openThreadRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) openThread(c echo.Context) error {
	flow, err := s.resolveFlow(c)
	if err != nil {
		return err
	}
	var req openThreadRequest
	if err := c.Bind(&req); err != nil && c.Request().ContentLength > 0 {
		return apperr.Validation("request body must be a JSON object")
	}
	thread, snap, err := s.opts.Engine.OpenThread(c.Request().Context(), flow.ID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"thread":           thread,
		"context_snapshot": snap,
	})
}

func (s *Server) listThreads(c echo.Context) error {
	flow, err := s.resolveFlow(c)
	if err != nil {
		return err
	}
	threads, err := s.opts.Store.Threads().ListForFlow(c.Request().Context(), flow.ID)
	if err != nil {
		return err
	}
	if threads == nil {
		threads = []model.Thread{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": threads})
}

func (s *Server) getThread(c echo.Context) error {
	thread, err := s.opts.Store.Threads().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("thread")
		}
		return err
	}
	return c.JSON(http.StatusOK, thread)
}

type createMessageRequest struct {
	Role       string `json:"role"`
	Format     string `json:"format"`
	ParentID   string `json:"parent_id"`
	ToolName   string `json:"tool_name"`
	ToolResult any    `json:"tool_result"`
	Content    any    `json:"content"`
}

// createMessage accepts a message; ?run=true also starts an agent run fed by
// the message.
func (s *Server) createMessage(c echo.Context) error {
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("request body must be a JSON object")
	}
	if req.Role == "" {
		req.Role = string(model.RoleUser)
	}
	ctx := c.Request().Context()
	msg, err := s.opts.Intake.Create(ctx, intake.CreateParams{
		ThreadID:   c.Param("id"),
		Role:       model.MessageRole(req.Role),
		Format:     model.MessageFormat(req.Format),
		ParentID:   req.ParentID,
		ToolName:   req.ToolName,
		ToolResult: req.ToolResult,
		Content:    req.Content,
	})
	if err != nil {
		return err
	}

	response := map[string]any{"message": msg}
	if wantRun, _ := strconv.ParseBool(c.QueryParam("run")); wantRun {
		run, err := s.opts.Engine.StartRun(ctx, agent.RunParams{
			ThreadID:        msg.ThreadID,
			Prompt:          promptText(msg.Content),
			SourceMessageID: msg.ID,
			Candidate:       similarity.ExtractCandidate(msg.Content),
		})
		if err != nil {
			return err
		}
		go s.opts.Engine.Process(context.WithoutCancel(ctx), run.ID)
		response["run"] = map[string]any{
			"run_id": run.ID,
			"status": string(run.Status),
		}
	}
	return c.JSON(http.StatusCreated, response)
}

// promptText extracts the textual request from a message content value:
// plain strings pass through, objects contribute their text field or their
// canonical form.
func promptText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
		return canonicaljson.Text(v)
	}
	return ""
}

func (s *Server) listMessages(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("id")
	if _, err := s.opts.Store.Threads().Get(ctx, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("thread")
		}
		return err
	}

	limit := defaultMessagePageSize
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apperr.Validation("limit must be a positive integer")
		}
		limit = n
	}
	before := c.QueryParam("before")

	msgs, err := s.opts.Store.Messages().List(ctx, threadID, limit, before)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("message")
		}
		return err
	}
	if len(msgs) > 0 {
		older, err := s.opts.Store.Messages().OlderExists(ctx, threadID, msgs[0].ID)
		if err != nil {
			return err
		}
		if older {
			c.Response().Header().Set(HeaderNextCursor, msgs[0].ID)
		}
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": msgs})
}

func (s *Server) closeThread(c echo.Context) error {
	thread, ts, err := s.opts.Closer.CloseThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	s.opts.Bus.Publish(thread.ID, EventThreadClosed, map[string]any{
		"thread_id":  thread.ID,
		"summary_id": ts.ID,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"thread":  thread,
		"summary": ts,
	})
}

func (s *Server) listSummaries(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("id")
	if _, err := s.opts.Store.Threads().Get(ctx, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("thread")
		}
		return err
	}
	summaries, err := s.opts.Store.Summaries().ListThreadSummaries(ctx, threadID)
	if err != nil {
		return err
	}
	if summaries == nil {
		summaries = []model.ThreadSummary{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": summaries})
}
