package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/bus"
	"github.com/dslhub/dslhub/internal/store"
)

// HeaderLastEventID resumes the stream after the given cursor, same as the
// since query parameter.
const HeaderLastEventID = "Last-Event-ID"

const ssePingInterval = 15 * time.Second

// streamEvents serves the thread's event sequence as SSE. Clients resume with
// Last-Event-ID or ?since=<cursor>; a 204 means the cursor fell out of the
// replay window and the client must resync its state over the REST API.
func (s *Server) streamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("id")
	if _, err := s.opts.Store.Threads().Get(ctx, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("thread")
		}
		return err
	}

	since := int64(0)
	raw := c.Request().Header.Get(HeaderLastEventID)
	if raw == "" {
		raw = c.QueryParam("since")
	}
	if raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperr.Validation("since must be an integer cursor")
		}
		// Negative cursors fall outside any replay window and resolve to a
		// 204 resync below.
		since = n
	}

	// Subscribe before replaying so events published while the backlog is
	// written are not lost; duplicates are filtered by cursor below.
	events, _ := s.opts.Bus.Subscribe(threadID)
	defer s.opts.Bus.Unsubscribe(threadID, events)

	backlog, err := s.opts.Bus.Replay(threadID, since)
	if err != nil {
		if errors.Is(err, bus.ErrCannotReplay) {
			return c.NoContent(http.StatusNoContent)
		}
		return err
	}

	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	for _, ev := range backlog {
		if err := writeSSE(res, ev); err != nil {
			return nil
		}
		since = ev.Cursor
	}
	res.Flush()

	// Covers tests and clients that hang up during the replay phase.
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	interval := s.opts.Config.SSEPingInterval
	if interval <= 0 {
		interval = ssePingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(res, "event: ping\ndata:\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// The subscription may deliver events already sent during replay.
			if ev.Cursor <= since {
				continue
			}
			if err := writeSSE(res, ev); err != nil {
				return nil
			}
			since = ev.Cursor
			ping.Reset(interval)
			res.Flush()
		}
	}
}

func writeSSE(res *echo.Response, ev bus.Event) error {
	data := make(map[string]any, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	data["ts"] = ev.At.UnixMilli()
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Cursor, ev.Type, payload)
	return err
}
