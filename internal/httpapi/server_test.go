package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslhub/dslhub/internal/agent"
	"github.com/dslhub/dslhub/internal/bus"
	"github.com/dslhub/dslhub/internal/config"
	"github.com/dslhub/dslhub/internal/intake"
	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/pipeline"
	"github.com/dslhub/dslhub/internal/similarity"
	"github.com/dslhub/dslhub/internal/store/memory"
	"github.com/dslhub/dslhub/internal/summary"
	"github.com/dslhub/dslhub/internal/validate"
)

type testAPI struct {
	server *Server
	store  *memory.Store
	bus    *bus.Bus
}

func newTestAPI(t *testing.T, cfg config.Config) *testAPI {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	def := model.SchemaDefinition{
		ID: "sd1", Name: "pipeline", Version: "1.0.0",
		Status: model.SchemaActive,
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"name", "stages"},
			"properties": map[string]any{
				"name":   map[string]any{"type": "string"},
				"stages": map[string]any{"type": "array"},
			},
		},
	}
	require.NoError(t, s.Schemas().CreateDefinition(ctx, def))
	require.NoError(t, s.Schemas().UpsertChannel(ctx, model.SchemaChannel{
		Name: "stable", ActiveSchemaDefID: def.ID,
	}))

	b := bus.New(bus.Options{})
	static := llm.NewStatic()
	versions := pipeline.NewManager(s)
	engine := agent.New(s, b, static, validate.New(),
		similarity.New(s.Pipelines(), 0.75), versions, agent.Options{Channel: "stable"})

	srv := New(Options{
		Store:    s,
		Bus:      b,
		Engine:   engine,
		Intake:   intake.New(s, b, intake.Options{}),
		Versions: versions,
		Closer:   summary.New(s, static),
		Config:   cfg,
	})
	return &testAPI{server: srv, store: s, bus: b}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", rec.Body.String())
	code, _ := e["code"].(string)
	return code
}

func TestFlowThreadMessageFlow(t *testing.T) {
	api := newTestAPI(t, config.Config{})

	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "Orders ETL"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	flow := decode(t, rec)
	assert.Equal(t, "orders-etl", flow["slug"])

	// Threads resolve the flow by slug as well as by id.
	rec = api.do(t, http.MethodPost, "/flows/orders-etl/threads", map[string]any{"notes": "kickoff"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode(t, rec)
	thread := opened["thread"].(map[string]any)
	require.NotNil(t, opened["context_snapshot"])
	threadID := thread["id"].(string)
	assert.Equal(t, string(model.ThreadNew), thread["status"])

	rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/messages",
		map[string]any{"role": "user", "content": "build a pipeline"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/threads/"+threadID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(model.ThreadInProgress), decode(t, rec)["status"])

	rec = api.do(t, http.MethodGet, "/threads/"+threadID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Empty(t, rec.Header().Get(HeaderNextCursor))
}

func TestMessagePaginationCursor(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "p"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)

	for _, text := range []string{"one", "two", "three"} {
		rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/messages",
			map[string]any{"content": text}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/threads/"+threadID+"/messages?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].(map[string]any)["content"])
	cursor := rec.Header().Get(HeaderNextCursor)
	require.NotEmpty(t, cursor)

	rec = api.do(t, http.MethodGet, "/threads/"+threadID+"/messages?limit=2&before="+cursor, nil, nil)
	items = decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "one", items[0].(map[string]any)["content"])
	assert.Empty(t, rec.Header().Get(HeaderNextCursor))
}

func TestIdempotencyReplayAndConflict(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	body := map[string]any{"name": "same flow"}
	key := map[string]string{HeaderIdempotencyKey: "k-1"}

	first := api.do(t, http.MethodPost, "/flows", body, key)
	require.Equal(t, http.StatusCreated, first.Code)

	replay := api.do(t, http.MethodPost, "/flows", body, key)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(HeaderIdempotentReplay))
	assert.Equal(t, decode(t, first)["id"], decode(t, replay)["id"])

	conflict := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "other flow"}, key)
	require.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", errorCode(t, conflict))
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "etl"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)

	rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/agent/run",
		map[string]any{"message": "generate the orders pipeline"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ack := decode(t, rec)
	require.Equal(t, string(model.RunQueued), ack["status"])
	runID := ack["run_id"].(string)

	var run map[string]any
	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/runs/"+runID, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		run = decode(t, rec)["run"].(map[string]any)
		status := run["status"].(string)
		return status == string(model.RunSucceeded) || status == string(model.RunFailed)
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, string(model.RunSucceeded), run["status"])

	result := run["result"].(map[string]any)
	pipelineID := result["pipeline_id"].(string)
	rec = api.do(t, http.MethodGet, "/pipelines/"+pipelineID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.0.0", decode(t, rec)["version"])

	rec = api.do(t, http.MethodPost, "/pipelines/"+pipelineID+"/publish", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	published := decode(t, rec)
	assert.Equal(t, true, published["ok"])
	assert.Equal(t, true, published["is_published"])
	assert.Equal(t, "1.0.0", published["version"])

	rec = api.do(t, http.MethodGet, "/flows/"+flowID+"/pipelines?published=true", nil, nil)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)

	// Re-submitting the saved content as a candidate is answered with an
	// inline suggestion instead of a fresh generation.
	content := items[0].(map[string]any)["content"].(map[string]any)
	rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/agent/run",
		map[string]any{"pipeline": content}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	suggestion, ok := decode(t, rec)["suggestion"].(map[string]any)
	require.True(t, ok, "expected inline suggestion")
	assert.Equal(t, pipelineID, suggestion["pipeline_id"])
	assert.Equal(t, 1.0, suggestion["score"])
}

func TestMessageObjectContentFeedsRunPrompt(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "etl"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)

	rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/messages?run=1",
		map[string]any{"content": map[string]any{"text": "build the orders pipeline"}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	runID := decode(t, rec)["run"].(map[string]any)["run_id"].(string)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		run, err := api.store.Runs().Get(ctx, runID)
		return err == nil && run.FinishedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	run, err := api.store.Runs().Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "build the orders pipeline", run.Source["message"])
	assert.Equal(t, string(model.RunSucceeded), string(run.Status))
}

func TestSSEPingKeepalive(t *testing.T) {
	api := newTestAPI(t, config.Config{SSEPingInterval: 5 * time.Millisecond})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "idle"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/threads/"+threadID+"/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	api.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event: ping\ndata:\n\n")
}

func TestSSEReplayFrames(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "sse"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)

	api.bus.Publish(threadID, "run.started", map[string]any{"run_id": "r1"})
	api.bus.Publish(threadID, "run.finished", map[string]any{"run_id": "r1"})

	// A pre-canceled context makes the handler return right after replay.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/threads/"+threadID+"/events?since=0", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	api.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "id: 1\nevent: run.started\n")
	assert.Contains(t, body, "id: 2\nevent: run.finished\n")
	assert.Contains(t, body, `"ts":`)

	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	assert.Len(t, frames, 2)

	// Resuming with Last-Event-ID skips the acknowledged prefix.
	req = httptest.NewRequest(http.MethodGet, "/threads/"+threadID+"/events", nil).WithContext(ctx)
	req.Header.Set(HeaderLastEventID, "1")
	w = httptest.NewRecorder()
	api.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body = w.Body.String()
	assert.NotContains(t, body, "event: run.started\n")
	assert.Contains(t, body, "id: 2\nevent: run.finished\n")
}

func TestSSECursorOutsideWindow(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "sse-gap"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)

	small := bus.New(bus.Options{MaxLen: 1})
	api.server.opts.Bus = small
	small.Publish(threadID, "run.started", nil)
	small.Publish(threadID, "run.finished", nil)

	rec = api.do(t, http.MethodGet, "/threads/"+threadID+"/events?since=0", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A negative cursor can never be replayed either.
	rec = api.do(t, http.MethodGet, "/threads/"+threadID+"/events", nil,
		map[string]string{HeaderLastEventID: "-100"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthToken(t *testing.T) {
	api := newTestAPI(t, config.Config{AuthToken: "secret"})

	// Mutations require the token.
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "guarded"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/flows", map[string]any{"name": "guarded"}, map[string]string{
		"Authorization": "Bearer secret",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Reads and health stay open.
	rec = api.do(t, http.MethodGet, "/flows", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorEnvelopeShape(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodGet, "/threads/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	e := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", e["code"])
	assert.NotEmpty(t, e["message"])
	assert.NotNil(t, e["details"])
}

func TestCloseThreadOverHTTP(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	rec := api.do(t, http.MethodPost, "/flows", map[string]any{"name": "close me"}, nil)
	flowID := decode(t, rec)["id"].(string)
	rec = api.do(t, http.MethodPost, "/flows/"+flowID+"/threads", nil, nil)
	threadID := decode(t, rec)["thread"].(map[string]any)["id"].(string)
	api.do(t, http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{"content": "hello"}, nil)

	rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/close", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.NotNil(t, body["summary"])
	assert.Equal(t, string(model.ThreadSuccess), body["thread"].(map[string]any)["status"])

	rec = api.do(t, http.MethodGet, "/threads/"+threadID+"/summaries", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"].([]any), 1)

	// Sending into a closed thread is rejected.
	rec = api.do(t, http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{"content": "late"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "THREAD_CLOSED", errorCode(t, rec))
}
