// Package httpapi exposes the authoring service over HTTP: flow and thread
// management, message intake, agent runs, pipeline publication and the SSE
// event stream. Built on echo with the uniform error envelope
// {error: {code, message, details[]}}.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dslhub/dslhub/internal/agent"
	"github.com/dslhub/dslhub/internal/bus"
	"github.com/dslhub/dslhub/internal/config"
	"github.com/dslhub/dslhub/internal/intake"
	"github.com/dslhub/dslhub/internal/pipeline"
	"github.com/dslhub/dslhub/internal/store"
	"github.com/dslhub/dslhub/internal/summary"
	"github.com/dslhub/dslhub/internal/telemetry"
)

// Pinger reports backend health, satisfied by the Mongo store.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Options carries the dependencies of the HTTP server.
type Options struct {
	Store    store.Store
	Bus      *bus.Bus
	Engine   *agent.Engine
	Intake   *intake.Service
	Versions *pipeline.Manager
	Closer   *summary.Service
	Metrics  *telemetry.Metrics
	Config   config.Config
	// Pingers are checked by the health endpoint.
	Pingers []Pinger
}

// Server is the HTTP front of the service.
type Server struct {
	echo    *echo.Echo
	opts    Options
	replays *idemCache
}

// New wires routes and middleware.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	s := &Server{
		echo:    e,
		opts:    opts,
		replays: newIdemCache(opts.Config.IdempotencyCacheMax, opts.Config.IdempotencyTTL, opts.Metrics),
	}

	e.Use(middleware.Recover())
	if opts.Config.MaxJSONSize > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%d", opts.Config.MaxJSONSize)))
	}
	e.Use(s.auth)
	e.Use(s.idempotency)

	e.GET("/healthz", s.health)

	e.POST("/flows", s.createFlow)
	e.GET("/flows", s.listFlows)
	e.GET("/flows/:id", s.getFlow)
	e.DELETE("/flows/:id", s.deleteFlow)

	e.POST("/flows/:id/threads", s.openThread)
	e.GET("/flows/:id/threads", s.listThreads)
	e.GET("/flows/:id/pipelines", s.listPipelines)

	e.GET("/threads/:id", s.getThread)
	e.POST("/threads/:id/messages", s.createMessage)
	e.GET("/threads/:id/messages", s.listMessages)
	e.POST("/threads/:id/close", s.closeThread)
	e.GET("/threads/:id/summaries", s.listSummaries)
	e.POST("/threads/:id/agent/run", s.startRun)
	e.GET("/threads/:id/events", s.streamEvents)

	e.GET("/runs/:id", s.getRun)
	e.POST("/runs/:id/cancel", s.cancelRun)

	e.GET("/pipelines/:id", s.getPipeline)
	e.POST("/pipelines/:id/publish", s.publishPipeline)

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) health(c echo.Context) error {
	ctx := c.Request().Context()
	status := http.StatusOK
	backends := map[string]string{}
	for _, p := range s.opts.Pingers {
		if err := p.Ping(ctx); err != nil {
			backends[p.Name()] = "DOWN"
			status = http.StatusServiceUnavailable
			continue
		}
		backends[p.Name()] = "OK"
	}
	return c.JSON(status, map[string]any{
		"status":   http.StatusText(status),
		"backends": backends,
	})
}
