package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/dslhub/dslhub/internal/agent"
	"github.com/dslhub/dslhub/internal/bus"
	"github.com/dslhub/dslhub/internal/config"
	"github.com/dslhub/dslhub/internal/httpapi"
	"github.com/dslhub/dslhub/internal/intake"
	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/llm/anthropic"
	"github.com/dslhub/dslhub/internal/llm/openai"
	"github.com/dslhub/dslhub/internal/pipeline"
	"github.com/dslhub/dslhub/internal/seed"
	"github.com/dslhub/dslhub/internal/similarity"
	"github.com/dslhub/dslhub/internal/store"
	"github.com/dslhub/dslhub/internal/store/memory"
	mongostore "github.com/dslhub/dslhub/internal/store/mongo"
	"github.com/dslhub/dslhub/internal/summary"
	"github.com/dslhub/dslhub/internal/telemetry"
	"github.com/dslhub/dslhub/internal/validate"
)

func main() {
	var (
		addrF = flag.String("addr", "", "Listen address (overrides HTTP_ADDR)")
		dbgF  = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}

	var (
		st      store.Store
		pingers []httpapi.Pinger
	)
	if cfg.MongoURI != "" {
		ms, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatalf(ctx, err, "connect to mongodb")
		}
		defer func() {
			if err := ms.Close(ctx); err != nil {
				log.Errorf(ctx, err, "close mongodb client")
			}
		}()
		st = ms
		pingers = append(pingers, ms)
		log.Print(ctx, log.KV{K: "store", V: "mongodb"}, log.KV{K: "db", V: cfg.MongoDB})
	} else {
		st = memory.New()
		log.Print(ctx, log.KV{K: "store", V: "memory"})
	}

	if cfg.InitSchemaOnStart {
		if err := seed.Run(ctx, st, cfg.InitSchemaPath); err != nil {
			log.Fatalf(ctx, err, "seed schemas")
		}
	}

	metrics := telemetry.New()

	model := newModel(ctx, cfg, metrics)

	b := bus.New(bus.Options{
		MaxLen: cfg.SSEBufferMaxLen,
		TTL:    cfg.SSEBufferTTL,
	})
	versions := pipeline.NewManager(st)
	engine := agent.New(st, b, model, validate.New(),
		similarity.New(st.Pipelines(), cfg.SimilarityThreshold),
		versions, agent.Options{Channel: cfg.SchemaChannel, Metrics: metrics})

	server := httpapi.New(httpapi.Options{
		Store:    st,
		Bus:      b,
		Engine:   engine,
		Intake: intake.New(st, b, intake.Options{
			RatePerMinute: cfg.MessagesRatePerMinute,
			MaxTextLen:    cfg.MessageTextMaxLen,
			Metrics:       metrics,
		}),
		Versions: versions,
		Closer:   summary.New(st, model),
		Metrics:  metrics,
		Config:   cfg,
		Pingers:  pingers,
	})

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Print(ctx, log.KV{K: "listen", V: cfg.HTTPAddr})
		if err := server.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "shutdown")
	}
	log.Printf(ctx, "exited")
}

// newModel selects the LLM provider. Remote providers are wrapped with
// per-call timeouts, retries and a degraded-mode fallback; the static
// provider answers deterministically without network access.
func newModel(ctx context.Context, cfg config.Config, metrics *telemetry.Metrics) llm.Client {
	var (
		client llm.Client
		err    error
	)
	switch cfg.LLMProvider {
	case "openai":
		client, err = openai.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case "anthropic":
		client, err = anthropic.NewFromAPIKey(cfg.AnthropicKey, cfg.AnthropicModel)
	case "static", "":
		return llm.NewStatic()
	default:
		err = fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if err != nil {
		log.Fatalf(ctx, err, "init %s client", cfg.LLMProvider)
	}
	log.Print(ctx, log.KV{K: "llm", V: client.Name()})
	return llm.NewResilient(client, llm.ResilientOptions{
		Timeout: cfg.LLMTimeout,
		Retries: cfg.LLMRetries,
		Metrics: metrics,
	})
}
