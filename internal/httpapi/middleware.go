package httpapi

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/telemetry"
)

// HeaderIdempotencyKey is the client-supplied request deduplication key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay marks a response served from the idempotency cache.
const HeaderIdempotentReplay = "X-Idempotent-Replay"

// auth enforces the bearer token on mutating requests when one is
// configured. Reads and the health endpoint stay open.
func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	token := s.opts.Config.AuthToken
	return func(c echo.Context) error {
		if token == "" || c.Path() == "/healthz" {
			return next(c)
		}
		switch c.Request().Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return next(c)
		}
		got := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return apperr.New(http.StatusUnauthorized, apperr.CodeUnauthorized, "missing or invalid bearer token")
		}
		return next(c)
	}
}

type idemEntry struct {
	fingerprint [sha256.Size]byte
	status      int
	header      http.Header
	body        []byte
}

type idemCache struct {
	lru     *expirable.LRU[string, idemEntry]
	metrics *telemetry.Metrics
}

func newIdemCache(max int, ttl time.Duration, metrics *telemetry.Metrics) *idemCache {
	if max <= 0 {
		max = 1000
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &idemCache{lru: expirable.NewLRU[string, idemEntry](max, nil, ttl), metrics: metrics}
}

// idempotency replays cached responses for repeated POSTs carrying the same
// Idempotency-Key. The cache key is (method, path, key); reusing a key with a
// different body is a conflict.
func (s *Server) idempotency(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		key := req.Header.Get(HeaderIdempotencyKey)
		if key == "" || req.Method != http.MethodPost {
			return next(c)
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := sha256.Sum256(body)
		cacheKey := req.Method + " " + req.URL.Path + " " + key

		if entry, ok := s.replays.lru.Get(cacheKey); ok {
			if entry.fingerprint != fingerprint {
				return apperr.New(http.StatusConflict, apperr.CodeIdempotencyKeyReused,
					"idempotency key was already used with a different request body")
			}
			h := c.Response().Header()
			for name, values := range entry.header {
				if name == echo.HeaderContentLength {
					continue
				}
				for _, v := range values {
					h.Add(name, v)
				}
			}
			h.Set(HeaderIdempotentReplay, "true")
			c.Response().WriteHeader(entry.status)
			_, err := c.Response().Write(entry.body)
			return err
		}

		rec := &recorder{ResponseWriter: c.Response().Writer}
		c.Response().Writer = rec
		if err := next(c); err != nil {
			return err
		}
		if rec.status < http.StatusInternalServerError {
			s.replays.lru.Add(cacheKey, idemEntry{
				fingerprint: fingerprint,
				status:      rec.status,
				header:      rec.Header().Clone(),
				body:        rec.body.Bytes(),
			})
			if s.replays.metrics != nil {
				s.replays.metrics.RecordIdempotencyCacheSize(req.Context(), s.replays.lru.Len())
			}
		}
		return nil
	}
}

// recorder tees the response so it can be cached while still reaching the
// client.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
