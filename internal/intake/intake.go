// Package intake accepts messages into threads: it enforces the thread
// lifecycle, role and format rules, per-thread rate limits and payload
// bounds, persists the message and announces it on the event bus.
package intake

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/bus"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
	"github.com/dslhub/dslhub/internal/telemetry"
)

// Defaults for rate limiting and payload bounds.
const (
	DefaultRatePerMinute = 30
	DefaultMaxTextLen    = 4000
)

// EventMessageCreated is published on the thread's event key for every
// accepted message.
const EventMessageCreated = "message.created"

// Options configures a Service.
type Options struct {
	// RatePerMinute caps accepted messages per thread. Defaults to
	// DefaultRatePerMinute.
	RatePerMinute int
	// MaxTextLen caps the text payload length in bytes. Defaults to
	// DefaultMaxTextLen.
	MaxTextLen int
	// Metrics records intake counters when set.
	Metrics *telemetry.Metrics
}

// Service validates and persists incoming messages.
type Service struct {
	store   store.Store
	bus     *bus.Bus
	metrics *telemetry.Metrics

	perMin  int
	maxText int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now   func() time.Time
	newID func() string
}

// New constructs a Service.
func New(s store.Store, b *bus.Bus, opts Options) *Service {
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = DefaultRatePerMinute
	}
	if opts.MaxTextLen <= 0 {
		opts.MaxTextLen = DefaultMaxTextLen
	}
	return &Service{
		store:    s,
		bus:      b,
		metrics:  opts.Metrics,
		perMin:   opts.RatePerMinute,
		maxText:  opts.MaxTextLen,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateParams describes a message to accept.
type CreateParams struct {
	ThreadID   string
	Role       model.MessageRole
	Format     model.MessageFormat
	ParentID   string
	ToolName   string
	ToolResult any
	Content    any
}

// Create validates params against the thread state, persists the message and
// publishes a message.created event.
func (s *Service) Create(ctx context.Context, p CreateParams) (model.Message, error) {
	thread, err := s.store.Threads().Get(ctx, p.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Message{}, apperr.NotFound("thread")
		}
		return model.Message{}, err
	}
	if thread.Archived {
		return model.Message{}, apperr.New(http.StatusConflict, apperr.CodeThreadArchived, "thread is archived")
	}
	if thread.Closed() {
		return model.Message{}, apperr.New(http.StatusConflict, apperr.CodeThreadClosed, "thread is closed")
	}
	if !model.ValidRole(p.Role) {
		return model.Message{}, apperr.Newf(http.StatusUnprocessableEntity, apperr.CodeValidation,
			"unknown role %q", p.Role)
	}
	if p.Format == "" {
		p.Format = model.FormatText
	}
	if !model.ValidFormat(p.Format) {
		return model.Message{}, apperr.Newf(http.StatusUnprocessableEntity, apperr.CodeValidation,
			"unknown format %q", p.Format)
	}
	if p.Role == model.RoleTool && strings.TrimSpace(p.ToolName) == "" {
		return model.Message{}, apperr.New(http.StatusUnprocessableEntity, apperr.CodeValidation,
			"tool messages require tool_name")
	}
	var parent *model.Message
	if p.ParentID != "" {
		pm, err := s.store.Messages().Get(ctx, p.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.Message{}, apperr.Newf(http.StatusUnprocessableEntity, apperr.CodeValidation,
					"parent message %s does not exist", p.ParentID)
			}
			return model.Message{}, err
		}
		if pm.ThreadID != p.ThreadID {
			return model.Message{}, apperr.New(http.StatusUnprocessableEntity, apperr.CodeValidation,
				"parent message belongs to another thread")
		}
		parent = &pm
	}
	if n := textLength(p.Content); n > s.maxText {
		return model.Message{}, apperr.Newf(http.StatusRequestEntityTooLarge, apperr.CodePayloadTooLarge,
			"message text exceeds %d bytes", s.maxText)
	}
	if !s.limiter(p.ThreadID).Allow() {
		return model.Message{}, apperr.Newf(http.StatusTooManyRequests, apperr.CodeRateLimited,
			"thread accepts at most %d messages per minute", s.perMin)
	}

	msg := model.Message{
		ID:         s.newID(),
		ThreadID:   p.ThreadID,
		Role:       p.Role,
		Format:     p.Format,
		ParentID:   p.ParentID,
		ToolName:   p.ToolName,
		ToolResult: p.ToolResult,
		Content:    p.Content,
		CreatedAt:  s.now().UTC(),
	}
	if err := store.CheckMessage(msg, thread, parent); err != nil {
		return model.Message{}, apperr.Validation(err.Error())
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return model.Message{}, err
	}

	if thread.Status == model.ThreadNew {
		thread.Status = model.ThreadInProgress
		thread.UpdatedAt = msg.CreatedAt
		if err := s.store.Threads().Update(ctx, thread); err != nil {
			return model.Message{}, err
		}
	}

	s.bus.Publish(p.ThreadID, EventMessageCreated, map[string]any{
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
		"role":       string(msg.Role),
		"format":     string(msg.Format),
		"content":    msg.Content,
	})
	if s.metrics != nil {
		s.metrics.RecordMessageCreated(ctx, string(msg.Role), "api")
	}
	return msg, nil
}

func (s *Service) limiter(threadID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[threadID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(s.perMin)/60.0), s.perMin)
		s.limiters[threadID] = l
	}
	return l
}

// textLength measures the user-visible text payload: plain strings directly,
// object content via its "text" field.
func textLength(content any) int {
	switch v := content.(type) {
	case string:
		return len(v)
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return len(text)
		}
	}
	return 0
}
