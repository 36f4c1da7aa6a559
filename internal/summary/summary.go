// Package summary closes threads: it digests the conversation into a thread
// summary, rolls the digest into the flow's active summary and marks the
// thread finished. Closing is idempotent.
package summary

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

// Service closes threads and maintains flow summaries.
type Service struct {
	store store.Store
	model llm.Client
	now   func() time.Time
	newID func() string
}

// New constructs a Service.
func New(s store.Store, model llm.Client) *Service {
	return &Service{store: s, model: model, now: time.Now, newID: uuid.NewString}
}

// CloseThread summarizes and closes the thread. A thread that is already
// closed is returned unchanged together with its latest summary; nothing is
// written twice.
func (s *Service) CloseThread(ctx context.Context, threadID string) (model.Thread, model.ThreadSummary, error) {
	thread, err := s.store.Threads().Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Thread{}, model.ThreadSummary{}, apperr.NotFound("thread")
		}
		return model.Thread{}, model.ThreadSummary{}, err
	}
	if thread.Closed() {
		ts, err := s.store.Summaries().LatestThreadSummary(ctx, threadID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return model.Thread{}, model.ThreadSummary{}, err
		}
		return thread, ts, nil
	}

	msgs, err := s.store.Messages().List(ctx, threadID, 0, "")
	if err != nil {
		return model.Thread{}, model.ThreadSummary{}, err
	}
	var prior *model.FlowSummary
	if active, err := s.store.Summaries().ActiveFlowSummary(ctx, thread.FlowID); err == nil {
		prior = &active
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Thread{}, model.ThreadSummary{}, err
	}

	digest, err := s.model.Summarize(ctx, msgs, prior)
	if err != nil {
		return model.Thread{}, model.ThreadSummary{}, err
	}

	now := s.now().UTC()
	ts := model.ThreadSummary{
		ID:       s.newID(),
		ThreadID: threadID,
		Kind:     model.SummaryShort,
		Content: map[string]any{
			"summary": digest.Summary,
			"bullets": toAny(digest.Bullets),
		},
		CreatedAt: now,
	}
	if len(msgs) > 0 {
		from := msgs[0].CreatedAt
		to := msgs[len(msgs)-1].CreatedAt
		ts.CoveringFrom = &from
		ts.CoveringTo = &to
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Summaries().CreateThreadSummary(ctx, ts); err != nil {
			return err
		}
		fs := model.FlowSummary{
			ID:      s.newID(),
			FlowID:  thread.FlowID,
			Version: 1,
			Content: map[string]any{
				"summary": digest.Summary,
				"bullets": toAny(digest.Bullets),
			},
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if prior != nil {
			fs.Version = prior.Version + 1
			fs.Pinned = prior.Pinned
		}
		if len(msgs) > 0 {
			fs.LastMessageID = msgs[len(msgs)-1].ID
		}
		// Deactivate first so the single-active constraint holds at insert.
		if err := s.store.Summaries().DeactivateOthers(ctx, thread.FlowID, fs.ID); err != nil {
			return err
		}
		if err := s.store.Summaries().CreateFlowSummary(ctx, fs); err != nil {
			return err
		}

		thread.Status = model.ThreadSuccess
		thread.ClosedAt = &now
		thread.UpdatedAt = now
		return s.store.Threads().Update(ctx, thread)
	})
	if err != nil {
		return model.Thread{}, model.ThreadSummary{}, err
	}
	return thread, ts, nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
