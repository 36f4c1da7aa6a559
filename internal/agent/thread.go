package agent

import (
	"context"
	"errors"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
	"github.com/dslhub/dslhub/internal/validate"
)

// OpenThread starts a new conversation on the flow. It freezes the current
// authoring context (active schema definition, active flow summary, published
// pipeline) into a snapshot, creates the thread pointing at it and backfills
// the snapshot's origin thread, all in one transaction.
func (e *Engine) OpenThread(ctx context.Context, flowID, notes string) (model.Thread, model.ContextSnapshot, error) {
	if _, err := e.store.Flows().Get(ctx, flowID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Thread{}, model.ContextSnapshot{}, apperr.NotFound("flow")
		}
		return model.Thread{}, model.ContextSnapshot{}, err
	}
	def, err := validate.ResolveActive(ctx, e.store.Schemas(), e.channel)
	if err != nil {
		return model.Thread{}, model.ContextSnapshot{}, err
	}

	now := e.now().UTC()
	snap := model.ContextSnapshot{
		ID:          e.newID(),
		FlowID:      flowID,
		SchemaDefID: def.ID,
		Notes:       notes,
		CreatedAt:   now,
	}
	if active, err := e.store.Summaries().ActiveFlowSummary(ctx, flowID); err == nil {
		snap.FlowSummaryID = active.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Thread{}, model.ContextSnapshot{}, err
	}
	if published, err := e.store.Pipelines().Published(ctx, flowID); err == nil {
		snap.PipelineID = published.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Thread{}, model.ContextSnapshot{}, err
	}

	thread := model.Thread{
		ID:                e.newID(),
		FlowID:            flowID,
		Status:            model.ThreadNew,
		ContextSnapshotID: snap.ID,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	err = e.store.WithTx(ctx, func(ctx context.Context) error {
		if err := e.store.Snapshots().Create(ctx, snap); err != nil {
			return err
		}
		if err := e.store.Threads().Create(ctx, thread); err != nil {
			return err
		}
		return e.store.Snapshots().SetOriginThread(ctx, snap.ID, thread.ID)
	})
	if err != nil {
		return model.Thread{}, model.ContextSnapshot{}, err
	}
	snap.OriginThreadID = thread.ID
	return thread, snap, nil
}
