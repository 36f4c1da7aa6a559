package summary

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store/memory"
)

func fixture(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Flows().Create(ctx, model.Flow{ID: "f1", Slug: "f1"}))
	require.NoError(t, s.Threads().Create(ctx, model.Thread{
		ID: "t1", FlowID: "f1", Status: model.ThreadInProgress,
		StartedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}))
	return New(s, llm.NewStatic()), s
}

func addMessages(t *testing.T, s *memory.Store, n int) []model.Message {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	out := make([]model.Message, n)
	for i := 0; i < n; i++ {
		m := model.Message{
			ID: fmt.Sprintf("m%d", i+1), ThreadID: "t1",
			Role: model.RoleUser, Format: model.FormatText,
			Content:   fmt.Sprintf("step %d", i+1),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Messages().Create(ctx, m))
		out[i] = m
	}
	return out
}

func TestCloseThreadWritesSummaryAndClosesThread(t *testing.T) {
	svc, s := fixture(t)
	msgs := addMessages(t, s, 3)
	ctx := context.Background()

	thread, ts, err := svc.CloseThread(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, model.ThreadSuccess, thread.Status)
	require.NotNil(t, thread.ClosedAt)

	assert.Equal(t, model.SummaryShort, ts.Kind)
	require.NotNil(t, ts.CoveringFrom)
	require.NotNil(t, ts.CoveringTo)
	assert.Equal(t, msgs[0].CreatedAt, *ts.CoveringFrom)
	assert.Equal(t, msgs[2].CreatedAt, *ts.CoveringTo)

	fs, err := s.Summaries().ActiveFlowSummary(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, fs.Version)
	assert.Equal(t, "m3", fs.LastMessageID)
}

func TestCloseThreadIsIdempotent(t *testing.T) {
	svc, s := fixture(t)
	addMessages(t, s, 2)
	ctx := context.Background()

	first, firstTS, err := svc.CloseThread(ctx, "t1")
	require.NoError(t, err)
	second, secondTS, err := svc.CloseThread(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, first.ClosedAt, second.ClosedAt)
	assert.Equal(t, firstTS.ID, secondTS.ID)

	all, err := s.Summaries().ListThreadSummaries(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	fs, err := s.Summaries().ActiveFlowSummary(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, fs.Version)
}

func TestCloseSecondThreadBumpsFlowSummaryVersion(t *testing.T) {
	svc, s := fixture(t)
	addMessages(t, s, 1)
	ctx := context.Background()

	_, _, err := svc.CloseThread(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, s.Threads().Create(ctx, model.Thread{
		ID: "t2", FlowID: "f1", Status: model.ThreadInProgress,
		StartedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.Messages().Create(ctx, model.Message{
		ID: "m-next", ThreadID: "t2", Role: model.RoleUser,
		Format: model.FormatText, Content: "more work",
		CreatedAt: time.Date(2026, 8, 2, 9, 1, 0, 0, time.UTC),
	}))

	_, _, err = svc.CloseThread(ctx, "t2")
	require.NoError(t, err)

	fs, err := s.Summaries().ActiveFlowSummary(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Version)
	assert.Equal(t, "m-next", fs.LastMessageID)
}

func TestCloseEmptyThreadHasNoCoveringBounds(t *testing.T) {
	svc, _ := fixture(t)
	_, ts, err := svc.CloseThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, ts.CoveringFrom)
	assert.Nil(t, ts.CoveringTo)
}

func TestCloseUnknownThreadIs404(t *testing.T) {
	svc, _ := fixture(t)
	_, _, err := svc.CloseThread(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, 404, apperr.From(err).Status)
}
