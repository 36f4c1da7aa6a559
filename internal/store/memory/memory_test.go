package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

func seedFlow(t *testing.T, s *Store, id string) model.Flow {
	t.Helper()
	f := model.Flow{ID: id, Slug: id, Name: id, CreatedAt: time.Now()}
	require.NoError(t, s.Flows().Create(context.Background(), f))
	return f
}

func seedSchema(t *testing.T, s *Store, id, version string) model.SchemaDefinition {
	t.Helper()
	def := model.SchemaDefinition{
		ID: id, Name: "pipeline", Version: version,
		Status: model.SchemaActive,
		Schema: map[string]any{"type": "object"},
	}
	require.NoError(t, s.Schemas().CreateDefinition(context.Background(), def))
	return def
}

func TestFlowSlugUniqueIsCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Flows().Create(ctx, model.Flow{ID: "f1", Slug: "Orders"}))
	err := s.Flows().Create(ctx, model.Flow{ID: "f2", Slug: "orders"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.Flows().GetBySlug(ctx, "ORDERS")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.ID)
}

func TestFlowDeleteCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	def := seedSchema(t, s, "sd1", "1.0.0")

	require.NoError(t, s.Threads().Create(ctx, model.Thread{ID: "t1", FlowID: "f1", Status: model.ThreadNew}))
	require.NoError(t, s.Messages().Create(ctx, model.Message{
		ID: "m1", ThreadID: "t1", Role: model.RoleUser, Format: model.FormatText, Content: "hi",
	}))
	require.NoError(t, s.Pipelines().Create(ctx, model.Pipeline{
		ID: "p1", FlowID: "f1", Version: "1.0.0", SchemaDefID: def.ID,
		Status: model.PipelineDraft, Content: map[string]any{"name": "x"},
	}))
	require.NoError(t, s.Runs().Create(ctx, model.GenerationRun{ID: "r1", FlowID: "f1", Status: model.RunQueued}))
	require.NoError(t, s.Runs().AddIssues(ctx, "r1", []model.ValidationIssue{{Path: "/", Code: "x", Severity: model.SeverityError}}))

	require.NoError(t, s.Flows().Delete(ctx, "f1"))

	_, err := s.Threads().Get(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Messages().Get(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Pipelines().Get(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Runs().Get(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackEveryWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Threads().Create(ctx, model.Thread{ID: "t1", FlowID: "f1"}); err != nil {
			return err
		}
		if err := s.Messages().Create(ctx, model.Message{
			ID: "m1", ThreadID: "t1", Role: model.RoleUser, Format: model.FormatText,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Threads().Get(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Messages().Get(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPipelineCreateSyncsSchemaVersionAndDedupes(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	def := seedSchema(t, s, "sd1", "2.1.0")

	hash := []byte("0123456789abcdef0123456789abcdef")
	p := model.Pipeline{
		ID: "p1", FlowID: "f1", Version: "1.0.0", SchemaDefID: def.ID,
		Content: map[string]any{"name": "x"}, ContentHash: hash,
	}
	require.NoError(t, s.Pipelines().Create(ctx, p))

	got, err := s.Pipelines().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", got.SchemaVersion)

	dupVersion := p
	dupVersion.ID = "p2"
	dupVersion.ContentHash = []byte("ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, s.Pipelines().Create(ctx, dupVersion), store.ErrDuplicate)

	dupHash := p
	dupHash.ID = "p3"
	dupHash.Version = "1.0.1"
	assert.ErrorIs(t, s.Pipelines().Create(ctx, dupHash), store.ErrDuplicate)

	byHash, err := s.Pipelines().FindByHash(ctx, "f1", hash)
	require.NoError(t, err)
	assert.Equal(t, "p1", byHash.ID)
}

func TestMarkPublishedEnforcesSinglePublished(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	def := seedSchema(t, s, "sd1", "1.0.0")
	for i := 1; i <= 2; i++ {
		require.NoError(t, s.Pipelines().Create(ctx, model.Pipeline{
			ID: fmt.Sprintf("p%d", i), FlowID: "f1", Version: fmt.Sprintf("1.0.%d", i),
			SchemaDefID: def.ID, Content: map[string]any{"v": i},
			ContentHash: []byte(fmt.Sprintf("%032d", i)),
		}))
	}

	require.NoError(t, s.Pipelines().MarkPublished(ctx, "p1"))
	assert.ErrorIs(t, s.Pipelines().MarkPublished(ctx, "p2"), store.ErrDuplicate)

	require.NoError(t, s.Pipelines().ClearPublished(ctx, "f1", "p2"))
	require.NoError(t, s.Pipelines().MarkPublished(ctx, "p2"))

	n, err := s.Pipelines().CountPublished(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p1, err := s.Pipelines().Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p1.IsPublished)
	assert.Equal(t, model.PipelineDraft, p1.Status)
}

func TestCanceledRunIgnoresLaterWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	require.NoError(t, s.Runs().Create(ctx, model.GenerationRun{ID: "r1", FlowID: "f1", Status: model.RunQueued}))

	require.NoError(t, s.Runs().SetStage(ctx, "r1", model.StageGenerate, model.RunRunning, nil))
	run, err := s.Runs().Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, run.StartedAt)

	require.NoError(t, s.Runs().Cancel(ctx, "r1"))
	require.NoError(t, s.Runs().SetStage(ctx, "r1", model.StageHardValidate, model.RunRunning, nil))
	require.NoError(t, s.Runs().Finish(ctx, "r1", model.RunSucceeded, ""))

	run, err = s.Runs().Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCanceled, run.Status)
	assert.Equal(t, model.StageGenerate, run.Stage)
}

func TestMessageListOrderAndPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	require.NoError(t, s.Threads().Create(ctx, model.Thread{ID: "t1", FlowID: "f1"}))

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Messages().Create(ctx, model.Message{
			ID: fmt.Sprintf("m%d", i+1), ThreadID: "t1",
			Role: model.RoleUser, Format: model.FormatText,
			Content:   fmt.Sprintf("msg %d", i+1),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := s.Messages().List(ctx, "t1", 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m4", page[0].ID)
	assert.Equal(t, "m5", page[1].ID)

	older, err := s.Messages().List(ctx, "t1", 2, "m4")
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "m2", older[0].ID)
	assert.Equal(t, "m3", older[1].ID)

	has, err := s.Messages().OlderExists(ctx, "t1", "m2")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.Messages().OlderExists(ctx, "t1", "m1")
	require.NoError(t, err)
	assert.False(t, has)

	last, err := s.Messages().Last(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "m5", last.ID)
}

func TestSnapshotRejectsCrossFlowReferences(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	seedFlow(t, s, "f2")
	def := seedSchema(t, s, "sd1", "1.0.0")
	require.NoError(t, s.Pipelines().Create(ctx, model.Pipeline{
		ID: "p-other", FlowID: "f2", Version: "1.0.0", SchemaDefID: def.ID,
		Content: map[string]any{}, ContentHash: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	}))

	err := s.Snapshots().Create(ctx, model.ContextSnapshot{
		ID: "cs1", FlowID: "f1", SchemaDefID: def.ID, PipelineID: "p-other",
	})
	assert.ErrorIs(t, err, store.ErrIntegrity)

	require.NoError(t, s.Snapshots().Create(ctx, model.ContextSnapshot{
		ID: "cs2", FlowID: "f1", SchemaDefID: def.ID,
	}))
	require.NoError(t, s.Snapshots().SetOriginThread(ctx, "cs2", "t1"))
	snap, err := s.Snapshots().Get(ctx, "cs2")
	require.NoError(t, err)
	assert.Equal(t, "t1", snap.OriginThreadID)
}

func TestFlowSummaryActiveRollover(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")

	require.NoError(t, s.Summaries().CreateFlowSummary(ctx, model.FlowSummary{
		ID: "fs1", FlowID: "f1", Version: 1, IsActive: true,
	}))
	require.NoError(t, s.Summaries().CreateFlowSummary(ctx, model.FlowSummary{
		ID: "fs2", FlowID: "f1", Version: 2, IsActive: true,
	}))
	require.NoError(t, s.Summaries().DeactivateOthers(ctx, "f1", "fs2"))

	active, err := s.Summaries().ActiveFlowSummary(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "fs2", active.ID)
	assert.Equal(t, 2, active.Version)
}

func TestFlowSummaryVersionUniquePerFlow(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedFlow(t, s, "f1")
	seedFlow(t, s, "f2")

	require.NoError(t, s.Summaries().CreateFlowSummary(ctx, model.FlowSummary{
		ID: "fs1", FlowID: "f1", Version: 1, IsActive: true,
	}))
	err := s.Summaries().CreateFlowSummary(ctx, model.FlowSummary{
		ID: "fs2", FlowID: "f1", Version: 1,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// The same version is fine on another flow.
	require.NoError(t, s.Summaries().CreateFlowSummary(ctx, model.FlowSummary{
		ID: "fs3", FlowID: "f2", Version: 1, IsActive: true,
	}))
}
