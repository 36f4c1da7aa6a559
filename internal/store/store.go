// Package store defines the persistence layer of the authoring service:
// typed repositories over a transactional unit of work. Available
// implementations:
//
//   - memory: in-memory store for development and testing
//   - mongo: MongoDB store for production persistence
//
// Implementations must be safe for concurrent use, return ErrNotFound for
// missing entities, ErrDuplicate for unique-constraint violations and
// ErrIntegrity for cross-entity consistency violations (see guard.go).
package store

import (
	"context"
	"errors"

	"github.com/dslhub/dslhub/internal/model"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a write violates a uniqueness constraint
// (flow slug, schema (name, version), pipeline (flow, version) or
// (flow, content hash)).
var ErrDuplicate = errors.New("store: duplicate")

// ErrIntegrity is returned when a write violates cross-entity integrity
// (cross-flow references, parent messages from another thread, ...).
var ErrIntegrity = errors.New("store: integrity violation")

// Store aggregates the typed repositories and the transactional unit of
// work. WithTx runs fn inside a single transaction; any error rolls every
// write back. Repositories invoked with the context passed to fn join the
// transaction.
type Store interface {
	Flows() Flows
	Threads() Threads
	Messages() Messages
	Schemas() Schemas
	Pipelines() Pipelines
	Runs() Runs
	Summaries() Summaries
	Snapshots() Snapshots

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Flows persists authoring flows. Delete cascades to the flow's threads,
// messages, pipelines, runs, summaries and snapshots.
type Flows interface {
	Create(ctx context.Context, flow model.Flow) error
	Get(ctx context.Context, id string) (model.Flow, error)
	GetBySlug(ctx context.Context, slug string) (model.Flow, error)
	List(ctx context.Context) ([]model.Flow, error)
	Delete(ctx context.Context, id string) error
}

// Threads persists conversation threads.
type Threads interface {
	Create(ctx context.Context, thread model.Thread) error
	Get(ctx context.Context, id string) (model.Thread, error)
	Update(ctx context.Context, thread model.Thread) error
	ListForFlow(ctx context.Context, flowID string) ([]model.Thread, error)
}

// Messages persists thread messages, insertion-ordered by (created_at, id).
type Messages interface {
	Create(ctx context.Context, msg model.Message) error
	Get(ctx context.Context, id string) (model.Message, error)
	// List returns up to limit messages of the thread ordered ascending by
	// (created_at, id). When beforeID names an existing message, only
	// messages strictly older than it are returned.
	List(ctx context.Context, threadID string, limit int, beforeID string) ([]model.Message, error)
	// Last returns the newest message of the thread.
	Last(ctx context.Context, threadID string) (model.Message, error)
	// OlderExists reports whether any message of the thread is strictly
	// older than the named message.
	OlderExists(ctx context.Context, threadID, msgID string) (bool, error)
}

// Schemas persists schema definitions and channels.
type Schemas interface {
	CreateDefinition(ctx context.Context, def model.SchemaDefinition) error
	GetDefinition(ctx context.Context, id string) (model.SchemaDefinition, error)
	FindDefinition(ctx context.Context, name, version string) (model.SchemaDefinition, error)
	UpsertChannel(ctx context.Context, ch model.SchemaChannel) error
	GetChannel(ctx context.Context, name string) (model.SchemaChannel, error)
}

// Pipelines persists versioned pipeline documents. Create synchronizes the
// denormalized schema_version from the referenced schema definition.
type Pipelines interface {
	Create(ctx context.Context, p model.Pipeline) error
	Get(ctx context.Context, id string) (model.Pipeline, error)
	FindByHash(ctx context.Context, flowID string, hash []byte) (model.Pipeline, error)
	// Latest returns the most recently created pipeline of the flow.
	Latest(ctx context.Context, flowID string) (model.Pipeline, error)
	// Published returns the flow's published pipeline.
	Published(ctx context.Context, flowID string) (model.Pipeline, error)
	// ListForFlow returns the flow's pipelines, optionally filtered by
	// publication state, newest first.
	ListForFlow(ctx context.Context, flowID string, published *bool) ([]model.Pipeline, error)
	CountPublished(ctx context.Context, flowID string) (int, error)
	// ClearPublished demotes every published pipeline of the flow except
	// keepID back to an unpublished draft.
	ClearPublished(ctx context.Context, flowID, keepID string) error
	// MarkPublished promotes the pipeline to the published state.
	MarkPublished(ctx context.Context, id string) error
}

// Runs persists generation runs and their validation issues. Stage and
// finish writes against a canceled run are silently ignored.
type Runs interface {
	Create(ctx context.Context, run model.GenerationRun) error
	Get(ctx context.Context, id string) (model.GenerationRun, error)
	// SetStage records a stage transition. The first running write stamps
	// started_at.
	SetStage(ctx context.Context, id string, stage model.RunStage, status model.RunStatus, result map[string]any) error
	// Finish records the terminal status and stamps finished_at.
	Finish(ctx context.Context, id string, status model.RunStatus, errMsg string) error
	// Cancel marks the run canceled; later SetStage/Finish calls no-op.
	Cancel(ctx context.Context, id string) error
	AddIssues(ctx context.Context, runID string, issues []model.ValidationIssue) error
	Issues(ctx context.Context, runID string) ([]model.ValidationIssue, error)
}

// Summaries persists thread summaries and the flow summary rollup.
type Summaries interface {
	CreateThreadSummary(ctx context.Context, ts model.ThreadSummary) error
	LatestThreadSummary(ctx context.Context, threadID string) (model.ThreadSummary, error)
	ListThreadSummaries(ctx context.Context, threadID string) ([]model.ThreadSummary, error)
	ActiveFlowSummary(ctx context.Context, flowID string) (model.FlowSummary, error)
	CreateFlowSummary(ctx context.Context, fs model.FlowSummary) error
	UpdateFlowSummary(ctx context.Context, fs model.FlowSummary) error
	// DeactivateOthers clears is_active on every flow summary of the flow
	// except keepID.
	DeactivateOthers(ctx context.Context, flowID, keepID string) error
}

// Snapshots persists context snapshots.
type Snapshots interface {
	Create(ctx context.Context, snap model.ContextSnapshot) error
	Get(ctx context.Context, id string) (model.ContextSnapshot, error)
	// SetOriginThread backfills the snapshot's origin thread, resolving the
	// thread/snapshot reference cycle after both rows exist.
	SetOriginThread(ctx context.Context, id, threadID string) error
}
