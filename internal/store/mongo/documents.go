package mongo

import (
	"time"

	"github.com/dslhub/dslhub/internal/model"
)

// BSON document shapes. IDs are application-generated strings stored in _id.

type flowDoc struct {
	ID        string         `bson:"_id"`
	Slug      string         `bson:"slug"`
	Name      string         `bson:"name"`
	Meta      map[string]any `bson:"meta,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func fromFlow(f model.Flow) flowDoc {
	return flowDoc{ID: f.ID, Slug: f.Slug, Name: f.Name, Meta: f.Meta, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt}
}

func (d flowDoc) toModel() model.Flow {
	return model.Flow{ID: d.ID, Slug: d.Slug, Name: d.Name, Meta: d.Meta, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

type threadDoc struct {
	ID                string     `bson:"_id"`
	FlowID            string     `bson:"flow_id"`
	Status            string     `bson:"status"`
	ResultPipelineID  string     `bson:"result_pipeline_id,omitempty"`
	ContextSnapshotID string     `bson:"context_snapshot_id,omitempty"`
	Archived          bool       `bson:"archived"`
	ArchivedAt        *time.Time `bson:"archived_at,omitempty"`
	StartedAt         time.Time  `bson:"started_at"`
	ClosedAt          *time.Time `bson:"closed_at,omitempty"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

func fromThread(t model.Thread) threadDoc {
	return threadDoc{
		ID: t.ID, FlowID: t.FlowID, Status: string(t.Status),
		ResultPipelineID: t.ResultPipelineID, ContextSnapshotID: t.ContextSnapshotID,
		Archived: t.Archived, ArchivedAt: t.ArchivedAt,
		StartedAt: t.StartedAt, ClosedAt: t.ClosedAt, UpdatedAt: t.UpdatedAt,
	}
}

func (d threadDoc) toModel() model.Thread {
	return model.Thread{
		ID: d.ID, FlowID: d.FlowID, Status: model.ThreadStatus(d.Status),
		ResultPipelineID: d.ResultPipelineID, ContextSnapshotID: d.ContextSnapshotID,
		Archived: d.Archived, ArchivedAt: d.ArchivedAt,
		StartedAt: d.StartedAt, ClosedAt: d.ClosedAt, UpdatedAt: d.UpdatedAt,
	}
}

type messageDoc struct {
	ID         string    `bson:"_id"`
	ThreadID   string    `bson:"thread_id"`
	Role       string    `bson:"role"`
	Format     string    `bson:"format"`
	ParentID   string    `bson:"parent_id,omitempty"`
	ToolName   string    `bson:"tool_name,omitempty"`
	ToolResult any       `bson:"tool_result,omitempty"`
	Content    any       `bson:"content"`
	CreatedAt  time.Time `bson:"created_at"`
}

func fromMessage(m model.Message) messageDoc {
	return messageDoc{
		ID: m.ID, ThreadID: m.ThreadID, Role: string(m.Role), Format: string(m.Format),
		ParentID: m.ParentID, ToolName: m.ToolName, ToolResult: m.ToolResult,
		Content: m.Content, CreatedAt: m.CreatedAt,
	}
}

func (d messageDoc) toModel() model.Message {
	return model.Message{
		ID: d.ID, ThreadID: d.ThreadID, Role: model.MessageRole(d.Role), Format: model.MessageFormat(d.Format),
		ParentID: d.ParentID, ToolName: d.ToolName, ToolResult: d.ToolResult,
		Content: d.Content, CreatedAt: d.CreatedAt,
	}
}

type schemaDefDoc struct {
	ID         string         `bson:"_id"`
	Name       string         `bson:"name"`
	Version    string         `bson:"version"`
	Status     string         `bson:"status"`
	Schema     map[string]any `bson:"json"`
	CompatWith []string       `bson:"compat_with,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}

func fromSchemaDef(d model.SchemaDefinition) schemaDefDoc {
	return schemaDefDoc{
		ID: d.ID, Name: d.Name, Version: d.Version, Status: string(d.Status),
		Schema: d.Schema, CompatWith: d.CompatWith, CreatedAt: d.CreatedAt,
	}
}

func (d schemaDefDoc) toModel() model.SchemaDefinition {
	return model.SchemaDefinition{
		ID: d.ID, Name: d.Name, Version: d.Version, Status: model.SchemaStatus(d.Status),
		Schema: d.Schema, CompatWith: d.CompatWith, CreatedAt: d.CreatedAt,
	}
}

type channelDoc struct {
	Name              string `bson:"_id"`
	ActiveSchemaDefID string `bson:"active_schema_def_id"`
}

type pipelineDoc struct {
	ID            string         `bson:"_id"`
	FlowID        string         `bson:"flow_id"`
	Version       string         `bson:"version"`
	SchemaVersion string         `bson:"schema_version"`
	SchemaDefID   string         `bson:"schema_def_id"`
	Status        string         `bson:"status"`
	IsPublished   bool           `bson:"is_published"`
	Content       map[string]any `bson:"content"`
	ContentHash   []byte         `bson:"content_hash,omitempty"`
	CreatedAt     time.Time      `bson:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at"`
}

func fromPipeline(p model.Pipeline) pipelineDoc {
	return pipelineDoc{
		ID: p.ID, FlowID: p.FlowID, Version: p.Version,
		SchemaVersion: p.SchemaVersion, SchemaDefID: p.SchemaDefID,
		Status: string(p.Status), IsPublished: p.IsPublished,
		Content: p.Content, ContentHash: p.ContentHash,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (d pipelineDoc) toModel() model.Pipeline {
	return model.Pipeline{
		ID: d.ID, FlowID: d.FlowID, Version: d.Version,
		SchemaVersion: d.SchemaVersion, SchemaDefID: d.SchemaDefID,
		Status: model.PipelineStatus(d.Status), IsPublished: d.IsPublished,
		Content: d.Content, ContentHash: d.ContentHash,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type runDoc struct {
	ID         string         `bson:"_id"`
	FlowID     string         `bson:"flow_id"`
	ThreadID   string         `bson:"thread_id,omitempty"`
	PipelineID string         `bson:"pipeline_id,omitempty"`
	Stage      string         `bson:"stage"`
	Status     string         `bson:"status"`
	Source     map[string]any `bson:"source,omitempty"`
	Result     map[string]any `bson:"result,omitempty"`
	Error      string         `bson:"error,omitempty"`
	Cost       float64        `bson:"cost,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
	StartedAt  *time.Time     `bson:"started_at,omitempty"`
	FinishedAt *time.Time     `bson:"finished_at,omitempty"`
}

func fromRun(r model.GenerationRun) runDoc {
	return runDoc{
		ID: r.ID, FlowID: r.FlowID, ThreadID: r.ThreadID, PipelineID: r.PipelineID,
		Stage: string(r.Stage), Status: string(r.Status),
		Source: r.Source, Result: r.Result, Error: r.Error, Cost: r.Cost,
		CreatedAt: r.CreatedAt, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt,
	}
}

func (d runDoc) toModel() model.GenerationRun {
	return model.GenerationRun{
		ID: d.ID, FlowID: d.FlowID, ThreadID: d.ThreadID, PipelineID: d.PipelineID,
		Stage: model.RunStage(d.Stage), Status: model.RunStatus(d.Status),
		Source: d.Source, Result: d.Result, Error: d.Error, Cost: d.Cost,
		CreatedAt: d.CreatedAt, StartedAt: d.StartedAt, FinishedAt: d.FinishedAt,
	}
}

type issueDoc struct {
	ID       string `bson:"_id"`
	RunID    string `bson:"run_id"`
	Path     string `bson:"path"`
	Code     string `bson:"code"`
	Severity string `bson:"severity"`
	Message  string `bson:"message"`
}

func fromIssue(i model.ValidationIssue) issueDoc {
	return issueDoc{ID: i.ID, RunID: i.RunID, Path: i.Path, Code: i.Code, Severity: string(i.Severity), Message: i.Message}
}

func (d issueDoc) toModel() model.ValidationIssue {
	return model.ValidationIssue{ID: d.ID, RunID: d.RunID, Path: d.Path, Code: d.Code, Severity: model.IssueSeverity(d.Severity), Message: d.Message}
}

type threadSummaryDoc struct {
	ID           string         `bson:"_id"`
	ThreadID     string         `bson:"thread_id"`
	Kind         string         `bson:"kind"`
	Content      map[string]any `bson:"content"`
	TokenBudget  int            `bson:"token_budget,omitempty"`
	CoveringFrom *time.Time     `bson:"covering_from,omitempty"`
	CoveringTo   *time.Time     `bson:"covering_to,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
}

func fromThreadSummary(t model.ThreadSummary) threadSummaryDoc {
	return threadSummaryDoc{
		ID: t.ID, ThreadID: t.ThreadID, Kind: string(t.Kind), Content: t.Content,
		TokenBudget: t.TokenBudget, CoveringFrom: t.CoveringFrom, CoveringTo: t.CoveringTo,
		CreatedAt: t.CreatedAt,
	}
}

func (d threadSummaryDoc) toModel() model.ThreadSummary {
	return model.ThreadSummary{
		ID: d.ID, ThreadID: d.ThreadID, Kind: model.SummaryKind(d.Kind), Content: d.Content,
		TokenBudget: d.TokenBudget, CoveringFrom: d.CoveringFrom, CoveringTo: d.CoveringTo,
		CreatedAt: d.CreatedAt,
	}
}

type flowSummaryDoc struct {
	ID            string         `bson:"_id"`
	FlowID        string         `bson:"flow_id"`
	Version       int            `bson:"version"`
	Content       map[string]any `bson:"content"`
	Pinned        map[string]any `bson:"pinned,omitempty"`
	LastMessageID string         `bson:"last_message_id,omitempty"`
	IsActive      bool           `bson:"is_active"`
	CreatedAt     time.Time      `bson:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at"`
}

func fromFlowSummary(f model.FlowSummary) flowSummaryDoc {
	return flowSummaryDoc{
		ID: f.ID, FlowID: f.FlowID, Version: f.Version, Content: f.Content, Pinned: f.Pinned,
		LastMessageID: f.LastMessageID, IsActive: f.IsActive,
		CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt,
	}
}

func (d flowSummaryDoc) toModel() model.FlowSummary {
	return model.FlowSummary{
		ID: d.ID, FlowID: d.FlowID, Version: d.Version, Content: d.Content, Pinned: d.Pinned,
		LastMessageID: d.LastMessageID, IsActive: d.IsActive,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type snapshotDoc struct {
	ID             string    `bson:"_id"`
	FlowID         string    `bson:"flow_id"`
	OriginThreadID string    `bson:"origin_thread_id,omitempty"`
	SchemaDefID    string    `bson:"schema_def_id"`
	FlowSummaryID  string    `bson:"flow_summary_id,omitempty"`
	PipelineID     string    `bson:"pipeline_id,omitempty"`
	Notes          string    `bson:"notes,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func fromSnapshot(s model.ContextSnapshot) snapshotDoc {
	return snapshotDoc{
		ID: s.ID, FlowID: s.FlowID, OriginThreadID: s.OriginThreadID,
		SchemaDefID: s.SchemaDefID, FlowSummaryID: s.FlowSummaryID, PipelineID: s.PipelineID,
		Notes: s.Notes, CreatedAt: s.CreatedAt,
	}
}

func (d snapshotDoc) toModel() model.ContextSnapshot {
	return model.ContextSnapshot{
		ID: d.ID, FlowID: d.FlowID, OriginThreadID: d.OriginThreadID,
		SchemaDefID: d.SchemaDefID, FlowSummaryID: d.FlowSummaryID, PipelineID: d.PipelineID,
		Notes: d.Notes, CreatedAt: d.CreatedAt,
	}
}
