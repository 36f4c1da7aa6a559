// Package model defines the persistent entities of the authoring service:
// flows, threads, messages, schema definitions and channels, pipelines,
// generation runs, summaries and context snapshots. Identifiers are opaque
// stable strings (UUIDs in practice); enumerations are typed strings so they
// serialize naturally to JSON and BSON.
package model

import "time"

// ThreadStatus enumerates the lifecycle states of a conversation thread.
type ThreadStatus string

const (
	ThreadNew        ThreadStatus = "NEW"
	ThreadInProgress ThreadStatus = "IN_PROGRESS"
	ThreadSuccess    ThreadStatus = "SUCCESS"
	ThreadFailed     ThreadStatus = "FAILED"
	ThreadArchived   ThreadStatus = "ARCHIVED"
)

// MessageRole enumerates the author roles of a thread message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ValidRole reports whether r is one of the supported message roles.
func ValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// MessageFormat enumerates the rendering formats of a thread message.
type MessageFormat string

const (
	FormatText     MessageFormat = "text"
	FormatMarkdown MessageFormat = "markdown"
	FormatJSON     MessageFormat = "json"
	FormatButtons  MessageFormat = "buttons"
	FormatCard     MessageFormat = "card"
)

// ValidFormat reports whether f is one of the supported message formats.
func ValidFormat(f MessageFormat) bool {
	switch f {
	case FormatText, FormatMarkdown, FormatJSON, FormatButtons, FormatCard:
		return true
	}
	return false
}

// SchemaStatus enumerates schema definition lifecycle states.
type SchemaStatus string

const (
	SchemaActive     SchemaStatus = "active"
	SchemaDeprecated SchemaStatus = "deprecated"
)

// PipelineStatus enumerates pipeline document lifecycle states.
type PipelineStatus string

const (
	PipelineDraft     PipelineStatus = "draft"
	PipelineReview    PipelineStatus = "review"
	PipelinePublished PipelineStatus = "published"
	PipelineArchived  PipelineStatus = "archived"
)

// RunStage enumerates the coarse persisted stages of a generation run. The
// run engine drives a finer-grained state machine; only these stages are
// recorded on the run row.
type RunStage string

const (
	StageDiscovery    RunStage = "discovery"
	StageGenerate     RunStage = "generate"
	StageSelfCheck    RunStage = "self_check"
	StageHardValidate RunStage = "hard_validate"
	StagePublish      RunStage = "publish"
)

// RunStatus enumerates generation run statuses.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// IssueSeverity enumerates validation issue severities.
type IssueSeverity string

const (
	SeverityInfo    IssueSeverity = "info"
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

// SummaryKind enumerates thread summary flavors.
type SummaryKind string

const (
	SummaryShort    SummaryKind = "short"
	SummaryDetailed SummaryKind = "detailed"
	SummarySystem   SummaryKind = "system"
)

// Flow is a long-lived authoring context owning threads, pipelines and
// summaries. Deleting a flow cascades to everything it owns.
type Flow struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Name      string         `json:"name"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Thread is a conversation within a flow.
type Thread struct {
	ID                string       `json:"id"`
	FlowID            string       `json:"flow_id"`
	Status            ThreadStatus `json:"status"`
	ResultPipelineID  string       `json:"result_pipeline_id,omitempty"`
	ContextSnapshotID string       `json:"context_snapshot_id,omitempty"`
	Archived          bool         `json:"archived"`
	ArchivedAt        *time.Time   `json:"archived_at,omitempty"`
	StartedAt         time.Time    `json:"started_at"`
	ClosedAt          *time.Time   `json:"closed_at,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Closed reports whether the thread has been closed.
func (t Thread) Closed() bool { return t.ClosedAt != nil }

// Message is a single entry of a thread conversation, insertion-ordered per
// thread by (created_at, id).
type Message struct {
	ID         string        `json:"id"`
	ThreadID   string        `json:"thread_id"`
	Role       MessageRole   `json:"role"`
	Format     MessageFormat `json:"format"`
	ParentID   string        `json:"parent_id,omitempty"`
	ToolName   string        `json:"tool_name,omitempty"`
	ToolResult any           `json:"tool_result,omitempty"`
	Content    any           `json:"content"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SchemaDefinition is a versioned JSON schema contract. (Name, Version) is
// unique across definitions.
type SchemaDefinition struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Status     SchemaStatus   `json:"status"`
	Schema     map[string]any `json:"json"`
	CompatWith []string       `json:"compat_with,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SchemaChannel is a named pointer to the active schema definition. Channel
// names are restricted to stable, beta and next.
type SchemaChannel struct {
	Name              string `json:"name"`
	ActiveSchemaDefID string `json:"active_schema_def_id"`
}

// ChannelNames lists the recognized schema channel names.
var ChannelNames = []string{"stable", "beta", "next"}

// Pipeline is a versioned pipeline document conforming to a schema
// definition. ContentHash is the raw 32-byte SHA-256 of the canonical JSON
// serialization of Content.
type Pipeline struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flow_id"`
	Version       string         `json:"version"`
	SchemaVersion string         `json:"schema_version"`
	SchemaDefID   string         `json:"schema_def_id"`
	Status        PipelineStatus `json:"status"`
	IsPublished   bool           `json:"is_published"`
	Content       map[string]any `json:"content"`
	ContentHash   []byte         `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// GenerationRun records one agent invocation. Source snapshots the request
// that started the run; Result and Error capture per-stage outcomes.
type GenerationRun struct {
	ID         string         `json:"id"`
	FlowID     string         `json:"flow_id"`
	ThreadID   string         `json:"thread_id,omitempty"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	Stage      RunStage       `json:"stage"`
	Status     RunStatus      `json:"status"`
	Source     map[string]any `json:"source,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Cost       float64        `json:"cost,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// ValidationIssue is a single finding produced by the validator, owned by a
// generation run and cascade-deleted with it.
type ValidationIssue struct {
	ID       string        `json:"id,omitempty"`
	RunID    string        `json:"run_id,omitempty"`
	Path     string        `json:"path"`
	Code     string        `json:"code"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// FlowSummary is the rolling summary of a flow. At most one summary per flow
// is active; versions are monotonically increasing from 1.
type FlowSummary struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flow_id"`
	Version       int            `json:"version"`
	Content       map[string]any `json:"content"`
	Pinned        map[string]any `json:"pinned,omitempty"`
	LastMessageID string         `json:"last_message_id,omitempty"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ThreadSummary is the summary of a closed thread covering the message range
// [CoveringFrom, CoveringTo].
type ThreadSummary struct {
	ID           string         `json:"id"`
	ThreadID     string         `json:"thread_id"`
	Kind         SummaryKind    `json:"kind"`
	Content      map[string]any `json:"content"`
	TokenBudget  int            `json:"token_budget,omitempty"`
	CoveringFrom *time.Time     `json:"covering_from,omitempty"`
	CoveringTo   *time.Time     `json:"covering_to,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ContextSnapshot freezes the authoring context a thread was opened with.
// All cross-references must share the snapshot's flow.
type ContextSnapshot struct {
	ID             string    `json:"id"`
	FlowID         string    `json:"flow_id"`
	OriginThreadID string    `json:"origin_thread_id,omitempty"`
	SchemaDefID    string    `json:"schema_def_id"`
	FlowSummaryID  string    `json:"flow_summary_id,omitempty"`
	PipelineID     string    `json:"pipeline_id,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
