package store

import (
	"fmt"
	"strings"

	"github.com/dslhub/dslhub/internal/model"
)

// Cross-entity integrity checks shared by the store implementations. Each
// returns an error wrapping ErrIntegrity so callers can classify with
// errors.Is.

func integrityErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// CheckThread validates a thread row against its flow.
func CheckThread(thread model.Thread, flow model.Flow) error {
	if thread.FlowID != flow.ID {
		return integrityErr("thread %s references flow %s, got %s", thread.ID, thread.FlowID, flow.ID)
	}
	if thread.ClosedAt != nil && thread.ClosedAt.Before(thread.StartedAt) {
		return integrityErr("thread %s closed before it started", thread.ID)
	}
	if thread.Archived && thread.ArchivedAt == nil {
		return integrityErr("thread %s archived without archived_at", thread.ID)
	}
	return nil
}

// CheckMessage validates a message against its thread and optional parent.
// The parent pointer is nil when the message has no parent.
func CheckMessage(msg model.Message, thread model.Thread, parent *model.Message) error {
	if msg.ThreadID != thread.ID {
		return integrityErr("message %s references thread %s, got %s", msg.ID, msg.ThreadID, thread.ID)
	}
	if !model.ValidRole(msg.Role) {
		return integrityErr("message %s has unknown role %q", msg.ID, msg.Role)
	}
	if !model.ValidFormat(msg.Format) {
		return integrityErr("message %s has unknown format %q", msg.ID, msg.Format)
	}
	if msg.Role == model.RoleTool && strings.TrimSpace(msg.ToolName) == "" {
		return integrityErr("tool message %s is missing tool_name", msg.ID)
	}
	if msg.ParentID != "" {
		if parent == nil {
			return integrityErr("message %s references missing parent %s", msg.ID, msg.ParentID)
		}
		if parent.ThreadID != msg.ThreadID {
			return integrityErr("message %s parent %s belongs to another thread", msg.ID, msg.ParentID)
		}
	}
	return nil
}

// CheckSnapshot validates a context snapshot's cross-references. Each
// referenced row is passed by pointer, nil when the snapshot does not
// reference it; a nil pointer for a set reference means the row is missing.
func CheckSnapshot(snap model.ContextSnapshot, def *model.SchemaDefinition, fs *model.FlowSummary, p *model.Pipeline) error {
	if snap.SchemaDefID == "" {
		return integrityErr("snapshot %s is missing schema_def_id", snap.ID)
	}
	if def == nil {
		return integrityErr("snapshot %s references missing schema definition %s", snap.ID, snap.SchemaDefID)
	}
	if snap.FlowSummaryID != "" {
		if fs == nil {
			return integrityErr("snapshot %s references missing flow summary %s", snap.ID, snap.FlowSummaryID)
		}
		if fs.FlowID != snap.FlowID {
			return integrityErr("snapshot %s flow summary %s belongs to another flow", snap.ID, snap.FlowSummaryID)
		}
	}
	if snap.PipelineID != "" {
		if p == nil {
			return integrityErr("snapshot %s references missing pipeline %s", snap.ID, snap.PipelineID)
		}
		if p.FlowID != snap.FlowID {
			return integrityErr("snapshot %s pipeline %s belongs to another flow", snap.ID, snap.PipelineID)
		}
	}
	return nil
}

// CheckRun validates a generation run's references against its flow.
func CheckRun(run model.GenerationRun, flow model.Flow, thread *model.Thread) error {
	if run.FlowID != flow.ID {
		return integrityErr("run %s references flow %s, got %s", run.ID, run.FlowID, flow.ID)
	}
	if run.ThreadID != "" {
		if thread == nil {
			return integrityErr("run %s references missing thread %s", run.ID, run.ThreadID)
		}
		if thread.FlowID != run.FlowID {
			return integrityErr("run %s thread %s belongs to another flow", run.ID, run.ThreadID)
		}
	}
	return nil
}
