// Package pipeline manages versioned pipeline documents: deriving semantic
// versions, deduplicating identical content, and moving the single published
// pointer of a flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/canonicaljson"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

// InitialVersion is assigned to the first pipeline of a flow.
const InitialVersion = "1.0.0"

// Manager creates and publishes pipeline versions.
type Manager struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

// NewManager constructs a Manager.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, now: time.Now, newID: uuid.NewString}
}

// CreateVersion persists content as a new pipeline version of the flow under
// the given schema definition. Content identical to an existing pipeline
// (same canonical hash) returns that pipeline unchanged; created reports
// whether a new row was written. The version starts at 1.0.0, bumps the major
// when the schema definition changed since the latest version and the patch
// otherwise.
func (m *Manager) CreateVersion(ctx context.Context, flowID string, def model.SchemaDefinition, content map[string]any) (model.Pipeline, bool, error) {
	hash, err := canonicaljson.Hash(content)
	if err != nil {
		return model.Pipeline{}, false, fmt.Errorf("hash pipeline content: %w", err)
	}
	if existing, err := m.store.Pipelines().FindByHash(ctx, flowID, hash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Pipeline{}, false, err
	}

	version := InitialVersion
	latest, err := m.store.Pipelines().Latest(ctx, flowID)
	switch {
	case err == nil:
		version, err = nextVersion(latest, def.ID)
		if err != nil {
			return model.Pipeline{}, false, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return model.Pipeline{}, false, err
	}

	now := m.now().UTC()
	p := model.Pipeline{
		ID:          m.newID(),
		FlowID:      flowID,
		Version:     version,
		SchemaDefID: def.ID,
		Status:      model.PipelineDraft,
		Content:     content,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Pipelines().Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with an identical document.
			if existing, ferr := m.store.Pipelines().FindByHash(ctx, flowID, hash); ferr == nil {
				return existing, false, nil
			}
			return model.Pipeline{}, false, apperr.Newf(http.StatusConflict, apperr.CodeDuplicate,
				"pipeline version %s already exists for flow %s", version, flowID)
		}
		return model.Pipeline{}, false, err
	}
	created, err := m.store.Pipelines().Get(ctx, p.ID)
	if err != nil {
		return model.Pipeline{}, false, err
	}
	return created, true, nil
}

// Publish makes the pipeline the flow's single published version. Everything
// runs in one transaction; a post-commit count other than one reports a
// publish conflict.
func (m *Manager) Publish(ctx context.Context, id string) (model.Pipeline, error) {
	var flowID string
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := m.store.Pipelines().Get(ctx, id)
		if err != nil {
			return err
		}
		flowID = p.FlowID
		if err := m.store.Pipelines().ClearPublished(ctx, p.FlowID, p.ID); err != nil {
			return err
		}
		return m.store.Pipelines().MarkPublished(ctx, p.ID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Pipeline{}, apperr.NotFound("pipeline")
		}
		if errors.Is(err, store.ErrDuplicate) {
			return model.Pipeline{}, publishConflict(flowID)
		}
		return model.Pipeline{}, err
	}

	n, err := m.store.Pipelines().CountPublished(ctx, flowID)
	if err != nil {
		return model.Pipeline{}, err
	}
	if n != 1 {
		return model.Pipeline{}, publishConflict(flowID)
	}
	return m.store.Pipelines().Get(ctx, id)
}

func publishConflict(flowID string) error {
	return apperr.Newf(http.StatusConflict, apperr.CodePublishConflict,
		"another publish is in flight for flow %s", flowID)
}

// nextVersion derives the successor of the latest version: a schema change
// bumps the major, anything else bumps the patch.
func nextVersion(latest model.Pipeline, schemaDefID string) (string, error) {
	major, minor, patch, err := parseVersion(latest.Version)
	if err != nil {
		return "", err
	}
	if latest.SchemaDefID != schemaDefID {
		return fmt.Sprintf("%d.0.0", major+1), nil
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch+1), nil
}

func parseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed pipeline version %q", v)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("malformed pipeline version %q", v)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
