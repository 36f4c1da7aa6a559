// Package memory implements store.Store with plain maps guarded by a mutex.
// It backs tests and acts as the default store when no MongoDB URI is
// configured. Transactions are serialized; a failed transaction restores the
// pre-transaction snapshot of every table.
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

// Store is the in-memory store. Construct with New.
type Store struct {
	// txMu serializes transactions so a rollback can restore a consistent
	// snapshot; mu guards individual table accesses.
	txMu sync.Mutex
	mu   sync.RWMutex
	tab  *tables

	now func() time.Time
}

type tables struct {
	flows           map[string]model.Flow
	threads         map[string]model.Thread
	messages        map[string]model.Message
	schemaDefs      map[string]model.SchemaDefinition
	channels        map[string]model.SchemaChannel
	pipelines       map[string]model.Pipeline
	runs            map[string]model.GenerationRun
	issues          map[string][]model.ValidationIssue
	threadSummaries map[string]model.ThreadSummary
	flowSummaries   map[string]model.FlowSummary
	snapshots       map[string]model.ContextSnapshot
}

func newTables() *tables {
	return &tables{
		flows:           make(map[string]model.Flow),
		threads:         make(map[string]model.Thread),
		messages:        make(map[string]model.Message),
		schemaDefs:      make(map[string]model.SchemaDefinition),
		channels:        make(map[string]model.SchemaChannel),
		pipelines:       make(map[string]model.Pipeline),
		runs:            make(map[string]model.GenerationRun),
		issues:          make(map[string][]model.ValidationIssue),
		threadSummaries: make(map[string]model.ThreadSummary),
		flowSummaries:   make(map[string]model.FlowSummary),
		snapshots:       make(map[string]model.ContextSnapshot),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.flows {
		c.flows[k] = v
	}
	for k, v := range t.threads {
		c.threads[k] = v
	}
	for k, v := range t.messages {
		c.messages[k] = v
	}
	for k, v := range t.schemaDefs {
		c.schemaDefs[k] = v
	}
	for k, v := range t.channels {
		c.channels[k] = v
	}
	for k, v := range t.pipelines {
		c.pipelines[k] = v
	}
	for k, v := range t.runs {
		c.runs[k] = v
	}
	for k, v := range t.issues {
		c.issues[k] = append([]model.ValidationIssue(nil), v...)
	}
	for k, v := range t.threadSummaries {
		c.threadSummaries[k] = v
	}
	for k, v := range t.flowSummaries {
		c.flowSummaries[k] = v
	}
	for k, v := range t.snapshots {
		c.snapshots[k] = v
	}
	return c
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the store clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{tab: newTables(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithTx runs fn inside a serialized transaction. Any error restores the
// pre-transaction state.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.tab.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.tab = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Flows() store.Flows         { return flows{s} }
func (s *Store) Threads() store.Threads     { return threads{s} }
func (s *Store) Messages() store.Messages   { return messages{s} }
func (s *Store) Schemas() store.Schemas     { return schemas{s} }
func (s *Store) Pipelines() store.Pipelines { return pipelines{s} }
func (s *Store) Runs() store.Runs           { return runs{s} }
func (s *Store) Summaries() store.Summaries { return summaries{s} }
func (s *Store) Snapshots() store.Snapshots { return snapshots{s} }

type flows struct{ s *Store }

func (r flows) Create(_ context.Context, flow model.Flow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.flows[flow.ID]; ok {
		return store.ErrDuplicate
	}
	for _, f := range r.s.tab.flows {
		if strings.EqualFold(f.Slug, flow.Slug) {
			return store.ErrDuplicate
		}
	}
	r.s.tab.flows[flow.ID] = flow
	return nil
}

func (r flows) Get(_ context.Context, id string) (model.Flow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	f, ok := r.s.tab.flows[id]
	if !ok {
		return model.Flow{}, store.ErrNotFound
	}
	return f, nil
}

func (r flows) GetBySlug(_ context.Context, slug string) (model.Flow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, f := range r.s.tab.flows {
		if strings.EqualFold(f.Slug, slug) {
			return f, nil
		}
	}
	return model.Flow{}, store.ErrNotFound
}

func (r flows) List(_ context.Context) ([]model.Flow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Flow, 0, len(r.s.tab.flows))
	for _, f := range r.s.tab.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r flows) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.tab
	if _, ok := t.flows[id]; !ok {
		return store.ErrNotFound
	}
	for tid, th := range t.threads {
		if th.FlowID != id {
			continue
		}
		for mid, m := range t.messages {
			if m.ThreadID == tid {
				delete(t.messages, mid)
			}
		}
		for sid, ts := range t.threadSummaries {
			if ts.ThreadID == tid {
				delete(t.threadSummaries, sid)
			}
		}
		delete(t.threads, tid)
	}
	for pid, p := range t.pipelines {
		if p.FlowID == id {
			delete(t.pipelines, pid)
		}
	}
	for rid, run := range t.runs {
		if run.FlowID == id {
			delete(t.issues, rid)
			delete(t.runs, rid)
		}
	}
	for sid, fs := range t.flowSummaries {
		if fs.FlowID == id {
			delete(t.flowSummaries, sid)
		}
	}
	for sid, sn := range t.snapshots {
		if sn.FlowID == id {
			delete(t.snapshots, sid)
		}
	}
	delete(t.flows, id)
	return nil
}

type threads struct{ s *Store }

func (r threads) Create(_ context.Context, thread model.Thread) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.flows[thread.FlowID]; !ok {
		return store.ErrIntegrity
	}
	if _, ok := r.s.tab.threads[thread.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.tab.threads[thread.ID] = thread
	return nil
}

func (r threads) Get(_ context.Context, id string) (model.Thread, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	th, ok := r.s.tab.threads[id]
	if !ok {
		return model.Thread{}, store.ErrNotFound
	}
	return th, nil
}

func (r threads) Update(_ context.Context, thread model.Thread) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.threads[thread.ID]; !ok {
		return store.ErrNotFound
	}
	r.s.tab.threads[thread.ID] = thread
	return nil
}

func (r threads) ListForFlow(_ context.Context, flowID string) ([]model.Thread, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Thread
	for _, th := range r.s.tab.threads {
		if th.FlowID == flowID {
			out = append(out, th)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

type messages struct{ s *Store }

func msgLess(a, b model.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r messages) Create(_ context.Context, msg model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.threads[msg.ThreadID]; !ok {
		return store.ErrIntegrity
	}
	if _, ok := r.s.tab.messages[msg.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.tab.messages[msg.ID] = msg
	return nil
}

func (r messages) Get(_ context.Context, id string) (model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.tab.messages[id]
	if !ok {
		return model.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (r messages) threadMessages(threadID string) []model.Message {
	var out []model.Message
	for _, m := range r.s.tab.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return msgLess(out[i], out[j]) })
	return out
}

func (r messages) List(_ context.Context, threadID string, limit int, beforeID string) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.threadMessages(threadID)
	if beforeID != "" {
		before, ok := r.s.tab.messages[beforeID]
		if !ok || before.ThreadID != threadID {
			return nil, store.ErrNotFound
		}
		var older []model.Message
		for _, m := range all {
			if msgLess(m, before) {
				older = append(older, m)
			}
		}
		all = older
	}
	if limit > 0 && len(all) > limit {
		// Keep the newest page so the client walks backwards.
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r messages) Last(_ context.Context, threadID string) (model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.threadMessages(threadID)
	if len(all) == 0 {
		return model.Message{}, store.ErrNotFound
	}
	return all[len(all)-1], nil
}

func (r messages) OlderExists(_ context.Context, threadID, msgID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	anchor, ok := r.s.tab.messages[msgID]
	if !ok || anchor.ThreadID != threadID {
		return false, store.ErrNotFound
	}
	for _, m := range r.s.tab.messages {
		if m.ThreadID == threadID && msgLess(m, anchor) {
			return true, nil
		}
	}
	return false, nil
}

type schemas struct{ s *Store }

func (r schemas) CreateDefinition(_ context.Context, def model.SchemaDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.schemaDefs[def.ID]; ok {
		return store.ErrDuplicate
	}
	for _, d := range r.s.tab.schemaDefs {
		if d.Name == def.Name && d.Version == def.Version {
			return store.ErrDuplicate
		}
	}
	r.s.tab.schemaDefs[def.ID] = def
	return nil
}

func (r schemas) GetDefinition(_ context.Context, id string) (model.SchemaDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.tab.schemaDefs[id]
	if !ok {
		return model.SchemaDefinition{}, store.ErrNotFound
	}
	return d, nil
}

func (r schemas) FindDefinition(_ context.Context, name, version string) (model.SchemaDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, d := range r.s.tab.schemaDefs {
		if d.Name == name && d.Version == version {
			return d, nil
		}
	}
	return model.SchemaDefinition{}, store.ErrNotFound
}

func (r schemas) UpsertChannel(_ context.Context, ch model.SchemaChannel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.schemaDefs[ch.ActiveSchemaDefID]; !ok {
		return store.ErrIntegrity
	}
	r.s.tab.channels[ch.Name] = ch
	return nil
}

func (r schemas) GetChannel(_ context.Context, name string) (model.SchemaChannel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ch, ok := r.s.tab.channels[name]
	if !ok {
		return model.SchemaChannel{}, store.ErrNotFound
	}
	return ch, nil
}

type pipelines struct{ s *Store }

func (r pipelines) Create(_ context.Context, p model.Pipeline) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.tab
	if _, ok := t.flows[p.FlowID]; !ok {
		return store.ErrIntegrity
	}
	def, ok := t.schemaDefs[p.SchemaDefID]
	if !ok {
		return store.ErrIntegrity
	}
	if _, ok := t.pipelines[p.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range t.pipelines {
		if other.FlowID != p.FlowID {
			continue
		}
		if other.Version == p.Version {
			return store.ErrDuplicate
		}
		if len(p.ContentHash) > 0 && bytes.Equal(other.ContentHash, p.ContentHash) {
			return store.ErrDuplicate
		}
	}
	p.SchemaVersion = def.Version
	t.pipelines[p.ID] = p
	return nil
}

func (r pipelines) Get(_ context.Context, id string) (model.Pipeline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.tab.pipelines[id]
	if !ok {
		return model.Pipeline{}, store.ErrNotFound
	}
	return p, nil
}

func (r pipelines) FindByHash(_ context.Context, flowID string, hash []byte) (model.Pipeline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.tab.pipelines {
		if p.FlowID == flowID && bytes.Equal(p.ContentHash, hash) {
			return p, nil
		}
	}
	return model.Pipeline{}, store.ErrNotFound
}

func (r pipelines) Latest(_ context.Context, flowID string) (model.Pipeline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest model.Pipeline
	found := false
	for _, p := range r.s.tab.pipelines {
		if p.FlowID != flowID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) ||
			(p.CreatedAt.Equal(latest.CreatedAt) && p.ID > latest.ID) {
			latest, found = p, true
		}
	}
	if !found {
		return model.Pipeline{}, store.ErrNotFound
	}
	return latest, nil
}

func (r pipelines) Published(_ context.Context, flowID string) (model.Pipeline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.tab.pipelines {
		if p.FlowID == flowID && p.IsPublished {
			return p, nil
		}
	}
	return model.Pipeline{}, store.ErrNotFound
}

func (r pipelines) ListForFlow(_ context.Context, flowID string, published *bool) ([]model.Pipeline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Pipeline
	for _, p := range r.s.tab.pipelines {
		if p.FlowID != flowID {
			continue
		}
		if published != nil && p.IsPublished != *published {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r pipelines) CountPublished(_ context.Context, flowID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, p := range r.s.tab.pipelines {
		if p.FlowID == flowID && p.IsPublished {
			n++
		}
	}
	return n, nil
}

func (r pipelines) ClearPublished(_ context.Context, flowID, keepID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, p := range r.s.tab.pipelines {
		if p.FlowID == flowID && p.IsPublished && id != keepID {
			p.IsPublished = false
			p.Status = model.PipelineDraft
			p.UpdatedAt = r.s.now()
			r.s.tab.pipelines[id] = p
		}
	}
	return nil
}

func (r pipelines) MarkPublished(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.tab.pipelines[id]
	if !ok {
		return store.ErrNotFound
	}
	for oid, other := range r.s.tab.pipelines {
		if oid != id && other.FlowID == p.FlowID && other.IsPublished {
			// Mirrors the partial unique index on published pipelines.
			return store.ErrDuplicate
		}
	}
	p.IsPublished = true
	p.Status = model.PipelinePublished
	p.UpdatedAt = r.s.now()
	r.s.tab.pipelines[id] = p
	return nil
}

type runs struct{ s *Store }

func (r runs) Create(_ context.Context, run model.GenerationRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.flows[run.FlowID]; !ok {
		return store.ErrIntegrity
	}
	if _, ok := r.s.tab.runs[run.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.tab.runs[run.ID] = run
	return nil
}

func (r runs) Get(_ context.Context, id string) (model.GenerationRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	run, ok := r.s.tab.runs[id]
	if !ok {
		return model.GenerationRun{}, store.ErrNotFound
	}
	return run, nil
}

func (r runs) SetStage(_ context.Context, id string, stage model.RunStage, status model.RunStatus, result map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.tab.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if run.Status == model.RunCanceled {
		return nil
	}
	run.Stage = stage
	run.Status = status
	if result != nil {
		run.Result = result
	}
	if status == model.RunRunning && run.StartedAt == nil {
		now := r.s.now()
		run.StartedAt = &now
	}
	r.s.tab.runs[id] = run
	return nil
}

func (r runs) Finish(_ context.Context, id string, status model.RunStatus, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.tab.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if run.Status == model.RunCanceled {
		return nil
	}
	run.Status = status
	run.Error = errMsg
	now := r.s.now()
	run.FinishedAt = &now
	r.s.tab.runs[id] = run
	return nil
}

func (r runs) Cancel(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.tab.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if run.Status == model.RunSucceeded || run.Status == model.RunFailed {
		return nil
	}
	run.Status = model.RunCanceled
	now := r.s.now()
	run.FinishedAt = &now
	r.s.tab.runs[id] = run
	return nil
}

func (r runs) AddIssues(_ context.Context, runID string, issues []model.ValidationIssue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.runs[runID]; !ok {
		return store.ErrNotFound
	}
	for i := range issues {
		issues[i].RunID = runID
	}
	r.s.tab.issues[runID] = append(r.s.tab.issues[runID], issues...)
	return nil
}

func (r runs) Issues(_ context.Context, runID string) ([]model.ValidationIssue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]model.ValidationIssue(nil), r.s.tab.issues[runID]...), nil
}

type summaries struct{ s *Store }

func (r summaries) CreateThreadSummary(_ context.Context, ts model.ThreadSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.threads[ts.ThreadID]; !ok {
		return store.ErrIntegrity
	}
	if _, ok := r.s.tab.threadSummaries[ts.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.tab.threadSummaries[ts.ID] = ts
	return nil
}

func (r summaries) LatestThreadSummary(_ context.Context, threadID string) (model.ThreadSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest model.ThreadSummary
	found := false
	for _, ts := range r.s.tab.threadSummaries {
		if ts.ThreadID != threadID {
			continue
		}
		if !found || ts.CreatedAt.After(latest.CreatedAt) {
			latest, found = ts, true
		}
	}
	if !found {
		return model.ThreadSummary{}, store.ErrNotFound
	}
	return latest, nil
}

func (r summaries) ListThreadSummaries(_ context.Context, threadID string) ([]model.ThreadSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.ThreadSummary
	for _, ts := range r.s.tab.threadSummaries {
		if ts.ThreadID == threadID {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r summaries) ActiveFlowSummary(_ context.Context, flowID string) (model.FlowSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, fs := range r.s.tab.flowSummaries {
		if fs.FlowID == flowID && fs.IsActive {
			return fs, nil
		}
	}
	return model.FlowSummary{}, store.ErrNotFound
}

func (r summaries) CreateFlowSummary(_ context.Context, fs model.FlowSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.flows[fs.FlowID]; !ok {
		return store.ErrIntegrity
	}
	if _, ok := r.s.tab.flowSummaries[fs.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range r.s.tab.flowSummaries {
		if other.FlowID == fs.FlowID && other.Version == fs.Version {
			return store.ErrDuplicate
		}
	}
	r.s.tab.flowSummaries[fs.ID] = fs
	return nil
}

func (r summaries) UpdateFlowSummary(_ context.Context, fs model.FlowSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tab.flowSummaries[fs.ID]; !ok {
		return store.ErrNotFound
	}
	r.s.tab.flowSummaries[fs.ID] = fs
	return nil
}

func (r summaries) DeactivateOthers(_ context.Context, flowID, keepID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, fs := range r.s.tab.flowSummaries {
		if fs.FlowID == flowID && fs.IsActive && id != keepID {
			fs.IsActive = false
			fs.UpdatedAt = r.s.now()
			r.s.tab.flowSummaries[id] = fs
		}
	}
	return nil
}

type snapshots struct{ s *Store }

func (r snapshots) Create(_ context.Context, snap model.ContextSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.tab
	if _, ok := t.flows[snap.FlowID]; !ok {
		return store.ErrIntegrity
	}
	def, defOK := t.schemaDefs[snap.SchemaDefID]
	var defp *model.SchemaDefinition
	if defOK {
		defp = &def
	}
	var fsp *model.FlowSummary
	if snap.FlowSummaryID != "" {
		if fs, ok := t.flowSummaries[snap.FlowSummaryID]; ok {
			fsp = &fs
		}
	}
	var pp *model.Pipeline
	if snap.PipelineID != "" {
		if p, ok := t.pipelines[snap.PipelineID]; ok {
			pp = &p
		}
	}
	if err := store.CheckSnapshot(snap, defp, fsp, pp); err != nil {
		return err
	}
	if _, ok := t.snapshots[snap.ID]; ok {
		return store.ErrDuplicate
	}
	t.snapshots[snap.ID] = snap
	return nil
}

func (r snapshots) Get(_ context.Context, id string) (model.ContextSnapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	snap, ok := r.s.tab.snapshots[id]
	if !ok {
		return model.ContextSnapshot{}, store.ErrNotFound
	}
	return snap, nil
}

func (r snapshots) SetOriginThread(_ context.Context, id, threadID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap, ok := r.s.tab.snapshots[id]
	if !ok {
		return store.ErrNotFound
	}
	snap.OriginThreadID = threadID
	r.s.tab.snapshots[id] = snap
	return nil
}
