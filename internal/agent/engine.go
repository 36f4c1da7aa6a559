// Package agent drives generation runs: a small state machine that searches
// for existing pipelines, generates a candidate with the model, self-checks
// it, hard-validates it against the active schema and persists the result as
// a new pipeline version. Every transition is recorded on the run row and
// announced on the event bus.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/bus"
	"github.com/dslhub/dslhub/internal/llm"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/pipeline"
	"github.com/dslhub/dslhub/internal/similarity"
	"github.com/dslhub/dslhub/internal/store"
	"github.com/dslhub/dslhub/internal/telemetry"
	"github.com/dslhub/dslhub/internal/validate"
)

// Machine stage names carried in run.stage events. The run row records the
// coarser RunStage.
const (
	stageInit           = "init"
	stageSearchExisting = "search_existing"
	stageGenerate       = "generate"
	stageSelfCheck      = "self_check"
	stageHardValidate   = "hard_validate"
	stagePersist        = "persist"
	stagePublish        = "publish"
)

// Event types published on the thread's event key.
const (
	EventRunStarted        = "run.started"
	EventRunStage          = "run.stage"
	EventRunFinished       = "run.finished"
	EventSuggestion        = "suggestion"
	EventIssues            = "issues"
	EventPipelineCreated   = "pipeline.created"
	EventPipelinePublished = "pipeline.published"
	EventMessageCreated    = "message.created"
)

// Options configures an Engine.
type Options struct {
	// Channel is the schema channel resolved at run start.
	Channel string
	// Metrics records run durations when set.
	Metrics *telemetry.Metrics
}

// Engine executes generation runs.
type Engine struct {
	store    store.Store
	bus      *bus.Bus
	model    llm.Client
	validate *validate.Validator
	match    *similarity.Matcher
	versions *pipeline.Manager
	channel  string
	metrics  *telemetry.Metrics
	now      func() time.Time
	newID    func() string
}

// New constructs an Engine.
func New(s store.Store, b *bus.Bus, model llm.Client, v *validate.Validator, m *similarity.Matcher, versions *pipeline.Manager, opts Options) *Engine {
	if opts.Channel == "" {
		opts.Channel = "stable"
	}
	return &Engine{
		store:    s,
		bus:      b,
		model:    model,
		validate: v,
		match:    m,
		versions: versions,
		channel:  opts.Channel,
		metrics:  opts.Metrics,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RunParams describes a run to start.
type RunParams struct {
	FlowID          string
	ThreadID        string
	Prompt          string
	SourceMessageID string
	// Candidate is an explicit pipeline document supplied by the caller; when
	// nil the engine derives one from the prompt content.
	Candidate map[string]any
	// AutoPublish publishes the resulting pipeline version on success.
	AutoPublish bool
}

// StartRun records a queued run. Call Process to execute it.
func (e *Engine) StartRun(ctx context.Context, p RunParams) (model.GenerationRun, error) {
	if p.ThreadID == "" {
		return model.GenerationRun{}, apperr.Validation("thread_id is required")
	}
	thread, err := e.store.Threads().Get(ctx, p.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.GenerationRun{}, apperr.NotFound("thread")
		}
		return model.GenerationRun{}, err
	}
	if p.FlowID == "" {
		p.FlowID = thread.FlowID
	}
	if thread.FlowID != p.FlowID {
		return model.GenerationRun{}, apperr.Validation("thread belongs to another flow")
	}

	run := model.GenerationRun{
		ID:       e.newID(),
		FlowID:   p.FlowID,
		ThreadID: p.ThreadID,
		Stage:    model.StageDiscovery,
		Status:   model.RunQueued,
		Source: map[string]any{
			"message":      p.Prompt,
			"auto_publish": p.AutoPublish,
		},
		CreatedAt: e.now().UTC(),
	}
	if p.SourceMessageID != "" {
		run.Source["message_id"] = p.SourceMessageID
	}
	if p.Candidate != nil {
		run.Source["pipeline"] = p.Candidate
	}
	if err := e.store.Runs().Create(ctx, run); err != nil {
		return model.GenerationRun{}, err
	}
	return run, nil
}

// Suggest checks the flow's pipelines for a reusable match to candidate
// without starting a run.
func (e *Engine) Suggest(ctx context.Context, flowID string, candidate map[string]any) (*similarity.Match, error) {
	return e.match.FindExisting(ctx, flowID, candidate)
}

// Cancel marks the run canceled. The processing loop stops at its next
// transition; stage writes after cancellation are ignored by the store.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("run")
		}
		return err
	}
	if err := e.store.Runs().Cancel(ctx, runID); err != nil {
		return err
	}
	e.bus.Publish(run.ThreadID, EventRunFinished, map[string]any{
		"run_id": runID,
		"status": string(model.RunCanceled),
	})
	return nil
}

// Process executes the run state machine to completion. It is safe to call
// in a goroutine; errors are recorded on the run row and logged.
func (e *Engine) Process(ctx context.Context, runID string) {
	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		log.Errorf(ctx, err, "load run %s", runID)
		return
	}
	start := e.now()
	status, ferr := e.process(ctx, run)
	if e.metrics != nil {
		e.metrics.RecordRunDuration(ctx, string(status), time.Since(start))
	}
	if ferr != nil {
		log.Errorf(ctx, ferr, "run %s finished with status %s", runID, status)
	}
}

func (e *Engine) process(ctx context.Context, run model.GenerationRun) (model.RunStatus, error) {
	fail := func(stage string, err error) (model.RunStatus, error) {
		_ = e.store.Runs().Finish(ctx, run.ID, model.RunFailed, err.Error())
		e.stageEvent(run, stage, model.RunFailed, map[string]any{"error": err.Error()})
		e.bus.Publish(run.ThreadID, EventRunFinished, map[string]any{
			"run_id": run.ID,
			"status": string(model.RunFailed),
			"stage":  stage,
			"error":  err.Error(),
		})
		return model.RunFailed, err
	}

	e.bus.Publish(run.ThreadID, EventRunStarted, map[string]any{
		"run_id": run.ID,
		"stage":  stageInit,
	})

	// init: resolve the authoring context.
	if stop := e.tick(ctx, run, stageInit, nil); stop {
		return model.RunCanceled, nil
	}
	def, err := validate.ResolveActive(ctx, e.store.Schemas(), e.channel)
	if err != nil {
		return fail(stageInit, err)
	}
	lctx := llm.Context{SchemaDef: def}
	if active, err := e.store.Summaries().ActiveFlowSummary(ctx, run.FlowID); err == nil {
		lctx.FlowSummary = &active
	} else if !errors.Is(err, store.ErrNotFound) {
		return fail(stageInit, err)
	}
	if published, err := e.store.Pipelines().Published(ctx, run.FlowID); err == nil {
		lctx.ActivePipeline = &published
	} else if !errors.Is(err, store.ErrNotFound) {
		return fail(stageInit, err)
	}
	e.stageEvent(run, stageInit, model.RunSucceeded, nil)

	// search_existing: reuse a matching pipeline instead of generating.
	if stop := e.tick(ctx, run, stageSearchExisting, nil); stop {
		return model.RunCanceled, nil
	}
	match := e.findExisting(ctx, run)
	e.stageEvent(run, stageSearchExisting, model.RunSucceeded, nil)
	if match != nil {
		e.say(ctx, run, fmt.Sprintf("Found an existing pipeline (version %s) matching your request.", match.Pipeline.Version))
		e.bus.Publish(run.ThreadID, EventSuggestion, map[string]any{
			"pipeline_id": match.Pipeline.ID,
			"version":     match.Pipeline.Version,
			"score":       match.Score,
		})
		result := map[string]any{
			"pipeline_id": match.Pipeline.ID,
			"reused":      true,
			"score":       match.Score,
		}
		return e.finish(ctx, run, result)
	}

	// generate.
	if stop := e.tick(ctx, run, stageGenerate, nil); stop {
		return model.RunCanceled, nil
	}
	prompt, _ := run.Source["message"].(string)
	doc, err := e.model.GeneratePipeline(ctx, prompt, lctx)
	if err != nil {
		return fail(stageGenerate, err)
	}
	e.stageEvent(run, stageGenerate, model.RunSucceeded, nil)
	e.say(ctx, run, "Drafted a pipeline, reviewing it now.")

	// self_check: advisory review, never fatal.
	if stop := e.tick(ctx, run, stageSelfCheck, nil); stop {
		return model.RunCanceled, nil
	}
	check, err := e.model.SelfCheck(ctx, doc, lctx)
	if err != nil {
		log.Errorf(ctx, err, "self check for run %s", run.ID)
		check = llm.CheckResult{Notes: []string{"self check unavailable"}}
	}
	if len(check.Notes) > 0 || len(check.Risks) > 0 {
		e.say(ctx, run, reviewMessage(check))
	}
	e.stageEvent(run, stageSelfCheck, model.RunSucceeded, nil)

	// hard_validate: schema violations stop the run.
	if stop := e.tick(ctx, run, stageHardValidate, nil); stop {
		return model.RunCanceled, nil
	}
	issues, err := e.validate.Validate(def, doc)
	if err != nil {
		return fail(stageHardValidate, err)
	}
	if len(issues) > 0 {
		if err := e.store.Runs().AddIssues(ctx, run.ID, issues); err != nil {
			return fail(stageHardValidate, err)
		}
		e.bus.Publish(run.ThreadID, EventIssues, map[string]any{
			"run_id": run.ID,
			"items":  issueDetails(issues),
		})
	}
	if validate.HasErrors(issues) {
		e.say(ctx, run, issueMessage(issues))
		return fail(stageHardValidate, apperr.Validation("pipeline failed schema validation", issueDetails(issues)...))
	}
	e.stageEvent(run, stageHardValidate, model.RunSucceeded, nil)

	// persist.
	if stop := e.tick(ctx, run, stagePersist, nil); stop {
		return model.RunCanceled, nil
	}
	p, created, err := e.versions.CreateVersion(ctx, run.FlowID, def, doc)
	if err != nil {
		return fail(stagePersist, err)
	}
	e.stageEvent(run, stagePersist, model.RunSucceeded, nil)
	if created {
		e.bus.Publish(run.ThreadID, EventPipelineCreated, map[string]any{
			"pipeline_id": p.ID,
			"version":     p.Version,
			"status":      string(p.Status),
		})
	}
	result := map[string]any{
		"pipeline_id": p.ID,
		"version":     p.Version,
		"reused":      !created,
	}

	// publish (optional).
	if auto, _ := run.Source["auto_publish"].(bool); auto {
		if stop := e.tick(ctx, run, stagePublish, map[string]any{"pipeline_id": p.ID}); stop {
			return model.RunCanceled, nil
		}
		if p, err = e.versions.Publish(ctx, p.ID); err != nil {
			return fail(stagePublish, err)
		}
		e.stageEvent(run, stagePublish, model.RunSucceeded, nil)
		e.bus.Publish(run.ThreadID, EventPipelinePublished, map[string]any{
			"pipeline_id": p.ID,
			"version":     p.Version,
		})
		result["published"] = true
	}

	e.say(ctx, run, fmt.Sprintf("Saved pipeline version %s.", p.Version))
	e.updateThreadResult(ctx, run.ThreadID, p.ID)
	return e.finish(ctx, run, result)
}

// tick records a stage transition and announces it as running; the matching
// terminal event is published when the stage body completes. It reports
// whether the run has been canceled and processing must stop.
func (e *Engine) tick(ctx context.Context, run model.GenerationRun, machineStage string, extra map[string]any) bool {
	current, err := e.store.Runs().Get(ctx, run.ID)
	if err == nil && current.Status == model.RunCanceled {
		return true
	}
	if err := e.store.Runs().SetStage(ctx, run.ID, coarseStage(machineStage), model.RunRunning, nil); err != nil {
		log.Errorf(ctx, err, "record stage %s for run %s", machineStage, run.ID)
	}
	e.stageEvent(run, machineStage, model.RunRunning, extra)
	return false
}

// stageEvent publishes a run.stage event carrying the stage's status.
func (e *Engine) stageEvent(run model.GenerationRun, machineStage string, status model.RunStatus, extra map[string]any) {
	data := map[string]any{
		"run_id": run.ID,
		"stage":  machineStage,
		"status": string(status),
	}
	for k, v := range extra {
		data[k] = v
	}
	e.bus.Publish(run.ThreadID, EventRunStage, data)
}

func (e *Engine) finish(ctx context.Context, run model.GenerationRun, result map[string]any) (model.RunStatus, error) {
	stage := model.StagePublish
	if current, err := e.store.Runs().Get(ctx, run.ID); err == nil {
		stage = current.Stage
	}
	if err := e.store.Runs().SetStage(ctx, run.ID, stage, model.RunRunning, result); err != nil {
		log.Errorf(ctx, err, "record result for run %s", run.ID)
	}
	if err := e.store.Runs().Finish(ctx, run.ID, model.RunSucceeded, ""); err != nil {
		log.Errorf(ctx, err, "finish run %s", run.ID)
	}
	e.bus.Publish(run.ThreadID, EventRunFinished, map[string]any{
		"run_id": run.ID,
		"status": string(model.RunSucceeded),
		"result": result,
	})
	return model.RunSucceeded, nil
}

// findExisting degrades to no-match on errors; reuse is an optimization, not
// a correctness requirement.
func (e *Engine) findExisting(ctx context.Context, run model.GenerationRun) *similarity.Match {
	candidate, _ := run.Source["pipeline"].(map[string]any)
	if candidate == nil {
		candidate = similarity.ExtractCandidate(run.Source["message"])
	}
	var (
		match *similarity.Match
		err   error
	)
	if candidate != nil {
		match, err = e.match.FindExisting(ctx, run.FlowID, candidate)
	} else if prompt, _ := run.Source["message"].(string); prompt != "" {
		match, err = e.match.FindSimilarText(ctx, run.FlowID, prompt)
	}
	if err != nil {
		log.Errorf(ctx, err, "similarity search for run %s", run.ID)
		return nil
	}
	return match
}

// say persists an assistant progress message and announces it.
func (e *Engine) say(ctx context.Context, run model.GenerationRun, text string) {
	msg := model.Message{
		ID:        e.newID(),
		ThreadID:  run.ThreadID,
		Role:      model.RoleAssistant,
		Format:    model.FormatText,
		Content:   text,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.Messages().Create(ctx, msg); err != nil {
		log.Errorf(ctx, err, "persist progress message for run %s", run.ID)
		return
	}
	e.bus.Publish(run.ThreadID, EventMessageCreated, map[string]any{
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
		"role":       string(msg.Role),
		"format":     string(msg.Format),
		"content":    msg.Content,
	})
	if e.metrics != nil {
		e.metrics.RecordMessageCreated(ctx, string(msg.Role), "agent")
	}
}

func (e *Engine) updateThreadResult(ctx context.Context, threadID, pipelineID string) {
	thread, err := e.store.Threads().Get(ctx, threadID)
	if err != nil {
		log.Errorf(ctx, err, "load thread %s", threadID)
		return
	}
	thread.ResultPipelineID = pipelineID
	thread.UpdatedAt = e.now().UTC()
	if err := e.store.Threads().Update(ctx, thread); err != nil {
		log.Errorf(ctx, err, "update thread %s", threadID)
	}
}

func coarseStage(machineStage string) model.RunStage {
	switch machineStage {
	case stageInit, stageSearchExisting:
		return model.StageDiscovery
	case stageGenerate:
		return model.StageGenerate
	case stageSelfCheck:
		return model.StageSelfCheck
	case stageHardValidate:
		return model.StageHardValidate
	default:
		return model.StagePublish
	}
}

func reviewMessage(check llm.CheckResult) string {
	var b strings.Builder
	b.WriteString("Review notes:")
	for _, n := range check.Notes {
		b.WriteString("\n- ")
		b.WriteString(n)
	}
	for _, r := range check.Risks {
		b.WriteString("\n- risk: ")
		b.WriteString(r)
	}
	return b.String()
}

func issueMessage(issues []model.ValidationIssue) string {
	var b strings.Builder
	b.WriteString("The pipeline failed validation:")
	for _, issue := range issues {
		if issue.Severity != model.SeverityError {
			continue
		}
		fmt.Fprintf(&b, "\n- %s at %s: %s", issue.Code, issue.Path, issue.Message)
	}
	return b.String()
}

func issueDetails(issues []model.ValidationIssue) []any {
	out := make([]any, len(issues))
	for i, issue := range issues {
		out[i] = issue
	}
	return out
}
