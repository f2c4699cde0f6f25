package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomhq/loom/internal/checkpoint"
	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/graph"
	"github.com/loomhq/loom/internal/pipeline"
	"github.com/loomhq/loom/internal/planner"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/internal/signal"
	"github.com/loomhq/loom/internal/stream"
	"github.com/loomhq/loom/pkg/models"
)

// Status is the lifecycle state of a workflow run.
type Status string

const (
	StatusStarted            Status = "started"
	StatusDecomposed         Status = "decomposed"
	StatusExecuting          Status = "executing"
	StatusAssembling         Status = "assembling"
	StatusPublishing         Status = "publishing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal returns true for statuses that end a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// WorkflowRequest describes one code-generation run.
type WorkflowRequest struct {
	// WorkflowID identifies the run. Required, unique per run.
	WorkflowID string
	// Description is the natural-language request fed to decomposition.
	Description string
	// Requirements are explicit acceptance criteria.
	Requirements []string
	// Constraints are restrictions on the generated code.
	Constraints []string
	// Publish, when set, pushes the assembled artifact to this repository.
	Publish *collab.RepoConfig
}

// WorkflowReport is the terminal summary of a run. Every task that entered a
// batch has exactly one result here, including failures and skips.
type WorkflowReport struct {
	WorkflowID       string
	Status           Status
	Results          []*models.TaskResult
	CompletedTaskIDs []string
	FailedTaskIDs    []string
	SkippedTaskIDs   []string
	ArtifactID       string
	FileManifest     []string
	PublishedURL     string
	Warnings         []string
}

// RequiredConfig contains the minimal required configuration for an Engine.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Decomposer turns requests into task graphs.
	Decomposer collab.Decomposer
	// Pipeline executes individual tasks.
	Pipeline *pipeline.Pipeline
	// Checkpoints persists progress between batches.
	Checkpoints checkpoint.Store
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

type engineOptions struct {
	moderation    collab.ModerationChecker
	assembler     collab.ArtifactAssembler
	publisher     collab.Publisher
	streamer      *stream.Streamer
	signals       *signal.Manager
	emitter       *EventEmitter
	maxBatchSize  int
	proceedOnFail bool
	checkpointTTL time.Duration
	blockSeverity collab.Severity
	debug         *DebugLogger
}

// WithModeration sets the content checker for request pre-screening.
func WithModeration(m collab.ModerationChecker) Option {
	return func(o *engineOptions) { o.moderation = m }
}

// WithAssembler sets the artifact assembler.
func WithAssembler(a collab.ArtifactAssembler) Option {
	return func(o *engineOptions) { o.assembler = a }
}

// WithPublisher sets the VCS publisher.
func WithPublisher(p collab.Publisher) Option {
	return func(o *engineOptions) { o.publisher = p }
}

// WithStreamer sets the progress streamer.
func WithStreamer(s *stream.Streamer) Option {
	return func(o *engineOptions) { o.streamer = s }
}

// WithSignalManager sets the out-of-band cancel/pause signal source.
func WithSignalManager(m *signal.Manager) Option {
	return func(o *engineOptions) { o.signals = m }
}

// WithEmitter sets the event emitter for progress consumers.
func WithEmitter(e *EventEmitter) Option {
	return func(o *engineOptions) { o.emitter = e }
}

// WithMaxBatchSize caps concurrent tasks per batch (default 5).
func WithMaxBatchSize(n int) Option {
	return func(o *engineOptions) { o.maxBatchSize = n }
}

// WithProceedOnFailedDependency runs dependents of failed tasks instead of
// skipping them.
func WithProceedOnFailedDependency(b bool) Option {
	return func(o *engineOptions) { o.proceedOnFail = b }
}

// WithCheckpointTTL overrides how long checkpoints stay resumable.
func WithCheckpointTTL(ttl time.Duration) Option {
	return func(o *engineOptions) { o.checkpointTTL = ttl }
}

// WithBlockSeverity sets the moderation severity that aborts a request.
func WithBlockSeverity(s collab.Severity) Option {
	return func(o *engineOptions) { o.blockSeverity = s }
}

// WithDebugLogger sets the file-backed trace logger for per-task detail that
// would be too noisy on the console.
func WithDebugLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.debug = l }
}

// Engine runs workflows to a terminal status.
type Engine struct {
	cfg     RequiredConfig
	opts    engineOptions
	planner *planner.Planner
}

// New creates an Engine. The required collaborators must all be set.
func New(cfg RequiredConfig, opts ...Option) (*Engine, error) {
	if cfg.Decomposer == nil {
		return nil, errors.New("engine: decomposer is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("engine: pipeline is required")
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("engine: checkpoint store is required")
	}

	o := engineOptions{
		maxBatchSize:  5,
		checkpointTTL: checkpoint.DefaultTTL,
		blockSeverity: collab.SeverityHigh,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBatchSize < 1 {
		o.maxBatchSize = 1
	}
	if o.debug == nil {
		o.debug = NopLogger()
	}

	return &Engine{
		cfg:     cfg,
		opts:    o,
		planner: planner.New(o.maxBatchSize),
	}, nil
}

// Execute runs a workflow from a fresh request. Task failures never surface
// as an error; they are encoded in the report. An error is returned only
// when the run cannot proceed at all: rejected request, decomposition
// failure, unbuildable graph, or cancellation.
func (e *Engine) Execute(ctx context.Context, req WorkflowRequest) (*WorkflowReport, error) {
	if req.WorkflowID == "" {
		return nil, errors.New("engine: workflow ID is required")
	}

	e.emit(Event{Type: EventWorkflowStarted, WorkflowID: req.WorkflowID, Message: req.Description})
	log.Printf("[engine] workflow %s started", req.WorkflowID)

	if e.opts.moderation != nil {
		mres, err := e.opts.moderation.Check(ctx, req.Description, "workflow_request")
		if err != nil {
			// The request gate fails closed: an unverifiable request
			// never reaches decomposition.
			return nil, fmt.Errorf("engine: content pre-check unavailable: %w", err)
		}
		if mres.Severity >= e.opts.blockSeverity {
			return nil, &resilience.PolicyViolationError{
				Severity:    mres.Severity.String(),
				Explanation: mres.Explanation,
			}
		}
	}

	dec, err := e.cfg.Decomposer.Decompose(ctx, req.Description, req.Requirements, req.Constraints)
	if err != nil {
		return nil, fmt.Errorf("engine: decomposing request: %w", err)
	}
	if len(dec.Tasks) == 0 {
		return nil, errors.New("engine: decomposition produced no tasks")
	}
	shared := dec.SharedContext
	if shared == nil {
		shared = &models.SharedContext{}
	}

	e.emit(Event{Type: EventWorkflowDecomposed, WorkflowID: req.WorkflowID,
		Message: fmt.Sprintf("%d tasks", len(dec.Tasks))})
	log.Printf("[engine] workflow %s decomposed into %d tasks", req.WorkflowID, len(dec.Tasks))

	return e.run(ctx, req, dec.Tasks, dec.Dependencies, shared, nil)
}

// Resume continues a previously checkpointed run. Tasks with a recorded
// completed result are not re-executed; unfinished and failed tasks run
// again.
func (e *Engine) Resume(ctx context.Context, workflowID string) (*WorkflowReport, error) {
	cp, err := e.cfg.Checkpoints.Load(workflowID)
	if err != nil {
		return nil, fmt.Errorf("engine: loading checkpoint for %s: %w", workflowID, err)
	}
	if len(cp.Tasks) == 0 {
		return nil, fmt.Errorf("engine: checkpoint for %s carries no tasks", workflowID)
	}

	prior := make(map[string]*models.TaskResult)
	for _, r := range cp.Results {
		if r.Succeeded() {
			prior[r.TaskID] = r
		}
	}
	shared := cp.SharedContext
	if shared == nil {
		shared = &models.SharedContext{}
	}

	log.Printf("[engine] workflow %s resuming, %d of %d tasks already complete",
		workflowID, len(prior), len(cp.Tasks))
	e.emit(Event{Type: EventWorkflowStarted, WorkflowID: workflowID, Message: "resumed"})

	req := WorkflowRequest{WorkflowID: workflowID}
	return e.run(ctx, req, cp.Tasks, cp.Dependencies, shared, prior)
}

// run executes the planned batches to a terminal report.
func (e *Engine) run(ctx context.Context, req WorkflowRequest, tasks []*models.Task, deps map[string][]string, shared *models.SharedContext, prior map[string]*models.TaskResult) (*WorkflowReport, error) {
	g := graph.New()
	if err := g.Build(tasks, deps); err != nil {
		return nil, fmt.Errorf("engine: building dependency graph: %w", err)
	}
	var warnings []string
	if _, err := g.TopologicalOrder(); errors.Is(err, graph.ErrCycleDetected) {
		log.Printf("[engine] workflow %s: dependency cycle detected, falling back to declaration order", req.WorkflowID)
		warnings = append(warnings, "dependency cycle detected; tasks ran in declaration order")
	}

	batches := e.planner.Plan(g)

	results := make(map[string]*models.TaskResult, len(tasks))
	for id, r := range prior {
		results[id] = r
	}

	log.Printf("[engine] workflow %s executing %d batches", req.WorkflowID, len(batches))

	for i, batch := range batches {
		if err := e.cancelled(ctx); err != nil {
			e.saveCheckpoint(req.WorkflowID, tasks, deps, results, shared, StatusCancelled)
			report := e.buildReport(req.WorkflowID, StatusCancelled, tasks, results, warnings)
			e.emit(Event{Type: EventWorkflowDone, WorkflowID: req.WorkflowID, Message: string(StatusCancelled), Error: err})
			return report, err
		}

		e.emit(Event{Type: EventBatchStarted, WorkflowID: req.WorkflowID, BatchIndex: i,
			Message: fmt.Sprintf("%d tasks", batch.Size())})
		e.opts.debug.Log("workflow %s batch %d/%d: %v", req.WorkflowID, i+1, len(batches), taskIDs(batch.Tasks))

		runnable := e.partition(g, batch.Tasks, results, req.WorkflowID)
		e.runBatch(ctx, req.WorkflowID, runnable, shared, results)

		batchResults := make([]*models.TaskResult, 0, batch.Size())
		for _, t := range batch.Tasks {
			if r := results[t.ID]; r != nil {
				batchResults = append(batchResults, r)
			}
		}
		e.saveCheckpoint(req.WorkflowID, tasks, deps, results, shared, StatusExecuting)
		e.publishProgress(ctx, req.WorkflowID, i, len(batches), batchResults, StatusExecuting)
	}

	return e.finish(ctx, req, tasks, deps, results, shared, warnings)
}

// partition splits a batch into runnable tasks, recording skip results for
// tasks whose dependencies did not complete (unless configured to proceed).
// Already-recorded tasks (resume) are dropped.
func (e *Engine) partition(g *graph.DependencyGraph, tasks []*models.Task, results map[string]*models.TaskResult, workflowID string) []*models.Task {
	var runnable []*models.Task
	for _, t := range tasks {
		if _, done := results[t.ID]; done {
			continue
		}
		if !e.opts.proceedOnFail {
			if dep := firstUnmetDependency(g, t, results); dep != "" {
				r := &models.TaskResult{
					TaskID:     t.ID,
					Status:     models.ResultSkipped,
					OutputType: models.OutputError,
				}
				r.SetMeta(models.ResultMetaSkipReason, "dependency "+dep+" did not complete")
				results[t.ID] = r
				e.emit(Event{Type: EventTaskSkipped, WorkflowID: workflowID, TaskID: t.ID,
					Message: "dependency " + dep + " did not complete"})
				log.Printf("[engine] task %s skipped: dependency %s did not complete", t.ID, dep)
				continue
			}
		}
		runnable = append(runnable, t)
	}
	return runnable
}

// runBatch executes the batch's tasks concurrently, bounded by the batch
// size cap. Task failures never abort the batch; a panicking task is
// converted into a failed result.
func (e *Engine) runBatch(ctx context.Context, workflowID string, tasks []*models.Task, shared *models.SharedContext, results map[string]*models.TaskResult) {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.opts.maxBatchSize)

	var mu sync.Mutex
	for _, task := range tasks {
		task := task
		grp.Go(func() error {
			e.emit(Event{Type: EventTaskStarted, WorkflowID: workflowID, TaskID: task.ID})
			res := e.runTask(gctx, task, shared)
			e.opts.debug.Log("task %s: status=%s tier=%s retries=%d output_type=%s",
				task.ID, res.Status, res.AgentTierUsed, task.RetryCount, res.OutputType)

			mu.Lock()
			results[task.ID] = res
			mu.Unlock()

			if res.Succeeded() {
				shared.RecordCompleted(task.ID)
				e.emit(Event{Type: EventTaskCompleted, WorkflowID: workflowID, TaskID: task.ID})
			} else {
				e.emit(Event{Type: EventTaskFailed, WorkflowID: workflowID, TaskID: task.ID,
					Message: string(res.Status)})
			}
			return nil
		})
	}
	grp.Wait()
}

// runTask executes one task through the pipeline with panic containment.
// The pipeline receives a context snapshot; only the engine mutates the
// live shared context.
func (e *Engine) runTask(ctx context.Context, task *models.Task, shared *models.SharedContext) (res *models.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] panic while executing task %s: %v", task.ID, r)
			res = &models.TaskResult{
				TaskID:     task.ID,
				Status:     models.ResultFailed,
				OutputType: models.OutputError,
				Output:     fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return e.cfg.Pipeline.Run(ctx, task, shared.Snapshot())
}

// finish computes the terminal status, assembles and publishes when
// warranted, persists the final checkpoint, and builds the report.
func (e *Engine) finish(ctx context.Context, req WorkflowRequest, tasks []*models.Task, deps map[string][]string, results map[string]*models.TaskResult, shared *models.SharedContext, warnings []string) (*WorkflowReport, error) {
	var completed, notCompleted int
	for _, t := range tasks {
		r := results[t.ID]
		if r != nil && r.Succeeded() {
			completed++
		} else {
			notCompleted++
		}
	}

	var status Status
	switch {
	case notCompleted == 0:
		status = StatusCompleted
	case completed > 0:
		status = StatusPartiallyCompleted
	default:
		status = StatusFailed
	}

	report := e.buildReport(req.WorkflowID, status, tasks, results, warnings)

	if e.opts.assembler != nil && completed > 0 {
		log.Printf("[engine] workflow %s assembling artifact from %d results", req.WorkflowID, completed)
		pairs := make([]collab.TaskResultPair, 0, completed)
		for _, t := range tasks {
			if r := results[t.ID]; r != nil && r.Succeeded() {
				pairs = append(pairs, collab.TaskResultPair{Task: t, Result: r})
			}
		}
		artifact, err := e.opts.assembler.Assemble(ctx, pairs, shared.Snapshot())
		if err != nil {
			log.Printf("[engine] workflow %s: artifact assembly failed: %v", req.WorkflowID, err)
			report.Warnings = append(report.Warnings, "artifact assembly failed: "+err.Error())
			if status == StatusCompleted {
				status = StatusPartiallyCompleted
				report.Status = status
			}
		} else {
			report.ArtifactID = artifact.ID
			report.FileManifest = artifact.FileManifest
		}
	}

	if e.opts.publisher != nil && req.Publish != nil && status == StatusCompleted && report.ArtifactID != "" {
		url, err := e.opts.publisher.Push(ctx, report.ArtifactID, *req.Publish)
		if err != nil {
			log.Printf("[engine] workflow %s: publish failed: %v", req.WorkflowID, err)
			report.Warnings = append(report.Warnings, "publish failed: "+err.Error())
			status = StatusPartiallyCompleted
			report.Status = status
		} else {
			report.PublishedURL = url
		}
	}

	e.saveCheckpoint(req.WorkflowID, tasks, deps, results, shared, status)
	e.publishProgress(ctx, req.WorkflowID, 0, 0, report.Results, status)

	if status == StatusCompleted {
		if err := e.cfg.Checkpoints.Delete(req.WorkflowID); err != nil {
			log.Printf("[engine] workflow %s: deleting checkpoint: %v", req.WorkflowID, err)
		}
	}

	e.emit(Event{Type: EventWorkflowDone, WorkflowID: req.WorkflowID, Message: string(status)})
	log.Printf("[engine] workflow %s finished with status %s (%d completed, %d not)",
		req.WorkflowID, status, completed, notCompleted)

	return report, nil
}

// cancelled reports whether the run should stop, from either the context or
// an out-of-band signal file.
func (e *Engine) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.opts.signals != nil && e.opts.signals.ShouldStop() {
		return context.Canceled
	}
	return nil
}

// saveCheckpoint persists progress between batches. Checkpoint failures are
// logged, never fatal: losing resumability must not kill a running workflow.
func (e *Engine) saveCheckpoint(workflowID string, tasks []*models.Task, deps map[string][]string, results map[string]*models.TaskResult, shared *models.SharedContext, status Status) {
	cp := &checkpoint.Checkpoint{
		WorkflowID:    workflowID,
		Timestamp:     time.Now().UTC(),
		Tasks:         tasks,
		Dependencies:  deps,
		Results:       orderedResults(tasks, results),
		SharedContext: shared.Snapshot(),
		Status:        string(status),
	}
	if err := e.cfg.Checkpoints.Save(cp, e.opts.checkpointTTL); err != nil {
		log.Printf("[engine] workflow %s: saving checkpoint: %v", workflowID, err)
	}
}

// publishProgress streams a progress entry. The streamer already swallows
// backend failures.
func (e *Engine) publishProgress(ctx context.Context, workflowID string, batchIndex, totalBatches int, taskResults []*models.TaskResult, status Status) {
	if e.opts.streamer == nil {
		return
	}
	e.opts.streamer.Publish(ctx, stream.ProgressEntry{
		WorkflowID:   workflowID,
		BatchIndex:   batchIndex,
		TotalBatches: totalBatches,
		Results:      taskResults,
		Status:       string(status),
		Timestamp:    time.Now().UTC(),
	})
}

func (e *Engine) buildReport(workflowID string, status Status, tasks []*models.Task, results map[string]*models.TaskResult, warnings []string) *WorkflowReport {
	report := &WorkflowReport{
		WorkflowID: workflowID,
		Status:     status,
		Results:    orderedResults(tasks, results),
		Warnings:   warnings,
	}
	for _, r := range report.Results {
		switch r.Status {
		case models.ResultCompleted:
			report.CompletedTaskIDs = append(report.CompletedTaskIDs, r.TaskID)
		case models.ResultSkipped:
			report.SkippedTaskIDs = append(report.SkippedTaskIDs, r.TaskID)
		default:
			report.FailedTaskIDs = append(report.FailedTaskIDs, r.TaskID)
		}
	}
	return report
}

func (e *Engine) emit(event Event) {
	if e.opts.emitter == nil {
		return
	}
	event.Timestamp = time.Now()
	e.opts.emitter.Emit(event)
}

// orderedResults flattens the result map in task declaration order so
// checkpoints and reports are deterministic.
func orderedResults(tasks []*models.Task, results map[string]*models.TaskResult) []*models.TaskResult {
	out := make([]*models.TaskResult, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, t := range tasks {
		if r := results[t.ID]; r != nil {
			out = append(out, r)
			seen[t.ID] = true
		}
	}
	// Results for tasks not in the declared set should not exist, but a
	// deterministic report beats silently dropping them.
	var extra []string
	for id := range results {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, results[id])
	}
	return out
}

// firstUnmetDependency returns the first dependency of t that finished
// without completing, or "" when all recorded dependencies completed.
func firstUnmetDependency(g *graph.DependencyGraph, t *models.Task, results map[string]*models.TaskResult) string {
	for _, dep := range g.Dependencies(t.ID) {
		if r, ok := results[dep]; ok && !r.Succeeded() {
			return dep
		}
	}
	return ""
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
