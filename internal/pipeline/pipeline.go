// Package pipeline runs a single task through the execution stages: tier
// selection, agent execution under retry and circuit-breaker protection,
// content checking, validation, optional sandbox execution, and the review
// gate. The pipeline never returns an error for task-level failures; every
// outcome is encoded in the TaskResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/internal/review"
	"github.com/loomhq/loom/pkg/models"
)

// Step is a position in the per-task state machine.
type Step string

const (
	StepPending         Step = "pending"
	StepTierSelected    Step = "tier_selected"
	StepExecuting       Step = "executing"
	StepContentChecked  Step = "content_checked"
	StepValidated       Step = "validated"
	StepSandboxExecuted Step = "sandbox_executed"
	StepReviewPending   Step = "review_pending"
	StepCompleted       Step = "completed"
	StepFailed          Step = "failed"
	StepRejected        Step = "rejected"
)

// Heartbeat is the liveness signal emitted while a task is in flight.
type Heartbeat struct {
	TaskID  string
	Step    Step
	Elapsed time.Duration
}

// Deps are the collaborators a Pipeline requires. Executor and Gate are
// mandatory; the rest degrade gracefully when nil.
type Deps struct {
	Executor   collab.AgentExecutor
	Moderation collab.ModerationChecker
	Validator  collab.Validator
	Sandbox    collab.SandboxRunner
	Gate       *review.Gate
}

// Config tunes pipeline behavior.
type Config struct {
	// Retry governs agent execution attempts.
	Retry resilience.RetryPolicy
	// BlockSeverity is the moderation severity at or above which generated
	// output is rejected (default high).
	BlockSeverity collab.Severity
	// HeartbeatInterval is the cadence of liveness signals during execution
	// (default 15s).
	HeartbeatInterval time.Duration
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithConfig overrides the default pipeline config.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		if cfg.Retry.MaxAttempts > 0 {
			p.cfg.Retry = cfg.Retry
		}
		if cfg.BlockSeverity > collab.SeverityNone {
			p.cfg.BlockSeverity = cfg.BlockSeverity
		}
		if cfg.HeartbeatInterval > 0 {
			p.cfg.HeartbeatInterval = cfg.HeartbeatInterval
		}
	}
}

// WithBreaker sets the circuit breaker guarding agent calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(p *Pipeline) { p.breaker = b }
}

// WithTimeoutCalculator overrides the adaptive timeout calculator.
func WithTimeoutCalculator(c *resilience.TimeoutCalculator) Option {
	return func(p *Pipeline) { p.timeouts = c }
}

// WithTierSelector overrides the tier selector.
func WithTierSelector(s *TierSelector) Option {
	return func(p *Pipeline) { p.tiers = s }
}

// WithTierTimeouts sets flat per-tier timeouts that replace the adaptive
// calculation for tasks running on those tiers.
func WithTierTimeouts(timeouts map[models.Tier]time.Duration) Option {
	return func(p *Pipeline) { p.tierTimeouts = timeouts }
}

// WithHeartbeat registers a callback invoked on every step transition and
// periodically during execution. The callback must not block.
func WithHeartbeat(fn func(Heartbeat)) Option {
	return func(p *Pipeline) { p.onHeartbeat = fn }
}

// Pipeline executes one task at a time. A single Pipeline is safe for
// concurrent Run calls; all mutable state is per-call or internally locked.
type Pipeline struct {
	deps         Deps
	cfg          Config
	breaker      *resilience.Breaker
	timeouts     *resilience.TimeoutCalculator
	tiers        *TierSelector
	tierTimeouts map[models.Tier]time.Duration
	onHeartbeat  func(Heartbeat)
}

// NewPipeline creates a Pipeline with the given collaborators.
func NewPipeline(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps: deps,
		cfg: Config{
			Retry:             resilience.DefaultRetryPolicy(),
			BlockSeverity:     collab.SeverityHigh,
			HeartbeatInterval: 15 * time.Second,
		},
		timeouts: resilience.NewTimeoutCalculator(),
		tiers:    NewTierSelector(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "agent"})
	}
	return p
}

// Run executes task to a terminal result. It never returns an error: agent
// failures, timeouts, content blocks, and review rejections all surface as
// the result's status. Only the result is returned; callers own persistence.
func (p *Pipeline) Run(ctx context.Context, task *models.Task, shared *models.SharedContext) *models.TaskResult {
	start := time.Now()
	result := &models.TaskResult{
		TaskID:     task.ID,
		Status:     models.ResultFailed,
		OutputType: models.OutputError,
	}
	defer func() {
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
	}()

	p.beat(task.ID, StepPending, start)

	tier := p.tiers.Select(task)
	result.AgentTierUsed = tier
	p.beat(task.ID, StepTierSelected, start)

	execResult, execErr := p.execute(ctx, task, tier, shared, start)
	success := execErr == nil
	defer func() {
		p.tiers.Stats().Record(tier, success && result.Succeeded())
	}()
	if execErr != nil {
		p.classifyExecError(ctx, task, execErr, result)
		p.beat(task.ID, Step(result.Status), start)
		return result
	}

	// Carry the agent's payload forward; later stages may still reject it.
	result.Status = models.ResultCompleted
	result.OutputType = execResult.OutputType
	result.Output = execResult.Output
	for k, v := range execResult.Metadata {
		result.SetMeta(k, v)
	}

	if blocked := p.contentCheck(ctx, task, result); blocked {
		p.beat(task.ID, StepFailed, start)
		return result
	}
	p.beat(task.ID, StepContentChecked, start)

	validation := p.validate(ctx, task, result)
	result.ConfidenceScore = validation.ConfidenceScore
	if validation.Status == collab.ValidationFailed {
		result.Status = models.ResultFailed
		result.Output = validationFailureDetail(validation)
		result.OutputType = models.OutputError
		p.beat(task.ID, StepFailed, start)
		return result
	}
	p.beat(task.ID, StepValidated, start)

	if task.SandboxRequested() && p.deps.Sandbox != nil {
		if ok := p.runSandbox(ctx, task, result); !ok {
			p.beat(task.ID, StepFailed, start)
			return result
		}
		p.beat(task.ID, StepSandboxExecuted, start)
	}

	p.beat(task.ID, StepReviewPending, start)
	decision := p.deps.Gate.Review(ctx, task, result, validation)
	if decision.Confidence > 0 {
		result.ConfidenceScore = decision.Confidence
	}
	if !decision.Approved {
		result.Status = models.ResultRejected
		if decision.Comments != "" {
			result.SetMeta("review_comments", decision.Comments)
		}
		p.beat(task.ID, StepRejected, start)
		return result
	}

	result.Status = models.ResultCompleted
	p.beat(task.ID, StepCompleted, start)
	return result
}

// execute runs the agent call under the circuit breaker and retry policy.
// The adaptive timeout is recomputed per attempt so it grows with the
// task's retry count.
func (p *Pipeline) execute(ctx context.Context, task *models.Task, tier models.Tier, shared *models.SharedContext, start time.Time) (*models.TaskResult, error) {
	p.beat(task.ID, StepExecuting, start)
	stop := p.startHeartbeat(task.ID, start)
	defer stop()

	var execResult *models.TaskResult
	err := resilience.WithRetry(ctx, p.cfg.Retry, func() error {
		timeout := p.timeouts.Calculate(task)
		if flat, ok := p.tierTimeouts[tier]; ok && flat > 0 {
			timeout = flat
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		callErr := p.breaker.Call(func() error {
			r, err := p.deps.Executor.Execute(attemptCtx, task, tier, shared)
			if err != nil {
				return err
			}
			execResult = r
			return nil
		})
		if callErr != nil {
			task.RetryCount++
			log.Printf("[pipeline] task %s attempt %d failed on tier %s: %v", task.ID, task.RetryCount, tier, callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if execResult == nil {
		return nil, errors.New("executor returned no result")
	}
	return execResult, nil
}

// classifyExecError maps an execution error onto the result's terminal
// status and diagnostics.
func (p *Pipeline) classifyExecError(ctx context.Context, task *models.Task, err error, result *models.TaskResult) {
	result.OutputType = models.OutputError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		result.Status = models.ResultFailed
		result.Output = "execution unavailable: " + err.Error()
		result.SetMeta(models.ResultMetaCircuitOpen, "true")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		result.Status = models.ResultTimeout
		result.Output = fmt.Sprintf("task %s exceeded its adaptive timeout after %d attempts", task.ID, task.RetryCount)
	default:
		result.Status = models.ResultFailed
		result.Output = err.Error()
	}
}

// contentCheck screens generated output against content policy. A severity
// at or above the block threshold replaces the payload with a structured
// rejection reason. Checker outages are logged and skipped; the review gate
// still stands between unchecked output and acceptance.
func (p *Pipeline) contentCheck(ctx context.Context, task *models.Task, result *models.TaskResult) bool {
	if p.deps.Moderation == nil || result.Output == "" {
		return false
	}
	mres, err := p.deps.Moderation.Check(ctx, result.Output, "generated_output")
	if err != nil {
		log.Printf("[pipeline] content check unavailable for task %s: %v", task.ID, err)
		return false
	}
	result.SetMeta(models.ResultMetaHAPSeverity, mres.Severity.String())
	if mres.Severity < p.cfg.BlockSeverity {
		return false
	}
	log.Printf("[pipeline] task %s output blocked by content policy (severity %s)", task.ID, mres.Severity)
	result.Status = models.ResultFailed
	result.OutputType = models.OutputError
	result.Output = fmt.Sprintf("output rejected by content policy: severity=%s categories=%v %s",
		mres.Severity, mres.Categories, mres.Explanation)
	return true
}

// validate runs the validator, degrading validator outages to a synthetic
// needs-review report rather than failing the task.
func (p *Pipeline) validate(ctx context.Context, task *models.Task, result *models.TaskResult) *collab.ValidationReport {
	if p.deps.Validator == nil {
		return &collab.ValidationReport{Status: collab.ValidationPassed, ConfidenceScore: 1.0}
	}
	language, _ := task.LanguageConstraint()
	report, err := p.deps.Validator.Validate(ctx, result.Output, language, task)
	if err != nil {
		log.Printf("[pipeline] validator unavailable for task %s, flagging for review: %v", task.ID, err)
		return &collab.ValidationReport{
			Status:          collab.ValidationNeedsReview,
			ConfidenceScore: 0.5,
			Findings: []collab.Finding{
				{Severity: "warning", Message: "validator unavailable: " + err.Error()},
			},
		}
	}
	return report
}

// runSandbox executes the generated code in isolation. Returns false when
// the run fails, converting the result to a failure with the sandbox detail.
func (p *Pipeline) runSandbox(ctx context.Context, task *models.Task, result *models.TaskResult) bool {
	language, _ := task.LanguageConstraint()
	sres, err := p.deps.Sandbox.Run(ctx, result.Output, language, nil)
	if err != nil {
		result.Status = models.ResultFailed
		result.OutputType = models.OutputError
		result.Output = "sandbox execution error: " + err.Error()
		return false
	}
	if !sres.Success {
		result.Status = models.ResultFailed
		result.OutputType = models.OutputError
		result.Output = "sandbox execution failed: " + sres.Stderr
		return false
	}
	return true
}

// beat emits a single heartbeat if a callback is registered.
func (p *Pipeline) beat(taskID string, step Step, start time.Time) {
	if p.onHeartbeat == nil {
		return
	}
	p.onHeartbeat(Heartbeat{TaskID: taskID, Step: step, Elapsed: time.Since(start)})
}

// startHeartbeat emits periodic liveness signals until the returned stop
// function is called.
func (p *Pipeline) startHeartbeat(taskID string, start time.Time) (stop func()) {
	if p.onHeartbeat == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.beat(taskID, StepExecuting, start)
			}
		}
	}()
	return func() { close(done) }
}

func validationFailureDetail(report *collab.ValidationReport) string {
	if len(report.Findings) == 0 {
		return "validation failed"
	}
	detail := "validation failed:"
	for _, f := range report.Findings {
		detail += fmt.Sprintf(" [%s] %s", f.Severity, f.Message)
		if f.Location != "" {
			detail += " (" + f.Location + ")"
		}
		detail += ";"
	}
	return detail
}
