package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/internal/review"
	"github.com/loomhq/loom/pkg/models"
)

type fakeExecutor struct {
	fn    func(ctx context.Context, task *models.Task, tier models.Tier) (*models.TaskResult, error)
	calls int
}

func (f *fakeExecutor) Execute(ctx context.Context, task *models.Task, tier models.Tier, shared *models.SharedContext) (*models.TaskResult, error) {
	f.calls++
	return f.fn(ctx, task, tier)
}

func okExecutor(output string) *fakeExecutor {
	return &fakeExecutor{fn: func(ctx context.Context, task *models.Task, tier models.Tier) (*models.TaskResult, error) {
		return &models.TaskResult{
			TaskID:        task.ID,
			Status:        models.ResultCompleted,
			OutputType:    models.OutputCode,
			Output:        output,
			AgentTierUsed: tier,
		}, nil
	}}
}

type fakeModeration struct {
	severity collab.Severity
	err      error
}

func (f *fakeModeration) Check(ctx context.Context, text, checkContext string) (*collab.ModerationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &collab.ModerationResult{Severity: f.severity, Explanation: "screened"}, nil
}

type fakeValidator struct {
	report *collab.ValidationReport
	err    error
}

func (f *fakeValidator) Validate(ctx context.Context, code, language string, task *models.Task) (*collab.ValidationReport, error) {
	return f.report, f.err
}

type fakeSandbox struct {
	result *collab.SandboxResult
	err    error
}

func (f *fakeSandbox) Run(ctx context.Context, code, language string, inputs []string) (*collab.SandboxResult, error) {
	return f.result, f.err
}

type fakeReviewer struct {
	assessment *collab.ReviewAssessment
	err        error
	calls      int
}

func (f *fakeReviewer) Review(ctx context.Context, task *models.Task, result *models.TaskResult, validation *collab.ValidationReport) (*collab.ReviewAssessment, error) {
	f.calls++
	return f.assessment, f.err
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2.0}
}

func newTestPipeline(deps Deps, opts ...Option) *Pipeline {
	base := []Option{
		WithConfig(Config{Retry: fastRetry()}),
		WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 100, RecoveryTimeout: time.Minute})),
	}
	return NewPipeline(deps, append(base, opts...)...)
}

func simpleTask(id string) *models.Task {
	return &models.Task{ID: id, Type: models.TaskTypeImplementation, Complexity: models.ComplexitySimple, Priority: 5}
}

func TestRunHappyPath(t *testing.T) {
	p := newTestPipeline(Deps{
		Executor:   okExecutor("package main"),
		Moderation: &fakeModeration{severity: collab.SeverityNone},
		Validator:  &fakeValidator{report: &collab.ValidationReport{Status: collab.ValidationPassed, ConfidenceScore: 0.92}},
		Gate:       review.NewGate(review.Config{Enabled: true, ConfidenceThreshold: 0.7}, &fakeReviewer{}),
	})

	res := p.Run(context.Background(), simpleTask("t1"), &models.SharedContext{Language: "go"})
	if res.Status != models.ResultCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Output)
	}
	if res.Output != "package main" {
		t.Errorf("output lost: %q", res.Output)
	}
	if res.ConfidenceScore != 0.92 {
		t.Errorf("expected validation confidence, got %f", res.ConfidenceScore)
	}
	if res.AgentTierUsed != models.TierScout {
		t.Errorf("simple task should run on scout, got %s", res.AgentTierUsed)
	}
	if res.ExecutionTimeSeconds < 0 {
		t.Error("execution time must be recorded")
	}
}

func TestRunExecutorFailureAfterRetries(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, task *models.Task, tier models.Tier) (*models.TaskResult, error) {
		return nil, resilience.Transient(errors.New("upstream 503"))
	}}
	p := newTestPipeline(Deps{
		Executor: exec,
		Gate:     review.NewGate(review.Config{Enabled: false}, nil),
	})

	task := simpleTask("t2")
	res := p.Run(context.Background(), task, &models.SharedContext{})
	if res.Status != models.ResultFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.OutputType != models.OutputError {
		t.Errorf("failure payload must be error-typed, got %s", res.OutputType)
	}
	if exec.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", exec.calls)
	}
	if task.RetryCount != 3 {
		t.Errorf("retry count must track attempts, got %d", task.RetryCount)
	}
}

func TestRunCircuitOpenMarksResult(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, task *models.Task, tier models.Tier) (*models.TaskResult, error) {
		return nil, resilience.Transient(errors.New("down"))
	}}
	p := newTestPipeline(Deps{
		Executor: exec,
		Gate:     review.NewGate(review.Config{Enabled: false}, nil),
	},
		WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 1, RecoveryTimeout: time.Minute})),
	)

	res := p.Run(context.Background(), simpleTask("t3"), &models.SharedContext{})
	if res.Status != models.ResultFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Metadata[models.ResultMetaCircuitOpen] != "true" {
		t.Errorf("expected circuit_open metadata, got %v", res.Metadata)
	}
}

func TestRunTimeout(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, task *models.Task, tier models.Tier) (*models.TaskResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := newTestPipeline(Deps{
		Executor: exec,
		Gate:     review.NewGate(review.Config{Enabled: false}, nil),
	},
		WithTimeoutCalculator(resilience.NewTimeoutCalculatorWithCeiling(10*time.Millisecond)),
	)

	res := p.Run(context.Background(), simpleTask("t4"), &models.SharedContext{})
	if res.Status != models.ResultTimeout {
		t.Fatalf("expected timeout, got %s (%s)", res.Status, res.Output)
	}
}

func TestRunContentPolicyBlocksOutput(t *testing.T) {
	p := newTestPipeline(Deps{
		Executor:   okExecutor("rm -rf everything"),
		Moderation: &fakeModeration{severity: collab.SeverityCritical},
		Validator:  &fakeValidator{report: &collab.ValidationReport{Status: collab.ValidationPassed, ConfidenceScore: 0.99}},
		Gate:       review.NewGate(review.Config{Enabled: false}, nil),
	})

	res := p.Run(context.Background(), simpleTask("t5"), &models.SharedContext{})
	if res.Status != models.ResultFailed {
		t.Fatalf("blocked output must fail the task, got %s", res.Status)
	}
	if !strings.Contains(res.Output, "content policy") {
		t.Errorf("output must carry the rejection reason, got %q", res.Output)
	}
	if res.Metadata[models.ResultMetaHAPSeverity] != "critical" {
		t.Errorf("expected severity metadata, got %v", res.Metadata)
	}
}

func TestRunModerationOutageDoesNotFailTask(t *testing.T) {
	p := newTestPipeline(Deps{
		Executor:   okExecutor("package main"),
		Moderation: &fakeModeration{err: errors.New("checker down")},
		Validator:  &fakeValidator{report: &collab.ValidationReport{Status: collab.ValidationPassed, ConfidenceScore: 0.9}},
		Gate:       review.NewGate(review.Config{Enabled: true, ConfidenceThreshold: 0.7}, &fakeReviewer{}),
	})

	res := p.Run(context.Background(), simpleTask("t6"), &models.SharedContext{})
	if res.Status != models.ResultCompleted {
		t.Errorf("moderation outage must not fail the task, got %s", res.Status)
	}
}

func TestRunValidatorOutageDegradesToReview(t *testing.T) {
	reviewer := &fakeReviewer{assessment: &collab.ReviewAssessment{Approved: true, Confidence: 0.75, Comments: "looks right"}}
	p := newTestPipeline(Deps{
		Executor:  okExecutor("package main"),
		Validator: &fakeValidator{err: errors.New("validator down")},
		Gate:      review.NewGate(review.Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer),
	})

	res := p.Run(context.Background(), simpleTask("t7"), &models.SharedContext{})
	if reviewer.calls != 1 {
		t.Fatal("validator outage must route the result through review")
	}
	if res.Status != models.ResultCompleted {
		t.Errorf("approved review must complete the task, got %s", res.Status)
	}
	if res.ConfidenceScore != 0.75 {
		t.Errorf("expected reviewer confidence, got %f", res.ConfidenceScore)
	}
}

func TestRunValidationFailureFailsTask(t *testing.T) {
	p := newTestPipeline(Deps{
		Executor: okExecutor("garbage"),
		Validator: &fakeValidator{report: &collab.ValidationReport{
			Status:          collab.ValidationFailed,
			ConfidenceScore: 0.2,
			Findings:        []collab.Finding{{Severity: "critical", Message: "does not compile"}},
		}},
		Gate: review.NewGate(review.Config{Enabled: false}, nil),
	})

	res := p.Run(context.Background(), simpleTask("t8"), &models.SharedContext{})
	if res.Status != models.ResultFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !strings.Contains(res.Output, "does not compile") {
		t.Errorf("failure detail must carry findings, got %q", res.Output)
	}
}

func TestRunReviewRejection(t *testing.T) {
	reviewer := &fakeReviewer{assessment: &collab.ReviewAssessment{Approved: false, Confidence: 0.9, Comments: "wrong approach"}}
	p := newTestPipeline(Deps{
		Executor:  okExecutor("package main"),
		Validator: &fakeValidator{report: &collab.ValidationReport{Status: collab.ValidationNeedsReview, ConfidenceScore: 0.4}},
		Gate:      review.NewGate(review.Config{Enabled: true, ConfidenceThreshold: 0.7}, reviewer),
	})

	res := p.Run(context.Background(), simpleTask("t9"), &models.SharedContext{})
	if res.Status != models.ResultRejected {
		t.Fatalf("expected rejected, got %s", res.Status)
	}
	if res.Metadata["review_comments"] != "wrong approach" {
		t.Errorf("expected reviewer comments in metadata, got %v", res.Metadata)
	}
}

func TestRunSandboxFailureFailsTask(t *testing.T) {
	task := simpleTask("t10")
	task.Metadata = map[string]string{models.MetaSandboxRun: "true"}

	p := newTestPipeline(Deps{
		Executor:  okExecutor("print('hi')"),
		Validator: &fakeValidator{report: &collab.ValidationReport{Status: collab.ValidationPassed, ConfidenceScore: 0.9}},
		Sandbox:   &fakeSandbox{result: &collab.SandboxResult{Success: false, Stderr: "segfault"}},
		Gate:      review.NewGate(review.Config{Enabled: false}, nil),
	})

	res := p.Run(context.Background(), task, &models.SharedContext{})
	if res.Status != models.ResultFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if !strings.Contains(res.Output, "segfault") {
		t.Errorf("sandbox stderr must surface, got %q", res.Output)
	}
}

func TestRunEmitsHeartbeats(t *testing.T) {
	var beats []Heartbeat
	p := newTestPipeline(Deps{
		Executor: okExecutor("package main"),
		Gate:     review.NewGate(review.Config{Enabled: false}, nil),
	},
		WithHeartbeat(func(hb Heartbeat) { beats = append(beats, hb) }),
	)

	p.Run(context.Background(), simpleTask("t11"), &models.SharedContext{})
	if len(beats) == 0 {
		t.Fatal("expected heartbeats")
	}
	steps := make(map[Step]bool)
	for _, hb := range beats {
		if hb.TaskID != "t11" {
			t.Errorf("heartbeat for wrong task: %s", hb.TaskID)
		}
		steps[hb.Step] = true
	}
	for _, want := range []Step{StepPending, StepTierSelected, StepExecuting, StepCompleted} {
		if !steps[want] {
			t.Errorf("missing heartbeat for step %s", want)
		}
	}
}
