package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loomhq/loom/pkg/models"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 3, RecoveryTimeout: time.Minute})
	fail := func() error { return Transient(errors.New("boom")) }

	for i := 0; i < 3; i++ {
		if err := b.Call(fail); errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("breaker opened early on attempt %d", i+1)
		}
	}

	called := false
	err := b.Call(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after threshold, got %v", err)
	}
	if called {
		t.Error("open breaker must not invoke the function")
	}
	if b.State() != "open" {
		t.Errorf("expected state open, got %s", b.State())
	}
}

func TestBreakerIgnoresNonFailureErrors(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 2, RecoveryTimeout: time.Minute})
	appErr := &PolicyViolationError{Severity: "high", Explanation: "nope"}

	for i := 0; i < 10; i++ {
		if err := b.Call(func() error { return appErr }); errors.Is(err, ErrCircuitOpen) {
			t.Fatal("application-level errors must not trip the breaker")
		}
	}
	if b.State() != "closed" {
		t.Errorf("expected state closed, got %s", b.State())
	}
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	if err := b.Call(func() error { return Transient(errors.New("down")) }); err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(b.Call(func() error { return nil }), ErrCircuitOpen) {
		t.Fatal("expected open state immediately after trip")
	}

	time.Sleep(30 * time.Millisecond)

	// Half-open probe succeeds, breaker closes again.
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to pass, got %v", err)
	}
	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected closed breaker, got %v", err)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryStopsOnNonRetriable(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond}

	calls := 0
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		return &PolicyViolationError{Severity: "critical", Explanation: "blocked"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retriable errors must not be retried, got %d calls", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	calls := 0
	wantErr := Transient(errors.New("always down"))
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		return wantErr
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, RetryPolicy{MaxAttempts: 5, InitialInterval: 50 * time.Millisecond}, func() error {
		calls++
		return Transient(errors.New("flaky"))
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if calls > 1 {
		t.Errorf("cancelled context should stop retries, got %d calls", calls)
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient wrap", Transient(errors.New("x")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancel", context.Canceled, false},
		{"policy violation", &PolicyViolationError{Severity: "high"}, false},
		{"circuit open", ErrCircuitOpen, false},
		{"status 503", errors.New("request failed with status 503"), true},
		{"plain", errors.New("malformed input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTimeoutBaseByComplexity(t *testing.T) {
	calc := NewTimeoutCalculator()
	tests := []struct {
		complexity models.Complexity
		want       time.Duration
	}{
		{models.ComplexityTrivial, 2 * time.Minute},
		{models.ComplexitySimple, 5 * time.Minute},
		{models.ComplexityMedium, 15 * time.Minute},
		{models.ComplexityComplex, 45 * time.Minute},
		{models.ComplexityVeryComplex, 120 * time.Minute},
	}
	for _, tt := range tests {
		task := &models.Task{ID: "t", Type: models.TaskTypeImplementation, Complexity: tt.complexity}
		if got := calc.Calculate(task); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.complexity, got, tt.want)
		}
	}
}

func TestTimeoutTypeCoefficients(t *testing.T) {
	calc := NewTimeoutCalculator()

	refactor := &models.Task{ID: "r", Type: models.TaskTypeRefactoring, Complexity: models.ComplexityMedium}
	if got := calc.Calculate(refactor); got != 30*time.Minute {
		t.Errorf("refactoring medium: got %s, want 30m", got)
	}

	docs := &models.Task{ID: "d", Type: models.TaskTypeDocumentation, Complexity: models.ComplexityMedium}
	if got := calc.Calculate(docs); got != 12*time.Minute {
		t.Errorf("documentation medium: got %s, want 12m", got)
	}
}

func TestTimeoutHintFloor(t *testing.T) {
	calc := NewTimeoutCalculator()
	task := &models.Task{
		ID: "t", Type: models.TaskTypeImplementation, Complexity: models.ComplexityTrivial,
		Metadata: map[string]string{models.MetaEstimatedDuration: "10m"},
	}
	if got := calc.Calculate(task); got != 12*time.Minute {
		t.Errorf("hinted trivial: got %s, want 12m (1.2x hint)", got)
	}
}

func TestTimeoutGrowsMonotonicallyWithRetries(t *testing.T) {
	calc := NewTimeoutCalculator()
	prev := time.Duration(0)
	for retry := 0; retry < 5; retry++ {
		task := &models.Task{ID: "t", Type: models.TaskTypeImplementation, Complexity: models.ComplexityMedium, RetryCount: retry}
		got := calc.Calculate(task)
		if got < prev {
			t.Fatalf("timeout shrank at retry %d: %s < %s", retry, got, prev)
		}
		prev = got
	}
}

func TestTimeoutCeiling(t *testing.T) {
	calc := NewTimeoutCalculator()
	task := &models.Task{ID: "t", Type: models.TaskTypeOptimization, Complexity: models.ComplexityVeryComplex, RetryCount: 4}
	if got := calc.Calculate(task); got != TimeoutCeiling {
		t.Errorf("got %s, want ceiling %s", got, TimeoutCeiling)
	}

	custom := NewTimeoutCalculatorWithCeiling(10 * time.Minute)
	if got := custom.Calculate(task); got != 10*time.Minute {
		t.Errorf("custom ceiling: got %s, want 10m", got)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("status 502 from upstream")
	wrapped := Transient(inner)
	if !errors.Is(wrapped, inner) {
		t.Error("Transient must wrap the original error")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) must be nil")
	}
}
