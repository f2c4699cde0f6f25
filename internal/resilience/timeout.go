package resilience

import (
	"time"

	"github.com/loomhq/loom/pkg/models"
)

// TimeoutCeiling is the absolute cap on any computed task timeout.
const TimeoutCeiling = 180 * time.Minute

// baseTimeouts maps complexity to a base execution allowance.
var baseTimeouts = map[models.Complexity]time.Duration{
	models.ComplexityTrivial:     2 * time.Minute,
	models.ComplexitySimple:      5 * time.Minute,
	models.ComplexityMedium:      15 * time.Minute,
	models.ComplexityComplex:     45 * time.Minute,
	models.ComplexityVeryComplex: 120 * time.Minute,
}

// typeCoefficients scale the base by the kind of work. Refactoring and
// optimization routinely need more wall-clock than greenfield generation;
// documentation needs less.
var typeCoefficients = map[models.TaskType]float64{
	models.TaskTypeRefactoring:   2.0,
	models.TaskTypeOptimization:  2.5,
	models.TaskTypeDocumentation: 0.8,
}

// TimeoutCalculator maps task complexity, type, hints, and retry history to
// a bounded execution timeout. One-size-fits-all timeouts starve complex
// tasks and waste wall-clock on trivial ones.
type TimeoutCalculator struct {
	ceiling time.Duration
}

// NewTimeoutCalculator creates a calculator with the default ceiling.
func NewTimeoutCalculator() *TimeoutCalculator {
	return &TimeoutCalculator{ceiling: TimeoutCeiling}
}

// NewTimeoutCalculatorWithCeiling creates a calculator with a custom cap.
func NewTimeoutCalculatorWithCeiling(ceiling time.Duration) *TimeoutCalculator {
	if ceiling <= 0 {
		ceiling = TimeoutCeiling
	}
	return &TimeoutCalculator{ceiling: ceiling}
}

// Calculate returns the execution timeout for task:
//
//	base(complexity) x typeCoefficient, floored at 1.2x any estimate hint,
//	scaled by (1 + 0.5 x retryCount), capped at the ceiling.
//
// Retries get more time, not less; a task that timed out once is usually a
// task that needed longer.
func (c *TimeoutCalculator) Calculate(task *models.Task) time.Duration {
	base, ok := baseTimeouts[task.Complexity]
	if !ok {
		base = baseTimeouts[models.ComplexityMedium]
	}

	timeout := base
	if coeff, ok := typeCoefficients[task.Type]; ok {
		timeout = time.Duration(float64(timeout) * coeff)
	}

	if hint, ok := task.EstimatedDuration(); ok {
		floor := time.Duration(float64(hint) * 1.2)
		if timeout < floor {
			timeout = floor
		}
	}

	if task.RetryCount > 0 {
		timeout = time.Duration(float64(timeout) * (1 + 0.5*float64(task.RetryCount)))
	}

	if timeout > c.ceiling {
		timeout = c.ceiling
	}
	return timeout
}
