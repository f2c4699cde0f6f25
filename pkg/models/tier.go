package models

// Tier represents a cost/capability level for executing a task.
type Tier string

const (
	// TierScout is the cheapest tier for lightweight tasks.
	TierScout Tier = "scout"
	// TierBuilder is the standard tier for implementation work.
	TierBuilder Tier = "builder"
	// TierArchitect is the most capable tier for complex work.
	TierArchitect Tier = "architect"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierScout, TierBuilder, TierArchitect:
		return true
	default:
		return false
	}
}

// TierForComplexity is the static complexity-to-tier fallback used when a
// task carries no override and no usable execution history exists.
func TierForComplexity(c Complexity) Tier {
	switch c {
	case ComplexityTrivial, ComplexitySimple:
		return TierScout
	case ComplexityMedium:
		return TierBuilder
	case ComplexityComplex, ComplexityVeryComplex:
		return TierArchitect
	default:
		return TierBuilder
	}
}
