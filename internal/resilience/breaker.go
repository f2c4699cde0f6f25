package resilience

import (
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures a circuit breaker for one collaborator.
type BreakerConfig struct {
	// Name identifies the protected collaborator in logs.
	Name string
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker (default 5).
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open probe (default 30s).
	RecoveryTimeout time.Duration
	// IsFailure decides which errors count toward the threshold. Only
	// connectivity/5xx-class errors should count; application-level
	// validation failures must not trip the breaker. Defaults to
	// IsRetriable.
	IsFailure func(error) bool
}

// Breaker wraps a collaborator call with circuit-breaker protection.
// State is per-instance and in-memory only; a process restart resets the
// breaker to closed, which is accepted behavior.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker
	isFailure func(error) bool
}

// NewBreaker creates a Breaker from cfg, applying defaults for zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = IsRetriable
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // Single probe in half-open.
		Interval:    0, // Never clear counts while closed.
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Errors outside the configured failure category keep the
			// breaker closed.
			return !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[breaker] %s: %s -> %s", name, from, to)
		},
	})

	return &Breaker{cb: cb, isFailure: isFailure}
}

// Call invokes fn through the breaker. While open, it fails fast with
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current breaker state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}
