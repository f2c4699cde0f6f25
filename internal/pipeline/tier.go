package pipeline

import (
	"sync"

	"github.com/loomhq/loom/pkg/models"
)

// minSamples is how many recorded attempts a tier needs before its success
// rate participates in selection.
const minSamples = 3

// escalateBelow is the success rate under which selection escalates to the
// next tier up.
const escalateBelow = 0.5

// TierStats tracks per-tier execution outcomes within a run. Shared across
// concurrent pipelines, so access is locked.
type TierStats struct {
	mu        sync.Mutex
	attempts  map[models.Tier]int
	successes map[models.Tier]int
}

// NewTierStats creates empty stats.
func NewTierStats() *TierStats {
	return &TierStats{
		attempts:  make(map[models.Tier]int),
		successes: make(map[models.Tier]int),
	}
}

// Record logs one execution outcome for tier.
func (s *TierStats) Record(tier models.Tier, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[tier]++
	if success {
		s.successes[tier]++
	}
}

// SuccessRate returns the tier's success rate and whether enough samples
// exist for it to be meaningful.
func (s *TierStats) SuccessRate(tier models.Tier) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.attempts[tier]
	if n < minSamples {
		return 0, false
	}
	return float64(s.successes[tier]) / float64(n), true
}

// tierLadder orders tiers cheapest to most capable for escalation.
var tierLadder = []models.Tier{models.TierScout, models.TierBuilder, models.TierArchitect}

// TierSelector chooses the execution tier for a task:
//  1. an explicit metadata override wins,
//  2. otherwise the static complexity fallback, escalated one rung when the
//     run's history shows that tier underperforming,
//  3. otherwise the static complexity fallback alone.
type TierSelector struct {
	stats *TierStats
}

// NewTierSelector creates a selector sharing the given stats.
func NewTierSelector(stats *TierStats) *TierSelector {
	if stats == nil {
		stats = NewTierStats()
	}
	return &TierSelector{stats: stats}
}

// Select returns the tier to execute task on.
func (s *TierSelector) Select(task *models.Task) models.Tier {
	if override, ok := task.TierOverride(); ok {
		return override
	}

	tier := models.TierForComplexity(task.Complexity)
	if rate, ok := s.stats.SuccessRate(tier); ok && rate < escalateBelow {
		if next, ok := tierAbove(tier); ok {
			return next
		}
	}
	return tier
}

// Stats returns the selector's shared stats.
func (s *TierSelector) Stats() *TierStats {
	return s.stats
}

func tierAbove(tier models.Tier) (models.Tier, bool) {
	for i, t := range tierLadder {
		if t == tier && i+1 < len(tierLadder) {
			return tierLadder[i+1], true
		}
	}
	return tier, false
}
