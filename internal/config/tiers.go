package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/pkg/models"
)

// TierPolicy holds per-tier execution policy loaded from YAML.
type TierPolicy struct {
	// Tier is the tier name (scout, builder, architect).
	Tier string `yaml:"tier"`
	// Model overrides the default model for this tier.
	Model string `yaml:"model"`
	// MaxTokens overrides the response token cap for this tier.
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is a flat per-task timeout. Zero means the adaptive
	// calculator decides.
	Timeout time.Duration `yaml:"timeout"`
	// ReviewRequired forces the review gate for every task on this tier.
	ReviewRequired bool `yaml:"review_required"`
}

// UnmarshalYAML decodes a tier policy, parsing the timeout as a Go
// duration string.
func (p *TierPolicy) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Tier           string `yaml:"tier"`
		Model          string `yaml:"model"`
		MaxTokens      int    `yaml:"max_tokens"`
		Timeout        string `yaml:"timeout"`
		ReviewRequired bool   `yaml:"review_required"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	p.Tier = r.Tier
	p.Model = r.Model
	p.MaxTokens = r.MaxTokens
	p.ReviewRequired = r.ReviewRequired
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", r.Timeout, err)
		}
		p.Timeout = d
	}
	return nil
}

// TierPolicies holds all tier policies.
type TierPolicies struct {
	Scout     *TierPolicy
	Builder   *TierPolicy
	Architect *TierPolicy
}

// Get returns the policy for the given tier, nil when none is configured.
func (tp *TierPolicies) Get(tier models.Tier) *TierPolicy {
	switch tier {
	case models.TierScout:
		return tp.Scout
	case models.TierBuilder:
		return tp.Builder
	case models.TierArchitect:
		return tp.Architect
	default:
		return nil
	}
}

// LoadTierPolicies loads tier policies from the given directory, looking for
// scout.yaml, builder.yaml, and architect.yaml. Missing files are not an
// error; the tier simply runs with defaults.
func LoadTierPolicies(dir string) (*TierPolicies, error) {
	if dir == "" {
		dir = "configs"
	}

	policies := &TierPolicies{}
	for _, name := range []string{"scout", "builder", "architect"} {
		path := filepath.Join(dir, name+".yaml")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading tier policy %s: %w", path, err)
		}

		policy := &TierPolicy{}
		if err := yaml.Unmarshal(data, policy); err != nil {
			return nil, fmt.Errorf("parsing tier policy %s: %w", path, err)
		}
		if policy.Tier == "" {
			policy.Tier = name
		}
		if policy.Tier != name {
			return nil, fmt.Errorf("tier policy %s declares tier %q", path, policy.Tier)
		}

		switch name {
		case "scout":
			policies.Scout = policy
		case "builder":
			policies.Builder = policy
		case "architect":
			policies.Architect = policy
		}
	}

	return policies, nil
}
