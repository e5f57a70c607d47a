// Package agent implements the Agent: the polymorphic (TDSingleNN,
// PPO) owner of a Network and a Trajectory buffer that exposes the
// act/observe/train surface of spec §4.5.
package agent

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/signal"
)

// Variant selects the Agent's batch training kernel (spec §4.5: "the
// variant choice affects only the batch training kernel").
type Variant int

const (
	TDSingleNN Variant = iota
	PPO
)

func (v Variant) String() string {
	if v == PPO {
		return "ppo"
	}
	return "tdSingleNN"
}

const criticKey = "critic"

// Config is the immutable hyperparameter record of an Agent (spec
// §3's Agent state, minus the Network/trajectory/rng runtime fields
// which the Agent constructor supplies separately).
type Config struct {
	StateSpec  signal.SpecMap
	ActionSpec signal.SpecMap

	RewardAlpha float64
	Eta         float64
	Alphas      map[string]float64
	Lambda      float64

	NumSteps   int
	NumEpochs  int
	BatchSize  int
	PPOEpsilon float64

	ModelPath string
	Processor Processor
	Seed      int64

	// TrainOnline, TDSingleNN only: Observe trains on every step
	// instead of waiting for a BatchTrainer-driven window.
	TrainOnline bool
}

// Validate checks every invariant of spec §3: alphas coverage, the
// reserved critic key, and the numeric ranges. All violations are
// CONFIG_ERROR, fatal at Agent construction.
func (c Config) Validate() error {
	if _, reserved := c.ActionSpec[criticKey]; reserved {
		return fmt.Errorf("agent: action spec must not contain reserved key %q: %w", criticKey, coreerr.ConfigError)
	}
	for name, s := range c.ActionSpec {
		if err := signal.ActionSpec(s); err != nil {
			return fmt.Errorf("agent: action %q: %w", name, err)
		}
	}
	for name := range c.ActionSpec {
		if _, ok := c.Alphas[name]; !ok {
			return fmt.Errorf("agent: alphas missing entry for action head %q: %w", name, coreerr.ConfigError)
		}
	}
	if _, ok := c.Alphas[criticKey]; !ok {
		return fmt.Errorf("agent: alphas missing entry for %q: %w", criticKey, coreerr.ConfigError)
	}
	for name, a := range c.Alphas {
		if a <= 0 {
			return fmt.Errorf("agent: alphas[%q] = %v must be > 0: %w", name, a, coreerr.ConfigError)
		}
	}
	if c.RewardAlpha <= 0 || c.RewardAlpha > 1 {
		return fmt.Errorf("agent: reward_alpha %v must be in (0,1]: %w", c.RewardAlpha, coreerr.ConfigError)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("agent: lambda %v must be in [0,1]: %w", c.Lambda, coreerr.ConfigError)
	}
	if c.Eta <= 0 {
		return fmt.Errorf("agent: eta %v must be > 0: %w", c.Eta, coreerr.ConfigError)
	}
	if c.PPOEpsilon <= 0 || c.PPOEpsilon >= 1 {
		return fmt.Errorf("agent: ppo_epsilon %v must be in (0,1): %w", c.PPOEpsilon, coreerr.ConfigError)
	}
	if c.NumSteps <= 0 {
		return fmt.Errorf("agent: num_steps %d must be > 0: %w", c.NumSteps, coreerr.ConfigError)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("agent: batch_size %d must be > 0: %w", c.BatchSize, coreerr.ConfigError)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("agent: num_epochs %d must be > 0: %w", c.NumEpochs, coreerr.ConfigError)
	}
	return nil
}

// Processor is the optional input preprocessor of the Agent state
// (spec §3): it maps raw state signals onto the network's own input
// spec, e.g. normalization or feature concatenation.
type Processor interface {
	Apply(signal.Map) (signal.Map, error)
	Spec() signal.SpecMap
	Descriptor() interface{}
}

// IdentityProcessor is the absent-processor case: it passes signals
// through unchanged.
type IdentityProcessor struct {
	SpecValue signal.SpecMap
}

func (p IdentityProcessor) Apply(m signal.Map) (signal.Map, error) { return m, nil }
func (p IdentityProcessor) Spec() signal.SpecMap                   { return p.SpecValue }
func (p IdentityProcessor) Descriptor() interface{}                { return nil }
