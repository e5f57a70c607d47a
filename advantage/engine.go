// Package advantage implements the AdvantageEngine: average-reward TD
// deltas, PPO n-step generalized advantage estimates, and the running
// differential average reward (spec §4.4).
package advantage

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"gonum.org/v1/gonum/floats"
)

// Engine tracks the running differential average reward R across
// successive calls, as required by spec §3's Agent state
// (avg_reward) and §4.4's "running average reward maintained as
// R(t+1) = R(t) + α_R·δ(t)".
type Engine struct {
	avgReward float64
	alphaR    float64
}

// New returns an Engine seeded with the given initial average reward
// and reward-averaging rate alphaR (spec §3: reward_alpha ∈ (0, 1]).
func New(avgReward, alphaR float64) *Engine {
	return &Engine{avgReward: avgReward, alphaR: alphaR}
}

// AvgReward returns the current running average reward R.
func (e *Engine) AvgReward() float64 { return e.avgReward }

// SetAvgReward overrides the running average reward, used when
// restoring an Agent from a saved descriptor.
func (e *Engine) SetAvgReward(r float64) { e.avgReward = r }

// TDResult is the outcome of a single-step TD pass over a batch of
// consecutive steps (spec §4.4, non-PPO path).
type TDResult struct {
	Delta          []float64 // per-step TD error δ(t)
	AvgRewards     []float64 // R after each step's update
	FinalAvgReward float64
}

// TD computes the average-reward TD error for n consecutive steps.
// rewards has length n; values has length n+1 (v(t) for t=0..n,
// i.e. v(t) and v(t+1) per step); terminal, if non-nil, has length n
// and zeroes the v(t+1)-v(t) bootstrap term at terminal indices (spec
// §9 Open Question: split-on-terminal). R is updated sequentially:
// R must be updated after computing each δ before the next δ is
// computed.
func (e *Engine) TD(rewards, values []float64, terminal []bool) (TDResult, error) {
	delta, avgRewards, _, _, err := e.deltaSeries(rewards, values, terminal)
	if err != nil {
		return TDResult{}, err
	}
	return TDResult{Delta: delta, AvgRewards: avgRewards, FinalAvgReward: e.avgReward}, nil
}

// NStepResult is the PPO advantage artifact of spec §3/§4.4.
type NStepResult struct {
	Dr             []float64 // r(t) - R(t)
	Dv             []float64 // v(t) - v(t+1)
	Delta          []float64 // per-step δ(t)
	AvgRewards     []float64 // R series
	FinalAvgReward float64
	Advantage      []float64 // A(t)
}

// NStep computes the n-step generalized advantage estimate used by
// the PPO path (spec §4.4). Preconditions mirror TD's.
func (e *Engine) NStep(rewards, values []float64, terminal []bool) (NStepResult, error) {
	delta, avgRewards, dr, dv, err := e.deltaSeries(rewards, values, terminal)
	if err != nil {
		return NStepResult{}, err
	}
	n := len(rewards)

	suffixSums := make([]float64, n)
	floats.CumSum(suffixSums, reversed(dr))
	reverseInPlace(suffixSums)

	advantage := make([]float64, n)
	vn := values[n]
	for t := 0; t < n; t++ {
		advantage[t] = suffixSums[t] + values[t] - vn
	}

	return NStepResult{
		Dr:             dr,
		Dv:             dv,
		Delta:          delta,
		AvgRewards:     avgRewards,
		FinalAvgReward: e.avgReward,
		Advantage:      advantage,
	}, nil
}

// deltaSeries implements the shared TD recurrence behind both TD and
// NStep: δ(t) = r(t) − R(t) [+ v(t+1) − v(t) unless terminal(t)],
// then R(t+1) = R(t) + α_R·δ(t), applied sequentially.
func (e *Engine) deltaSeries(rewards, values []float64, terminal []bool) (delta, avgRewards, dr, dv []float64, err error) {
	n := len(rewards)
	if n == 0 {
		return nil, nil, nil, nil, fmt.Errorf("advantage: empty batch: %w", coreerr.BatchEmpty)
	}
	if len(values) != n+1 {
		return nil, nil, nil, nil, fmt.Errorf("advantage: values must have length n+1=%d, got %d", n+1, len(values))
	}
	if terminal != nil && len(terminal) != n {
		return nil, nil, nil, nil, fmt.Errorf("advantage: terminal must have length n=%d, got %d", n, len(terminal))
	}

	delta = make([]float64, n)
	avgRewards = make([]float64, n)
	dr = make([]float64, n)
	dv = make([]float64, n)

	r := e.avgReward
	for t := 0; t < n; t++ {
		isTerminal := terminal != nil && terminal[t]
		vDiff := values[t+1] - values[t]
		dv[t] = values[t] - values[t+1]
		if isTerminal {
			vDiff = 0
		}
		d := rewards[t] - r + vDiff
		dr[t] = rewards[t] - r
		delta[t] = d
		r += e.alphaR * d
		avgRewards[t] = r
	}
	e.avgReward = r
	return delta, avgRewards, dr, dv, nil
}

func reversed(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[len(x)-1-i] = v
	}
	return out
}

func reverseInPlace(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
