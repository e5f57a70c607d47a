// Package trajectory implements the ExecutionResult record, the
// Trajectory buffer of an Agent's pending experience, and the
// transform from a Trajectory into its columnar form (spec §3).
package trajectory

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// ExecutionResult is the tuple produced by one environment step.
type ExecutionResult struct {
	State0   tensor.Map
	Actions  map[string]int
	Reward   float64
	State1   tensor.Map
	Terminal bool
}

// Trajectory is an ordered, append-only sequence of ExecutionResult.
type Trajectory struct {
	steps []ExecutionResult
}

// New returns an empty Trajectory.
func New() *Trajectory {
	return &Trajectory{}
}

// Append adds result as the newest step.
func (t *Trajectory) Append(result ExecutionResult) {
	t.steps = append(t.steps, result)
}

// Len returns the number of steps currently buffered.
func (t *Trajectory) Len() int { return len(t.steps) }

// Clear empties the buffer.
func (t *Trajectory) Clear() { t.steps = nil }

// Snapshot returns a new Trajectory holding a copy of the currently
// buffered steps, independent of further mutation of the receiver.
// Used when background training (spec §5 surface 2) takes ownership of
// the current window while the live trajectory is cleared so the
// foreground can keep appending to it.
func (t *Trajectory) Snapshot() *Trajectory {
	steps := make([]ExecutionResult, len(t.steps))
	copy(steps, t.steps)
	return &Trajectory{steps: steps}
}

// Steps returns the buffered steps in temporal order; callers must
// not mutate the returned slice.
func (t *Trajectory) Steps() []ExecutionResult { return t.steps }

// Columns is the derived columnar form of a Trajectory: states has
// n+1 rows (row i is state0 of step i, row n is state1 of step n-1),
// actions and rewards have n rows.
type Columns struct {
	States   tensor.Map
	Actions  map[string]*tensor.Tensor // shape [n, 1], Int kind
	Rewards  *tensor.Tensor            // shape [n, 1]
	Terminal []bool                    // length n
}

// ToColumns converts the Trajectory into its columnar form.
func (t *Trajectory) ToColumns() (Columns, error) {
	n := len(t.steps)
	if n == 0 {
		return Columns{}, fmt.Errorf("trajectory: cannot columnify an empty trajectory: %w", coreerr.BatchEmpty)
	}

	stateNames := make([]string, 0, len(t.steps[0].State0))
	for name := range t.steps[0].State0 {
		stateNames = append(stateNames, name)
	}

	states := make(tensor.Map, len(stateNames))
	for _, name := range stateNames {
		sigShape := t.steps[0].State0[name].Shape()
		rowSize := 1
		for _, d := range sigShape {
			rowSize *= d
		}
		backing := make([]float32, (n+1)*rowSize)
		for i, step := range t.steps {
			s0, ok := step.State0[name]
			if !ok {
				return Columns{}, fmt.Errorf("trajectory: step %d missing signal %q: %w", i, name, coreerr.MissingDataset)
			}
			copy(backing[i*rowSize:(i+1)*rowSize], s0.Data())
		}
		last := t.steps[n-1].State1[name]
		if last == nil {
			return Columns{}, fmt.Errorf("trajectory: final step missing state1 signal %q: %w", name, coreerr.MissingDataset)
		}
		copy(backing[n*rowSize:(n+1)*rowSize], last.Data())

		shape := append([]int{n + 1}, sigShape...)
		tens, err := tensor.New(tensor.Float, shape, backing)
		if err != nil {
			return Columns{}, fmt.Errorf("trajectory: building states column %q: %w", name, err)
		}
		states[name] = tens
	}

	actionNames := make([]string, 0, len(t.steps[0].Actions))
	for name := range t.steps[0].Actions {
		actionNames = append(actionNames, name)
	}
	actions := make(map[string]*tensor.Tensor, len(actionNames))
	for _, name := range actionNames {
		backing := make([]float32, n)
		for i, step := range t.steps {
			v, ok := step.Actions[name]
			if !ok {
				return Columns{}, fmt.Errorf("trajectory: step %d missing action %q: %w", i, name, coreerr.MissingDataset)
			}
			backing[i] = float32(v)
		}
		tens, err := tensor.New(tensor.Int, []int{n, 1}, backing)
		if err != nil {
			return Columns{}, fmt.Errorf("trajectory: building action column %q: %w", name, err)
		}
		actions[name] = tens
	}

	rewBacking := make([]float32, n)
	terminal := make([]bool, n)
	for i, step := range t.steps {
		rewBacking[i] = float32(step.Reward)
		terminal[i] = step.Terminal
	}
	rewards, err := tensor.New(tensor.Float, []int{n, 1}, rewBacking)
	if err != nil {
		return Columns{}, fmt.Errorf("trajectory: building rewards column: %w", err)
	}

	return Columns{States: states, Actions: actions, Rewards: rewards, Terminal: terminal}, nil
}
