package agent

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/tensor"
)

// Variant returns the Agent's training-kernel variant.
func (a *Agent) Variant() Variant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.variant
}

// BatchSize returns the configured mini-batch row count.
func (a *Agent) BatchSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.BatchSize
}

// NumEpochs returns the configured number of training epochs.
func (a *Agent) NumEpochs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.NumEpochs
}

// HeadSize exposes the Network collaborator's head cardinality for
// name, used by BatchTrainer to size mask materialization without
// reaching into the Agent's Network field directly.
func (a *Agent) HeadSize(name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.net.HeadSize(name)
}

// BaselineProb computes the PPO baseline taken-action probability p0
// for a window, forwarding s0 in evaluation mode (spec §4.5: "compute
// baseline policy π0 and per-step probability of taken action p0 = Σ
// mask·π0"). Exposed so BatchTrainer can compute p0 per streamed
// mini-batch window, since the whole-dataset window used by
// train_by_trajectory does not fit in memory for off-line training.
func (a *Agent) BaselineProb(s0 tensor.Map, masks tensor.Map) (tensor.Map, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.variant != PPO {
		return nil, fmt.Errorf("agent: BaselineProb is PPO-only")
	}
	pi0, _, err := a.net.Forward(s0, false)
	if err != nil {
		return nil, fmt.Errorf("agent: baseline forward: %w", err)
	}
	return takenActionProb(pi0, masks)
}

// TrainMiniBatch is the public entry point BatchTrainer drives for the
// PPO off-line streaming path (spec §4.6): one call per mini-batch
// window read from the dataset, with a pre-computed p0.
func (a *Agent) TrainMiniBatch(epoch, processed, total int, states, masks tensor.Map, rewards *tensor.Tensor, terminal []bool, p0 tensor.Map) error {
	a.mu.Lock()
	if a.status == Closed {
		a.mu.Unlock()
		return fmt.Errorf("agent: train_mini_batch called on a closed agent")
	}
	prev := a.status
	a.status = Training
	a.mu.Unlock()

	err := a.trainMiniBatch(epoch, processed, total, states, masks, rewards, terminal, p0)

	a.mu.Lock()
	a.status = prev
	a.mu.Unlock()

	if err != nil {
		a.log.Error("train_mini_batch failed", "err", err)
		a.publishErrorKPI(err)
	}
	return err
}
