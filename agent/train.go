package agent

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/mask"
	"github.com/m-marini/wheellyj-sub008/tensor"
	"github.com/m-marini/wheellyj-sub008/trajectory"
)

// TrainByTrajectory column-ifies traj and runs the variant's batch
// training kernel (spec §4.5). It drives the Trainable→Training→Ready
// lifecycle transition: on success the trajectory buffer passed in is
// the caller's to discard; on failure it is left untouched so the
// caller may retry, per spec §7's "training is abandoned for the
// batch, the trajectory is not cleared".
func (a *Agent) TrainByTrajectory(traj *trajectory.Trajectory) error {
	cols, err := traj.ToColumns()
	if err != nil {
		return fmt.Errorf("agent: train_by_trajectory: %w", err)
	}

	masks := make(tensor.Map, len(cols.Actions))
	for name, col := range cols.Actions {
		k, err := a.net.HeadSize(name)
		if err != nil {
			return fmt.Errorf("agent: train_by_trajectory: head %q: %w", name, err)
		}
		m, err := mask.OneHot(col, k)
		if err != nil {
			return fmt.Errorf("agent: train_by_trajectory: mask for %q: %w", name, err)
		}
		masks[name] = m
	}

	return a.TrainBatch(cols.States, masks, cols.Rewards, cols.Terminal)
}

// TrainBatch runs the variant's kernel over states (n+1 rows), masks
// and rewards (n rows each), dispatching to the TD or PPO training
// kernel (spec §4.5). It manages the Trainable→Training→Ready
// transition.
func (a *Agent) TrainBatch(states tensor.Map, masks tensor.Map, rewards *tensor.Tensor, terminal []bool) error {
	a.mu.Lock()
	if a.status == Closed {
		a.mu.Unlock()
		return fmt.Errorf("agent: train_batch called on a closed agent")
	}
	prev := a.status
	a.status = Training
	a.mu.Unlock()

	var err error
	switch a.variant {
	case PPO:
		err = a.trainPPO(states, masks, rewards, terminal)
	default:
		err = a.trainTD(states, masks, rewards, terminal)
	}

	a.mu.Lock()
	if prev == Trainable {
		a.status = Ready
	} else {
		a.status = prev
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Error("train_batch failed", "err", err)
		a.publishErrorKPI(err)
		return err
	}
	return nil
}

func (a *Agent) publishErrorKPI(err error) {
	if a.kpi == nil {
		return
	}
	a.kpi.Publish(kpi.Event{"error": err.Error()})
}
