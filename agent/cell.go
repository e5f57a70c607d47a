package agent

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/m-marini/wheellyj-sub008/advantage"
	"github.com/m-marini/wheellyj-sub008/tensor"
	"github.com/m-marini/wheellyj-sub008/trajectory"
)

// Merge combines a just-finished background training result with
// whatever Agent is live in a Cell by the time training completes,
// producing the Agent that becomes live next (spec §5 surface 2: "a
// user-supplied pure function (trained, online) -> Agent").
type Merge func(trained, online *Agent) *Agent

// ReplaceWithTrained is the default Merge (spec §5: "default: replace
// with trained"): the trained Agent always wins, discarding whatever
// experience the online Agent collected while training was in flight.
func ReplaceWithTrained(trained, online *Agent) *Agent { return trained }

// Cell is the atomic "Agent cell" of spec §5 surface 2. Act and
// Observe are driven through the Cell rather than the Agent directly:
// when an Observe call fills the trajectory, the live Agent is
// duplicated and training runs on the duplicate on a background
// goroutine while the foreground keeps acting against the
// (now-cleared) original; on completion, merge reconciles the trained
// duplicate with whatever Agent is live by then, swapped in atomically.
type Cell struct {
	live  atomic.Pointer[Agent]
	merge Merge
}

// NewCell wraps a in a Cell, using merge to reconcile a finished
// background training run with whatever Agent is live by then. A nil
// merge defaults to ReplaceWithTrained.
func NewCell(a *Agent, merge Merge) *Cell {
	if merge == nil {
		merge = ReplaceWithTrained
	}
	c := &Cell{merge: merge}
	c.live.Store(a)
	return c
}

// Load returns the Agent currently live in the Cell.
func (c *Cell) Load() *Agent { return c.live.Load() }

// Act delegates to the live Agent (spec §5: "the foreground keeps
// acting with the pre-training Agent").
func (c *Cell) Act(state tensor.Map) (map[string]int, error) {
	return c.Load().Act(state)
}

// Observe delegates to the live Agent and, if that call filled its
// trajectory, starts background training on a duplicate (spec §5
// surface 2). Trajectory append is totally ordered with respect to Act
// since both run against whatever Agent Load returns at call time, and
// a training swap never interleaves mid-append: the duplication itself
// happens under the live Agent's own lock.
func (c *Cell) Observe(result trajectory.ExecutionResult) error {
	a := c.Load()
	if err := a.Observe(result); err != nil {
		return err
	}
	if a.Status() == Trainable {
		c.trainAsync(a)
	}
	return nil
}

// trainAsync duplicates a via beginAsyncTraining and runs training on
// the duplicate on a background goroutine, merging the result into the
// Cell via compare-and-swap once it completes. a itself (now cleared of
// the trained window and back in Ready) keeps acting undisturbed in
// the meantime; the on-line trainer has no cancel (spec §5): it always
// runs the duplicate to completion and merges.
func (c *Cell) trainAsync(a *Agent) {
	trainee, err := a.beginAsyncTraining()
	if err != nil {
		a.log.Error("begin_async_training failed", "err", err)
		return
	}
	go func() {
		if err := trainee.TrainByTrajectory(trainee.traj); err != nil {
			trainee.log.Error("async_training failed", "err", err)
			return
		}
		for {
			online := c.Load()
			merged := c.merge(trainee, online)
			if c.live.CompareAndSwap(online, merged) {
				return
			}
		}
	}()
}

// beginAsyncTraining implements the Trainable -> Training transition
// of the asynchronous path (spec §5 surface 2): it duplicates the
// Agent onto an independent copy holding a snapshot of the current
// trajectory window and a cloned Network, then clears the original's
// trajectory and returns it to Ready so the foreground can keep acting
// immediately. The returned trainee is the caller's to run
// TrainByTrajectory on; it is registered nowhere else and is discarded
// once merged.
func (a *Agent) beginAsyncTraining() (*Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != Trainable {
		return nil, fmt.Errorf("agent: begin_async_training called outside Trainable state (status=%v)", a.status)
	}
	netCopy, err := a.net.Clone()
	if err != nil {
		return nil, fmt.Errorf("agent: begin_async_training: clone network: %w", err)
	}
	snapshot := a.traj.Snapshot()
	a.traj.Clear()
	a.status = Ready

	trainee := &Agent{
		cfg:     a.cfg,
		variant: a.variant,
		net:     netCopy,
		traj:    snapshot,
		adv:     advantage.New(a.adv.AvgReward(), a.cfg.RewardAlpha),
		kpi:     a.kpi,
		rng:     rand.New(rand.NewSource(a.cfg.Seed)),
		status:  Trainable,
		log:     a.log,
		layers0: a.layers0,
	}
	return trainee, nil
}
