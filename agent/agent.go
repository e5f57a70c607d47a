package agent

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/m-marini/wheellyj-sub008/advantage"
	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/network"
	"github.com/m-marini/wheellyj-sub008/signal"
	"github.com/m-marini/wheellyj-sub008/tensor"
	"github.com/m-marini/wheellyj-sub008/trajectory"
)

// Status is a state in the Agent lifecycle of spec §4.5: Created →
// Ready (on first act) → Trainable (trajectory full) → Training →
// Ready → ... → Closed. An Agent still in Created whose trajectory
// fills through Observe alone moves straight to Trainable.
type Status int

const (
	Created Status = iota
	Ready
	Trainable
	Training
	Closed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Trainable:
		return "trainable"
	case Training:
		return "training"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Agent is the polymorphic TDSingleNN/PPO learner of spec §4.5. It
// uniquely owns its Network and trajectory buffer; the KPI publisher
// is shared with other collaborators and only closed when the Agent
// closes (spec §3).
type Agent struct {
	mu sync.Mutex

	cfg     Config
	variant Variant

	net  network.Network
	traj *trajectory.Trajectory
	adv  *advantage.Engine
	kpi  *kpi.Publisher
	rng  *rand.Rand

	status   Status
	backedUp bool
	log      *log.Logger

	// layers0 snapshots net.Parameters() as of construction/the most
	// recent Init, for the KPI schema's layers0.<layer> key (spec §6):
	// the network's values at the start of the run, distinct from the
	// trainingLayers./trainedLayers. snapshots taken around each
	// individual training step.
	layers0 []network.ParamTensor
}

// New constructs an Agent around net in the given variant, validating
// cfg per spec §3's invariants. The Agent starts in Created state with
// an empty trajectory and avg_reward 0.
func New(cfg Config, variant Variant, net network.Network, publisher *kpi.Publisher) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateHeads(cfg, net); err != nil {
		return nil, err
	}
	if cfg.Processor == nil {
		cfg.Processor = IdentityProcessor{SpecValue: cfg.StateSpec}
	}
	return &Agent{
		cfg:     cfg,
		variant: variant,
		net:     net,
		traj:    trajectory.New(),
		adv:     advantage.New(0, cfg.RewardAlpha),
		kpi:     publisher,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		status:  Created,
		log:     log.New(os.Stderr).With("component", "agent", "variant", variant.String()),
		layers0: net.Parameters(),
	}, nil
}

// validateHeads checks spec §3's "for each action name, the network
// must expose an output head of the same name whose second-dimension
// equals the action's num_values".
func validateHeads(cfg Config, net network.Network) error {
	for name, s := range cfg.ActionSpec {
		intSpec, ok := s.(signal.IntSpec)
		if !ok {
			return fmt.Errorf("agent: action %q is not an integer spec: %w", name, coreerr.ConfigError)
		}
		k, err := net.HeadSize(name)
		if err != nil {
			return fmt.Errorf("agent: network has no head for action %q: %w", name, err)
		}
		if k != intSpec.NumValues {
			return fmt.Errorf("agent: network head %q has size %d, action spec declares numValues %d: %w",
				name, k, intSpec.NumValues, coreerr.ConfigError)
		}
	}
	return nil
}

// Status returns the Agent's current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// AvgReward returns the running average reward R.
func (a *Agent) AvgReward() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adv.AvgReward()
}

// Act projects state through the processor, adds a batch dimension,
// forwards the network in evaluation mode, and samples one action per
// head by inverse-CDF against a uniform draw (spec §4.5).
func (a *Agent) Act(state tensor.Map) (map[string]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == Closed {
		return nil, fmt.Errorf("agent: act called on a closed agent")
	}

	processed, err := a.cfg.Processor.Apply(state)
	if err != nil {
		return nil, fmt.Errorf("agent: processor: %w", err)
	}
	batched := processed.Unsqueeze0()

	policies, _, err := a.net.Forward(batched, false)
	if err != nil {
		return nil, fmt.Errorf("agent: act forward: %w", err)
	}

	actions := make(map[string]int, len(policies))
	for name, pol := range policies {
		idx, err := sampleRow(pol.Data(), a.rng.Float64())
		if err != nil {
			return nil, fmt.Errorf("agent: sampling head %q: %w", name, err)
		}
		actions[name] = idx
	}

	if a.status == Created {
		a.status = Ready
	}
	return actions, nil
}

// sampleRow picks an index from a probability row by inverse-CDF
// against draw ∈ [0,1), breaking ties (draw lands past the last
// cumulative mass due to floating point slack) at the last index.
func sampleRow(row []float32, draw float64) (int, error) {
	if len(row) == 0 {
		return 0, fmt.Errorf("agent: empty policy row")
	}
	var cum float32
	d := float32(draw)
	for i, p := range row {
		cum += p
		if d < cum {
			return i, nil
		}
	}
	return len(row) - 1, nil
}

// Observe appends result to the trajectory and publishes a minimal
// KPI record. In the TDSingleNN variant with TrainOnline set, it also
// trains immediately on this single step; a training failure here is
// logged and swallowed (spec §7: "per-step training errors do not
// tear down the Agent").
func (a *Agent) Observe(result trajectory.ExecutionResult) error {
	a.mu.Lock()
	if a.status == Closed {
		a.mu.Unlock()
		return fmt.Errorf("agent: observe called on a closed agent")
	}
	a.traj.Append(result)
	if (a.status == Created || a.status == Ready) && a.traj.Len() >= a.cfg.NumSteps {
		a.status = Trainable
	}
	online := a.variant == TDSingleNN && a.cfg.TrainOnline
	a.mu.Unlock()

	a.publishObserveKPI(result)

	if online {
		step := trajectory.New()
		step.Append(result)
		if err := a.TrainByTrajectory(step); err != nil {
			a.log.Error("online training step failed", "err", err)
		}
	}
	return nil
}

func (a *Agent) publishObserveKPI(result trajectory.ExecutionResult) {
	if a.kpi == nil {
		return
	}
	event := kpi.Event{"reward": result.Reward}
	for name, v := range result.Actions {
		event["actions."+name] = v
	}
	for name, t := range result.State0 {
		event["s0."+name] = t
	}
	a.kpi.Publish(event)
}

// IsReadyForTrain reports whether the buffered trajectory has reached
// num_steps (spec §4.5).
func (a *Agent) IsReadyForTrain() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.traj.Len() >= a.cfg.NumSteps
}

// Init reinitializes the network's parameters deterministically from
// cfg.Seed (spec §4.5).
func (a *Agent) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.net.Init(a.cfg.Seed); err != nil {
		return err
	}
	a.layers0 = a.net.Parameters()
	return nil
}

// Close marks the Agent Closed and closes its KPI publisher, if it has
// one. Close is a terminal transition; no further act/observe/train
// calls are valid afterwards. A second Close is a no-op.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == Closed {
		return
	}
	a.status = Closed
	if a.kpi != nil {
		a.kpi.Close()
	}
}
