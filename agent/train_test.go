package agent

import (
	"testing"

	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/network"
	"github.com/m-marini/wheellyj-sub008/tensor"
	"github.com/m-marini/wheellyj-sub008/trajectory"
)

func buildTraj(t *testing.T, n int) *trajectory.Trajectory {
	t.Helper()
	traj := trajectory.New()
	for i := 0; i < n; i++ {
		s0, _ := tensor.New(tensor.Float, []int{2}, []float32{float32(i), float32(i) + 1})
		s1, _ := tensor.New(tensor.Float, []int{2}, []float32{float32(i) + 1, float32(i) + 2})
		traj.Append(trajectory.ExecutionResult{
			State0:   tensor.Map{"sensor": s0},
			Actions:  map[string]int{"steer": i % 3},
			Reward:   float64(i + 1),
			State1:   tensor.Map{"sensor": s1},
			Terminal: i == n-1,
		})
	}
	return traj
}

func TestTrainByTrajectoryTD(t *testing.T) {
	a, net := newTestAgent(t, TDSingleNN, map[string]int{"steer": 3})
	traj := buildTraj(t, 4)

	if err := a.TrainByTrajectory(traj); err != nil {
		t.Fatalf("TrainByTrajectory: %v", err)
	}
	if len(net.trainCalls) != 1 {
		t.Fatalf("len(trainCalls) = %d, want 1", len(net.trainCalls))
	}
	call := net.trainCalls[0]
	if call.Lambda != a.cfg.Lambda {
		t.Fatalf("Lambda = %v, want %v", call.Lambda, a.cfg.Lambda)
	}
	if call.Signal.Rows() != 4 {
		t.Fatalf("signal rows = %d, want 4", call.Signal.Rows())
	}
}

func TestTrainBatchStateMachine(t *testing.T) {
	a, _ := newTestAgent(t, TDSingleNN, map[string]int{"steer": 3})
	traj := buildTraj(t, 4)
	for _, r := range traj.Steps() {
		if err := a.Observe(r); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
	if a.Status() != Trainable {
		t.Fatalf("Status() = %v, want Trainable", a.Status())
	}

	if err := a.TrainByTrajectory(traj); err != nil {
		t.Fatalf("TrainByTrajectory: %v", err)
	}
	if a.Status() != Ready {
		t.Fatalf("Status() after training = %v, want Ready", a.Status())
	}
}

func TestTrainBatchOnClosedAgentFails(t *testing.T) {
	a, _ := newTestAgent(t, TDSingleNN, map[string]int{"steer": 3})
	a.Close()
	traj := buildTraj(t, 2)
	if err := a.TrainByTrajectory(traj); err == nil {
		t.Fatal("expected error training a closed agent")
	}
}

func TestTrainByTrajectoryPublishesFullKPISchema(t *testing.T) {
	cfg := validConfig()
	cfg.ModelPath = t.TempDir()
	heads := map[string]int{"steer": 3}
	net := &stubNetwork{headSizes: heads, forwardFn: uniformForward(heads)}
	w, _ := tensor.New(tensor.Float, []int{1}, []float32{1})
	net.params = []network.ParamTensor{{Name: "w", Value: w}}
	publisher := kpi.New()
	a, err := New(cfg, TDSingleNN, net, publisher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, unsub := publisher.Subscribe()
	defer unsub()

	traj := buildTraj(t, 4)
	if err := a.TrainByTrajectory(traj); err != nil {
		t.Fatalf("TrainByTrajectory: %v", err)
	}

	var event kpi.Event
	select {
	case event = <-events:
	default:
		t.Fatal("expected a train KPI event to have been published")
	}

	for _, key := range []string{
		"reward", "avgReward", "delta",
		"terminal", "actions.steer", "actionsMasks.steer",
		"s0.sensor", "s1.sensor", "grads.steer", "deltaGrads.steer",
		"layers0.w", "trainingLayers.w", "trainedLayers.w",
	} {
		if _, ok := event[key]; !ok {
			t.Fatalf("missing KPI key %q in %v", key, event)
		}
	}
}

func TestTrainBatchPublishesErrorKPIOnFailure(t *testing.T) {
	cfg := validConfig()
	cfg.ModelPath = t.TempDir()
	heads := map[string]int{"steer": 3}
	net := &stubNetwork{headSizes: heads, forwardFn: uniformForward(heads), trainErr: errFake}
	publisher := kpi.New()
	a, err := New(cfg, TDSingleNN, net, publisher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, unsub := publisher.Subscribe()
	defer unsub()

	traj := buildTraj(t, 2)
	if err := a.TrainByTrajectory(traj); err == nil {
		t.Fatal("expected training error to propagate")
	}

	select {
	case e := <-events:
		if _, ok := e["error"]; !ok {
			t.Fatalf("expected an error KPI event, got %v", e)
		}
	default:
		t.Fatal("expected an error KPI event to have been published")
	}
}
