package batchtrainer

import (
	"context"
	"errors"
	"testing"

	"github.com/m-marini/wheellyj-sub008/agent"
	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/signal"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

func newTestAgent(t *testing.T, batchSize, numEpochs int) (*agent.Agent, *stubNetwork) {
	t.Helper()
	cfg := agent.Config{
		StateSpec:   signal.SpecMap{"sensor": signal.FloatSpec{ShapeValue: []int{2}, Min: -1, Max: 1}},
		ActionSpec:  signal.SpecMap{"steer": signal.IntSpec{ShapeValue: []int{1}, NumValues: 3}},
		RewardAlpha: 0.1,
		Eta:         1,
		Lambda:      0.5,
		Alphas:      map[string]float64{"steer": 1, "critic": 1},
		NumSteps:    4,
		NumEpochs:   numEpochs,
		BatchSize:   batchSize,
		PPOEpsilon:  0.2,
		ModelPath:   t.TempDir(),
	}
	net := &stubNetwork{headSizes: map[string]int{"steer": 3}}
	a, err := agent.New(cfg, agent.TDSingleNN, net, kpi.New())
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a, net
}

func TestValidateAcceptsWellFormedDataset(t *testing.T) {
	root := t.TempDir()
	seedDataset(t, root, 5)
	a, _ := newTestAgent(t, 2, 1)
	bt := New(root, t.TempDir(), 8, a, nil, nil)
	if err := bt.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateDetectsS0SizeMismatch(t *testing.T) {
	root := t.TempDir()
	// s0 has n+2 rows instead of the required n+1, for n=5 action/reward rows.
	s0 := make([]float32, 7*2)
	for i := range s0 {
		s0[i] = float32(i)
	}
	writeColumn(t, root, "s0.sensor", tensor.Float, 2, s0)
	actions := make([]float32, 5)
	rewards := make([]float32, 5)
	for i := range rewards {
		actions[i] = float32(i % 3)
		rewards[i] = float32(i + 1)
	}
	writeColumn(t, root, "actions.steer", tensor.Int, 1, actions)
	writeColumn(t, root, "reward", tensor.Float, 1, rewards)

	a, _ := newTestAgent(t, 2, 1)
	bt := New(root, t.TempDir(), 8, a, nil, nil)
	err := bt.Validate()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !errors.Is(err, coreerr.ShapeMismatch) {
		t.Fatalf("err = %v, want ShapeMismatch", err)
	}
}

func TestValidateMissingRewardFails(t *testing.T) {
	root := t.TempDir()
	writeColumn(t, root, "s0.sensor", tensor.Float, 2, []float32{0, 1, 1, 2})
	writeColumn(t, root, "actions.steer", tensor.Int, 1, []float32{0})
	a, _ := newTestAgent(t, 2, 1)
	bt := New(root, t.TempDir(), 8, a, nil, nil)
	err := bt.Validate()
	if err == nil || !errors.Is(err, coreerr.MissingDataset) {
		t.Fatalf("err = %v, want MissingDataset", err)
	}
}

func TestPrepareMaterializesOneMaskPerHead(t *testing.T) {
	root := t.TempDir()
	seedDataset(t, root, 5)
	a, _ := newTestAgent(t, 2, 1)
	bt := New(root, t.TempDir(), 8, a, nil, nil)
	if err := bt.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(bt.masks) != 1 {
		t.Fatalf("len(masks) = %d, want 1", len(bt.masks))
	}
	store, ok := bt.masks["steer"]
	if !ok {
		t.Fatal("expected a mask store keyed by \"steer\"")
	}
	size, err := store.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 5 {
		t.Fatalf("mask size = %d, want 5", size)
	}
}

func TestTrainRunsEpochsAndClosesCleanly(t *testing.T) {
	root := t.TempDir()
	seedDataset(t, root, 5)
	a, net := newTestAgent(t, 2, 2)
	bt := New(root, t.TempDir(), 8, a, nil, nil)

	if err := bt.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := bt.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := bt.Train(context.Background()); err != nil {
		t.Fatalf("Train: %v", err)
	}
	// 5 rows, batch_size=2 -> ceil(5/2)=3 mini-batches/epoch * 2 epochs = 6.
	if net.trainCalls != 6 {
		t.Fatalf("trainCalls = %d, want 6", net.trainCalls)
	}
	if err := bt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTrainWithoutPrepareFails(t *testing.T) {
	root := t.TempDir()
	seedDataset(t, root, 5)
	a, _ := newTestAgent(t, 2, 1)
	bt := New(root, t.TempDir(), 8, a, nil, nil)
	err := bt.Train(context.Background())
	if err == nil || !errors.Is(err, coreerr.MissingDataset) {
		t.Fatalf("err = %v, want MissingDataset", err)
	}
}

func TestStopHaltsBeforeFurtherEpochs(t *testing.T) {
	root := t.TempDir()
	seedDataset(t, root, 5)
	a, net := newTestAgent(t, 2, 5)
	bt := New(root, t.TempDir(), 8, a, nil, nil)
	if err := bt.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	bt.Stop()
	if err := bt.Train(context.Background()); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if net.trainCalls != 0 {
		t.Fatalf("trainCalls = %d, want 0 after Stop before Train", net.trainCalls)
	}
}

func TestCloseIsIdempotentAndClosesPublisher(t *testing.T) {
	root := t.TempDir()
	seedDataset(t, root, 3)
	a, _ := newTestAgent(t, 2, 1)
	publisher := kpi.New()
	bt := New(root, t.TempDir(), 8, a, publisher, nil)
	if err := bt.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := bt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Second close is a no-op: masks were already cleared.
	if err := bt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// A closed publisher hands new subscribers an already-closed channel.
	events, _ := publisher.Subscribe()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel after Close")
		}
	default:
		t.Fatal("publisher not closed by Close")
	}
}

