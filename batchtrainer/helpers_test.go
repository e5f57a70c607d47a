package batchtrainer

import (
	"encoding/json"
	"testing"

	"github.com/m-marini/wheellyj-sub008/binarray"
	"github.com/m-marini/wheellyj-sub008/network"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// stubNetwork is a minimal Network collaborator returning a uniform
// policy for every configured head, used to exercise BatchTrainer
// without any real gorgonia computation.
type stubNetwork struct {
	headSizes  map[string]int
	trainCalls int
}

func (n *stubNetwork) Clone() (network.Network, error) {
	cp := *n
	return &cp, nil
}

func (n *stubNetwork) Forward(state tensor.Map, training bool) (tensor.Map, *tensor.Tensor, error) {
	rows, err := state.Rows()
	if err != nil {
		return nil, nil, err
	}
	policies := make(tensor.Map, len(n.headSizes))
	for name, k := range n.headSizes {
		data := make([]float32, rows*k)
		for i := range data {
			data[i] = 1.0 / float32(k)
		}
		tt, err := tensor.New(tensor.Float, []int{rows, k}, data)
		if err != nil {
			return nil, nil, err
		}
		policies[name] = tt
	}
	critic, err := tensor.New(tensor.Float, []int{rows, 1}, make([]float32, rows))
	if err != nil {
		return nil, nil, err
	}
	return policies, critic, nil
}

func (n *stubNetwork) HeadSize(action string) (int, error) { return n.headSizes[action], nil }

func (n *stubNetwork) Parameters() []network.ParamTensor { return nil }

func (n *stubNetwork) Train(grads tensor.Map, criticGrad *tensor.Tensor, signal *tensor.Tensor, lambda float64) error {
	n.trainCalls++
	return nil
}

func (n *stubNetwork) Init(seed int64) error { return nil }

func (n *stubNetwork) MarshalParams() ([]byte, error) { return nil, nil }

func (n *stubNetwork) UnmarshalParams(b []byte) error { return nil }

func (n *stubNetwork) Topology() json.RawMessage { return nil }

func (n *stubNetwork) UnmarshalTopology(json.RawMessage) error { return nil }

// writeColumn creates root/<dottedKey>/data.bin with the given rows
// (each of width cols) written in a single Write call.
func writeColumn(t *testing.T, root, key string, kind tensor.Kind, cols int, data []float32) {
	t.Helper()
	rows := len(data) / cols
	path := binarray.PathForKey(root, key)
	store, err := binarray.Open(path)
	if err != nil {
		t.Fatalf("binarray.Open(%q): %v", path, err)
	}
	defer store.Close()
	tt, err := tensor.New(kind, []int{rows, cols}, data)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}
	if err := store.Write(tt); err != nil {
		t.Fatalf("store.Write(%q): %v", key, err)
	}
}

// seedDataset writes a minimal valid dataset of n steps (n+1 s0 rows,
// n action/reward rows) rooted at root, with one state signal
// "sensor" (width 2) and one action head "steer" (cardinality 3).
func seedDataset(t *testing.T, root string, n int) {
	t.Helper()
	s0 := make([]float32, (n+1)*2)
	for i := range s0 {
		s0[i] = float32(i)
	}
	writeColumn(t, root, "s0.sensor", tensor.Float, 2, s0)

	actions := make([]float32, n)
	for i := range actions {
		actions[i] = float32(i % 3)
	}
	writeColumn(t, root, "actions.steer", tensor.Int, 1, actions)

	rewards := make([]float32, n)
	for i := range rewards {
		rewards[i] = float32(i + 1)
	}
	writeColumn(t, root, "reward", tensor.Float, 1, rewards)
}
