package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m-marini/wheellyj-sub008/network"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

var errFake = errors.New("stubNetwork: forced training failure")

// stubNetwork is a minimal, test-only Network collaborator: it returns
// caller-configured policies/critic values from Forward and records
// every Train call so kernels can be asserted against.
type stubNetwork struct {
	headSizes map[string]int

	forwardFn func(state tensor.Map, training bool) (tensor.Map, *tensor.Tensor, error)

	trainCalls []trainCall
	trainErr   error
	trainFn    func() error

	params   []network.ParamTensor
	topology json.RawMessage

	unmarshalErr   error
	lastParamBlock []byte
}

type trainCall struct {
	Grads      tensor.Map
	CriticGrad *tensor.Tensor
	Signal     *tensor.Tensor
	Lambda     float64
}

func (n *stubNetwork) Clone() (network.Network, error) {
	cp := *n
	return &cp, nil
}

func (n *stubNetwork) Forward(state tensor.Map, training bool) (tensor.Map, *tensor.Tensor, error) {
	if n.forwardFn == nil {
		return nil, nil, fmt.Errorf("stubNetwork: no forwardFn configured")
	}
	return n.forwardFn(state, training)
}

func (n *stubNetwork) HeadSize(action string) (int, error) {
	k, ok := n.headSizes[action]
	if !ok {
		return 0, fmt.Errorf("stubNetwork: no head %q", action)
	}
	return k, nil
}

func (n *stubNetwork) Parameters() []network.ParamTensor { return n.params }

func (n *stubNetwork) Train(grads tensor.Map, criticGrad *tensor.Tensor, signal *tensor.Tensor, lambda float64) error {
	n.trainCalls = append(n.trainCalls, trainCall{Grads: grads, CriticGrad: criticGrad, Signal: signal, Lambda: lambda})
	if n.trainFn != nil {
		if err := n.trainFn(); err != nil {
			return err
		}
	}
	return n.trainErr
}

func (n *stubNetwork) Init(seed int64) error { return nil }

func (n *stubNetwork) MarshalParams() ([]byte, error) { return nil, nil }

func (n *stubNetwork) UnmarshalParams(b []byte) error {
	n.lastParamBlock = b
	return n.unmarshalErr
}

func (n *stubNetwork) Topology() json.RawMessage { return n.topology }

func (n *stubNetwork) UnmarshalTopology(json.RawMessage) error { return nil }

// uniformForward returns a Forward function yielding a uniform
// probability row for each configured head and a zero critic column.
func uniformForward(heads map[string]int) func(tensor.Map, bool) (tensor.Map, *tensor.Tensor, error) {
	return func(state tensor.Map, training bool) (tensor.Map, *tensor.Tensor, error) {
		rows, err := state.Rows()
		if err != nil {
			return nil, nil, err
		}
		policies := make(tensor.Map, len(heads))
		for name, k := range heads {
			data := make([]float32, rows*k)
			for i := range data {
				data[i] = 1.0 / float32(k)
			}
			t, err := tensor.New(tensor.Float, []int{rows, k}, data)
			if err != nil {
				return nil, nil, err
			}
			policies[name] = t
		}
		critic, err := tensor.New(tensor.Float, []int{rows, 1}, make([]float32, rows))
		if err != nil {
			return nil, nil, err
		}
		return policies, critic, nil
	}
}
