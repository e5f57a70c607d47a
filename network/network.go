// Package network declares the Network interface: the sole contract
// the core holds with its neural-network collaborator. Forward and
// backward computation, parameter storage, initialization and weight
// serialization internals are explicitly out of scope (spec §1); the
// core only consumes this interface (spec §6).
//
// Grounded on the teacher's network.NeuralNet interface shape
// (Learnables, Model, Clone, SetInput, Graph), reduced to exactly what
// Agent's published algorithm needs.
package network

import (
	"encoding/json"

	"github.com/m-marini/wheellyj-sub008/tensor"
)

// ParamTensor names one learnable parameter tensor, for introspection
// and KPI reporting (spec §6's layers0./trainingLayers./trainedLayers.
// event keys).
type ParamTensor struct {
	Name  string
	Value *tensor.Tensor
}

// Network is the external collaborator producing, for a batch of
// states, a named policy head per action plus a scalar critic
// estimate, and accepting gradients to update its own parameters.
//
// A Network is owned exclusively by one Agent at a time (spec §5).
type Network interface {
	// Clone duplicates the Network, including its parameters, onto an
	// independent copy so that background training (spec §5 surface
	// 2) can proceed on a duplicate while the foreground keeps acting
	// with the original.
	Clone() (Network, error)

	// Forward runs the network on a batch of state signals. training
	// selects training vs. evaluation mode (e.g. to toggle dropout);
	// policies maps each action-head name to a [batch, k] probability
	// tensor, and critic is a [batch, 1] value estimate.
	Forward(state tensor.Map, training bool) (policies tensor.Map, critic *tensor.Tensor, err error)

	// HeadSize returns the cardinality k of the named action head's
	// output, used to validate Agent state invariants and to size
	// ActionMaskMaterializer's mask columns.
	HeadSize(action string) (int, error)

	// Parameters returns every learnable parameter tensor, for
	// introspection (KPI layer snapshots) and serialization.
	Parameters() []ParamTensor

	// Train applies one gradient-descent update. grads maps each
	// action-head name to its policy gradient; criticGrad is the
	// critic's gradient; signal is the scalar-per-step training
	// signal (the TD δ, possibly scaled by η); lambda is the
	// eligibility-trace/regularization decay named in the Agent state.
	Train(grads tensor.Map, criticGrad *tensor.Tensor, signal *tensor.Tensor, lambda float64) error

	// Init reinitializes parameters deterministically given seed.
	Init(seed int64) error

	// MarshalParams/UnmarshalParams (de)serialize the raw parameter
	// block of spec §6's agent.bin.
	MarshalParams() ([]byte, error)
	UnmarshalParams([]byte) error

	// Topology/UnmarshalTopology carry the opaque network topology
	// blob of the agent.yml descriptor (spec §6); the core never
	// interprets it.
	Topology() json.RawMessage
	UnmarshalTopology(json.RawMessage) error
}
