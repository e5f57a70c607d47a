package agent

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/network"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// trainKPIInputs bundles the artifacts common to trainTD and
// trainMiniBatch needed to fill in the rest of spec §6's train event
// schema, beyond the handful of variant-specific scalars (reward,
// avgReward, delta, dr, dv, counters) each kernel builds itself.
type trainKPIInputs struct {
	states     tensor.Map     // window states, n+1 rows
	masks      tensor.Map     // one-hot action masks, n rows
	grads      tensor.Map     // per-head policy gradient, n rows
	signal     *tensor.Tensor // the scalar training signal handed to Network.Train, n rows
	terminal   []bool
	preLayers  []network.ParamTensor // net.Parameters() just before Train
	postLayers []network.ParamTensor // net.Parameters() just after Train
}

// buildTrainKPI flattens in into a copy of base, filling every key of
// spec §6's train event schema that is common to both training
// kernels: terminal?, actions.<name>, actionsMasks.<name>,
// s0.<signal>, s1.<signal>, grads.<head>, deltaGrads.<head>,
// layers0.<layer>, trainingLayers.<layer>, trainedLayers.<layer>.
func (a *Agent) buildTrainKPI(base kpi.Event, in trainKPIInputs) (kpi.Event, error) {
	event := make(kpi.Event, len(base))
	for k, v := range base {
		event[k] = v
	}

	n, err := in.masks.Rows()
	if err != nil {
		return nil, fmt.Errorf("agent: train kpi: %w", err)
	}
	s0, err := in.states.RowSlice(0, n)
	if err != nil {
		return nil, fmt.Errorf("agent: train kpi s0: %w", err)
	}
	s1, err := in.states.RowSlice(1, n+1)
	if err != nil {
		return nil, fmt.Errorf("agent: train kpi s1: %w", err)
	}
	for name, t := range s0 {
		event["s0."+name] = t
	}
	for name, t := range s1 {
		event["s1."+name] = t
	}

	for name, m := range in.masks {
		event["actionsMasks."+name] = m
		idx, err := argmaxColumn(m)
		if err != nil {
			return nil, fmt.Errorf("agent: train kpi actions.%s: %w", name, err)
		}
		event["actions."+name] = idx
	}

	for name, g := range in.grads {
		event["grads."+name] = g
		dg, err := scaleColumnBroadcast(g, in.signal)
		if err != nil {
			return nil, fmt.Errorf("agent: train kpi deltaGrads.%s: %w", name, err)
		}
		event["deltaGrads."+name] = dg
	}

	for _, p := range a.layers0 {
		event["layers0."+p.Name] = p.Value
	}
	for _, p := range in.preLayers {
		event["trainingLayers."+p.Name] = p.Value
	}
	for _, p := range in.postLayers {
		event["trainedLayers."+p.Name] = p.Value
	}

	if in.terminal != nil {
		tcol, err := boolColumn(in.terminal)
		if err != nil {
			return nil, fmt.Errorf("agent: train kpi terminal: %w", err)
		}
		event["terminal"] = tcol
	}

	return event, nil
}

// argmaxColumn returns the per-row index of the maximum element of an
// [n,k] tensor as an [n,1] Int column, the inverse of mask.OneHot —
// used to recover the raw taken-action index from its one-hot mask for
// the actions.<name> KPI key.
func argmaxColumn(m *tensor.Tensor) (*tensor.Tensor, error) {
	shape := m.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("agent: argmaxColumn: expected rank 2, got shape %v", shape)
	}
	n, k := shape[0], shape[1]
	data := m.Data()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		best, bestVal := 0, data[i*k]
		for j := 1; j < k; j++ {
			if v := data[i*k+j]; v > bestVal {
				best, bestVal = j, v
			}
		}
		out[i] = float32(best)
	}
	return tensor.New(tensor.Int, []int{n, 1}, out)
}

// scaleColumnBroadcast multiplies every row of g by the scalar in the
// matching row of signal, producing deltaGrads.<head>: the portion of
// the raw per-head gradient actually weighted by the training signal
// handed to Network.Train for this step.
func scaleColumnBroadcast(g, signal *tensor.Tensor) (*tensor.Tensor, error) {
	shape := g.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("agent: scaleColumnBroadcast: expected rank 2, got shape %v", shape)
	}
	n, k := shape[0], shape[1]
	if signal.Rows() != n {
		return nil, fmt.Errorf("agent: scaleColumnBroadcast: signal has %d rows, want %d", signal.Rows(), n)
	}
	gData, sData := g.Data(), signal.Data()
	out := make([]float32, n*k)
	for i := 0; i < n; i++ {
		s := sData[i]
		for j := 0; j < k; j++ {
			out[i*k+j] = gData[i*k+j] * s
		}
	}
	return tensor.New(tensor.Float, []int{n, k}, out)
}

// boolColumn converts a []bool into an [n,1] float column (1/0), for
// the optional terminal KPI key.
func boolColumn(b []bool) (*tensor.Tensor, error) {
	out := make([]float32, len(b))
	for i, v := range b {
		if v {
			out[i] = 1
		}
	}
	return tensor.New(tensor.Float, []int{len(b), 1}, out)
}
