package agent

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// trainTD implements the TDSingleNN batch training kernel of spec
// §4.5: a single epoch over the whole window.
func (a *Agent) trainTD(states tensor.Map, masks tensor.Map, rewards *tensor.Tensor, terminal []bool) error {
	n := rewards.Rows()

	_, critic, err := a.net.Forward(states, false)
	if err != nil {
		return fmt.Errorf("agent: td forward (eval): %w", err)
	}
	v, err := critic.Column64()
	if err != nil {
		return fmt.Errorf("agent: td critic column: %w", err)
	}
	r, err := rewards.Column64()
	if err != nil {
		return fmt.Errorf("agent: td rewards column: %w", err)
	}

	tdRes, err := a.adv.TD(r, v, terminal)
	if err != nil {
		return fmt.Errorf("agent: td advantage: %w", err)
	}

	s0, err := states.RowSlice(0, n)
	if err != nil {
		return fmt.Errorf("agent: td state slice: %w", err)
	}
	policies, _, err := a.net.Forward(s0, true)
	if err != nil {
		return fmt.Errorf("agent: td forward (train): %w", err)
	}

	grads, err := policyGradients(policies, masks, a.cfg.Alphas)
	if err != nil {
		return fmt.Errorf("agent: td policy gradients: %w", err)
	}
	criticGrad, err := constantColumn(n, a.cfg.Alphas[criticKey])
	if err != nil {
		return fmt.Errorf("agent: td critic gradient: %w", err)
	}
	deltaTensor, err := tensor.NewColumn(tensor.Float, tdRes.Delta)
	if err != nil {
		return fmt.Errorf("agent: td delta column: %w", err)
	}

	preLayers := a.net.Parameters()
	if err := a.net.Train(grads, criticGrad, deltaTensor, a.cfg.Lambda); err != nil {
		return fmt.Errorf("agent: td network train: %w", err)
	}
	postLayers := a.net.Parameters()

	event, err := a.buildTrainKPI(kpi.Event{
		"reward":    rewards,
		"avgReward": tdRes.FinalAvgReward,
		"delta":     deltaTensor,
	}, trainKPIInputs{
		states:     states,
		masks:      masks,
		grads:      grads,
		signal:     deltaTensor,
		terminal:   terminal,
		preLayers:  preLayers,
		postLayers: postLayers,
	})
	if err != nil {
		return fmt.Errorf("agent: td kpi: %w", err)
	}
	a.publishTrainKPI(event)
	return nil
}

// policyGradients computes, per action head, grad = mask / pi scaled
// by alphas[head] (spec §4.5, TD path).
func policyGradients(policies tensor.Map, masks tensor.Map, alphas map[string]float64) (tensor.Map, error) {
	out := make(tensor.Map, len(masks))
	for name, m := range masks {
		pi, ok := policies[name]
		if !ok {
			return nil, fmt.Errorf("agent: policy missing head %q", name)
		}
		piData := pi.Data()
		maskData := m.Data()
		alpha := alphas[name]
		grad := make([]float32, len(maskData))
		for i := range maskData {
			if maskData[i] == 0 {
				continue
			}
			grad[i] = float32(alpha) * maskData[i] / piData[i]
		}
		t, err := tensor.New(tensor.Float, m.Shape(), grad)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// constantColumn returns a [n,1] column filled with value.
func constantColumn(n int, value float64) (*tensor.Tensor, error) {
	backing := make([]float32, n)
	for i := range backing {
		backing[i] = float32(value)
	}
	return tensor.New(tensor.Float, []int{n, 1}, backing)
}

func (a *Agent) publishTrainKPI(event kpi.Event) {
	if a.kpi == nil {
		return
	}
	a.kpi.Publish(event)
}
