package agent

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// trainPPO implements the PPO batch training kernel of spec §4.5: a
// baseline policy π0 and per-step taken-action probability p0 are
// computed once over the whole window, then num_epochs epochs each
// iterate batch_size-sized mini-batches calling trainMiniBatch.
func (a *Agent) trainPPO(states tensor.Map, masks tensor.Map, rewards *tensor.Tensor, terminal []bool) error {
	n := rewards.Rows()

	s0Full, err := states.RowSlice(0, n)
	if err != nil {
		return fmt.Errorf("agent: ppo baseline state slice: %w", err)
	}
	pi0, _, err := a.net.Forward(s0Full, false)
	if err != nil {
		return fmt.Errorf("agent: ppo baseline forward: %w", err)
	}
	p0, err := takenActionProb(pi0, masks)
	if err != nil {
		return fmt.Errorf("agent: ppo baseline p0: %w", err)
	}

	batchSize := a.cfg.BatchSize
	numBatches := (n + batchSize - 1) / batchSize
	total := numBatches * a.cfg.NumEpochs

	processed := 0
	for epoch := 0; epoch < a.cfg.NumEpochs; epoch++ {
		start := 0
		for start < n {
			end := start + batchSize
			if end > n {
				end = n
			}
			stSlice, err := states.RowSlice(start, end+1)
			if err != nil {
				return fmt.Errorf("agent: ppo mini-batch state slice: %w", err)
			}
			maskSlice, err := masks.RowSlice(start, end)
			if err != nil {
				return fmt.Errorf("agent: ppo mini-batch mask slice: %w", err)
			}
			rewSlice, err := rewards.RowSlice(start, end)
			if err != nil {
				return fmt.Errorf("agent: ppo mini-batch reward slice: %w", err)
			}
			p0Slice, err := p0.RowSlice(start, end)
			if err != nil {
				return fmt.Errorf("agent: ppo mini-batch p0 slice: %w", err)
			}
			var termSlice []bool
			if terminal != nil {
				termSlice = terminal[start:end]
			}

			processed++
			if err := a.trainMiniBatch(epoch, processed, total, stSlice, maskSlice, rewSlice, termSlice, p0Slice); err != nil {
				return err
			}
			start = end
		}
	}
	return nil
}

// trainMiniBatch is step 4.5's train_mini_batch: the PPO-clip gradient
// computation over one mini-batch window.
func (a *Agent) trainMiniBatch(epoch, processed, total int, states tensor.Map, masks tensor.Map, rewards *tensor.Tensor, terminal []bool, p0 tensor.Map) error {
	m := rewards.Rows()

	_, critic, err := a.net.Forward(states, false)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch forward (eval): %w", err)
	}
	v, err := critic.Column64()
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch critic column: %w", err)
	}
	r, err := rewards.Column64()
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch rewards column: %w", err)
	}

	nstep, err := a.adv.NStep(r, v, terminal)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch advantage: %w", err)
	}

	s0, err := states.RowSlice(0, m)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch state slice: %w", err)
	}
	policies, _, err := a.net.Forward(s0, true)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch forward (train): %w", err)
	}

	p, err := takenActionProb(policies, masks)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch p: %w", err)
	}

	grads, err := ppoGradients(p, p0, masks, nstep.Advantage, a.cfg.PPOEpsilon, a.cfg.Alphas)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch gradients: %w", err)
	}
	criticGrad, err := constantColumn(m, a.cfg.Alphas[criticKey])
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch critic gradient: %w", err)
	}

	signal := make([]float64, m)
	for i, d := range nstep.Delta {
		signal[i] = d * a.cfg.Eta
	}
	signalTensor, err := tensor.NewColumn(tensor.Float, signal)
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch signal column: %w", err)
	}

	preLayers := a.net.Parameters()
	if err := a.net.Train(grads, criticGrad, signalTensor, a.cfg.Lambda); err != nil {
		return fmt.Errorf("agent: ppo mini-batch network train: %w", err)
	}
	postLayers := a.net.Parameters()

	event, err := a.buildTrainKPI(kpi.Event{
		"reward":    rewards,
		"avgReward": nstep.FinalAvgReward,
		"delta":     nstep.Delta,
		"dr":        nstep.Dr,
		"dv":        nstep.Dv,
		"counters": map[string]int{
			"epoch":         epoch,
			"numEpochs":     a.cfg.NumEpochs,
			"startStep":     processed,
			"numStepsParam": total,
		},
	}, trainKPIInputs{
		states:     states,
		masks:      masks,
		grads:      grads,
		signal:     signalTensor,
		terminal:   terminal,
		preLayers:  preLayers,
		postLayers: postLayers,
	})
	if err != nil {
		return fmt.Errorf("agent: ppo mini-batch kpi: %w", err)
	}
	a.publishTrainKPI(event)
	return nil
}

// takenActionProb computes, per action head, p(t) = Σ_j mask(t,j)·π(t,j).
func takenActionProb(policies tensor.Map, masks tensor.Map) (tensor.Map, error) {
	out := make(tensor.Map, len(masks))
	for name, m := range masks {
		pi, ok := policies[name]
		if !ok {
			return nil, fmt.Errorf("agent: policy missing head %q", name)
		}
		shape := m.Shape()
		n, k := shape[0], shape[1]
		piData, maskData := pi.Data(), m.Data()
		col := make([]float32, n)
		for i := 0; i < n; i++ {
			var sum float32
			for j := 0; j < k; j++ {
				sum += piData[i*k+j] * maskData[i*k+j]
			}
			col[i] = sum
		}
		t, err := tensor.New(tensor.Float, []int{n, 1}, col)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// ppoGradients implements the per-head clip-gated gradient of spec
// §4.5 step 5:
//
//	ratio = p / p0; active = (A≥0 ∧ ratio≤1+ε) ∨ (A<0 ∧ ratio≥1-ε)
//	grad  = mask · active / p0, scaled by alphas[head]
//
// The clip boundary itself is active (spec §8 S4): a ratio landing
// exactly on 1+ε or 1-ε still contributes a gradient.
func ppoGradients(p, p0, masks tensor.Map, advantage []float64, epsilon float64, alphas map[string]float64) (tensor.Map, error) {
	out := make(tensor.Map, len(masks))
	for name, m := range masks {
		pCol, ok := p[name]
		if !ok {
			return nil, fmt.Errorf("agent: p missing head %q", name)
		}
		p0Col, ok := p0[name]
		if !ok {
			return nil, fmt.Errorf("agent: p0 missing head %q", name)
		}
		shape := m.Shape()
		n, k := shape[0], shape[1]
		pData, p0Data, maskData := pCol.Data(), p0Col.Data(), m.Data()
		alpha := float32(alphas[name])

		grad := make([]float32, n*k)
		for t := 0; t < n; t++ {
			if p0Data[t] == 0 {
				continue
			}
			ratio := pData[t] / p0Data[t]
			a := advantage[t]
			pos := a >= 0
			neg := a < 0
			keepPos := ratio <= float32(1+epsilon)
			keepNeg := ratio >= float32(1-epsilon)
			active := (pos && keepPos) || (neg && keepNeg)
			if !active {
				continue
			}
			scale := alpha / p0Data[t]
			for j := 0; j < k; j++ {
				grad[t*k+j] = maskData[t*k+j] * scale
			}
		}
		tens, err := tensor.New(tensor.Float, []int{n, k}, grad)
		if err != nil {
			return nil, err
		}
		out[name] = tens
	}
	return out, nil
}
