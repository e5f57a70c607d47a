package advantage

import (
	"errors"
	"math"
	"testing"

	"github.com/m-marini/wheellyj-sub008/coreerr"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTDSequentialUpdate(t *testing.T) {
	e := New(0, 0.1)
	rewards := []float64{1, 2, 3}
	values := []float64{0, 1, 1, 0}

	result, err := e.TD(rewards, values, nil)
	if err != nil {
		t.Fatalf("TD: %v", err)
	}

	// Hand-computed sequential recurrence:
	// t=0: vDiff=1-0=1, d=1-0+1=2, R=0+0.1*2=0.2
	// t=1: vDiff=1-1=0, d=2-0.2+0=1.8, R=0.2+0.1*1.8=0.38
	// t=2: vDiff=0-1=-1, d=3-0.38-1=1.62, R=0.38+0.1*1.62=0.542
	want := []float64{2, 1.8, 1.62}
	for i, w := range want {
		if !almostEqual(result.Delta[i], w) {
			t.Fatalf("Delta[%d] = %v, want %v", i, result.Delta[i], w)
		}
	}
	if !almostEqual(result.FinalAvgReward, 0.542) {
		t.Fatalf("FinalAvgReward = %v, want 0.542", result.FinalAvgReward)
	}
	if !almostEqual(e.AvgReward(), 0.542) {
		t.Fatalf("AvgReward() = %v, want 0.542", e.AvgReward())
	}
}

func TestTDTerminalZeroesBootstrap(t *testing.T) {
	e := New(0, 0.5)
	rewards := []float64{5}
	values := []float64{10, 999} // v(t+1) would dominate if not zeroed
	terminal := []bool{true}

	result, err := e.TD(rewards, values, terminal)
	if err != nil {
		t.Fatalf("TD: %v", err)
	}
	// d = r - R + 0 (terminal) = 5 - 0 = 5
	if !almostEqual(result.Delta[0], 5) {
		t.Fatalf("Delta[0] = %v, want 5 (terminal bootstrap should be zeroed)", result.Delta[0])
	}
}

func TestTDRejectsEmptyBatch(t *testing.T) {
	e := New(0, 0.1)
	if _, err := e.TD(nil, []float64{0}, nil); err == nil {
		t.Fatal("expected error for empty batch")
	} else if !errors.Is(err, coreerr.BatchEmpty) {
		t.Fatalf("expected coreerr.BatchEmpty, got %v", err)
	}
}

func TestTDRejectsWrongValuesLength(t *testing.T) {
	e := New(0, 0.1)
	if _, err := e.TD([]float64{1, 2}, []float64{0, 1}, nil); err == nil {
		t.Fatal("expected error: values must have length n+1")
	}
}

func TestNStepAdvantageFormula(t *testing.T) {
	e := New(0, 0.1)
	rewards := []float64{1, 1, 1}
	values := []float64{0, 0, 0, 0}

	result, err := e.NStep(rewards, values, nil)
	if err != nil {
		t.Fatalf("NStep: %v", err)
	}

	// dr(t) = r(t) - R(t) computed sequentially (R starts at 0, alpha
	// 0.1, values flat at 0 so dv contributes nothing to delta).
	// t=0: dr=1-0=1, R=0.1
	// t=1: dr=1-0.1=0.9, R=0.19
	// t=2: dr=1-0.19=0.81, R=0.271
	wantDr := []float64{1, 0.9, 0.81}
	for i, w := range wantDr {
		if !almostEqual(result.Dr[i], w) {
			t.Fatalf("Dr[%d] = %v, want %v", i, result.Dr[i], w)
		}
	}

	// A(t) = suffix-sum(dr)[t:] + v(t) - v(n); values are all 0 here so
	// A(t) reduces to the reverse-cumsum of dr.
	wantAdv := []float64{
		wantDr[0] + wantDr[1] + wantDr[2],
		wantDr[1] + wantDr[2],
		wantDr[2],
	}
	for i, w := range wantAdv {
		if !almostEqual(result.Advantage[i], w) {
			t.Fatalf("Advantage[%d] = %v, want %v", i, result.Advantage[i], w)
		}
	}
}

func TestNStepIncludesValueDifference(t *testing.T) {
	e := New(0, 0)
	rewards := []float64{0, 0}
	values := []float64{3, 5, 9}

	result, err := e.NStep(rewards, values, nil)
	if err != nil {
		t.Fatalf("NStep: %v", err)
	}
	// alphaR=0 so R stays 0 and dr(t) = r(t) - 0 = 0 for both steps.
	// A(0) = dr(0)+dr(1) + v(0) - v(2) = 0 + 3 - 9 = -6
	// A(1) = dr(1) + v(1) - v(2) = 0 + 5 - 9 = -4
	if !almostEqual(result.Advantage[0], -6) {
		t.Fatalf("Advantage[0] = %v, want -6", result.Advantage[0])
	}
	if !almostEqual(result.Advantage[1], -4) {
		t.Fatalf("Advantage[1] = %v, want -4", result.Advantage[1])
	}
}

func TestSetAvgReward(t *testing.T) {
	e := New(0, 0.1)
	e.SetAvgReward(42)
	if e.AvgReward() != 42 {
		t.Fatalf("AvgReward() = %v, want 42", e.AvgReward())
	}
}
