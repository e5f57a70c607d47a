package agent

import (
	"testing"

	"github.com/m-marini/wheellyj-sub008/tensor"
)

func TestPolicyGradients(t *testing.T) {
	pi, _ := tensor.New(tensor.Float, []int{2, 2}, []float32{0.25, 0.75, 0.4, 0.6})
	mask, _ := tensor.New(tensor.Float, []int{2, 2}, []float32{1, 0, 0, 1})
	policies := tensor.Map{"steer": pi}
	masks := tensor.Map{"steer": mask}
	alphas := map[string]float64{"steer": 2}

	grads, err := policyGradients(policies, masks, alphas)
	if err != nil {
		t.Fatalf("policyGradients: %v", err)
	}
	got := grads["steer"].Data()
	// grad = alpha * mask / pi, zero where mask is zero.
	want := []float32{2 * 1 / 0.25, 0, 0, 2 * 1 / 0.6}
	for i := range want {
		if abs32(got[i]-want[i]) > 1e-5 {
			t.Fatalf("grad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPolicyGradientsMissingHeadFails(t *testing.T) {
	mask, _ := tensor.New(tensor.Float, []int{1, 2}, []float32{1, 0})
	_, err := policyGradients(tensor.Map{}, tensor.Map{"steer": mask}, map[string]float64{"steer": 1})
	if err == nil {
		t.Fatal("expected error for policy missing head")
	}
}

func TestConstantColumn(t *testing.T) {
	col, err := constantColumn(3, 0.5)
	if err != nil {
		t.Fatalf("constantColumn: %v", err)
	}
	if col.Rows() != 3 {
		t.Fatalf("Rows() = %d, want 3", col.Rows())
	}
	for _, v := range col.Data() {
		if v != 0.5 {
			t.Fatalf("value = %v, want 0.5", v)
		}
	}
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
