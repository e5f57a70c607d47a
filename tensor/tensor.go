// Package tensor implements the single concrete dense ND-array
// abstraction used throughout the training engine: signals, trajectory
// columns, action masks, and advantage series are all backed by a
// Tensor rather than by ad-hoc maps or slices.
package tensor

import (
	"fmt"

	gt "gorgonia.org/tensor"
)

// Kind distinguishes a Tensor holding continuous observation values
// from one holding categorical/integer values. Both are stored as
// float32 so the whole pipeline, from BinArrayStore to the Network
// boundary, has a single payload representation.
type Kind int

const (
	Float Kind = iota
	Int
)

func (k Kind) String() string {
	if k == Int {
		return "int"
	}
	return "float"
}

// Tensor wraps a gorgonia.org/tensor.Dense float32 array with an
// explicit Kind and owns its own backing slice.
type Tensor struct {
	kind  Kind
	dense *gt.Dense
}

// New constructs a Tensor from a row-major backing slice and a shape.
// len(backing) must equal the product of shape.
func New(kind Kind, shape []int, backing []float32) (*Tensor, error) {
	want := 1
	for _, d := range shape {
		want *= d
	}
	if want != len(backing) {
		return nil, fmt.Errorf("tensor.New: backing length %d does not match shape %v (%d)",
			len(backing), shape, want)
	}
	cp := make([]float32, len(backing))
	copy(cp, backing)
	dense := gt.New(gt.WithShape(shape...), gt.WithBacking(cp))
	return &Tensor{kind: kind, dense: dense}, nil
}

// Zeros returns a new zero-filled Tensor of the given kind and shape.
func Zeros(kind Kind, shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{kind: kind, dense: gt.New(gt.WithShape(shape...), gt.WithBacking(make([]float32, n)))}
}

// FromDense wraps an existing *gorgonia.org/tensor.Dense without
// copying, tagging it with kind.
func FromDense(kind Kind, d *gt.Dense) *Tensor {
	return &Tensor{kind: kind, dense: d}
}

// Kind returns whether the Tensor holds float or integer-coded values.
func (t *Tensor) Kind() Kind { return t.kind }

// Shape returns the Tensor's shape; callers must not mutate it.
func (t *Tensor) Shape() []int { return t.dense.Shape().Clone() }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.dense.Shape()) }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return t.dense.Shape().TotalSize() }

// Rows returns the size of the first dimension, or 0 for a rank-0
// tensor.
func (t *Tensor) Rows() int {
	shape := t.dense.Shape()
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}

// Data returns the raw row-major backing slice; callers must not
// retain it past the Tensor's lifetime if the Tensor is later mutated
// in place.
func (t *Tensor) Data() []float32 {
	return t.dense.Data().([]float32)
}

// Dense returns the underlying gorgonia tensor, for callers (e.g. the
// Network collaborator) that need direct interop with the gorgonia
// ecosystem.
func (t *Tensor) Dense() *gt.Dense { return t.dense }

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) (float32, error) {
	v, err := t.dense.At(idx...)
	if err != nil {
		return 0, fmt.Errorf("tensor.At: %w", err)
	}
	return v.(float32), nil
}

// SetAt sets the element at the given multi-index.
func (t *Tensor) SetAt(v float32, idx ...int) error {
	if err := t.dense.SetAt(v, idx...); err != nil {
		return fmt.Errorf("tensor.SetAt: %w", err)
	}
	return nil
}

// IntAt returns the element at row i, column 0 of an Int-kind tensor
// of shape [n, 1], truncated to int. This is the shape convention used
// by action columns throughout the engine (§3: actions have scalar
// shape [1]).
func (t *Tensor) IntAt(i int) (int, error) {
	v, err := t.At(i, 0)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Clone returns a deep copy of the Tensor.
func (t *Tensor) Clone() *Tensor {
	data := t.Data()
	cp := make([]float32, len(data))
	copy(cp, data)
	return &Tensor{kind: t.kind, dense: gt.New(gt.WithShape(t.Shape()...), gt.WithBacking(cp))}
}

// RowSlice returns a new Tensor containing rows [from, to) of the
// receiver, sharing no backing memory with the original.
func (t *Tensor) RowSlice(from, to int) (*Tensor, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor.RowSlice: cannot slice a rank-0 tensor")
	}
	if from < 0 || to > shape[0] || from > to {
		return nil, fmt.Errorf("tensor.RowSlice: invalid range [%d,%d) for %d rows", from, to, shape[0])
	}
	rowSize := 1
	for _, d := range shape[1:] {
		rowSize *= d
	}
	data := t.Data()
	out := make([]float32, (to-from)*rowSize)
	copy(out, data[from*rowSize:to*rowSize])
	newShape := append([]int{to - from}, shape[1:]...)
	return New(t.kind, newShape, out)
}

// Unsqueeze0 returns a new Tensor with a leading dimension of size 1
// prepended to the shape, holding a copy of the same row-major data — used to
// turn a single unbatched signal into a batch of one row.
func (t *Tensor) Unsqueeze0() *Tensor {
	shape := append([]int{1}, t.Shape()...)
	tens, _ := New(t.kind, shape, t.Data())
	return tens
}

// Unsqueeze0 applies Tensor.Unsqueeze0 to every member.
func (m Map) Unsqueeze0() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Unsqueeze0()
	}
	return out
}

// Concat appends rows of other after the receiver's rows, returning a
// new Tensor. Both tensors must share every dimension except the
// first.
func Concat(a, b *Tensor) (*Tensor, error) {
	as, bs := a.Shape(), b.Shape()
	if len(as) != len(bs) {
		return nil, fmt.Errorf("tensor.Concat: rank mismatch %v vs %v", as, bs)
	}
	for i := 1; i < len(as); i++ {
		if as[i] != bs[i] {
			return nil, fmt.Errorf("tensor.Concat: shape mismatch %v vs %v", as, bs)
		}
	}
	out := make([]float32, 0, len(a.Data())+len(b.Data()))
	out = append(out, a.Data()...)
	out = append(out, b.Data()...)
	newShape := append([]int{as[0] + bs[0]}, as[1:]...)
	return New(a.kind, newShape, out)
}

// Column64 returns the contents of a [n, 1]-shaped Tensor as a
// float64 slice, for interop with the float64-based advantage math.
func (t *Tensor) Column64() ([]float64, error) {
	shape := t.Shape()
	if len(shape) != 2 || shape[1] != 1 {
		return nil, fmt.Errorf("tensor.Column64: expected shape [n,1], got %v", shape)
	}
	data := t.Data()
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}

// NewColumn builds a [n, 1]-shaped Tensor from a float64 slice.
func NewColumn(kind Kind, values []float64) (*Tensor, error) {
	backing := make([]float32, len(values))
	for i, v := range values {
		backing[i] = float32(v)
	}
	return New(kind, []int{len(values), 1}, backing)
}

// Map is an ordered-by-use mapping from signal/head name to Tensor, the
// runtime currency passed between KeyedFileMap, ActionMaskMaterializer,
// the Agent and the Network collaborator.
type Map map[string]*Tensor

// Clone returns a deep copy of the Map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// RowSlice returns a Map containing rows [from, to) of every member.
func (m Map) RowSlice(from, to int) (Map, error) {
	out := make(Map, len(m))
	for k, v := range m {
		s, err := v.RowSlice(from, to)
		if err != nil {
			return nil, fmt.Errorf("tensor.Map.RowSlice: member %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// Rows returns the number of rows shared by every member of the Map,
// or an error if the Map is empty or the members disagree.
func (m Map) Rows() (int, error) {
	if len(m) == 0 {
		return 0, fmt.Errorf("tensor.Map.Rows: empty map")
	}
	rows := -1
	for k, v := range m {
		if rows == -1 {
			rows = v.Rows()
			continue
		}
		if v.Rows() != rows {
			return 0, fmt.Errorf("tensor.Map.Rows: member %q has %d rows, expected %d", k, v.Rows(), rows)
		}
	}
	return rows, nil
}
