// Package signal implements the state/action interface declarations:
// SignalSpec, SignalSpecMap, and the Map runtime value that flows
// between the environment collaborator and the Agent.
package signal

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// Type distinguishes the two kinds of SignalSpec.
type Type string

const (
	IntType   Type = "int"
	FloatType Type = "float"
)

// Spec describes the fixed shape (and, for integer signals, the
// cardinality; for float signals, the bounds) of one named signal.
//
// Spec is JSON (de)serialized polymorphically through Type, following
// the teacher's reflection-based Config unmarshalling pattern
// (solver.Solver.UnmarshalJSON / unmarshalConfig).
type Spec interface {
	Kind() Type
	Shape() []int
	validate() error
}

// IntSpec describes an integer (categorical) signal, e.g. an action.
type IntSpec struct {
	ShapeValue []int `json:"shape"`
	NumValues  int   `json:"numValues"`
}

func (s IntSpec) Kind() Type    { return IntType }
func (s IntSpec) Shape() []int  { return s.ShapeValue }
func (s IntSpec) validate() error {
	if s.NumValues <= 0 {
		return fmt.Errorf("signal: int spec has non-positive numValues %d: %w", s.NumValues, coreerr.ConfigError)
	}
	return nil
}

// FloatSpec describes a continuous observation signal.
type FloatSpec struct {
	ShapeValue []int   `json:"shape"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

func (s FloatSpec) Kind() Type   { return FloatType }
func (s FloatSpec) Shape() []int { return s.ShapeValue }
func (s FloatSpec) validate() error {
	if s.Min > s.Max {
		return fmt.Errorf("signal: float spec has min %v > max %v: %w", s.Min, s.Max, coreerr.ConfigError)
	}
	return nil
}

// ActionSpec is the invariant-checked alias for a Spec used as an
// action: it must be IntSpec with scalar shape [1] (spec §3).
func ActionSpec(s Spec) error {
	if s.Kind() != IntType {
		return fmt.Errorf("signal: action spec must be integer, got %v: %w", s.Kind(), coreerr.ConfigError)
	}
	shape := s.Shape()
	if len(shape) != 1 || shape[0] != 1 {
		return fmt.Errorf("signal: action spec must have scalar shape [1], got %v: %w", shape, coreerr.ConfigError)
	}
	return nil
}

// SpecMap is an ordered-by-use mapping from signal name to Spec; two
// SpecMaps define the state interface and the action interface.
type SpecMap map[string]Spec

// Validate checks every member's internal invariants.
func (m SpecMap) Validate() error {
	for name, s := range m {
		if err := s.validate(); err != nil {
			return fmt.Errorf("signal: spec %q invalid: %w", name, err)
		}
	}
	return nil
}

// jsonSpec is the wire representation of a single Spec: a Type
// discriminator plus the opaque Config payload, mirroring
// solver.Solver's {Type, Config} JSON shape.
type jsonSpec struct {
	Type   Type            `json:"type"`
	Config json.RawMessage `json:"config"`
}

// MarshalJSON implements json.Marshaler for SpecMap.
func (m SpecMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]jsonSpec, len(m))
	for name, s := range m {
		cfg, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("signal: marshal spec %q: %w", name, err)
		}
		out[name] = jsonSpec{Type: s.Kind(), Config: cfg}
	}
	return json.Marshal(out)
}

// specTypes maps the Type discriminator to its concrete Go type, used
// by reflection to decode the polymorphic Config payload — the same
// technique as solver.unmarshalConfig's customTypes table.
var specTypes = map[Type]reflect.Type{
	IntType:   reflect.TypeOf(IntSpec{}),
	FloatType: reflect.TypeOf(FloatSpec{}),
}

// UnmarshalJSON implements json.Unmarshaler for SpecMap.
func (m *SpecMap) UnmarshalJSON(data []byte) error {
	var raw map[string]jsonSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("signal: unmarshal spec map: %w", err)
	}

	out := make(SpecMap, len(raw))
	for name, js := range raw {
		rt, ok := specTypes[js.Type]
		if !ok {
			return fmt.Errorf("signal: unknown spec type %q for %q: %w", js.Type, name, coreerr.ConfigError)
		}
		value := reflect.New(rt).Interface()
		if err := json.Unmarshal(js.Config, value); err != nil {
			return fmt.Errorf("signal: unmarshal spec %q: %w", name, err)
		}
		out[name] = reflect.ValueOf(value).Elem().Interface().(Spec)
	}
	*m = out
	return nil
}

// Map is a runtime value conforming to a SpecMap: signal name to
// Tensor.
type Map = tensor.Map

// ValidateValue checks that v conforms to spec: every name in spec is
// present in v with the declared shape.
func (spec SpecMap) ValidateValue(v Map) error {
	for name, s := range spec {
		t, ok := v[name]
		if !ok {
			return fmt.Errorf("signal: value missing signal %q: %w", name, coreerr.MissingDataset)
		}
		want := s.Shape()
		got := t.Shape()
		if !shapeEqualSuffix(want, got) {
			return fmt.Errorf("signal: signal %q shape %v does not match spec %v: %w", name, got, want, coreerr.ShapeMismatch)
		}
	}
	return nil
}

// shapeEqualSuffix reports whether got equals want, ignoring a
// leading batch dimension on got when got has one extra dimension.
func shapeEqualSuffix(want, got []int) bool {
	if len(got) == len(want) {
		for i := range want {
			if want[i] != got[i] {
				return false
			}
		}
		return true
	}
	if len(got) == len(want)+1 {
		for i := range want {
			if want[i] != got[i+1] {
				return false
			}
		}
		return true
	}
	return false
}
