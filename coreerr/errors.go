// Package coreerr implements the core's error taxonomy as sentinel
// Kind values that can be matched with errors.Is, while still allowing
// every error to carry the offending path/key and conflicting
// shapes/sizes as required by spec §7.
package coreerr

import "errors"

// Kind is a sentinel identifying one of the core's error categories.
// Kinds are compared with errors.Is after being wrapped with
// fmt.Errorf("...: %w", kind).
type Kind error

var (
	// IOError wraps file open/read/write failures.
	IOError Kind = errors.New("IO_ERROR")

	// ShapeMismatch is returned when a tensor's shape conflicts with a
	// file header or a peer file's shape.
	ShapeMismatch Kind = errors.New("SHAPE_MISMATCH")

	// MissingShape is returned when reading or seeking a
	// BinArrayStore that has no header yet.
	MissingShape Kind = errors.New("MISSING_SHAPE")

	// MissingDataset is returned when a required dataset column is
	// absent from a dataset directory.
	MissingDataset Kind = errors.New("MISSING_DATASET")

	// ConfigError is returned for Agent-construction spec violations.
	ConfigError Kind = errors.New("CONFIG_ERROR")

	// InvalidAction is returned when an action value lies outside
	// [0, k) during mask materialization.
	InvalidAction Kind = errors.New("INVALID_ACTION")

	// CycleDetected is surfaced by the network-topology consumer when
	// the topology graph is cyclic. The network itself is an external
	// collaborator; the core only re-exports the sentinel so callers
	// can errors.Is against it uniformly.
	CycleDetected Kind = errors.New("CYCLE_DETECTED")

	// BatchEmpty is returned for an empty batch passed to the
	// AdvantageEngine.
	BatchEmpty Kind = errors.New("BATCH_EMPTY")
)
