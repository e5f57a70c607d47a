// Package checkpointer implements periodic, step-counted checkpoints
// independent of BatchTrainer's per-epoch auto-save (spec §4.12).
package checkpointer

// Checkpointer decides, given the current mini-batch step count,
// whether to take a checkpoint.
type Checkpointer interface {
	Checkpoint(step int) error
}
