package batchtrainer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/m-marini/wheellyj-sub008/agent"
	"github.com/m-marini/wheellyj-sub008/binarray"
	"github.com/m-marini/wheellyj-sub008/experiment/checkpointer"
	"github.com/m-marini/wheellyj-sub008/keyedfile"
	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/mask"
)

// BatchTrainer coordinates off-line training from a dataset directory
// (spec §4.6): one action-mask materialization pass, then an
// epoch/mini-batch loop driving Agent.TrainMiniBatch or
// Agent.TrainBatch.
type BatchTrainer struct {
	mu sync.Mutex

	root      string
	tmpRoot   string
	chunkSize int

	agent      *agent.Agent
	publisher  *kpi.Publisher
	checkpoint checkpointer.Checkpointer

	masks   map[string]*binarray.Store
	stopped bool

	log *log.Logger
}

// New returns a BatchTrainer reading from datasetRoot, materializing
// mask files under tmpRoot, and driving ag. checkpoint may be nil to
// disable periodic (between-epoch) checkpointing (spec §4.12).
func New(datasetRoot, tmpRoot string, chunkSize int, ag *agent.Agent, publisher *kpi.Publisher, checkpoint checkpointer.Checkpointer) *BatchTrainer {
	return &BatchTrainer{
		root:       datasetRoot,
		tmpRoot:    tmpRoot,
		chunkSize:  chunkSize,
		agent:      ag,
		publisher:  publisher,
		checkpoint: checkpoint,
		log:        log.New(os.Stderr).With("component", "batchtrainer"),
	}
}

// Prepare computes each action head's output size from the Agent's
// network and materializes its mask file under tmpRoot, one task per
// head running concurrently (spec §4.3, §4.6).
func (t *BatchTrainer) Prepare(ctx context.Context) error {
	actionsRaw, err := keyedfile.Create(t.root, "actions")
	if err != nil {
		return err
	}
	names := actionsRaw.Children("actions").Keys()
	if err := actionsRaw.Close(); err != nil {
		return err
	}

	heads := make([]mask.Head, 0, len(names))
	for _, name := range names {
		k, err := t.agent.HeadSize(name)
		if err != nil {
			return fmt.Errorf("batchtrainer: resolving head size for %q: %w", name, err)
		}
		heads = append(heads, mask.Head{Name: name, Cardinality: k})
	}

	masks, err := mask.Materialize(ctx, t.root, t.tmpRoot, heads, t.chunkSize)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.masks = masks
	t.mu.Unlock()
	return nil
}
