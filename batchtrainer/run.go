package batchtrainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-marini/wheellyj-sub008/agent"
	"github.com/m-marini/wheellyj-sub008/binarray"
	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/keyedfile"
	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

// Train runs num_epochs passes over the prepared dataset, reading
// batch_size+1 rows of s0 and batch_size rows of masks/reward/terminal
// per mini-batch, driving the Agent's training kernel, publishing
// progress, checkpointing, and auto-saving at each epoch boundary
// (spec §4.6). Prepare must have run first.
func (t *BatchTrainer) Train(ctx context.Context) error {
	t.mu.Lock()
	masks := t.masks
	t.mu.Unlock()
	if len(masks) == 0 {
		return fmt.Errorf("batchtrainer: Train called before Prepare: %w", coreerr.MissingDataset)
	}

	s0All, err := keyedfile.Create(t.root, "s0")
	if err != nil {
		return err
	}
	s0 := s0All.Children("s0")
	defer s0All.Close()

	rewardStore, err := binarray.Open(filepath.Join(t.root, "reward", "data.bin"))
	if err != nil {
		return err
	}
	defer rewardStore.Close()

	var terminalStore *binarray.Store
	if _, statErr := os.Stat(filepath.Join(t.root, "terminal", "data.bin")); statErr == nil {
		terminalStore, err = binarray.Open(filepath.Join(t.root, "terminal", "data.bin"))
		if err != nil {
			return err
		}
		defer terminalStore.Close()
	}

	masksMap := keyedfile.FromStores(masks)

	batchSize := t.agent.BatchSize()
	numEpochs := t.agent.NumEpochs()
	variant := t.agent.Variant()

	totalRows, err := rewardStore.Size()
	if err != nil {
		return err
	}
	numBatches := int((totalRows + int64(batchSize) - 1) / int64(batchSize))
	total := numBatches * numEpochs

	globalStep := 0
	for epoch := 0; epoch < numEpochs; epoch++ {
		if t.isStopped() {
			break
		}
		if err := s0.Reset(); err != nil {
			return err
		}
		if err := rewardStore.Seek(0); err != nil {
			return err
		}
		if err := masksMap.Reset(); err != nil {
			return err
		}
		if terminalStore != nil {
			if err := terminalStore.Seek(0); err != nil {
				return err
			}
		}

		processed := 0
		var s0Pos int64
		for {
			if t.isStopped() {
				break
			}
			s0Batch, err := s0.Read(ctx, batchSize+1)
			if err != nil {
				return err
			}
			if s0Batch == nil {
				break
			}
			maskBatch, err := masksMap.Read(ctx, batchSize)
			if err != nil {
				return err
			}
			rewardBatch, err := rewardStore.Read(batchSize)
			if err != nil {
				return err
			}
			if maskBatch == nil || rewardBatch == nil {
				break
			}
			n := rewardBatch.Rows()
			// s0Batch carries one row past the window; step back so the
			// next window starts on it.
			s0Pos += int64(n)
			if err := s0.Seek(s0Pos); err != nil {
				return err
			}

			var termBatch []bool
			if terminalStore != nil {
				tTensor, err := terminalStore.Read(n)
				if err != nil {
					return err
				}
				termBatch = toBoolSlice(tTensor)
			}

			processed++
			globalStep++

			var trainErr error
			if variant == agent.PPO {
				s0Only, sliceErr := s0Batch.RowSlice(0, n)
				if sliceErr != nil {
					return sliceErr
				}
				p0, baseErr := t.agent.BaselineProb(s0Only, maskBatch)
				if baseErr != nil {
					return baseErr
				}
				trainErr = t.agent.TrainMiniBatch(epoch, processed, total, s0Batch, maskBatch, rewardBatch, termBatch, p0)
			} else {
				trainErr = t.agent.TrainBatch(s0Batch, maskBatch, rewardBatch, termBatch)
			}
			if trainErr != nil {
				t.log.Error("mini-batch training failed", "epoch", epoch, "err", trainErr)
			}

			t.publishProgress(epoch, numEpochs, processed, total)

			if t.checkpoint != nil {
				if err := t.checkpoint.Checkpoint(globalStep); err != nil {
					t.log.Error("checkpoint failed", "err", err)
				}
			}
		}

		if err := t.agent.Save(); err != nil {
			t.log.Error("epoch auto-save failed", "epoch", epoch, "err", err)
		}
	}
	return nil
}

// Stop requests cancellation; the current mini-batch finishes, then
// Train returns at the next mini-batch or epoch boundary (spec §4.6).
func (t *BatchTrainer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *BatchTrainer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Close releases the materialized mask files and completes the shared
// KPI stream (spec §4.6).
func (t *BatchTrainer) Close() error {
	t.mu.Lock()
	masks := t.masks
	t.masks = nil
	t.mu.Unlock()

	var firstErr error
	for name, store := range masks {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("batchtrainer: closing mask %q: %w", name, err)
		}
	}
	if t.publisher != nil {
		t.publisher.Close()
	}
	return firstErr
}

func (t *BatchTrainer) publishProgress(epoch, numEpochs, processed, total int) {
	if t.publisher == nil {
		return
	}
	t.publisher.Publish(kpi.Event{"counters": map[string]int{
		"epoch":         epoch,
		"numEpochs":     numEpochs,
		"startStep":     processed,
		"numStepsParam": total,
	}})
}

func toBoolSlice(t *tensor.Tensor) []bool {
	if t == nil {
		return nil
	}
	data := t.Data()
	out := make([]bool, len(data))
	for i, v := range data {
		out[i] = v != 0
	}
	return out
}
