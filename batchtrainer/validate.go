// Package batchtrainer implements BatchTrainer: off-line training
// coordination from a dataset directory (spec §4.6).
package batchtrainer

import (
	"fmt"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/keyedfile"
)

// Validate opens D/s0/..., D/actions/..., D/reward (and D/terminal if
// present), and asserts the row-count relationships spec §4.6 and §6
// require: s0 holds n+1 rows, actions/reward/terminal hold n rows.
func (t *BatchTrainer) Validate() error {
	all, err := keyedfile.Create(t.root, "s0", "actions", "reward", "terminal")
	if err != nil {
		return err
	}
	defer all.Close()

	s0 := all.Children("s0")
	actionsMap := all.Children("actions")
	if s0.Len() == 0 {
		return fmt.Errorf("batchtrainer: dataset %q has no s0 columns: %w", t.root, coreerr.MissingDataset)
	}
	if actionsMap.Len() == 0 {
		return fmt.Errorf("batchtrainer: dataset %q has no action columns: %w", t.root, coreerr.MissingDataset)
	}
	rewardStore, ok := all.Get("reward")
	if !ok {
		return fmt.Errorf("batchtrainer: dataset %q missing reward column: %w", t.root, coreerr.MissingDataset)
	}

	if err := s0.ValidateSizes(s0.Keys()); err != nil {
		return err
	}
	if err := actionsMap.ValidateSizes(actionsMap.Keys()); err != nil {
		return err
	}

	s0Size, err := firstSize(s0)
	if err != nil {
		return err
	}
	actionsSize, err := firstSize(actionsMap)
	if err != nil {
		return err
	}
	rewardSize, err := rewardStore.Size()
	if err != nil {
		return err
	}
	if actionsSize != rewardSize {
		return fmt.Errorf("batchtrainer: actions row count %d does not match reward row count %d: %w",
			actionsSize, rewardSize, coreerr.ShapeMismatch)
	}
	if s0Size != rewardSize+1 {
		return fmt.Errorf("batchtrainer: s0 row count %d does not equal reward row count %d + 1: %w",
			s0Size, rewardSize, coreerr.ShapeMismatch)
	}
	if terminalStore, ok := all.Get("terminal"); ok {
		terminalSize, err := terminalStore.Size()
		if err != nil {
			return err
		}
		if terminalSize != rewardSize {
			return fmt.Errorf("batchtrainer: terminal row count %d does not match reward row count %d: %w",
				terminalSize, rewardSize, coreerr.ShapeMismatch)
		}
	}
	return nil
}

func firstSize(m *keyedfile.Map) (int64, error) {
	keys := m.Keys()
	store, ok := m.Get(keys[0])
	if !ok {
		return 0, fmt.Errorf("batchtrainer: missing member %q: %w", keys[0], coreerr.MissingDataset)
	}
	return store.Size()
}
