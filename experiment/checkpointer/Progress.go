package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Progress is the small piece of BatchTrainer resume state that lives
// alongside, but separate from, the Agent's own agent.yml/agent.bin
// (spec §6): which epoch and mini-batch step training had reached.
// This is not part of any byte-exact format the spec names, so it is
// encoded with the teacher's own gob idiom rather than invented
// ad-hoc.
type Progress struct {
	Epoch     int
	Step      int
	AvgReward float64
}

// SaveProgress gob-encodes p to path, overwriting any existing file.
func SaveProgress(path string, p Progress) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpointer: create %q: %v", path, err)
	}
	defer out.Close()
	if err := gob.NewEncoder(out).Encode(p); err != nil {
		return fmt.Errorf("checkpointer: encode %q: %v", path, err)
	}
	return nil
}

// LoadProgress decodes a Progress previously written by SaveProgress.
func LoadProgress(path string) (Progress, error) {
	in, err := os.Open(path)
	if err != nil {
		return Progress{}, fmt.Errorf("checkpointer: open %q: %v", path, err)
	}
	defer in.Close()
	var p Progress
	if err := gob.NewDecoder(in).Decode(&p); err != nil {
		return Progress{}, fmt.Errorf("checkpointer: decode %q: %v", path, err)
	}
	return p, nil
}
