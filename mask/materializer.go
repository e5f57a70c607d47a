// Package mask implements the ActionMaskMaterializer: converting an
// integer action column into a one-hot mask column sized by the
// network's action output dimension (spec §4.3).
package mask

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-marini/wheellyj-sub008/binarray"
	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/tensor"
	"github.com/m-marini/wheellyj-sub008/workerpool"
)

// Head names one action head and the cardinality k of its output.
type Head struct {
	Name        string
	Cardinality int
}

// MaterializeOne streams action values from src into a one-hot mask
// column of width k written to dst, chunkSize rows at a time so memory
// use is bounded regardless of dataset size (spec §4.3: "bounded
// memory window").
func MaterializeOne(src, dst *binarray.Store, k, chunkSize int) error {
	if err := src.Seek(0); err != nil {
		return err
	}
	for {
		actions, err := src.ReadAs(chunkSize, tensor.Int)
		if err != nil {
			return err
		}
		if actions == nil {
			break
		}
		n := actions.Rows()
		out := make([]float32, n*k)
		for i := 0; i < n; i++ {
			v, err := actions.IntAt(i)
			if err != nil {
				return err
			}
			if v < 0 || v >= k {
				return fmt.Errorf("mask: action value %d out of range [0,%d): %w", v, k, coreerr.InvalidAction)
			}
			out[i*k+v] = 1
		}
		chunk, err := tensor.New(tensor.Float, []int{n, k}, out)
		if err != nil {
			return err
		}
		if err := dst.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// OneHot converts an in-memory Int-kind [n,1] action column directly
// into a [n,k] one-hot float32 mask tensor, without going through a
// file — used by Agent.TrainByTrajectory where the window already
// lives in memory.
func OneHot(actions *tensor.Tensor, k int) (*tensor.Tensor, error) {
	n := actions.Rows()
	out := make([]float32, n*k)
	for i := 0; i < n; i++ {
		v, err := actions.IntAt(i)
		if err != nil {
			return nil, err
		}
		if v < 0 || v >= k {
			return nil, fmt.Errorf("mask: action value %d out of range [0,%d): %w", v, k, coreerr.InvalidAction)
		}
		out[i*k+v] = 1
	}
	return tensor.New(tensor.Float, []int{n, k}, out)
}

// Materialize builds one mask file per head from
// datasetRoot/actions/<name>/data.bin, writing results under tmpRoot
// keyed by action name, running one task per head concurrently (spec
// §4.3 and §5 surface 1).
func Materialize(ctx context.Context, datasetRoot, tmpRoot string, heads []Head, chunkSize int) (map[string]*binarray.Store, error) {
	tasks := make([]workerpool.Task[string, *binarray.Store], 0, len(heads))
	for _, h := range heads {
		h := h
		tasks = append(tasks, workerpool.Task[string, *binarray.Store]{
			Key: h.Name,
			Run: func(ctx context.Context) (*binarray.Store, error) {
				srcPath := filepath.Join(datasetRoot, "actions", h.Name, "data.bin")
				if _, err := os.Stat(srcPath); err != nil {
					return nil, fmt.Errorf("mask: action column %q: %w", h.Name, coreerr.MissingDataset)
				}
				src, err := binarray.Open(srcPath)
				if err != nil {
					return nil, fmt.Errorf("mask: opening action column %q: %w", h.Name, err)
				}
				defer src.Close()

				dstPath := filepath.Join(tmpRoot, h.Name, "data.bin")
				dst, err := binarray.Open(dstPath)
				if err != nil {
					return nil, err
				}
				if err := MaterializeOne(src, dst, h.Cardinality, chunkSize); err != nil {
					dst.Close()
					return nil, err
				}
				if err := dst.Seek(0); err != nil {
					dst.Close()
					return nil, err
				}
				return dst, nil
			},
		})
	}

	return workerpool.RunAll(ctx, tasks)
}
