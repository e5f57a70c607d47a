// Package keyedfile implements KeyedFileMap: a mapping from dotted key
// paths to binarray.Store instances, built by walking a filesystem
// tree, with parallel batched reads (spec §4.2).
package keyedfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-marini/wheellyj-sub008/binarray"
	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/tensor"
	"github.com/m-marini/wheellyj-sub008/workerpool"
)

// Map is a KeyedFileMap: dotted key -> open binarray.Store.
type Map struct {
	root    string
	members map[string]*binarray.Store
}

// Create walks the filesystem tree rooted at path and opens a Store
// for every descendant directory containing data.bin whose dotted key
// equals one of keys or starts with "k.". If keys is empty, every
// data.bin found is included.
func Create(path string, keys ...string) (*Map, error) {
	members := make(map[string]*binarray.Store)

	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("keyedfile: walking %q: %w: %v", path, coreerr.IOError, err)
		}
		if d.IsDir() || filepath.Base(p) != "data.bin" {
			return nil
		}
		rel, err := filepath.Rel(path, filepath.Dir(p))
		if err != nil {
			return fmt.Errorf("keyedfile: relativizing %q: %w: %v", p, coreerr.IOError, err)
		}
		key := strings.ReplaceAll(rel, string(filepath.Separator), ".")

		if len(keys) > 0 && !matchesAny(key, keys) {
			return nil
		}

		store, err := binarray.Open(p)
		if err != nil {
			return err
		}
		members[key] = store
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Map{root: path, members: members}, nil
}

// FromStores builds a Map directly from an already-open set of
// members, used to compose a KeyedFileMap-shaped view over stores
// produced by a prior step (e.g. ActionMaskMaterializer's output)
// rather than by walking a filesystem tree.
func FromStores(members map[string]*binarray.Store) *Map {
	return &Map{members: members}
}

func matchesAny(key string, keys []string) bool {
	for _, k := range keys {
		if key == k || strings.HasPrefix(key, k+".") {
			return true
		}
	}
	return false
}

// Keys returns the member keys.
func (m *Map) Keys() []string {
	out := make([]string, 0, len(m.members))
	for k := range m.members {
		out = append(out, k)
	}
	return out
}

// Get returns the member Store for key, if any.
func (m *Map) Get(key string) (*binarray.Store, bool) {
	s, ok := m.members[key]
	return s, ok
}

// Len returns the number of members.
func (m *Map) Len() int { return len(m.members) }

// Children rekeys the Map by stripping the "parent." prefix; members
// without that prefix are dropped.
func (m *Map) Children(parent string) *Map {
	prefix := parent + "."
	out := make(map[string]*binarray.Store)
	for k, v := range m.members {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return &Map{root: m.root, members: out}
}

// Read reads up to n records from every member in parallel using the
// workerpool. It returns the assembled tensor.Map atomically iff every
// member returned a non-empty tensor; otherwise it returns nil, nil.
func (m *Map) Read(ctx context.Context, n int) (tensor.Map, error) {
	if len(m.members) == 0 {
		return nil, nil
	}

	tasks := make([]workerpool.Task[string, *tensor.Tensor], 0, len(m.members))
	for key, store := range m.members {
		key, store := key, store
		tasks = append(tasks, workerpool.Task[string, *tensor.Tensor]{
			Key: key,
			Run: func(ctx context.Context) (*tensor.Tensor, error) {
				return store.Read(n)
			},
		})
	}

	results, err := workerpool.RunAll(ctx, tasks)
	if err != nil {
		return nil, err
	}

	out := make(tensor.Map, len(results))
	for key, t := range results {
		if t == nil || t.Rows() == 0 {
			return nil, nil
		}
		out[key] = t
	}
	return out, nil
}

// Seek seeks every member to record index i.
func (m *Map) Seek(i int64) error {
	for key, store := range m.members {
		if err := store.Seek(i); err != nil {
			return fmt.Errorf("keyedfile: seek %q: %w", key, err)
		}
	}
	return nil
}

// Reset seeks every member back to the start.
func (m *Map) Reset() error { return m.Seek(0) }

// Flush flushes every member.
func (m *Map) Flush() error {
	for key, store := range m.members {
		if err := store.Flush(); err != nil {
			return fmt.Errorf("keyedfile: flush %q: %w", key, err)
		}
	}
	return nil
}

// Close closes every member.
func (m *Map) Close() error {
	for key, store := range m.members {
		if err := store.Close(); err != nil {
			return fmt.Errorf("keyedfile: close %q: %w", key, err)
		}
	}
	return nil
}

// ValidateShapes asserts every named member shares the same shape
// (ignoring the record-count dimension), else fails with
// coreerr.ShapeMismatch listing the offenders and the reference.
func (m *Map) ValidateShapes(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ref, ok := m.members[keys[0]]
	if !ok {
		return fmt.Errorf("keyedfile: validate shapes: missing member %q: %w", keys[0], coreerr.MissingDataset)
	}
	refShape := ref.Shape()

	var offenders []string
	for _, k := range keys[1:] {
		store, ok := m.members[k]
		if !ok {
			return fmt.Errorf("keyedfile: validate shapes: missing member %q: %w", k, coreerr.MissingDataset)
		}
		if !suffixEqual(refShape, store.Shape()) {
			offenders = append(offenders, fmt.Sprintf("%s:%v", k, store.Shape()))
		}
	}
	if len(offenders) > 0 {
		return fmt.Errorf("keyedfile: shape mismatch, reference %s:%v, offenders %v: %w",
			keys[0], refShape, offenders, coreerr.ShapeMismatch)
	}
	return nil
}

// ValidateSizes asserts every named member has the same record count,
// else fails with coreerr.ShapeMismatch listing the offenders and the
// reference.
func (m *Map) ValidateSizes(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ref, ok := m.members[keys[0]]
	if !ok {
		return fmt.Errorf("keyedfile: validate sizes: missing member %q: %w", keys[0], coreerr.MissingDataset)
	}
	refSize, err := ref.Size()
	if err != nil {
		return err
	}

	var offenders []string
	for _, k := range keys[1:] {
		store, ok := m.members[k]
		if !ok {
			return fmt.Errorf("keyedfile: validate sizes: missing member %q: %w", k, coreerr.MissingDataset)
		}
		size, err := store.Size()
		if err != nil {
			return err
		}
		if size != refSize {
			offenders = append(offenders, fmt.Sprintf("%s:%d", k, size))
		}
	}
	if len(offenders) > 0 {
		return fmt.Errorf("keyedfile: size mismatch, reference %s:%d, offenders %v: %w",
			keys[0], refSize, offenders, coreerr.ShapeMismatch)
	}
	return nil
}

func suffixEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
