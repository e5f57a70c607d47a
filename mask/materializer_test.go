package mask

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/m-marini/wheellyj-sub008/binarray"
	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/tensor"
)

func TestOneHot(t *testing.T) {
	actions, err := tensor.New(tensor.Int, []int{3, 1}, []float32{0, 2, 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := OneHot(actions, 3)
	if err != nil {
		t.Fatalf("OneHot: %v", err)
	}
	want := []float32{1, 0, 0, 0, 0, 1, 0, 1, 0}
	got := out.Data()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOneHotRejectsOutOfRange(t *testing.T) {
	actions, _ := tensor.New(tensor.Int, []int{1, 1}, []float32{5})
	if _, err := OneHot(actions, 3); err == nil {
		t.Fatal("expected error for out-of-range action")
	} else if !errors.Is(err, coreerr.InvalidAction) {
		t.Fatalf("expected coreerr.InvalidAction, got %v", err)
	}
}

func TestMaterializeOneStreams(t *testing.T) {
	dir := t.TempDir()
	src, err := binarray.Open(filepath.Join(dir, "src.bin"))
	if err != nil {
		t.Fatalf("Open src: %v", err)
	}
	defer src.Close()

	actions, _ := tensor.New(tensor.Float, []int{5, 1}, []float32{0, 1, 2, 1, 0})
	if err := src.Write(actions); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dst, err := binarray.Open(filepath.Join(dir, "dst.bin"))
	if err != nil {
		t.Fatalf("Open dst: %v", err)
	}
	defer dst.Close()

	// chunkSize smaller than total rows exercises the streaming loop.
	if err := MaterializeOne(src, dst, 3, 2); err != nil {
		t.Fatalf("MaterializeOne: %v", err)
	}

	if err := dst.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := dst.Read(10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		0, 1, 0,
		1, 0, 0,
	}
	data := got.Data()
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("data[%d] = %v, want %v", i, data[i], want[i])
		}
	}
}

func TestMaterializeBuildsOnePerHead(t *testing.T) {
	root := t.TempDir()
	tmp := t.TempDir()

	steer, err := binarray.Open(filepath.Join(root, "actions", "steer", "data.bin"))
	if err != nil {
		t.Fatalf("Open steer: %v", err)
	}
	a1, _ := tensor.New(tensor.Float, []int{2, 1}, []float32{0, 1})
	if err := steer.Write(a1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := steer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	speed, err := binarray.Open(filepath.Join(root, "actions", "speed", "data.bin"))
	if err != nil {
		t.Fatalf("Open speed: %v", err)
	}
	a2, _ := tensor.New(tensor.Float, []int{2, 1}, []float32{2, 0})
	if err := speed.Write(a2); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := speed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	heads := []Head{
		{Name: "steer", Cardinality: 2},
		{Name: "speed", Cardinality: 3},
	}
	results, err := Materialize(context.Background(), root, tmp, heads, 100)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	defer func() {
		for _, s := range results {
			s.Close()
		}
	}()

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	steerOut, ok := results["steer"]
	if !ok {
		t.Fatal("missing steer result")
	}
	size, err := steerOut.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 2 {
		t.Fatalf("steer Size() = %d, want 2", size)
	}
}

func TestMaterializeMissingDataset(t *testing.T) {
	root := t.TempDir()
	tmp := t.TempDir()
	heads := []Head{{Name: "missing", Cardinality: 2}}
	_, err := Materialize(context.Background(), root, tmp, heads, 10)
	if err == nil {
		t.Fatal("expected error for missing action column")
	}
	if !errors.Is(err, coreerr.MissingDataset) {
		t.Fatalf("err = %v, want coreerr.MissingDataset", err)
	}
}
