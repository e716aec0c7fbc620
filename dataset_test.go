package cyclegan_go

import (
	"image"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

func writeImage(t *testing.T, fname string, img image.Image) {
	f, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	switch filepath.Ext(fname) {
	case ".jpg", ".jpeg", ".JPG":
		err = jpeg.Encode(f, img, nil)
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatal(err)
	}
}

func TestFolderDataset(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "c.png"), gradientImage(40, 30))
	writeImage(t, filepath.Join(dir, "a.jpg"), gradientImage(32, 32))
	writeImage(t, filepath.Join(dir, "b.JPG"), gradientImage(48, 32))
	writeImage(t, filepath.Join(dir, "d.jpeg"), gradientImage(32, 64))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	pipeline, err := DefaultPipeline(32)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := NewFolderDataset(dir, pipeline)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 4 {
		t.Fatalf("Expected 4 images, got %d: %v", ds.Len(), ds.Paths)
	}
	expectedNames := []string{"a.jpg", "b.JPG", "c.png", "d.jpeg"}
	for i, p := range ds.Paths {
		if filepath.Base(p) != expectedNames[i] {
			t.Errorf("Path #%d: expected %s, got %s", i, expectedNames[i], filepath.Base(p))
		}
	}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < ds.Len(); i++ {
		sample, label, err := ds.Item(i, rng)
		if err != nil {
			t.Fatal(err)
		}
		if label != 0 {
			t.Errorf("Item #%d: expected label 0, got %d", i, label)
		}
		if !sample.Shape().Eq(tensor.Shape{3, 32, 32}) {
			t.Errorf("Item #%d: expected shape (3, 32, 32), got %v", i, sample.Shape())
		}
	}
	if _, _, err := ds.Item(4, rng); err == nil {
		t.Errorf("Expected out of range error")
	}
}

func TestFolderDatasetErrors(t *testing.T) {
	pipeline, err := DefaultPipeline(32)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFolderDataset(filepath.Join(t.TempDir(), "missing"), pipeline); err == nil {
		t.Errorf("Expected error for missing folder")
	}

	empty := t.TempDir()
	if _, err := NewFolderDataset(empty, pipeline); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Expected ErrEmptyDataset for empty folder, got %v", err)
	}

	broken := t.TempDir()
	if err := os.WriteFile(filepath.Join(broken, "broken.png"), []byte("definitely not png"), 0o644); err != nil {
		t.Fatal(err)
	}
	ds, err := NewFolderDataset(broken, pipeline)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ds.Item(0, rand.New(rand.NewSource(1))); err == nil {
		t.Errorf("Expected decode error")
	}
}

// indexDataset Yields (C, H, W) tensors filled with sample index, label equals index
type indexDataset struct {
	n       int
	c, h, w int
	failAt  int
}

func newIndexDataset(n int) *indexDataset {
	return &indexDataset{n: n, c: 1, h: 2, w: 2, failAt: -1}
}

func (d *indexDataset) Len() int { return d.n }

func (d *indexDataset) Shape() SampleShape {
	return SampleShape{Kind: KindTensor, Channels: d.c, Height: d.h, Width: d.w}
}

func (d *indexDataset) Item(idx int, rng *rand.Rand) (*tensor.Dense, int, error) {
	if idx == d.failAt {
		return nil, 0, errors.New("broken sample")
	}
	data := make([]float64, d.c*d.h*d.w)
	for i := range data {
		data[i] = float64(idx)
	}
	return tensor.New(tensor.WithShape(d.c, d.h, d.w), tensor.WithBacking(data)), idx, nil
}

func TestRandomSubset(t *testing.T) {
	ds := newIndexDataset(50)
	subset, err := RandomSubset(ds, 20, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if subset.Len() != 20 {
		t.Fatalf("Expected 20 samples, got %d", subset.Len())
	}
	seen := make(map[int]bool)
	for i := 0; i < subset.Len(); i++ {
		_, label, err := subset.Item(i, nil)
		if err != nil {
			t.Fatal(err)
		}
		if seen[label] {
			t.Fatalf("Sample %d is drawn twice", label)
		}
		seen[label] = true
	}
	if _, err := RandomSubset(ds, 51, rand.New(rand.NewSource(1))); err == nil {
		t.Errorf("Expected error when drawing more samples than dataset has")
	}
}

func TestRandomSplit(t *testing.T) {
	ds := newIndexDataset(1000)
	train, test, err := RandomSplit(ds, 0.8, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	if train.Len() != 800 || test.Len() != 200 {
		t.Fatalf("Expected 800/200 split, got %d/%d", train.Len(), test.Len())
	}
	seen := make(map[int]bool)
	for _, idx := range append(append([]int{}, train.Indices...), test.Indices...) {
		if seen[idx] {
			t.Fatalf("Sample %d is in both parts", idx)
		}
		seen[idx] = true
	}
	if len(seen) != 1000 {
		t.Errorf("Expected every sample to be in one of parts, got %d", len(seen))
	}

	odd := newIndexDataset(7)
	first, second, err := RandomSplit(odd, 0.8, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	if first.Len() != 5 || second.Len() != 2 {
		t.Errorf("Expected 5/2 split, got %d/%d", first.Len(), second.Len())
	}
	if _, _, err := RandomSplit(odd, 1.5, rand.New(rand.NewSource(7))); err == nil {
		t.Errorf("Expected error for fraction > 1")
	}
}

func TestDiscardLabels(t *testing.T) {
	ds := DiscardLabels(newIndexDataset(5))
	if ds.Len() != 5 {
		t.Fatalf("Expected 5 samples, got %d", ds.Len())
	}
	for i := 0; i < ds.Len(); i++ {
		sample, label, err := ds.Item(i, nil)
		if err != nil {
			t.Fatal(err)
		}
		if label != 0 {
			t.Errorf("Item #%d: expected label 0, got %d", i, label)
		}
		if v := sample.Data().([]float64)[0]; v != float64(i) {
			t.Errorf("Item #%d: sample must not be changed, got value %v", i, v)
		}
	}
}
