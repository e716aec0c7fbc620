package cyclegan_go

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Dataset Indexed collection of preprocessed samples
type Dataset interface {
	// Len Returns number of samples
	Len() int
	// Item Returns transformed sample (C, H, W) and its label. Random transforms must use provided rng
	Item(idx int, rng *rand.Rand) (*tensor.Dense, int, error)
	// Shape Returns shape of samples
	Shape() SampleShape
}

// ImageExtensions File extensions recognized by FolderDataset
var ImageExtensions = []string{".png", ".jpg", ".jpeg"}

// FolderDataset Images of a single folder (not recursive). Label is always 0
type FolderDataset struct {
	Paths    []string
	pipeline *Pipeline
}

// NewFolderDataset Lists image files of folder by extension. Files are sorted by name
func NewFolderDataset(folder string, pipeline *Pipeline) (*FolderDataset, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't list folder '%s'", folder))
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !hasImageExtension(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(folder, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, fmt.Sprintf("no images in '%s'", folder))
	}
	return &FolderDataset{Paths: paths, pipeline: pipeline}, nil
}

func hasImageExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range ImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Len Returns number of images
func (d *FolderDataset) Len() int { return len(d.Paths) }

// Shape Returns output shape of pipeline
func (d *FolderDataset) Shape() SampleShape { return d.pipeline.OutputShape() }

// Item Decodes and transforms idx-th image. Decode failure is returned as error
func (d *FolderDataset) Item(idx int, rng *rand.Rand) (*tensor.Dense, int, error) {
	if idx < 0 || idx >= len(d.Paths) {
		return nil, 0, fmt.Errorf("Index %d is out of range [0; %d)", idx, len(d.Paths))
	}
	img, err := decodeImage(d.Paths[idx])
	if err != nil {
		return nil, 0, err
	}
	t, err := d.pipeline.Apply(img, rng)
	if err != nil {
		return nil, 0, errors.Wrap(err, fmt.Sprintf("Can't transform '%s'", d.Paths[idx]))
	}
	return t, 0, nil
}

func decodeImage(fname string) (image.Image, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open image")
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't decode image '%s'", fname))
	}
	return img, nil
}

// Subset View on part of dataset defined by indices
type Subset struct {
	Source  Dataset
	Indices []int
}

// Len Returns number of selected samples
func (s *Subset) Len() int { return len(s.Indices) }

// Shape Returns shape of source samples
func (s *Subset) Shape() SampleShape { return s.Source.Shape() }

// Item Returns Indices[idx]-th sample of source
func (s *Subset) Item(idx int, rng *rand.Rand) (*tensor.Dense, int, error) {
	if idx < 0 || idx >= len(s.Indices) {
		return nil, 0, fmt.Errorf("Index %d is out of range [0; %d)", idx, len(s.Indices))
	}
	return s.Source.Item(s.Indices[idx], rng)
}

// RandomSubset Draws n distinct samples uniformly
func RandomSubset(ds Dataset, n int, rng *rand.Rand) (*Subset, error) {
	if n < 0 || n > ds.Len() {
		return nil, fmt.Errorf("Can't draw %d samples from dataset of size %d", n, ds.Len())
	}
	return &Subset{Source: ds, Indices: rng.Perm(ds.Len())[:n]}, nil
}

// RandomSplit Splits dataset into two disjoint random parts: first one has int(fraction*len) samples, second one has the rest
func RandomSplit(ds Dataset, fraction float64, rng *rand.Rand) (*Subset, *Subset, error) {
	if fraction < 0 || fraction > 1 {
		return nil, nil, fmt.Errorf("Fraction must be in [0; 1], but got %g", fraction)
	}
	total := ds.Len()
	first := int(fraction * float64(total))
	perm := rng.Perm(total)
	return &Subset{Source: ds, Indices: perm[:first]}, &Subset{Source: ds, Indices: perm[first:]}, nil
}

// unlabeled Dataset wrapper which replaces labels by placeholder 0
type unlabeled struct {
	Dataset
}

// DiscardLabels Returns dataset which yields label 0 for every sample
func DiscardLabels(ds Dataset) Dataset {
	return unlabeled{Dataset: ds}
}

func (u unlabeled) Item(idx int, rng *rand.Rand) (*tensor.Dense, int, error) {
	t, _, err := u.Dataset.Item(idx, rng)
	return t, 0, err
}
