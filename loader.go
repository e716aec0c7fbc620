package cyclegan_go

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// Batch Stacked samples
//
// Images - tensor of shape (N, C, H, W)
// Labels - label of each sample
// Indices - dataset indices of samples
//
type Batch struct {
	Images  *tensor.Dense
	Labels  []int
	Indices []int
}

// DataLoader Splits dataset into full batches. Incomplete tail batch is dropped: every graph has static batch size.
//
// Samples are decoded and transformed by background workers, batches are delivered in iteration order.
// Randomness of transforms is derived from loader seed, so it does not depend on workers scheduling.
//
type DataLoader struct {
	Dataset   Dataset
	BatchSize int
	Shuffle   bool
	Workers   int
	Prefetch  int

	shape SampleShape
	rng   *rand.Rand
}

// NewDataLoader Creates loader. Dataset must declare fully known tensor shape and hold one batch atleast
func NewDataLoader(ds Dataset, batchSize int, shuffle bool, workers, prefetch int, seed int64) (*DataLoader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	shape := ds.Shape()
	if shape.Kind != KindTensor || shape.Channels == 0 || shape.Height == 0 || shape.Width == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("dataset must declare fixed tensor shape, but got %s", shape))
	}
	if ds.Len() < batchSize {
		return nil, errors.Wrap(ErrEmptyDataset, fmt.Sprintf("%d samples is not enough for batch of %d", ds.Len(), batchSize))
	}
	if workers < 1 {
		workers = 1
	}
	if prefetch < 0 {
		prefetch = 0
	}
	return &DataLoader{
		Dataset:   ds,
		BatchSize: batchSize,
		Shuffle:   shuffle,
		Workers:   workers,
		Prefetch:  prefetch,
		shape:     shape,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Batches Returns number of batches per pass
func (l *DataLoader) Batches() int {
	return l.Dataset.Len() / l.BatchSize
}

// Iterate Starts new pass over dataset. Order is reshuffled on every call if Shuffle is set.
// Iterator must be closed if it is not drained.
func (l *DataLoader) Iterate() *BatchIterator {
	total := l.Dataset.Len()
	var order []int
	if l.Shuffle {
		order = l.rng.Perm(total)
	} else {
		order = make([]int, total)
		for i := range order {
			order[i] = i
		}
	}
	seeds := make([]int64, total)
	for i := range seeds {
		seeds[i] = l.rng.Int63()
	}
	it := &BatchIterator{
		results: make(chan batchResult, l.Prefetch),
		quit:    make(chan struct{}),
	}
	batches := l.Batches()
	go func() {
		defer close(it.results)
		for b := 0; b < batches; b++ {
			start, end := b*l.BatchSize, (b+1)*l.BatchSize
			batch, err := l.loadBatch(order[start:end], seeds[start:end])
			if err != nil {
				err = errors.Wrap(err, fmt.Sprintf("Can't load batch #%d", b))
			}
			select {
			case it.results <- batchResult{batch: batch, err: err}:
			case <-it.quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return it
}

func (l *DataLoader) loadBatch(indices []int, seeds []int64) (*Batch, error) {
	c, h, w := l.shape.Channels, l.shape.Height, l.shape.Width
	sampleSize := c * h * w
	data := make([]float64, len(indices)*sampleSize)
	labels := make([]int, len(indices))

	var eg errgroup.Group
	eg.SetLimit(l.Workers)
	for i := range indices {
		i := i
		eg.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			sample, label, err := l.Dataset.Item(indices[i], rng)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("Can't load sample #%d", indices[i]))
			}
			if !sample.Shape().Eq(tensor.Shape{c, h, w}) {
				return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("sample #%d has shape %v, but %v is expected", indices[i], sample.Shape(), tensor.Shape{c, h, w}))
			}
			values, ok := sample.Materialize().Data().([]float64)
			if !ok {
				return fmt.Errorf("Sample #%d is not float64 tensor", indices[i])
			}
			copy(data[i*sampleSize:(i+1)*sampleSize], values)
			labels[i] = label
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	idx := make([]int, len(indices))
	copy(idx, indices)
	return &Batch{
		Images:  tensor.New(tensor.WithShape(len(indices), c, h, w), tensor.WithBacking(data)),
		Labels:  labels,
		Indices: idx,
	}, nil
}

type batchResult struct {
	batch *Batch
	err   error
}

// BatchIterator Ordered stream of batches of single pass
type BatchIterator struct {
	results chan batchResult
	quit    chan struct{}
	once    sync.Once
}

// Next Returns next batch or io.EOF when pass is over
func (it *BatchIterator) Next() (*Batch, error) {
	res, ok := <-it.results
	if !ok {
		return nil, io.EOF
	}
	return res.batch, res.err
}

// Close Stops background loading and waits for it
func (it *BatchIterator) Close() {
	it.once.Do(func() {
		close(it.quit)
		for range it.results {
		}
	})
}
