package cyclegan_go

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// EpochStats Summary of single epoch
//
// Last - losses of the final step (the ones reported in progress line)
// Mean - losses averaged over all steps of epoch
//
type EpochStats struct {
	Epoch   int
	Steps   int
	Last    Losses
	Mean    Losses
	Elapsed time.Duration
}

// Session Training run: model, loaders of both domains and history of completed epochs
type Session struct {
	Model   *CycleGAN
	LoaderA *DataLoader
	LoaderB *DataLoader
	History []EpochStats
	// Output Destination of progress lines. Default is os.Stdout
	Output io.Writer

	cfg Config
}

// NewSession Prepares model and loaders for provided settings and training datasets of domain A and domain B
func NewSession(cfg Config, trainA, trainB Dataset) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Bad config")
	}
	loaderA, err := NewDataLoader(trainA, cfg.BatchSize, cfg.Shuffle, cfg.Workers, cfg.Prefetch, cfg.RandSeed)
	if err != nil {
		return nil, errors.Wrap(err, "Can't prepare loader for domain A")
	}
	loaderB, err := NewDataLoader(trainB, cfg.BatchSize, cfg.Shuffle, cfg.Workers, cfg.Prefetch, cfg.RandSeed+1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't prepare loader for domain B")
	}
	shp := cfg.ImageShape()
	for name, ds := range map[string]Dataset{"A": trainA, "B": trainB} {
		s := ds.Shape()
		if s.Channels != shp[0] || s.Height != shp[1] || s.Width != shp[2] {
			return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("domain %s yields %s, but model expects %v", name, s, shp))
		}
	}
	model, err := NewCycleGAN(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define CycleGAN")
	}
	return &Session{
		Model:   model,
		LoaderA: loaderA,
		LoaderB: loaderB,
		Output:  os.Stdout,
		cfg:     cfg,
	}, nil
}

// Train Runs configured number of epochs. Stops on the first error
func (s *Session) Train() error {
	for epoch := 0; epoch < s.cfg.Epochs; epoch++ {
		stats, err := s.TrainEpoch()
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("[Epoch %d]", epoch+1))
		}
		fmt.Fprintf(s.Output, "Epoch [%d/%d] - %s\n", epoch+1, s.cfg.Epochs, stats.Last)
	}
	return nil
}

// TrainEpoch Runs single pass over paired batches of both domains and appends its stats to history
func (s *Session) TrainEpoch() (EpochStats, error) {
	stats := EpochStats{Epoch: len(s.History) + 1}
	pairs, err := NewPairedIterator(s.LoaderA, s.LoaderB, s.cfg.Pairing)
	if err != nil {
		return stats, errors.Wrap(err, "Can't pair domains")
	}
	defer pairs.Close()

	st := time.Now()
	steps := make([]Losses, 0, pairs.Steps())
	for {
		a, b, err := pairs.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.Wrap(err, "Can't load batches")
		}
		losses, err := s.Model.Step(a.Images, b.Images)
		if err != nil {
			return stats, errors.Wrap(err, fmt.Sprintf("[Step %d]", len(steps)+1))
		}
		steps = append(steps, losses)
	}
	stats.Elapsed = time.Since(st)
	stats.Steps = len(steps)
	if len(steps) != 0 {
		stats.Last = steps[len(steps)-1]
		stats.Mean = meanLosses(steps)
	}
	s.History = append(s.History, stats)
	return stats, nil
}

// Close Releases model resources
func (s *Session) Close() error {
	return s.Model.Close()
}

func meanLosses(steps []Losses) Losses {
	column := func(get func(l Losses) float64) float64 {
		xs := make([]float64, len(steps))
		for i := range steps {
			xs[i] = get(steps[i])
		}
		return stat.Mean(xs, nil)
	}
	return Losses{
		Generator:      column(func(l Losses) float64 { return l.Generator }),
		Identity:       column(func(l Losses) float64 { return l.Identity }),
		Adversarial:    column(func(l Losses) float64 { return l.Adversarial }),
		Cycle:          column(func(l Losses) float64 { return l.Cycle }),
		DiscriminatorA: column(func(l Losses) float64 { return l.DiscriminatorA }),
		DiscriminatorB: column(func(l Losses) float64 { return l.DiscriminatorB }),
	}
}
