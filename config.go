package cyclegan_go

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// Config Training configuration settings. Passed explicitly to NewSession / NewCycleGAN
type Config struct {
	ImageSize            int
	Channels             int
	BatchSize            int
	LearningRate         float64
	Beta1                float64
	Beta2                float64
	Epochs               int
	LambdaCycle          float64
	LambdaIdentity       float64
	ResidualBlocks       int
	GeneratorFilters     int
	DiscriminatorFilters int
	SampleSize           int
	TrainFraction        float64
	Shuffle              bool
	Pairing              PairingPolicy
	Workers              int
	Prefetch             int
	RandSeed             int64
}

// DefaultConfig Returns settings of the reference Monet <=> CIFAR-10 run
func DefaultConfig() Config {
	return Config{
		ImageSize:            128,
		Channels:             3,
		BatchSize:            8,
		LearningRate:         0.0002,
		Beta1:                0.5,
		Beta2:                0.999,
		Epochs:               10,
		LambdaCycle:          10.0,
		LambdaIdentity:       5.0,
		ResidualBlocks:       6,
		GeneratorFilters:     64,
		DiscriminatorFilters: 64,
		SampleSize:           1000,
		TrainFraction:        0.8,
		Shuffle:              true,
		Pairing:              PairTruncate,
		Workers:              runtime.GOMAXPROCS(0),
		Prefetch:             2,
		RandSeed:             1337,
	}
}

// LoadConfig Reads JSON file on top of DefaultConfig: missing fields keep default values
func LoadConfig(fname string) (Config, error) {
	c := DefaultConfig()
	f, err := os.Open(fname)
	if err != nil {
		return c, errors.Wrap(err, "Can't open config file")
	}
	defer f.Close()
	if err = json.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrap(err, fmt.Sprintf("Can't decode config file '%s'", fname))
	}
	return c, nil
}

// Validate Checks that settings describe trainable model
func (c Config) Validate() error {
	switch {
	case c.Channels < 1:
		return fmt.Errorf("Channels must be positive, but got %d", c.Channels)
	case c.BatchSize < 1:
		return fmt.Errorf("BatchSize must be positive, but got %d", c.BatchSize)
	case c.ImageSize%4 != 0:
		return fmt.Errorf("ImageSize must be divisible by 4 (two stride-2 convolutions of generator), but got %d", c.ImageSize)
	case PatchSize(c.ImageSize) < 1:
		return fmt.Errorf("ImageSize %d is too small for discriminator", c.ImageSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("LearningRate must be positive, but got %g", c.LearningRate)
	case c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1:
		return fmt.Errorf("Adam betas must be in [0; 1), but got (%g, %g)", c.Beta1, c.Beta2)
	case c.Epochs < 0:
		return fmt.Errorf("Epochs must be non-negative, but got %d", c.Epochs)
	case c.LambdaCycle < 0 || c.LambdaIdentity < 0:
		return fmt.Errorf("Loss weights must be non-negative, but got cycle=%g identity=%g", c.LambdaCycle, c.LambdaIdentity)
	case c.ResidualBlocks < 0:
		return fmt.Errorf("ResidualBlocks must be non-negative, but got %d", c.ResidualBlocks)
	case c.GeneratorFilters < 1 || c.DiscriminatorFilters < 1:
		return fmt.Errorf("Filters must be positive, but got generator=%d discriminator=%d", c.GeneratorFilters, c.DiscriminatorFilters)
	case c.TrainFraction <= 0 || c.TrainFraction > 1:
		return fmt.Errorf("TrainFraction must be in (0; 1], but got %g", c.TrainFraction)
	case c.Pairing > PairStrict:
		return fmt.Errorf("Unknown pairing policy %d", c.Pairing)
	}
	return nil
}

// GeneratorConfig Returns generator structure for current settings
func (c Config) GeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Channels:       c.Channels,
		Filters:        c.GeneratorFilters,
		ResidualBlocks: c.ResidualBlocks,
	}
}

// DiscriminatorConfig Returns discriminator structure for current settings
func (c Config) DiscriminatorConfig() DiscriminatorConfig {
	return DiscriminatorConfig{
		Channels: c.Channels,
		Filters:  c.DiscriminatorFilters,
	}
}

// ImageShape Returns shape of single sample: (C, H, W)
func (c Config) ImageShape() []int {
	return []int{c.Channels, c.ImageSize, c.ImageSize}
}
