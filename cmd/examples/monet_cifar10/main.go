package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	cyclegan "github.com/LdDl/cyclegan-go"
	"github.com/pkg/errors"
)

var (
	configFile   = flag.String("config", "", "JSON file with training settings. Default settings are used when empty")
	monetRoot    = flag.String("monet", "./monet", "Folder with 'train' and 'test' subfolders of Monet paintings")
	cifarRoot    = flag.String("cifar", "./data", "Cache folder for CIFAR-10 (downloaded on first use)")
	outputFolder = flag.String("out", "./output", "Folder for rendered panels and loss plot")
	epochs       = flag.Int("epochs", -1, "Number of epochs. Overrides config when non-negative")
	batchSize    = flag.Int("batch", -1, "Batch size. Overrides config when positive")
	imageSize    = flag.Int("size", -1, "Image size. Overrides config when positive")
	sampleSize   = flag.Int("sample", -1, "Number of CIFAR-10 images to draw. Overrides config when positive")
	seed         = flag.Int64("seed", 0, "Random seed. Overrides config when non-zero")
	pairing      = cyclegan.PairTruncate
)

func main() {
	flag.Var(&pairing, "pairing", "How to pair domains of different length: 'truncate', 'cycle' or 'strict'")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalln(err)
	}
	if err := run(cfg); err != nil {
		log.Fatalln(err)
	}
}

func loadConfig() (cyclegan.Config, error) {
	cfg := cyclegan.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = cyclegan.LoadConfig(*configFile)
		if err != nil {
			return cfg, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "pairing" {
			cfg.Pairing = pairing
		}
	})
	if *epochs >= 0 {
		cfg.Epochs = *epochs
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *imageSize > 0 {
		cfg.ImageSize = *imageSize
	}
	if *sampleSize > 0 {
		cfg.SampleSize = *sampleSize
	}
	if *seed != 0 {
		cfg.RandSeed = *seed
	}
	return cfg, cfg.Validate()
}

type domains struct {
	trainA, testA cyclegan.Dataset
	trainB, testB cyclegan.Dataset
}

func loadDomains(cfg cyclegan.Config) (*domains, error) {
	pipeline, err := cyclegan.DefaultPipeline(cfg.ImageSize)
	if err != nil {
		return nil, errors.Wrap(err, "Can't prepare transforms")
	}
	rng := rand.New(rand.NewSource(cfg.RandSeed))

	log.Println("Loading CIFAR-10 from", *cifarRoot)
	cifar, err := cyclegan.LoadCIFAR10(*cifarRoot, true, true, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "Can't load CIFAR-10")
	}
	subset, err := cyclegan.RandomSubset(cifar, cfg.SampleSize, rng)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sample CIFAR-10")
	}
	trainA, testA, err := cyclegan.RandomSplit(subset, cfg.TrainFraction, rng)
	if err != nil {
		return nil, errors.Wrap(err, "Can't split CIFAR-10")
	}

	log.Println("Loading Monet paintings from", *monetRoot)
	trainB, err := cyclegan.NewFolderDataset(filepath.Join(*monetRoot, "train"), pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "Can't load Monet train set")
	}
	testB, err := cyclegan.NewFolderDataset(filepath.Join(*monetRoot, "test"), pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "Can't load Monet test set")
	}
	log.Printf("Domain A: %d train / %d test, domain B: %d train / %d test\n", trainA.Len(), testA.Len(), trainB.Len(), testB.Len())
	return &domains{
		trainA: cyclegan.DiscardLabels(trainA),
		testA:  cyclegan.DiscardLabels(testA),
		trainB: trainB,
		testB:  testB,
	}, nil
}

// firstBatch Returns first batch of shuffled pass over dataset
func firstBatch(cfg cyclegan.Config, ds cyclegan.Dataset, seed int64) (*cyclegan.Batch, error) {
	loader, err := cyclegan.NewDataLoader(ds, cfg.BatchSize, true, cfg.Workers, 1, seed)
	if err != nil {
		return nil, err
	}
	it := loader.Iterate()
	defer it.Close()
	batch, err := it.Next()
	if err == io.EOF {
		return nil, cyclegan.ErrEmptyDataset
	}
	return batch, err
}

func run(cfg cyclegan.Config) error {
	if err := os.MkdirAll(*outputFolder, 0o755); err != nil {
		return errors.Wrap(err, "Can't create output folder")
	}
	data, err := loadDomains(cfg)
	if err != nil {
		return err
	}

	/* Show samples of both domains */
	sampleA, err := firstBatch(cfg, data.trainA, cfg.RandSeed)
	if err != nil {
		return errors.Wrap(err, "Can't load sample batch of domain A")
	}
	sampleB, err := firstBatch(cfg, data.trainB, cfg.RandSeed)
	if err != nil {
		return errors.Wrap(err, "Can't load sample batch of domain B")
	}
	if err := savePanel(sampleA, "Sample Images from CIFAR-10 (Domain A)", "samples_a.png"); err != nil {
		return err
	}
	if err := savePanel(sampleB, "Sample Images from Monet (Domain B)", "samples_b.png"); err != nil {
		return err
	}

	/* Training */
	session, err := cyclegan.NewSession(cfg, data.trainA, data.trainB)
	if err != nil {
		return errors.Wrap(err, "Can't prepare training")
	}
	defer session.Close()
	log.Printf("Training for %d epochs: %d batches of domain A, %d batches of domain B (pairing: %s)\n", cfg.Epochs, session.LoaderA.Batches(), session.LoaderB.Batches(), cfg.Pairing)
	if err := session.Train(); err != nil {
		return errors.Wrap(err, "Training failed")
	}

	/* Translate test batches */
	testA, err := firstBatch(cfg, data.testA, cfg.RandSeed+1)
	if err != nil {
		return errors.Wrap(err, "Can't load test batch of domain A")
	}
	testB, err := firstBatch(cfg, data.testB, cfg.RandSeed+1)
	if err != nil {
		return errors.Wrap(err, "Can't load test batch of domain B")
	}
	toB, err := session.Model.Translator(true)
	if err != nil {
		return errors.Wrap(err, "Can't prepare A => B translator")
	}
	defer toB.Close()
	toA, err := session.Model.Translator(false)
	if err != nil {
		return errors.Wrap(err, "Can't prepare B => A translator")
	}
	defer toA.Close()

	fakeB, err := toB.Translate(testA.Images)
	if err != nil {
		return errors.Wrap(err, "Can't translate A => B")
	}
	fakeA, err := toA.Translate(testB.Images)
	if err != nil {
		return errors.Wrap(err, "Can't translate B => A")
	}
	panels := []struct {
		batch *cyclegan.Batch
		title string
		fname string
	}{
		{testA, "Real CIFAR-10 (Domain A)", "real_a.png"},
		{&cyclegan.Batch{Images: fakeB}, "Generated Monet (Domain B)", "fake_b.png"},
		{testB, "Real Monet (Domain B)", "real_b.png"},
		{&cyclegan.Batch{Images: fakeA}, "Generated CIFAR-10 (Domain A)", "fake_a.png"},
	}
	for _, p := range panels {
		if err := savePanel(p.batch, p.title, p.fname); err != nil {
			return err
		}
	}

	if len(session.History) != 0 {
		fname := filepath.Join(*outputFolder, "losses.png")
		if err := cyclegan.PlotLosses(session.History, fname); err != nil {
			return errors.Wrap(err, "Can't plot losses")
		}
		log.Println("Saved", fname)
	}
	return nil
}

func savePanel(batch *cyclegan.Batch, title, name string) error {
	fname := filepath.Join(*outputFolder, name)
	if err := cyclegan.SavePanel(batch.Images, title, fname); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't save '%s'", title))
	}
	log.Println("Saved", fname)
	return nil
}
