package cyclegan_go

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.ImageSize = 32
	cfg.BatchSize = 2
	cfg.GeneratorFilters = 2
	cfg.DiscriminatorFilters = 2
	cfg.ResidualBlocks = 1
	cfg.Epochs = 1
	cfg.Workers = 2
	return cfg
}

func snapshot(nodes gorgonia.Nodes) [][]float64 {
	values := make([][]float64, len(nodes))
	for i, n := range nodes {
		values[i] = append([]float64{}, n.Value().Data().([]float64)...)
	}
	return values
}

func changed(before [][]float64, nodes gorgonia.Nodes) bool {
	for i, n := range nodes {
		for j, v := range n.Value().Data().([]float64) {
			if v != before[i][j] {
				return true
			}
		}
	}
	return false
}

func TestCycleGANStep(t *testing.T) {
	cfg := smallConfig()
	model, err := NewCycleGAN(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer model.Close()

	rng := rand.New(rand.NewSource(21))
	realA := randomDense(rng, 2, 3, 32, 32)
	realB := randomDense(rng, 2, 3, 32, 32)

	genBefore := snapshot(append(model.GeneratorAB.Learnables(), model.GeneratorBA.Learnables()...))
	discABefore := snapshot(model.DiscriminatorA.Learnables())
	discBBefore := snapshot(model.DiscriminatorB.Learnables())

	losses, err := model.Step(realA, realB)
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]float64{
		"generator":       losses.Generator,
		"identity":        losses.Identity,
		"adversarial":     losses.Adversarial,
		"cycle":           losses.Cycle,
		"discriminator A": losses.DiscriminatorA,
		"discriminator B": losses.DiscriminatorB,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Errorf("Loss %s must be finite and non-negative, got %v", name, v)
		}
	}
	if sum := losses.Identity + losses.Adversarial + losses.Cycle; math.Abs(sum-losses.Generator) > 1e-9*math.Max(1, sum) {
		t.Errorf("Generator loss %v must be sum of its terms %v", losses.Generator, sum)
	}

	if !changed(genBefore, append(model.GeneratorAB.Learnables(), model.GeneratorBA.Learnables()...)) {
		t.Errorf("Generators must be updated")
	}
	if !changed(discABefore, model.DiscriminatorA.Learnables()) {
		t.Errorf("Discriminator A must be updated")
	}
	if !changed(discBBefore, model.DiscriminatorB.Learnables()) {
		t.Errorf("Discriminator B must be updated")
	}

	// Machines are reset between steps
	if _, err := model.Step(realA, realB); err != nil {
		t.Fatalf("Second step failed: %s", err)
	}
}

func TestCycleGANStepBadShape(t *testing.T) {
	model, err := NewCycleGAN(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer model.Close()
	rng := rand.New(rand.NewSource(1))
	if _, err := model.Step(randomDense(rng, 1, 3, 32, 32), randomDense(rng, 2, 3, 32, 32)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestCycleGANNonFiniteLoss(t *testing.T) {
	model, err := NewCycleGAN(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer model.Close()
	rng := rand.New(rand.NewSource(2))
	realA := randomDense(rng, 2, 3, 32, 32)
	realB := randomDense(rng, 2, 3, 32, 32)
	realA.Data().([]float64)[0] = math.NaN()

	learnables := append(model.GeneratorAB.Learnables(), model.GeneratorBA.Learnables()...)
	learnables = append(learnables, model.DiscriminatorA.Learnables()...)
	learnables = append(learnables, model.DiscriminatorB.Learnables()...)
	before := snapshot(learnables)

	if _, err := model.Step(realA, realB); !errors.Is(err, ErrNonFiniteLoss) {
		t.Fatalf("Expected ErrNonFiniteLoss, got %v", err)
	}
	if changed(before, learnables) {
		t.Errorf("Parameters must not be updated when loss is not finite")
	}
}

func TestTranslator(t *testing.T) {
	model, err := NewCycleGAN(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer model.Close()
	toB, err := model.Translator(true)
	if err != nil {
		t.Fatal(err)
	}
	defer toB.Close()

	rng := rand.New(rand.NewSource(8))
	batch := randomDense(rng, 2, 3, 32, 32)
	first, err := toB.Translate(batch)
	if err != nil {
		t.Fatal(err)
	}
	second, err := toB.Translate(batch)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Shape().Eq(tensor.Shape{2, 3, 32, 32}) {
		t.Fatalf("Expected shape (2, 3, 32, 32), got %v", first.Shape())
	}
	firstData, secondData := first.Data().([]float64), second.Data().([]float64)
	for i := range firstData {
		if firstData[i] != secondData[i] {
			t.Fatalf("Translation must be deterministic for fixed weights: value #%d differs (%v vs %v)", i, firstData[i], secondData[i])
		}
		if firstData[i] < -1 || firstData[i] > 1 {
			t.Fatalf("Value #%d is out of [-1; 1]: %v", i, firstData[i])
		}
	}

	// Translator follows training updates
	if _, err := model.Step(randomDense(rng, 2, 3, 32, 32), randomDense(rng, 2, 3, 32, 32)); err != nil {
		t.Fatal(err)
	}
	third, err := toB.Translate(batch)
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i, v := range third.Data().([]float64) {
		if v != firstData[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("Translation must change after training step")
	}

	if _, err := toB.Translate(randomDense(rng, 1, 3, 32, 32)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}
