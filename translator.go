package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Translator Inference-only view of a generator. It lives on its own graph and shares weight values
// with the source generator, so it always reflects the latest training updates.
type Translator struct {
	input  *gorgonia.Node
	outVal gorgonia.Value
	tm     gorgonia.VM
}

// NewTranslator Mirrors generator onto fresh graph for inputs of shape (batchSize, C, H, W)
func NewTranslator(gen *GeneratorNet, batchSize, channels, height, width int) (*Translator, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	g := gorgonia.NewGraph()
	mirrored, err := gen.Mirror(g, "_inference")
	if err != nil {
		return nil, errors.Wrap(err, "Can't mirror generator")
	}
	input := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(batchSize, channels, height, width), gorgonia.WithName("translator_input"))
	out, err := mirrored.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define translation")
	}
	t := &Translator{input: input}
	gorgonia.Read(out, &t.outVal)
	t.tm = gorgonia.NewTapeMachine(g)
	return t, nil
}

// Translator Returns translator for G_AB (toB = true) or G_BA with batch size of model config
func (model *CycleGAN) Translator(toB bool) (*Translator, error) {
	gen := model.GeneratorBA
	if toB {
		gen = model.GeneratorAB
	}
	return NewTranslator(gen, model.cfg.BatchSize, model.cfg.Channels, model.cfg.ImageSize, model.cfg.ImageSize)
}

// Translate Maps batch into another domain. Returned tensor is a copy and owned by caller
func (t *Translator) Translate(batch *tensor.Dense) (*tensor.Dense, error) {
	defer t.tm.Reset()
	if !batch.Shape().Eq(t.input.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("translator expects %v, but got %v", t.input.Shape(), batch.Shape()))
	}
	if err := gorgonia.Let(t.input, batch); err != nil {
		return nil, errors.Wrap(err, "Can't init input value")
	}
	if err := t.tm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	return denseClone(t.outVal)
}

// Close Releases tape machine
func (t *Translator) Close() error {
	return t.tm.Close()
}
