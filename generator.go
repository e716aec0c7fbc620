package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GeneratorNet Abstraction for generator part of CycleGAN: encoder => residual blocks => decoder.
// Maps image of one domain into image of the same shape in another domain.
type GeneratorNet struct {
	private *Network
}

// GeneratorConfig Describes generator structure.
//
// Channels - number of image channels (input and output)
// Filters - number of filters of the first convolution. Downsampling doubles it twice
// ResidualBlocks - number of residual blocks at 4*Filters channels
//
type GeneratorConfig struct {
	Channels       int
	Filters        int
	ResidualBlocks int
}

// DefaultGeneratorConfig Generator with 64 base filters and 6 residual blocks for RGB images
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Channels:       3,
		Filters:        64,
		ResidualBlocks: 6,
	}
}

// Generator Constructor for GeneratorNet
func Generator(name string, Layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   name,
		Layers: Layers,
	}}
}

// DefineGenerator Defines learnables and layers of ResNet-style generator on provided graph
//
//	input(C,H,W) => conv7x7(F)+IN+ReLU
//	             => conv3x3/2(2F)+IN+ReLU => conv3x3/2(4F)+IN+ReLU
//	             => N * [conv3x3(4F)+IN+ReLU => conv3x3(4F)+IN] + skip
//	             => convT3x3/2(2F)+IN+ReLU => convT3x3/2(F)+IN+ReLU
//	             => conv7x7(C) => tanh
//
func DefineGenerator(g *gorgonia.ExprGraph, name string, cfg GeneratorConfig) (*GeneratorNet, error) {
	if cfg.Channels < 1 || cfg.Filters < 1 || cfg.ResidualBlocks < 0 {
		return nil, fmt.Errorf("Bad generator config %+v", cfg)
	}
	f := cfg.Filters
	layers := make([]*Layer, 0, 16+2*cfg.ResidualBlocks)

	w, b := NewConvWeights(g, name+"_initial", f, cfg.Channels, 7, 7)
	layers = append(layers, convLayer(w, b, 7, 1, 3), instanceNormLayer(Rectify))

	w, b = NewConvWeights(g, name+"_down_0", 2*f, f, 3, 3)
	layers = append(layers, convLayer(w, b, 3, 2, 1), instanceNormLayer(Rectify))
	w, b = NewConvWeights(g, name+"_down_1", 4*f, 2*f, 3, 3)
	layers = append(layers, convLayer(w, b, 3, 2, 1), instanceNormLayer(Rectify))

	for i := 0; i < cfg.ResidualBlocks; i++ {
		layers = append(layers, residualLayer(g, fmt.Sprintf("%s_residual_%d", name, i), 4*f))
	}

	w, b = NewConvWeights(g, name+"_up_0", 2*f, 4*f, 3, 3)
	layers = append(layers, transposedConvLayer(w, b, 3, 2, 1, 1), instanceNormLayer(Rectify))
	w, b = NewConvWeights(g, name+"_up_1", f, 2*f, 3, 3)
	layers = append(layers, transposedConvLayer(w, b, 3, 2, 1, 1), instanceNormLayer(Rectify))

	w, b = NewConvWeights(g, name+"_output", cfg.Channels, f, 7, 7)
	out := convLayer(w, b, 7, 1, 3)
	out.Activation = Tanh
	layers = append(layers, out)

	return Generator(name, layers...), nil
}

// residualLayer Two 3x3 convolutions with instance norm and ReLU between them. Input is added to output unchanged
func residualLayer(g *gorgonia.ExprGraph, name string, channels int) *Layer {
	w0, b0 := NewConvWeights(g, name+"_0", channels, channels, 3, 3)
	w1, b1 := NewConvWeights(g, name+"_1", channels, channels, 3, 3)
	return &Layer{
		Type:       LayerResidual,
		Activation: NoActivation,
		Block: []*Layer{
			convLayer(w0, b0, 3, 1, 1),
			instanceNormLayer(Rectify),
			convLayer(w1, b1, 3, 1, 1),
			instanceNormLayer(NoActivation),
		},
	}
}

func convLayer(w, b *gorgonia.Node, kernel, stride, padding int) *Layer {
	return &Layer{
		WeightNode:   w,
		BiasNode:     b,
		Type:         LayerConvolutional,
		Activation:   NoActivation,
		KernelHeight: kernel,
		KernelWidth:  kernel,
		Padding:      []int{padding, padding},
		Stride:       []int{stride, stride},
		Dilation:     []int{1, 1},
	}
}

func transposedConvLayer(w, b *gorgonia.Node, kernel, stride, padding, outputPadding int) *Layer {
	l := convLayer(w, b, kernel, stride, padding)
	l.Type = LayerTransposedConvolutional
	l.OutputPadding = []int{outputPadding, outputPadding}
	return l
}

func instanceNormLayer(activation ActivationFunc) *Layer {
	return &Layer{
		Type:       LayerInstanceNorm,
		Activation: activation,
		Epsilon:    DefaultNormEpsilon,
	}
}

// Name Returns name of generator
func (net *GeneratorNet) Name() string {
	return net.private.Name
}

// Out Returns reference to output node of the latest Fwd call
func (net *GeneratorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided input. Returns output node.
//
// input - Input node of shape (N, C, H, W)
//
func (net *GeneratorNet) Fwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := net.private.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return out, nil
}

// Mirror Returns generator defined on another graph which shares weight values with this one
func (net *GeneratorNet) Mirror(g *gorgonia.ExprGraph, suffix string) (*GeneratorNet, error) {
	mirrored, err := net.private.Mirror(g, suffix)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return &GeneratorNet{private: mirrored}, nil
}
