package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DiscriminatorNet Abstraction for discriminator part of CycleGAN. It's simple convolutional neural network actually.
// Output is a single-channel map of patch realism scores (no sigmoid).
type DiscriminatorNet struct {
	private *Network
}

// DiscriminatorConfig Describes discriminator structure.
//
// Channels - number of image channels
// Filters - number of filters of the first convolution. Each next one doubles it (F, 2F, 4F, 8F, 1)
//
type DiscriminatorConfig struct {
	Channels int
	Filters  int
}

// DefaultDiscriminatorConfig PatchGAN discriminator with 64 base filters for RGB images
func DefaultDiscriminatorConfig() DiscriminatorConfig {
	return DiscriminatorConfig{
		Channels: 3,
		Filters:  64,
	}
}

// Discriminator Constructor for DiscriminatorNet
func Discriminator(name string, Layers ...*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{private: &Network{
		Name:   name,
		Layers: Layers,
	}}
}

// DefineDiscriminator Defines learnables and layers of patch discriminator on provided graph
//
//	input(C,H,W) => conv4x4/2(F)+LReLU
//	             => conv4x4/2(2F)+IN+LReLU => conv4x4/2(4F)+IN+LReLU
//	             => conv4x4/1(8F)+IN+LReLU => conv4x4/1(1)
//
func DefineDiscriminator(g *gorgonia.ExprGraph, name string, cfg DiscriminatorConfig) (*DiscriminatorNet, error) {
	if cfg.Channels < 1 || cfg.Filters < 1 {
		return nil, fmt.Errorf("Bad discriminator config %+v", cfg)
	}
	leaky := []Options{{Alpha: DefaultLeakyAlpha}}
	channels := []int{cfg.Channels, cfg.Filters, 2 * cfg.Filters, 4 * cfg.Filters, 8 * cfg.Filters, 1}
	strides := []int{2, 2, 2, 1, 1}
	layers := make([]*Layer, 0, 8)
	for i, stride := range strides {
		w, b := NewConvWeights(g, fmt.Sprintf("%s_%d", name, i), channels[i+1], channels[i], 4, 4)
		conv := convLayer(w, b, 4, stride, 1)
		switch {
		case i == 0:
			conv.Activation = LeakyRectify
			conv.ActivationOptions = leaky
			layers = append(layers, conv)
		case i == len(strides)-1:
			layers = append(layers, conv)
		default:
			norm := instanceNormLayer(LeakyRectify)
			norm.ActivationOptions = leaky
			layers = append(layers, conv, norm)
		}
	}
	return Discriminator(name, layers...), nil
}

// PatchSize Returns spatial size of discriminator output for square input of provided size.
// Non-positive result means that input is too small.
func PatchSize(imageSize int) int {
	size := imageSize
	for _, stride := range []int{2, 2, 2, 1, 1} {
		size = (size+2-4)/stride + 1
	}
	return size
}

// Name Returns name of discriminator
func (net *DiscriminatorNet) Name() string {
	return net.private.Name
}

// Out Returns reference to output node of the latest Fwd call
func (net *DiscriminatorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided input. Returns output node.
//
// input - Input node of shape (N, C, H, W)
//
func (net *DiscriminatorNet) Fwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := net.private.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return out, nil
}

// Mirror Returns discriminator defined on another graph which shares weight values with this one
func (net *DiscriminatorNet) Mirror(g *gorgonia.ExprGraph, suffix string) (*DiscriminatorNet, error) {
	mirrored, err := net.private.Mirror(g, suffix)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return &DiscriminatorNet{private: mirrored}, nil
}
