package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just an alias to Weight+Bias+ActivationFunc combo
//
// Block - inner layers of residual block (LayerResidual only)
// Epsilon - variance epsilon (LayerInstanceNorm only). Zero means DefaultNormEpsilon
//
type Layer struct {
	WeightNode        *gorgonia.Node
	BiasNode          *gorgonia.Node
	Activation        ActivationFunc
	ActivationOptions []Options
	Type              LayerType

	KernelHeight  int
	KernelWidth   int
	Padding       []int
	Stride        []int
	Dilation      []int
	OutputPadding []int

	Block   []*Layer
	Epsilon float64
}

type LayerType uint16

const (
	LayerConvolutional = LayerType(iota)
	LayerTransposedConvolutional
	LayerInstanceNorm
	LayerResidual
)

func (t LayerType) String() string {
	switch t {
	case LayerConvolutional:
		return "conv2d"
	case LayerTransposedConvolutional:
		return "conv_transpose2d"
	case LayerInstanceNorm:
		return "instance_norm2d"
	case LayerResidual:
		return "residual"
	default:
		return fmt.Sprintf("layer(%d)", uint16(t))
	}
}

var (
	allowedNoWeights = []LayerType{LayerInstanceNorm, LayerResidual}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// Learnables Returns learnables nodes of layer (nested ones for residual block)
func (l *Layer) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2)
	if l.WeightNode != nil {
		learnables = append(learnables, l.WeightNode)
	}
	if l.BiasNode != nil {
		learnables = append(learnables, l.BiasNode)
	}
	for _, inner := range l.Block {
		if inner != nil {
			learnables = append(learnables, inner.Learnables()...)
		}
	}
	return learnables
}

// Fwd Feedforward input through layer. Activation is not applied here
func (l *Layer) Fwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
		return nil, fmt.Errorf("Layer of type '%s' has nil WeightNode", l.Type)
	}
	switch l.Type {
	case LayerConvolutional:
		return l.convolve(input, l.Padding)
	case LayerTransposedConvolutional:
		return l.transposedConvolve(input)
	case LayerInstanceNorm:
		eps := l.Epsilon
		if eps == 0 {
			eps = DefaultNormEpsilon
		}
		return InstanceNorm(input, eps)
	case LayerResidual:
		if len(l.Block) == 0 {
			return nil, fmt.Errorf("Residual layer must have one inner layer atleast")
		}
		blockOut, err := fwdLayers(input, l.Block, "residual")
		if err != nil {
			return nil, errors.Wrap(err, "Can't feedforward residual block")
		}
		sum, err := gorgonia.Add(input, blockOut)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add skip connection to output of residual block")
		}
		return sum, nil
	default:
		return nil, fmt.Errorf("Layer's type '%d' (uint16) is not handled", l.Type)
	}
}

func (l *Layer) convolve(input *gorgonia.Node, padding []int) (*gorgonia.Node, error) {
	dilation := l.Dilation
	if len(dilation) == 0 {
		dilation = []int{1, 1}
	}
	stride := l.Stride
	if l.Type == LayerTransposedConvolutional || len(stride) == 0 {
		stride = []int{1, 1}
	}
	out, err := gorgonia.Conv2d(input, l.WeightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, padding, stride, dilation)
	if err != nil {
		return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
	}
	if l.BiasNode != nil {
		// Bias has shape (1, C, 1, 1) and is broadcasted along batch and spatial axes
		out, err = gorgonia.BroadcastAdd(out, l.BiasNode, nil, []byte{0, 2, 3})
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias [in broadcast term] to output of convolution")
		}
	}
	return out, nil
}

// transposedConvolve Transposed convolution expressed as zero insertion followed by stride-1 convolution.
// Trailing inserted zeros act as the extra output padding, so OutputPadding must be equal to Stride-1.
func (l *Layer) transposedConvolve(input *gorgonia.Node) (*gorgonia.Node, error) {
	if len(l.Stride) != 2 || len(l.Padding) != 2 {
		return nil, fmt.Errorf("Transposed convolution needs 2D stride and padding, but got %v and %v", l.Stride, l.Padding)
	}
	outPadding := l.OutputPadding
	if len(outPadding) == 0 {
		outPadding = []int{0, 0}
	}
	for i := range l.Stride {
		if outPadding[i] != l.Stride[i]-1 {
			return nil, fmt.Errorf("Output padding %v is not supported for stride %v: must be stride-1", outPadding, l.Stride)
		}
	}
	kernel := []int{l.KernelHeight, l.KernelWidth}
	padding := make([]int, 2)
	for i := range padding {
		padding[i] = kernel[i] - 1 - l.Padding[i]
		if padding[i] < 0 {
			return nil, fmt.Errorf("Padding %v is too big for kernel %v", l.Padding, kernel)
		}
	}
	upsampled, err := ZeroInsert(input, l.Stride[0], l.Stride[1])
	if err != nil {
		return nil, errors.Wrap(err, "Can't insert zeros between input pixels")
	}
	return l.convolve(upsampled, padding)
}

// NewConvWeights Creates learnable kernel of shape (out, in, kh, kw) with Glorot initialization and zero bias of shape (1, out, 1, 1)
func NewConvWeights(g *gorgonia.ExprGraph, name string, out, in, kh, kw int) (weight, bias *gorgonia.Node) {
	weight = gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(out, in, kh, kw), gorgonia.WithName(name+"_w"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	bias = gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(1, out, 1, 1), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes()))
	return weight, bias
}

// Dtype Element type used by every graph in this package
var Dtype = tensor.Float64
