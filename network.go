package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
// out - alias to activated output of last layer (of the latest Fwd call)
// calls - number of Fwd calls. Same weights could be applied to several inputs on one graph
//
type Network struct {
	Name   string
	Layers []*Layer
	out    *gorgonia.Node
	calls  int
}

// Out Returns reference to output node of the latest Fwd call
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			learnables = append(learnables, l.Learnables()...)
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input. Could be called several times: weights are shared between calls.
//
// input - Input node
//
func (net *Network) Fwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}
	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network must have one layer atleast")
	}
	out, err := fwdLayers(input, net.Layers, fmt.Sprintf("%s_%d", networkName, net.calls))
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s]", networkName))
	}
	net.calls++
	net.out = out
	return out, nil
}

// fwdLayers Feedforward input through sequence of layers applying activation after each one
func fwdLayers(input *gorgonia.Node, layers []*Layer, name string) (*gorgonia.Node, error) {
	lastActivatedLayer := input
	for i, l := range layers {
		if l == nil {
			return nil, fmt.Errorf("Layer #%d is nil", i)
		}
		layerNonActivated, err := l.Fwd(lastActivatedLayer)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Layer #%d] Can't feedforward input before activation", i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%d", name, i))(layerNonActivated)
		activation := l.Activation
		if activation == nil {
			activation = NoActivation
		}
		layerActivated, err := activation(layerNonActivated, l.ActivationOptions...)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of layer #%d", i))
		}
		if layerActivated != layerNonActivated {
			gorgonia.WithName(fmt.Sprintf("%s_activated_%d", name, i))(layerActivated)
		}
		lastActivatedLayer = layerActivated
	}
	return lastActivatedLayer, nil
}

// Mirror Returns copy of network defined on provided graph.
// Weight and bias nodes of copy are bound to the very same values, so solver updates of the source network are visible in the copy (and vice versa).
// Learnables of mirrored network should not be passed to solvers: only the source network owns them.
//
func (net *Network) Mirror(g *gorgonia.ExprGraph, suffix string) (*Network, error) {
	layers, err := mirrorLayers(g, net.Layers, suffix)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't mirror network '%s'", net.Name))
	}
	return &Network{
		Name:   net.Name + suffix,
		Layers: layers,
	}, nil
}

func mirrorLayers(g *gorgonia.ExprGraph, src []*Layer, suffix string) ([]*Layer, error) {
	layers := make([]*Layer, len(src))
	for i, l := range src {
		if l == nil {
			return nil, fmt.Errorf("Layer %d is nil", i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("Layer %d has nil weight node", i)
		}
		layers[i] = &Layer{
			Activation:        l.Activation,
			ActivationOptions: l.ActivationOptions,
			Type:              l.Type,
			KernelHeight:      l.KernelHeight,
			KernelWidth:       l.KernelWidth,
			Padding:           l.Padding,
			Stride:            l.Stride,
			Dilation:          l.Dilation,
			OutputPadding:     l.OutputPadding,
			Epsilon:           l.Epsilon,
		}
		if l.WeightNode != nil {
			layers[i].WeightNode = mirrorNode(g, l.WeightNode, suffix)
		}
		if l.BiasNode != nil {
			layers[i].BiasNode = mirrorNode(g, l.BiasNode, suffix)
		}
		if len(l.Block) != 0 {
			block, err := mirrorLayers(g, l.Block, suffix)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't mirror residual block of layer %d", i))
			}
			layers[i].Block = block
		}
	}
	return layers, nil
}

func mirrorNode(g *gorgonia.ExprGraph, n *gorgonia.Node, suffix string) *gorgonia.Node {
	return gorgonia.NewTensor(g, n.Dtype(), n.Dims(), gorgonia.WithShape(n.Shape()...), gorgonia.WithName(n.Name()+suffix), gorgonia.WithValue(n.Value()))
}
