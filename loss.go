package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction...)
}

// L1Loss See ref. https://en.wikipedia.org/wiki/Least_absolute_deviations
// Default reduction is 'mean'
func L1Loss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	abs, err := gorgonia.Abs(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	return reduce(abs, reduction...)
}

// AdversarialLoss Least squares GAN loss: mean squared distance between patch map and constant target map (1 - real, 0 - fake)
func AdversarialLoss(patches *gorgonia.Node, target float64) (*gorgonia.Node, error) {
	targetMap := constantLike(patches, target)
	loss, err := MSELoss(patches, targetMap)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't evaluate MSE against target %g", target))
	}
	return loss, nil
}

func reduce(x *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(x)
	case LossReductionMean:
		return gorgonia.Mean(x)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// constantLike Returns non-learnable tensor of the same shape as 'a' filled with 'value'
func constantLike(a *gorgonia.Node, value float64) *gorgonia.Node {
	var init gorgonia.InitWFn
	switch value {
	case 0:
		init = gorgonia.Zeroes()
	case 1:
		init = gorgonia.Ones()
	default:
		init = gorgonia.ValuesOf(scalarValue(a.Dtype(), value))
	}
	return gorgonia.NewTensor(a.Graph(), a.Dtype(), a.Dims(), gorgonia.WithShape(a.Shape()...), gorgonia.WithInit(init), gorgonia.WithName(fmt.Sprintf("target_%g_%v", value, a.Shape())))
}
