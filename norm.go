package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DefaultNormEpsilon Value added to variance for numerical stability
const DefaultNormEpsilon = 1e-5

// InstanceNorm Normalizes every (sample, channel) plane of NCHW input to zero mean and unit variance.
// No affine parameters. Variance is biased (divided by H*W).
//
// x - Input node of shape (N, C, H, W)
// eps - value added to variance
//
func InstanceNorm(x *gorgonia.Node, eps float64) (*gorgonia.Node, error) {
	shp := x.Shape()
	if shp.Dims() != 4 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("instance norm expects NCHW input, but got %v", shp))
	}
	planes, area := shp[0]*shp[1], shp[2]*shp[3]

	flat, err := gorgonia.Reshape(x, tensor.Shape{planes, area})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input to (N*C, H*W)")
	}
	mean, err := gorgonia.Mean(flat, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(x)")
	}
	mean, err = gorgonia.Reshape(mean, tensor.Shape{planes, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape mean to (N*C, 1)")
	}
	centered, err := gorgonia.BroadcastSub(flat, mean, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean)")
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean)^2")
	}
	variance, err := gorgonia.Mean(sqr, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean((x-mean)^2)")
	}
	epsScalar := gorgonia.NewScalar(x.Graph(), x.Dtype(), gorgonia.WithValue(scalarValue(x.Dtype(), eps)), gorgonia.WithName(fmt.Sprintf("instance_norm_eps_%g", eps)))
	variance, err = gorgonia.Add(variance, epsScalar)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	invStd, err := gorgonia.InverseSqrt(variance)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do 1/sqrt(var+eps)")
	}
	invStd, err = gorgonia.Reshape(invStd, tensor.Shape{planes, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape inverse std to (N*C, 1)")
	}
	normed, err := gorgonia.BroadcastHadamardProd(centered, invStd, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean)/std")
	}
	out, err := gorgonia.Reshape(normed, shp.Clone())
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape normalized output back to NCHW")
	}
	return out, nil
}

// scalarValue Casts float64 to Go type matching dtype
func scalarValue(dt tensor.Dtype, v float64) interface{} {
	if dt == tensor.Float32 {
		return float32(v)
	}
	return v
}
