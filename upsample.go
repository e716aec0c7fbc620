package cyclegan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ZeroInsert Spreads pixels of NCHW input apart: output pixel (fy*y, fx*x) holds input pixel (y, x), all others are zero.
// Output shape is (N, C, fy*H, fx*W), so every row/column is followed by (f-1) zero rows/columns.
//
// Done with two constant 0/1 matrices, hence it is differentiable w.r.t. input.
//
func ZeroInsert(x *gorgonia.Node, fy, fx int) (*gorgonia.Node, error) {
	shp := x.Shape()
	if shp.Dims() != 4 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("zero insertion expects NCHW input, but got %v", shp))
	}
	if fy < 1 || fx < 1 {
		return nil, fmt.Errorf("Zero insertion factors must be positive, but got %dx%d", fy, fx)
	}
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	g := x.Graph()

	// Width first: (N*C*H, W) x (W, fx*W)
	rows, err := gorgonia.Reshape(x, tensor.Shape{n * c * h, w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input to (N*C*H, W)")
	}
	spreadW, err := gorgonia.Mul(rows, spreadMatrix(g, x.Dtype(), w, fx))
	if err != nil {
		return nil, errors.Wrap(err, "Can't spread columns")
	}
	planes, err := gorgonia.Reshape(spreadW, tensor.Shape{n * c, h, fx * w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape to (N*C, H, fx*W)")
	}
	swapped, err := gorgonia.Transpose(planes, 0, 2, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose to (N*C, fx*W, H)")
	}

	// Then height: (N*C*fx*W, H) x (H, fy*H)
	cols, err := gorgonia.Reshape(swapped, tensor.Shape{n * c * fx * w, h})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape to (N*C*fx*W, H)")
	}
	spreadH, err := gorgonia.Mul(cols, spreadMatrix(g, x.Dtype(), h, fy))
	if err != nil {
		return nil, errors.Wrap(err, "Can't spread rows")
	}
	planes, err = gorgonia.Reshape(spreadH, tensor.Shape{n * c, fx * w, fy * h})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape to (N*C, fx*W, fy*H)")
	}
	swapped, err = gorgonia.Transpose(planes, 0, 2, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose to (N*C, fy*H, fx*W)")
	}
	out, err := gorgonia.Reshape(swapped, tensor.Shape{n, c, fy * h, fx * w})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape output to NCHW")
	}
	return out, nil
}

// spreadMatrix Returns (size, factor*size) matrix M where M[i, factor*i] = 1
func spreadMatrix(g *gorgonia.ExprGraph, dt tensor.Dtype, size, factor int) *gorgonia.Node {
	backing := tensor.New(tensor.Of(dt), tensor.WithShape(size, factor*size))
	for i := 0; i < size; i++ {
		if err := backing.SetAt(scalarValue(dt, 1), i, factor*i); err != nil {
			panic(err)
		}
	}
	return gorgonia.NewMatrix(g, dt, gorgonia.WithShape(size, factor*size), gorgonia.WithValue(backing), gorgonia.WithName(fmt.Sprintf("spread_%d_x%d", size, factor)))
}
