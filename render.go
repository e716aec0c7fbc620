package cyclegan_go

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormalizedMean, NormalizedStd Per-channel statistics used by DefaultPipeline: [0, 1] => [-1, 1]
const (
	NormalizedMean = 0.5
	NormalizedStd  = 0.5
)

// TensorToImage Converts normalized (C, H, W) tensor (C is 1 or 3) back to image
func TensorToImage(t *tensor.Dense) (*image.RGBA, error) {
	shp := t.Shape()
	if shp.Dims() != 3 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("expected CHW tensor, but got %v", shp))
	}
	batch := t.Clone().(*tensor.Dense)
	if err := batch.Reshape(1, shp[0], shp[1], shp[2]); err != nil {
		return nil, errors.Wrap(err, "Can't reshape to NCHW")
	}
	return BatchToImage(batch)
}

// BatchToImage Denormalizes (N, C, H, W) tensor and places its images side by side: result is H x (N*W)
func BatchToImage(batch *tensor.Dense) (*image.RGBA, error) {
	shp := batch.Shape()
	if shp.Dims() != 4 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("expected NCHW tensor, but got %v", shp))
	}
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	if c != 1 && c != 3 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("can't render %d channels", c))
	}
	mean, std := make([]float64, c), make([]float64, c)
	for i := range mean {
		mean[i], std[i] = NormalizedMean, NormalizedStd
	}
	denormalized, err := Denormalize(batch, mean, std)
	if err != nil {
		return nil, errors.Wrap(err, "Can't denormalize batch")
	}
	data := denormalized.Data().([]float64)
	area := h * w
	img := image.NewRGBA(image.Rect(0, 0, n*w, h))
	for i := 0; i < n; i++ {
		offset := i * c * area
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := offset + y*w + x
				r := toByte(data[idx])
				g, b := r, r
				if c == 3 {
					g, b = toByte(data[idx+area]), toByte(data[idx+2*area])
				}
				img.SetRGBA(i*w+x, y, color.RGBA{R: r, G: g, B: b, A: 255})
			}
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	return uint8(v*255.0 + 0.5)
}

// SavePanel Renders batch as single row of images with title. Format is defined by file extension (e.g. '.png')
func SavePanel(batch *tensor.Dense, title, fname string) error {
	img, err := BatchToImage(batch)
	if err != nil {
		return errors.Wrap(err, "Can't render batch")
	}
	b := img.Bounds()
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()
	p.Add(plotter.NewImage(img, 0, 0, float64(b.Dx()), float64(b.Dy())))
	// Keep roughly 2 inches per image
	n := batch.Shape()[0]
	width := vg.Length(2*n) * vg.Inch
	height := 2*vg.Inch + vg.Inch/2
	if err := p.Save(width, height, fname); err != nil {
		return errors.Wrap(err, "Can't save panel")
	}
	return nil
}

// PlotLosses Draws per-epoch mean losses of generators and both discriminators
func PlotLosses(history []EpochStats, fname string) error {
	if len(history) == 0 {
		return fmt.Errorf("History is empty")
	}
	gen := make(plotter.XYs, len(history))
	discA := make(plotter.XYs, len(history))
	discB := make(plotter.XYs, len(history))
	for i, st := range history {
		x := float64(st.Epoch)
		gen[i].X, gen[i].Y = x, st.Mean.Generator
		discA[i].X, discA[i].Y = x, st.Mean.DiscriminatorA
		discB[i].X, discB[i].Y = x, st.Mean.DiscriminatorB
	}
	p := plot.New()
	p.Title.Text = "Losses"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLinePoints(p, "G", gen, "D_A", discA, "D_B", discB); err != nil {
		return errors.Wrap(err, "Can't add lines")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
