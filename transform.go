package cyclegan_go

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// SampleKind Representation of sample between transformation steps
type SampleKind int

const (
	KindImage = SampleKind(iota)
	KindTensor
)

func (k SampleKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindTensor:
		return "tensor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SampleShape Declared shape of sample. Zero dimension means 'any'
type SampleShape struct {
	Kind     SampleKind
	Channels int
	Height   int
	Width    int
}

func (s SampleShape) String() string {
	dim := func(v int) string {
		if v == 0 {
			return "?"
		}
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%s(%s,%s,%s)", s.Kind, dim(s.Channels), dim(s.Height), dim(s.Width))
}

// Sample Either decoded image or (C, H, W) tensor depending on transformation stage
type Sample struct {
	Image  image.Image
	Tensor *tensor.Dense
}

// Transform Single step of preprocessing pipeline
type Transform interface {
	// OutputShape Returns shape produced for provided input shape or error if input is not accepted
	OutputShape(in SampleShape) (SampleShape, error)
	// Apply Transforms sample. Random steps must use provided rng only
	Apply(s Sample, rng *rand.Rand) (Sample, error)
}

// Pipeline Ordered sequence of transforms with checked shapes: image => ... => tensor
type Pipeline struct {
	steps []Transform
	in    SampleShape
	out   SampleShape
}

// NewPipeline Chains steps checking that every step accepts the previous step's output
func NewPipeline(in SampleShape, steps ...Transform) (*Pipeline, error) {
	shape := in
	for i, step := range steps {
		next, err := step.OutputShape(shape)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Step #%d (%T) does not accept %s", i, step, shape))
		}
		shape = next
	}
	if shape.Kind != KindTensor {
		return nil, fmt.Errorf("Pipeline must end with tensor, but ends with %s", shape)
	}
	return &Pipeline{steps: steps, in: in, out: shape}, nil
}

// DefaultPipeline Resize short side => random crop => random horizontal flip => tensor in [0, 1] => normalize to [-1, 1]
func DefaultPipeline(size int) (*Pipeline, error) {
	return NewPipeline(
		SampleShape{Kind: KindImage},
		Resize{Size: size},
		RandomCrop{Height: size, Width: size},
		RandomHorizontalFlip{P: 0.5},
		ToTensor{},
		Normalize{Mean: []float64{0.5, 0.5, 0.5}, Std: []float64{0.5, 0.5, 0.5}},
	)
}

// OutputShape Returns declared output of the last step
func (p *Pipeline) OutputShape() SampleShape {
	return p.out
}

// Apply Runs all steps on decoded image
func (p *Pipeline) Apply(img image.Image, rng *rand.Rand) (*tensor.Dense, error) {
	s := Sample{Image: img}
	var err error
	for i, step := range p.steps {
		s, err = step.Apply(s, rng)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply step #%d (%T)", i, step))
		}
	}
	return s.Tensor, nil
}

func expectKind(in SampleShape, kind SampleKind) error {
	if in.Kind != kind {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("expected %s, but got %s", kind, in))
	}
	return nil
}

// Resize Scales image so its shorter side equals Size keeping aspect ratio (bilinear)
type Resize struct {
	Size int
}

func (t Resize) OutputShape(in SampleShape) (SampleShape, error) {
	if err := expectKind(in, KindImage); err != nil {
		return in, err
	}
	if t.Size < 1 {
		return in, fmt.Errorf("Resize size must be positive, but got %d", t.Size)
	}
	out := in
	if in.Height == 0 || in.Width == 0 {
		out.Height, out.Width = 0, 0
		return out, nil
	}
	out.Height, out.Width = resizedDims(in.Height, in.Width, t.Size)
	return out, nil
}

func (t Resize) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	if s.Image == nil {
		return s, errors.Wrap(ErrShapeMismatch, "resize expects image")
	}
	b := s.Image.Bounds()
	h, w := resizedDims(b.Dy(), b.Dx(), t.Size)
	if h == b.Dy() && w == b.Dx() {
		return s, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), s.Image, b, xdraw.Src, nil)
	return Sample{Image: dst}, nil
}

// resizedDims Short side becomes 'size', long side is scaled and truncated
func resizedDims(h, w, size int) (int, int) {
	if w <= h {
		return size * h / w, size
	}
	return size, size * w / h
}

// RandomCrop Cuts Height x Width window at random position
type RandomCrop struct {
	Height int
	Width  int
}

func (t RandomCrop) OutputShape(in SampleShape) (SampleShape, error) {
	if err := expectKind(in, KindImage); err != nil {
		return in, err
	}
	if t.Height < 1 || t.Width < 1 {
		return in, fmt.Errorf("Crop size must be positive, but got %dx%d", t.Height, t.Width)
	}
	if (in.Height != 0 && in.Height < t.Height) || (in.Width != 0 && in.Width < t.Width) {
		return in, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("crop %dx%d is bigger than input %s", t.Height, t.Width, in))
	}
	out := in
	out.Height, out.Width = t.Height, t.Width
	return out, nil
}

func (t RandomCrop) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	if s.Image == nil {
		return s, errors.Wrap(ErrShapeMismatch, "crop expects image")
	}
	b := s.Image.Bounds()
	if b.Dy() < t.Height || b.Dx() < t.Width {
		return s, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("crop %dx%d is bigger than image %dx%d", t.Height, t.Width, b.Dy(), b.Dx()))
	}
	x0 := b.Min.X + rng.Intn(b.Dx()-t.Width+1)
	y0 := b.Min.Y + rng.Intn(b.Dy()-t.Height+1)
	dst := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	xdraw.Draw(dst, dst.Bounds(), s.Image, image.Pt(x0, y0), xdraw.Src)
	return Sample{Image: dst}, nil
}

// RandomHorizontalFlip Mirrors image left to right with probability P
type RandomHorizontalFlip struct {
	P float64
}

func (t RandomHorizontalFlip) OutputShape(in SampleShape) (SampleShape, error) {
	if err := expectKind(in, KindImage); err != nil {
		return in, err
	}
	return in, nil
}

func (t RandomHorizontalFlip) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	if s.Image == nil {
		return s, errors.Wrap(ErrShapeMismatch, "flip expects image")
	}
	if rng.Float64() >= t.P {
		return s, nil
	}
	return Sample{Image: FlipHorizontal(s.Image)}, nil
}

// FlipHorizontal Returns mirrored copy of image
func FlipHorizontal(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// ToTensor Converts image to (3, H, W) tensor with values in [0, 1]. Alpha channel is dropped
type ToTensor struct{}

func (t ToTensor) OutputShape(in SampleShape) (SampleShape, error) {
	if err := expectKind(in, KindImage); err != nil {
		return in, err
	}
	return SampleShape{Kind: KindTensor, Channels: 3, Height: in.Height, Width: in.Width}, nil
}

func (t ToTensor) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	if s.Image == nil {
		return s, errors.Wrap(ErrShapeMismatch, "to-tensor expects image")
	}
	return Sample{Tensor: ImageToTensor(s.Image)}, nil
}

// ImageToTensor Converts image to (3, H, W) tensor with values in [0, 1]
func ImageToTensor(img image.Image) *tensor.Dense {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	area := h * w
	data := make([]float64, 3*area)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			idx := y*w + x
			data[idx] = float64(c.R) / 255.0
			data[area+idx] = float64(c.G) / 255.0
			data[2*area+idx] = float64(c.B) / 255.0
		}
	}
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(data))
}

// Normalize Per-channel (x - mean) / std
type Normalize struct {
	Mean []float64
	Std  []float64
}

func (t Normalize) OutputShape(in SampleShape) (SampleShape, error) {
	if err := expectKind(in, KindTensor); err != nil {
		return in, err
	}
	if len(t.Mean) != len(t.Std) || (in.Channels != 0 && len(t.Mean) != in.Channels) {
		return in, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d means and %d stds for %s", len(t.Mean), len(t.Std), in))
	}
	for _, s := range t.Std {
		if s == 0 {
			return in, fmt.Errorf("Standard deviation must be non-zero")
		}
	}
	return in, nil
}

func (t Normalize) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	if s.Tensor == nil {
		return s, errors.Wrap(ErrShapeMismatch, "normalize expects tensor")
	}
	out, err := NormalizeTensor(s.Tensor, t.Mean, t.Std)
	if err != nil {
		return s, err
	}
	return Sample{Tensor: out}, nil
}

// NormalizeTensor Returns per-channel (x - mean) / std of (C, H, W) or (N, C, H, W) tensor
func NormalizeTensor(t *tensor.Dense, mean, std []float64) (*tensor.Dense, error) {
	return mapChannels(t, mean, std, func(v, m, s float64) float64 { return (v - m) / s })
}

// Denormalize Returns per-channel x * std + mean clamped to [0, 1] of (C, H, W) or (N, C, H, W) tensor
func Denormalize(t *tensor.Dense, mean, std []float64) (*tensor.Dense, error) {
	return mapChannels(t, mean, std, func(v, m, s float64) float64 {
		v = v*s + m
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	})
}

func mapChannels(t *tensor.Dense, mean, std []float64, fn func(v, m, s float64) float64) (*tensor.Dense, error) {
	shp := t.Shape()
	var n, c int
	switch shp.Dims() {
	case 3:
		n, c = 1, shp[0]
	case 4:
		n, c = shp[0], shp[1]
	default:
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("expected CHW or NCHW tensor, but got %v", shp))
	}
	if len(mean) != c || len(std) != c {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d means and %d stds for %d channels", len(mean), len(std), c))
	}
	src, ok := t.Materialize().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Only float64 tensors are supported, but got %v", t.Dtype())
	}
	area := len(src) / (n * c)
	data := make([]float64, len(src))
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			offset := (i*c + ch) * area
			for j := offset; j < offset+area; j++ {
				data[j] = fn(src[j], mean[ch], std[ch])
			}
		}
	}
	return tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(data)), nil
}
