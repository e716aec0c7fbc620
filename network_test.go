package cyclegan_go

import (
	"math"
	"math/rand"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// evaluate Runs whole graph once and returns copy of output value
func evaluate(t *testing.T, g *gorgonia.ExprGraph, out *gorgonia.Node) gorgonia.Value {
	var val gorgonia.Value
	gorgonia.Read(out, &val)
	tm := gorgonia.NewTapeMachine(g)
	defer tm.Close()
	if err := tm.RunAll(); err != nil {
		t.Fatal(err)
	}
	if dense, ok := val.(*tensor.Dense); ok {
		return dense.Clone().(*tensor.Dense)
	}
	return val
}

func randomDense(rng *rand.Rand, shape ...int) *tensor.Dense {
	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = 2*rng.Float64() - 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func TestInstanceNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	g := gorgonia.NewGraph()
	input := randomDense(rng, 2, 3, 4, 4)
	// shift and scale planes differently
	data := input.Data().([]float64)
	for i := range data {
		plane := i / 16
		data[i] = data[i]*float64(plane+1) + float64(plane)
	}
	x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(2, 3, 4, 4), gorgonia.WithValue(input), gorgonia.WithName("x"))
	out, err := InstanceNorm(x, DefaultNormEpsilon)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{2, 3, 4, 4}) {
		t.Fatalf("Expected shape (2, 3, 4, 4), got %v", out.Shape())
	}
	values := evaluate(t, g, out).Data().([]float64)
	for plane := 0; plane < 6; plane++ {
		var mean, variance float64
		for _, v := range values[plane*16 : (plane+1)*16] {
			mean += v
		}
		mean /= 16
		for _, v := range values[plane*16 : (plane+1)*16] {
			variance += (v - mean) * (v - mean)
		}
		variance /= 16
		if math.Abs(mean) > 1e-9 {
			t.Errorf("Plane #%d: expected zero mean, got %v", plane, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("Plane #%d: expected unit variance, got %v", plane, variance)
		}
	}
}

func TestZeroInsert(t *testing.T) {
	g := gorgonia.NewGraph()
	input := tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking([]float64{
		1, 2,
		3, 4,

		5, 6,
		7, 8,
	}))
	x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(1, 2, 2, 2), gorgonia.WithValue(input), gorgonia.WithName("x"))
	out, err := ZeroInsert(x, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{1, 2, 4, 4}) {
		t.Fatalf("Expected shape (1, 2, 4, 4), got %v", out.Shape())
	}
	expected := []float64{
		1, 0, 2, 0,
		0, 0, 0, 0,
		3, 0, 4, 0,
		0, 0, 0, 0,

		5, 0, 6, 0,
		0, 0, 0, 0,
		7, 0, 8, 0,
		0, 0, 0, 0,
	}
	values := evaluate(t, g, out).Data().([]float64)
	for i := range expected {
		if values[i] != expected[i] {
			t.Fatalf("Expected %v, got %v", expected, values)
		}
	}
}

func TestTransposedConvolutionShape(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(2, 4, 8, 8), gorgonia.WithInit(gorgonia.GlorotN(1.0)), gorgonia.WithName("x"))
	w, b := NewConvWeights(g, "up", 3, 4, 3, 3)
	l := transposedConvLayer(w, b, 3, 2, 1, 1)
	out, err := l.Fwd(x)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{2, 3, 16, 16}) {
		t.Errorf("Expected shape (2, 3, 16, 16), got %v", out.Shape())
	}

	bad := transposedConvLayer(w, b, 3, 2, 1, 0)
	if _, err := bad.Fwd(x); err == nil {
		t.Errorf("Expected error for output padding other than stride-1")
	}
}

func TestResidualZeroWeightsIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := gorgonia.NewGraph()
	input := randomDense(rng, 1, 4, 5, 5)
	x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(1, 4, 5, 5), gorgonia.WithValue(input.Clone()), gorgonia.WithName("x"))
	zeroConv := func(name string) *Layer {
		w := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(4, 4, 3, 3), gorgonia.WithInit(gorgonia.Zeroes()), gorgonia.WithName(name+"_w"))
		b := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(1, 4, 1, 1), gorgonia.WithInit(gorgonia.Zeroes()), gorgonia.WithName(name+"_b"))
		return convLayer(w, b, 3, 1, 1)
	}
	block := &Layer{
		Type:       LayerResidual,
		Activation: NoActivation,
		Block: []*Layer{
			zeroConv("res_0"),
			instanceNormLayer(Rectify),
			zeroConv("res_1"),
			instanceNormLayer(NoActivation),
		},
	}
	if n := len(block.Learnables()); n != 4 {
		t.Fatalf("Expected 4 learnables of residual block, got %d", n)
	}
	out, err := block.Fwd(x)
	if err != nil {
		t.Fatal(err)
	}
	values := evaluate(t, g, out).Data().([]float64)
	for i, v := range input.Data().([]float64) {
		if values[i] != v {
			t.Fatalf("Value #%d: expected %v, got %v", i, v, values[i])
		}
	}
}

func TestGeneratorShapeAndRange(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := DefineGenerator(g, "generator", GeneratorConfig{Channels: 3, Filters: 2, ResidualBlocks: 1})
	if err != nil {
		t.Fatal(err)
	}
	x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(1, 3, 128, 128), gorgonia.WithValue(randomDense(rand.New(rand.NewSource(1)), 1, 3, 128, 128)), gorgonia.WithName("x"))
	out, err := gen.Fwd(x)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{1, 3, 128, 128}) {
		t.Fatalf("Expected shape (1, 3, 128, 128), got %v", out.Shape())
	}
	if gen.Out() != out {
		t.Errorf("Out() must reference output of the latest Fwd call")
	}
	// initial, down x2, residual (2 convs), up x2, output: 8 convolutions with weight and bias
	if n := len(gen.Learnables()); n != 16 {
		t.Errorf("Expected 16 learnables, got %d", n)
	}
	for i, v := range evaluate(t, g, out).Data().([]float64) {
		if v < -1 || v > 1 || math.IsNaN(v) {
			t.Fatalf("Value #%d is out of [-1; 1]: %v", i, v)
		}
	}
}

func TestGeneratorBadConfig(t *testing.T) {
	g := gorgonia.NewGraph()
	if _, err := DefineGenerator(g, "generator", GeneratorConfig{Channels: 3, Filters: 0, ResidualBlocks: 1}); err == nil {
		t.Errorf("Expected error for zero filters")
	}
	if _, err := DefineDiscriminator(g, "discriminator", DiscriminatorConfig{Channels: 0, Filters: 4}); err == nil {
		t.Errorf("Expected error for zero channels")
	}
}

func TestDiscriminatorPatchShape(t *testing.T) {
	if PatchSize(128) != 14 || PatchSize(32) != 2 || PatchSize(16) > 0 {
		t.Fatalf("Unexpected patch sizes: 128 => %d, 32 => %d, 16 => %d", PatchSize(128), PatchSize(32), PatchSize(16))
	}
	for _, size := range []int{32, 64} {
		g := gorgonia.NewGraph()
		disc, err := DefineDiscriminator(g, "discriminator", DiscriminatorConfig{Channels: 3, Filters: 2})
		if err != nil {
			t.Fatal(err)
		}
		x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(2, 3, size, size), gorgonia.WithInit(gorgonia.GlorotN(1.0)), gorgonia.WithName("x"))
		out, err := disc.Fwd(x)
		if err != nil {
			t.Fatal(err)
		}
		p := PatchSize(size)
		if !out.Shape().Eq(tensor.Shape{2, 1, p, p}) {
			t.Errorf("Input %d: expected shape (2, 1, %d, %d), got %v", size, p, p, out.Shape())
		}
	}
}

func TestMirrorSharesValues(t *testing.T) {
	src := gorgonia.NewGraph()
	disc, err := DefineDiscriminator(src, "discriminator", DiscriminatorConfig{Channels: 3, Filters: 2})
	if err != nil {
		t.Fatal(err)
	}
	dst := gorgonia.NewGraph()
	mirrored, err := disc.Mirror(dst, "_mirror")
	if err != nil {
		t.Fatal(err)
	}
	original, copied := disc.Learnables(), mirrored.Learnables()
	if len(original) != len(copied) {
		t.Fatalf("Expected %d learnables, got %d", len(original), len(copied))
	}
	for i := range original {
		if copied[i].Graph() != dst {
			t.Fatalf("Node %s is not on destination graph", copied[i].Name())
		}
		if copied[i].Name() != original[i].Name()+"_mirror" {
			t.Errorf("Unexpected mirrored name %s", copied[i].Name())
		}
	}
	// In-place update of source weight must be visible through mirror
	w := original[0].Value().(*tensor.Dense)
	w.Data().([]float64)[0] = 42
	if v := copied[0].Value().(*tensor.Dense).Data().([]float64)[0]; v != 42 {
		t.Errorf("Mirror must share weight values, got %v", v)
	}
}

func TestNetworkWithoutLayers(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(1, 1, 4, 4), gorgonia.WithInit(gorgonia.Zeroes()), gorgonia.WithName("x"))
	net := &Network{Name: "empty"}
	if _, err := net.Fwd(x); err == nil {
		t.Errorf("Expected error for network without layers")
	}
	broken := &Network{Name: "broken", Layers: []*Layer{{Type: LayerConvolutional}}}
	if _, err := broken.Fwd(x); err == nil {
		t.Errorf("Expected error for convolution without weights")
	}
}
