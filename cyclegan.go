package cyclegan_go

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Losses Scalar losses of single training step
type Losses struct {
	Generator      float64
	Identity       float64
	Adversarial    float64
	Cycle          float64
	DiscriminatorA float64
	DiscriminatorB float64
}

func (l Losses) String() string {
	return fmt.Sprintf("Loss G: %.4f, Loss D_A: %.4f, Loss D_B: %.4f", l.Generator, l.DiscriminatorA, l.DiscriminatorB)
}

// CycleGAN Two generators (A => B, B => A) and two discriminators (D_A, D_B) trained jointly.
//
// Generator graph holds both generators and mirrors of both discriminators (mirrors share weight values,
// so discriminators are frozen there: only generators' learnables are differentiated and updated).
// Each discriminator has its own graph and solver. Fakes produced on generator graph are copied into
// discriminator graphs, so gradients never flow back into generators (detached fakes).
//
type CycleGAN struct {
	cfg Config

	GeneratorAB    *GeneratorNet
	GeneratorBA    *GeneratorNet
	DiscriminatorA *DiscriminatorNet
	DiscriminatorB *DiscriminatorNet

	gen   *generatorPhase
	discA *discriminatorPhase
	discB *discriminatorPhase
}

type generatorPhase struct {
	graph        *gorgonia.ExprGraph
	realA, realB *gorgonia.Node
	learnables   gorgonia.Nodes

	fakeAVal, fakeBVal gorgonia.Value
	lossVal            gorgonia.Value
	identityVal        gorgonia.Value
	adversarialVal     gorgonia.Value
	cycleVal           gorgonia.Value

	tm     gorgonia.VM
	solver gorgonia.Solver
}

type discriminatorPhase struct {
	graph      *gorgonia.ExprGraph
	real, fake *gorgonia.Node
	learnables gorgonia.Nodes
	lossVal    gorgonia.Value

	tm     gorgonia.VM
	solver gorgonia.Solver
}

// NewCycleGAN Defines networks, losses, gradients, tape machines and Adam solvers for provided settings
func NewCycleGAN(cfg Config) (*CycleGAN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Bad config")
	}
	model := &CycleGAN{cfg: cfg}
	genGraph := gorgonia.NewGraph()
	discGraphA := gorgonia.NewGraph()
	discGraphB := gorgonia.NewGraph()

	var err error
	model.GeneratorAB, err = DefineGenerator(genGraph, "generator_ab", cfg.GeneratorConfig())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator A => B")
	}
	model.GeneratorBA, err = DefineGenerator(genGraph, "generator_ba", cfg.GeneratorConfig())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator B => A")
	}
	model.DiscriminatorA, err = DefineDiscriminator(discGraphA, "discriminator_a", cfg.DiscriminatorConfig())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator A")
	}
	model.DiscriminatorB, err = DefineDiscriminator(discGraphB, "discriminator_b", cfg.DiscriminatorConfig())
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator B")
	}

	model.gen, err = model.defineGeneratorPhase(genGraph)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generators training")
	}
	model.discA, err = model.defineDiscriminatorPhase(discGraphA, model.DiscriminatorA, "a")
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator A training")
	}
	model.discB, err = model.defineDiscriminatorPhase(discGraphB, model.DiscriminatorB, "b")
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator B training")
	}
	return model, nil
}

func (model *CycleGAN) batchShape() tensor.Shape {
	return tensor.Shape{model.cfg.BatchSize, model.cfg.Channels, model.cfg.ImageSize, model.cfg.ImageSize}
}

func (model *CycleGAN) newSolver() gorgonia.Solver {
	return gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(model.cfg.LearningRate),
		gorgonia.WithBeta1(model.cfg.Beta1),
		gorgonia.WithBeta2(model.cfg.Beta2),
	)
}

func (model *CycleGAN) defineGeneratorPhase(g *gorgonia.ExprGraph) (*generatorPhase, error) {
	shp := model.batchShape()
	phase := &generatorPhase{graph: g}
	phase.realA = gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(shp...), gorgonia.WithName("real_a"))
	phase.realB = gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(shp...), gorgonia.WithName("real_b"))

	// Frozen copies of discriminators
	discA, err := model.DiscriminatorA.Mirror(g, "_frozen")
	if err != nil {
		return nil, err
	}
	discB, err := model.DiscriminatorB.Mirror(g, "_frozen")
	if err != nil {
		return nil, err
	}

	fakeB, err := model.GeneratorAB.Fwd(phase.realA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do fake_B = G_AB(real_A)")
	}
	fakeA, err := model.GeneratorBA.Fwd(phase.realB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do fake_A = G_BA(real_B)")
	}
	recoveredA, err := model.GeneratorBA.Fwd(fakeB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do recovered_A = G_BA(fake_B)")
	}
	recoveredB, err := model.GeneratorAB.Fwd(fakeA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do recovered_B = G_AB(fake_A)")
	}
	// Identity terms pass each domain's real batch through the generator producing that domain
	sameA, err := model.GeneratorBA.Fwd(phase.realA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do G_BA(real_A)")
	}
	sameB, err := model.GeneratorAB.Fwd(phase.realB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do G_AB(real_B)")
	}

	identity, err := weightedSum(model.cfg.LambdaIdentity, "identity", lossPair{L1Loss, sameA, phase.realA}, lossPair{L1Loss, sameB, phase.realB})
	if err != nil {
		return nil, errors.Wrap(err, "Can't define identity loss")
	}

	patchesB, err := discB.Fwd(fakeB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do D_B(fake_B)")
	}
	patchesA, err := discA.Fwd(fakeA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do D_A(fake_A)")
	}
	advB, err := AdversarialLoss(patchesB, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define adversarial loss for D_B")
	}
	advA, err := AdversarialLoss(patchesA, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define adversarial loss for D_A")
	}
	adversarial, err := gorgonia.Add(advB, advA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add adversarial losses")
	}

	cycle, err := weightedSum(model.cfg.LambdaCycle, "cycle", lossPair{L1Loss, recoveredA, phase.realA}, lossPair{L1Loss, recoveredB, phase.realB})
	if err != nil {
		return nil, errors.Wrap(err, "Can't define cycle consistency loss")
	}

	cost, err := gorgonia.Add(identity, adversarial)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add identity and adversarial losses")
	}
	cost, err = gorgonia.Add(cost, cycle)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add cycle consistency loss")
	}
	gorgonia.WithName("generator_loss")(cost)

	phase.learnables = append(model.GeneratorAB.Learnables(), model.GeneratorBA.Learnables()...)
	if _, err = gorgonia.Grad(cost, phase.learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients of generators")
	}

	gorgonia.Read(fakeA, &phase.fakeAVal)
	gorgonia.Read(fakeB, &phase.fakeBVal)
	gorgonia.Read(cost, &phase.lossVal)
	gorgonia.Read(identity, &phase.identityVal)
	gorgonia.Read(adversarial, &phase.adversarialVal)
	gorgonia.Read(cycle, &phase.cycleVal)

	phase.tm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(phase.learnables...))
	phase.solver = model.newSolver()
	return phase, nil
}

func (model *CycleGAN) defineDiscriminatorPhase(g *gorgonia.ExprGraph, disc *DiscriminatorNet, domain string) (*discriminatorPhase, error) {
	shp := model.batchShape()
	phase := &discriminatorPhase{graph: g}
	phase.real = gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(shp...), gorgonia.WithName("real_"+domain))
	phase.fake = gorgonia.NewTensor(g, Dtype, 4, gorgonia.WithShape(shp...), gorgonia.WithName("fake_"+domain))

	realPatches, err := disc.Fwd(phase.real)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do D(real)")
	}
	fakePatches, err := disc.Fwd(phase.fake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do D(fake)")
	}
	realLoss, err := AdversarialLoss(realPatches, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define loss on real samples")
	}
	fakeLoss, err := AdversarialLoss(fakePatches, 0)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define loss on fake samples")
	}
	cost, err := gorgonia.Add(realLoss, fakeLoss)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add real and fake losses")
	}
	gorgonia.WithName("discriminator_" + domain + "_loss")(cost)

	phase.learnables = disc.Learnables()
	if _, err = gorgonia.Grad(cost, phase.learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients of discriminator")
	}
	gorgonia.Read(cost, &phase.lossVal)

	phase.tm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(phase.learnables...))
	phase.solver = model.newSolver()
	return phase, nil
}

type lossPair struct {
	fn     func(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error)
	output *gorgonia.Node
	target *gorgonia.Node
}

// weightedSum lambda*fn(out0, target0) + lambda*fn(out1, target1) + ...
func weightedSum(lambda float64, name string, pairs ...lossPair) (*gorgonia.Node, error) {
	var sum *gorgonia.Node
	for i, p := range pairs {
		loss, err := p.fn(p.output, p.target)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't evaluate %s loss #%d", name, i))
		}
		if sum == nil {
			sum = loss
			continue
		}
		if sum, err = gorgonia.Add(sum, loss); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't add %s loss #%d", name, i))
		}
	}
	if sum == nil {
		return nil, fmt.Errorf("No terms for %s loss", name)
	}
	weight := gorgonia.NewScalar(sum.Graph(), sum.Dtype(), gorgonia.WithValue(scalarValue(sum.Dtype(), lambda)), gorgonia.WithName("lambda_"+name))
	weighted, err := gorgonia.Mul(weight, sum)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't weight %s loss", name))
	}
	gorgonia.WithName(name + "_loss")(weighted)
	return weighted, nil
}

// Step Does one training step: generators phase, then discriminator A phase, then discriminator B phase.
//
// realA, realB - batches of shape (BatchSize, Channels, ImageSize, ImageSize)
//
// Non-finite loss stops the step before parameters of that phase are updated (ErrNonFiniteLoss).
//
func (model *CycleGAN) Step(realA, realB *tensor.Dense) (Losses, error) {
	var losses Losses
	shp := model.batchShape()
	if !realA.Shape().Eq(shp) || !realB.Shape().Eq(shp) {
		return losses, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("batches must have shape %v, but got %v and %v", shp, realA.Shape(), realB.Shape()))
	}

	/* Generators */
	fakeA, fakeB, err := model.stepGenerators(realA, realB, &losses)
	if err != nil {
		return losses, errors.Wrap(err, "[Generators]")
	}

	/* Discriminator A: real_A vs detached fake_A */
	losses.DiscriminatorA, err = model.discA.step(realA, fakeA)
	if err != nil {
		return losses, errors.Wrap(err, "[Discriminator A]")
	}

	/* Discriminator B: real_B vs detached fake_B */
	losses.DiscriminatorB, err = model.discB.step(realB, fakeB)
	if err != nil {
		return losses, errors.Wrap(err, "[Discriminator B]")
	}
	return losses, nil
}

func (model *CycleGAN) stepGenerators(realA, realB *tensor.Dense, losses *Losses) (*tensor.Dense, *tensor.Dense, error) {
	phase := model.gen
	defer phase.tm.Reset()
	if err := gorgonia.Let(phase.realA, realA); err != nil {
		return nil, nil, errors.Wrap(err, "Can't init real_A value")
	}
	if err := gorgonia.Let(phase.realB, realB); err != nil {
		return nil, nil, errors.Wrap(err, "Can't init real_B value")
	}
	if err := phase.tm.RunAll(); err != nil {
		return nil, nil, errors.Wrap(err, "Can't run VM")
	}
	var err error
	if losses.Generator, err = scalarOf(phase.lossVal); err != nil {
		return nil, nil, errors.Wrap(err, "Can't read generator loss")
	}
	losses.Identity, _ = scalarOf(phase.identityVal)
	losses.Adversarial, _ = scalarOf(phase.adversarialVal)
	losses.Cycle, _ = scalarOf(phase.cycleVal)
	if err = checkFinite("generator", losses.Generator); err != nil {
		return nil, nil, err
	}
	// Fakes must be copied before the machine reuses its memory
	fakeA, err := denseClone(phase.fakeAVal)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't copy fake_A")
	}
	fakeB, err := denseClone(phase.fakeBVal)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't copy fake_B")
	}
	if err = phase.solver.Step(gorgonia.NodesToValueGrads(phase.learnables)); err != nil {
		return nil, nil, errors.Wrap(err, "Can't do solver step")
	}
	return fakeA, fakeB, nil
}

func (phase *discriminatorPhase) step(realBatch, fakeBatch *tensor.Dense) (float64, error) {
	defer phase.tm.Reset()
	if err := gorgonia.Let(phase.real, realBatch); err != nil {
		return 0, errors.Wrap(err, "Can't init real value")
	}
	if err := gorgonia.Let(phase.fake, fakeBatch); err != nil {
		return 0, errors.Wrap(err, "Can't init fake value")
	}
	if err := phase.tm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run VM")
	}
	loss, err := scalarOf(phase.lossVal)
	if err != nil {
		return 0, errors.Wrap(err, "Can't read discriminator loss")
	}
	if err = checkFinite("discriminator", loss); err != nil {
		return loss, err
	}
	if err = phase.solver.Step(gorgonia.NodesToValueGrads(phase.learnables)); err != nil {
		return loss, errors.Wrap(err, "Can't do solver step")
	}
	return loss, nil
}

// Close Releases tape machines
func (model *CycleGAN) Close() error {
	for _, vm := range []gorgonia.VM{model.gen.tm, model.discA.tm, model.discB.tm} {
		if err := vm.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Config Returns settings model was built with
func (model *CycleGAN) Config() Config {
	return model.cfg
}

func checkFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Wrap(ErrNonFiniteLoss, fmt.Sprintf("%s loss is %v", name, v))
	}
	return nil
}

func scalarOf(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("Value has not been computed yet")
	}
	switch x := v.Data().(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case []float64:
		if len(x) == 1 {
			return x[0], nil
		}
	case []float32:
		if len(x) == 1 {
			return float64(x[0]), nil
		}
	}
	return 0, fmt.Errorf("Value of type %T is not a scalar", v.Data())
}

func denseClone(v gorgonia.Value) (*tensor.Dense, error) {
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Value of type %T is not *tensor.Dense", v)
	}
	return dense.Clone().(*tensor.Dense), nil
}
