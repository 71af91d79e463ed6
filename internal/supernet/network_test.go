package supernet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/searchspace"
)

func smallBatch(seed int64, rows, features, classes int) data.Batch {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(rows, features, nil)
	y := make([]int, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < features; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
		y[i] = rng.Intn(classes)
	}
	return data.Batch{X: x, Y: y}
}

func TestForwardShapesForEverySpace(t *testing.T) {
	for _, name := range []string{"nasbench201", "nasbench101", "darts"} {
		t.Run(name, func(t *testing.T) {
			space, err := searchspace.New(name)
			require.NoError(t, err)
			g := space.Graph().Clone()
			require.NoError(t, g.AddAlphas())

			net, err := New(g, 5, 6, 3, rand.New(rand.NewSource(1)))
			require.NoError(t, err)
			b := smallBatch(2, 4, 5, 3)

			pass, err := net.Forward(g, b.X)
			require.NoError(t, err)
			r, c := pass.Logits.Dims()
			assert.Equal(t, 4, r)
			assert.Equal(t, 3, c)
			loss := pass.Loss(b.Y)
			assert.False(t, math.IsNaN(loss))
			assert.Greater(t, net.CountParametersMB(), 0.0)
		})
	}
}

func TestForwardRejectsOtherLayout(t *testing.T) {
	net, err := New(searchspace.NewNasBench201().Graph(), 5, 6, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	_, err = net.Forward(searchspace.NewDarts().Graph(), mat.NewDense(1, 5, nil))
	assert.ErrorIs(t, err, ErrLayoutMismatch)
}

// numericGrad perturbs v[i] and returns the central difference of the loss.
func numericGrad(t *testing.T, loss func() float64, v []float64, i int) float64 {
	t.Helper()
	const eps = 1e-6
	orig := v[i]
	v[i] = orig + eps
	up := loss()
	v[i] = orig - eps
	down := loss()
	v[i] = orig
	return (up - down) / (2 * eps)
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	g := searchspace.NewNasBench201().Graph().Clone()
	require.NoError(t, g.AddAlphas())
	rng := rand.New(rand.NewSource(7))
	for i := range g.Slots {
		for k := range g.Slots[i].Alpha {
			g.Slots[i].Alpha[k] = 0.3 * rng.NormFloat64()
		}
	}
	net, err := New(g, 4, 5, 3, rng)
	require.NoError(t, err)
	b := smallBatch(8, 6, 4, 3)

	loss := func() float64 {
		p, err := net.Forward(g, b.X)
		require.NoError(t, err)
		return p.Loss(b.Y)
	}

	pass, err := net.Forward(g, b.X)
	require.NoError(t, err)
	pass.Loss(b.Y)
	alphaGrads := pass.Backward()

	for _, p := range net.Params() {
		vals := p.Value.RawMatrix().Data
		for _, i := range []int{0, len(vals) - 1} {
			want := numericGrad(t, loss, vals, i)
			got := p.Grad.RawMatrix().Data[i]
			assert.InDelta(t, want, got, 1e-5+1e-3*math.Abs(want), "param %s[%d]", p.Name, i)
		}
	}
	for s := range g.Slots {
		for k := range g.Slots[s].Alpha {
			want := numericGrad(t, loss, g.Slots[s].Alpha, k)
			assert.InDelta(t, want, alphaGrads[s][k], 1e-5+1e-3*math.Abs(want), "alpha %s[%d]", g.Slots[s].Key, k)
		}
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	train, _ := data.Synthetic(data.SyntheticOptions{Seed: 3, Train: 64, Features: 8, Classes: 3})
	b := data.Batch{X: train.X, Y: train.Y}
	g := searchspace.NewNasBench201().Graph()

	net, err := New(g, 8, 8, 3, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	opt := NewSGD(0.05, 0.9, 0)

	first, _, err := net.TrainStep(g, b, opt, 5)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 60; i++ {
		last, _, err = net.TrainStep(g, b, opt, 5)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)

	_, acc, err := net.Evaluate(g, []data.Batch{b})
	require.NoError(t, err)
	assert.Greater(t, acc, 50.0)
}

func TestWeightsRoundTrip(t *testing.T) {
	g := searchspace.NewNasBench201().Graph()
	a, err := New(g, 4, 4, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	b, err := New(g, 4, 4, 2, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	require.NoError(t, b.LoadWeights(a.Weights()))
	assert.Equal(t, a.Weights(), b.Weights())

	w := a.Weights()
	delete(w, "stem")
	assert.Error(t, b.LoadWeights(w))
}

func TestArchParamsShareStorage(t *testing.T) {
	g := searchspace.NewNasBench201().Graph().Clone()
	require.NoError(t, g.AddAlphas())
	arch := NewArchParams(g)
	require.Len(t, arch.Params, len(g.Slots))

	grads := make([][]float64, len(g.Slots))
	grads[0] = []float64{1, 0, 0, 0, 0}
	arch.AddGrads(grads)
	NewAdam(0.1, 0.5, 0.999, 0).Step(arch.Params)

	assert.Less(t, g.Slots[0].Alpha[0], 0.0)
	assert.Equal(t, 0.0, g.Slots[1].Alpha[0])
}

func TestCosineSchedule(t *testing.T) {
	s := CosineSchedule{Max: 0.1, Min: 0.001, Epochs: 10}
	assert.InDelta(t, 0.1, s.At(0), 1e-12)
	assert.InDelta(t, 0.001, s.At(10), 1e-12)
	assert.Greater(t, s.At(3), s.At(7))
}

func TestClipGradNorm(t *testing.T) {
	p := NewParam("p", mat.NewDense(1, 2, []float64{0, 0}))
	p.Grad.SetRow(0, []float64{3, 4})
	norm := ClipGradNorm([]*Param{p}, 1)
	assert.InDelta(t, 5, norm, 1e-12)
	assert.InDelta(t, 1, floatsNorm(p.Grad.RawRowView(0)), 1e-5)
}

func floatsNorm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func TestSGDStepWithMomentumAndDecay(t *testing.T) {
	p := NewParam("p", mat.NewDense(1, 2, []float64{1, -2}))
	opt := NewSGD(0.1, 0.9, 0.5)

	p.Grad.SetRow(0, []float64{1, 1})
	opt.Step([]*Param{p})
	// g = grad + 0.5*value = {1.5, 0}; value -= 0.1*g
	assert.InDeltaSlice(t, []float64{0.85, -2}, p.Value.RawRowView(0), 1e-12)

	opt.ZeroGrad([]*Param{p})
	opt.Step([]*Param{p})
	// g = {0.425, -1}; v = 0.9*{1.5, 0} + g = {1.775, -1}
	assert.InDeltaSlice(t, []float64{0.85 - 0.1775, -1.9}, p.Value.RawRowView(0), 1e-12)
}

func TestAccumulate(t *testing.T) {
	src := mat.NewDense(1, 2, []float64{1, 2})
	dst := accumulate(nil, src, 2)
	dst = accumulate(dst, src, -1)
	assert.Equal(t, []float64{1, 2}, dst.RawRowView(0))
	assert.Same(t, dst, accumulate(dst, nil, 3))
}
