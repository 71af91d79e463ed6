package supernet

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/gonas/internal/graph"
)

// OpOptimizer updates parameters from their accumulated gradients.
type OpOptimizer interface {
	Step(params []*Param)
	ZeroGrad(params []*Param)
	LR() float64
	SetLR(lr float64)
}

// SGD is stochastic gradient descent with momentum and L2 weight decay.
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    map[*Param]*mat.Dense
}

// NewSGD creates SGD with learning rate lr. Momentum 0 disables the velocity.
func NewSGD(lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    make(map[*Param]*mat.Dense),
	}
}

func (o *SGD) Step(params []*Param) {
	for _, p := range params {
		var g mat.Dense
		addScaled(&g, p.Grad, o.weightDecay, p.Value)
		if o.momentum > 0 {
			v, ok := o.velocity[p]
			if !ok {
				r, c := p.Value.Dims()
				v = mat.NewDense(r, c, nil)
				o.velocity[p] = v
			}
			v.Scale(o.momentum, v)
			v.Add(v, &g)
			g.CloneFrom(v)
		}
		addScaled(p.Value, p.Value, -o.lr, &g)
	}
}

func (o *SGD) ZeroGrad(params []*Param) { zeroGrad(params) }
func (o *SGD) LR() float64              { return o.lr }
func (o *SGD) SetLR(lr float64)         { o.lr = lr }

// Adam is the adaptive moment optimizer, used for architectural parameters.
type Adam struct {
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m, v        map[*Param][]float64
}

// NewAdam creates Adam with epsilon 1e-8.
func NewAdam(lr, beta1, beta2, weightDecay float64) *Adam {
	return &Adam{
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         1e-8,
		weightDecay: weightDecay,
		m:           make(map[*Param][]float64),
		v:           make(map[*Param][]float64),
	}
}

func (o *Adam) Step(params []*Param) {
	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))
	for _, p := range params {
		value := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(value))
			o.m[p] = m
			o.v[p] = make([]float64, len(value))
		}
		v := o.v[p]
		for i := range value {
			g := grad[i] + o.weightDecay*value[i]
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			value[i] -= o.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.eps)
		}
	}
}

func (o *Adam) ZeroGrad(params []*Param) { zeroGrad(params) }
func (o *Adam) LR() float64              { return o.lr }
func (o *Adam) SetLR(lr float64)         { o.lr = lr }

func zeroGrad(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// ClipGradNorm rescales all gradients so their joint L2 norm is at most
// maxNorm, and returns the norm before clipping.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		n := floats.Norm(p.Grad.RawMatrix().Data, 2)
		total += n * n
	}
	total = math.Sqrt(total)
	if maxNorm > 0 && total > maxNorm {
		scale := maxNorm / (total + 1e-6)
		for _, p := range params {
			p.Grad.Scale(scale, p.Grad)
		}
	}
	return total
}

// CosineSchedule anneals a learning rate from max to min over a number of
// epochs.
type CosineSchedule struct {
	Max, Min float64
	Epochs   int
}

// At returns the learning rate for epoch e.
func (s CosineSchedule) At(e int) float64 {
	if s.Epochs <= 0 {
		return s.Max
	}
	e = min(max(e, 0), s.Epochs)
	return s.Min + 0.5*(s.Max-s.Min)*(1+math.Cos(math.Pi*float64(e)/float64(s.Epochs)))
}

// ArchParams exposes the alphas of a graph's slots as Params. The values
// share storage with the slots, so optimizer updates land in the graph.
type ArchParams struct {
	Params []*Param
	Slots  []int
}

// NewArchParams wraps every slot of g that carries alphas.
func NewArchParams(g *graph.Graph) *ArchParams {
	a := &ArchParams{}
	for i, s := range g.Slots {
		if s.Alpha == nil {
			continue
		}
		a.Params = append(a.Params, NewParam("alpha."+s.Key, mat.NewDense(1, len(s.Alpha), s.Alpha)))
		a.Slots = append(a.Slots, i)
	}
	return a
}

// AddGrads accumulates per-slot alpha gradients as returned by Pass.Backward.
func (a *ArchParams) AddGrads(grads [][]float64) {
	for i, slot := range a.Slots {
		if grads[slot] == nil {
			continue
		}
		floats.Add(a.Params[i].Grad.RawRowView(0), grads[slot])
	}
}
