// Package supernet is the weight-sharing network behind the one-shot
// optimizers and the from-scratch evaluation of final architectures.
//
// A Network is built once for a graph layout and holds one weight matrix per
// (decision, op) pair. Any architecture of that layout can be evaluated against
// the shared weights: slots that carry alphas run as mixed ops weighted by
// softmax(alpha), discrete slots run their selected op only.
package supernet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/gonas/internal/graph"
)

// ErrLayoutMismatch is returned when a graph does not share the network's layout.
var ErrLayoutMismatch = errors.New("graph layout does not match network")

// Param is a trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam wraps value with a zero gradient of the same shape.
func NewParam(name string, value *mat.Dense) *Param {
	r, c := value.Dims()
	return &Param{Name: name, Value: value, Grad: mat.NewDense(r, c, nil)}
}

// Size is the number of scalars in the tensor.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// site is a place where an op is applied: an edge or a node.
type site struct {
	slot   int
	ops    []string
	kinds  []opKind
	params []*Param
}

// Network is a stem, a cell graph and a linear classifier.
type Network struct {
	features, hidden, classes int

	edges    int
	slots    int
	nodeIdx  map[int]int
	inputs   []int
	output   int
	edgeSite []*site
	nodeSite []*site

	stem   *Param
	head   *Param
	bias   *Param
	params []*Param
}

// New builds a network for the layout of g. Weights are drawn from rng with
// He initialisation.
func New(g *graph.Graph, features, hidden, classes int, rng *rand.Rand) (*Network, error) {
	if features <= 0 || hidden <= 0 || classes <= 0 {
		return nil, fmt.Errorf("invalid network shape %dx%dx%d", features, hidden, classes)
	}
	n := &Network{
		features: features,
		hidden:   hidden,
		classes:  classes,
		edges:    len(g.Edges),
		slots:    len(g.Slots),
		nodeIdx:  make(map[int]int, len(g.Nodes)),
		output:   -1,
		edgeSite: make([]*site, len(g.Edges)),
		nodeSite: make([]*site, len(g.Nodes)),
	}
	n.stem = n.newParam("stem", features, hidden, rng)

	hasInput := make(map[int]bool)
	for _, e := range g.Edges {
		hasInput[e.To] = true
	}
	for i, node := range g.Nodes {
		n.nodeIdx[node.ID] = i
		if node.Role == graph.RoleInput && !hasInput[node.ID] {
			n.inputs = append(n.inputs, i)
		}
		if node.Role == graph.RoleOutput {
			n.output = i
		}
	}
	if len(n.inputs) == 0 || n.output < 0 {
		return nil, fmt.Errorf("graph %s needs an input and an output node", g.Name)
	}

	for i, e := range g.Edges {
		s, err := n.newSite(g, e.Slot, e.FixedOp, fmt.Sprintf("%s/%d-%d", e.Scope, e.From, e.To), rng)
		if err != nil {
			return nil, err
		}
		n.edgeSite[i] = s
	}
	for i, node := range g.Nodes {
		if node.Slot < 0 && node.FixedOp == "" {
			continue
		}
		s, err := n.newSite(g, node.Slot, node.FixedOp, fmt.Sprintf("%s/n%d", node.Scope, node.ID), rng)
		if err != nil {
			return nil, err
		}
		n.nodeSite[i] = s
	}

	n.head = n.newParam("head.weight", hidden, classes, rng)
	n.bias = NewParam("head.bias", mat.NewDense(1, classes, nil))
	n.params = append(n.params, n.bias)
	return n, nil
}

func (n *Network) newParam(name string, rows, cols int, rng *rand.Rand) *Param {
	std := math.Sqrt(2 / float64(rows))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = std * rng.NormFloat64()
	}
	p := NewParam(name, mat.NewDense(rows, cols, data))
	n.params = append(n.params, p)
	return p
}

func (n *Network) newSite(g *graph.Graph, slot int, fixed, key string, rng *rand.Rand) (*site, error) {
	s := &site{slot: slot, ops: []string{fixed}}
	if slot >= 0 {
		s.ops = g.Slots[slot].Ops
		key = g.Slots[slot].Key
	}
	for _, op := range s.ops {
		kind, err := kindOf(op)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		var p *Param
		if kind == kindDense {
			p = n.newParam("cell."+key+"."+op, n.hidden, n.hidden, rng)
		}
		s.kinds = append(s.kinds, kind)
		s.params = append(s.params, p)
	}
	return s, nil
}

// Params returns every trainable tensor in a stable order.
func (n *Network) Params() []*Param {
	return n.params
}

// CountParametersMB returns the parameter count in millions.
func (n *Network) CountParametersMB() float64 {
	total := 0
	for _, p := range n.params {
		total += p.Size()
	}
	return float64(total) / 1e6
}

func (n *Network) compatible(g *graph.Graph) error {
	if len(g.Edges) != n.edges || len(g.Slots) != n.slots {
		return fmt.Errorf("%w: %s has %d edges and %d slots, want %d and %d",
			ErrLayoutMismatch, g.Name, len(g.Edges), len(g.Slots), n.edges, n.slots)
	}
	return nil
}

// siteTape records one site's forward pass.
type siteTape struct {
	weights []float64
	active  []int
	outs    []*mat.Dense
	caches  []opCache
}

func (n *Network) forwardSite(s *site, g *graph.Graph, x *mat.Dense) (*mat.Dense, *siteTape) {
	t := &siteTape{}
	if s.slot >= 0 && g.Slots[s.slot].Alpha != nil {
		t.weights = Softmax(g.Slots[s.slot].Alpha)
		for k := range s.ops {
			if s.kinds[k] != kindZero {
				t.active = append(t.active, k)
			}
		}
	} else {
		k := 0
		if s.slot >= 0 {
			k = g.Slots[s.slot].Selected
		}
		t.active = []int{k}
	}

	var out *mat.Dense
	for _, k := range t.active {
		o, c := opForward(s.kinds[k], s.params[k], x)
		t.outs = append(t.outs, o)
		t.caches = append(t.caches, c)
		w := 1.0
		if t.weights != nil {
			w = t.weights[k]
		}
		out = accumulate(out, o, w)
	}
	return out, t
}

// backwardSite returns the input gradient and, for mixed sites, the gradient
// with respect to the slot's alphas.
func (n *Network) backwardSite(s *site, t *siteTape, x, dOut *mat.Dense) (*mat.Dense, []float64) {
	var dX *mat.Dense
	var dw []float64
	if t.weights != nil {
		dw = make([]float64, len(s.ops))
	}
	for i, k := range t.active {
		d := dOut
		if t.weights != nil {
			if t.outs[i] != nil {
				dw[k] = floats.Dot(dOut.RawMatrix().Data, t.outs[i].RawMatrix().Data)
			}
			var scaled mat.Dense
			scaled.Scale(t.weights[k], dOut)
			d = &scaled
		}
		dX = accumulate(dX, opBackward(s.kinds[k], s.params[k], x, t.caches[i], d), 1)
	}
	if dw == nil {
		return dX, nil
	}
	// chain rule through the softmax
	mean := floats.Dot(t.weights, dw)
	dAlpha := make([]float64, len(dw))
	for k := range dw {
		dAlpha[k] = t.weights[k] * (dw[k] - mean)
	}
	return dX, dAlpha
}

// Pass is the record of one forward evaluation, kept for Backward.
type Pass struct {
	net *Network
	g   *graph.Graph
	x   *mat.Dense

	stemPre *mat.Dense
	values  []*mat.Dense
	sums    []*mat.Dense
	edges   []*siteTape
	nodes   []*siteTape

	// Logits holds one row of class scores per sample.
	Logits *mat.Dense
	probs  *mat.Dense
	y      []int
}

// Forward evaluates g on x. g must share the layout the network was built for.
func (n *Network) Forward(g *graph.Graph, x *mat.Dense) (*Pass, error) {
	if err := n.compatible(g); err != nil {
		return nil, err
	}
	rows, cols := x.Dims()
	if cols != n.features {
		return nil, fmt.Errorf("input has %d features, network expects %d", cols, n.features)
	}
	p := &Pass{
		net:    n,
		g:      g,
		x:      x,
		values: make([]*mat.Dense, len(g.Nodes)),
		sums:   make([]*mat.Dense, len(g.Nodes)),
		edges:  make([]*siteTape, len(g.Edges)),
		nodes:  make([]*siteTape, len(g.Nodes)),
	}
	var pre mat.Dense
	pre.Mul(x, n.stem.Value)
	p.stemPre = &pre
	h0 := relu(&pre)
	for _, i := range n.inputs {
		p.values[i] = h0
	}

	incoming := make([][]int, len(g.Nodes))
	for ei, e := range g.Edges {
		to := n.nodeIdx[e.To]
		incoming[to] = append(incoming[to], ei)
	}
	for i := range g.Nodes {
		if p.values[i] != nil {
			continue
		}
		var sum *mat.Dense
		for _, ei := range incoming[i] {
			src := p.values[n.nodeIdx[g.Edges[ei].From]]
			out, tape := n.forwardSite(n.edgeSite[ei], g, src)
			p.edges[ei] = tape
			sum = accumulate(sum, out, 1)
		}
		if sum == nil {
			sum = mat.NewDense(rows, n.hidden, nil)
		}
		p.sums[i] = sum
		if s := n.nodeSite[i]; s != nil {
			out, tape := n.forwardSite(s, g, sum)
			p.nodes[i] = tape
			if out == nil {
				out = mat.NewDense(rows, n.hidden, nil)
			}
			p.values[i] = out
		} else {
			p.values[i] = sum
		}
	}

	var logits mat.Dense
	logits.Mul(p.values[n.output], n.head.Value)
	bias := n.bias.Value.RawRowView(0)
	for r := 0; r < rows; r++ {
		floats.Add(logits.RawRowView(r), bias)
	}
	p.Logits = &logits
	return p, nil
}

// Loss returns the mean softmax cross-entropy against y and prepares Backward.
func (p *Pass) Loss(y []int) float64 {
	rows, cols := p.Logits.Dims()
	p.probs = mat.NewDense(rows, cols, nil)
	p.y = y
	loss := 0.0
	for r := 0; r < rows; r++ {
		probs := Softmax(p.Logits.RawRowView(r))
		p.probs.SetRow(r, probs)
		loss -= math.Log(probs[y[r]])
	}
	return loss / float64(rows)
}

// Backward accumulates weight gradients into the network's params and returns
// the alpha gradient of every mixed slot, indexed by slot (nil elsewhere). Loss
// must be called first.
func (p *Pass) Backward() [][]float64 {
	n, g := p.net, p.g
	rows, _ := p.Logits.Dims()

	dLogits := mat.DenseCopyOf(p.probs)
	for r := 0; r < rows; r++ {
		dLogits.Set(r, p.y[r], dLogits.At(r, p.y[r])-1)
	}
	dLogits.Scale(1/float64(rows), dLogits)

	var dHead mat.Dense
	dHead.Mul(p.values[n.output].T(), dLogits)
	n.head.Grad.Add(n.head.Grad, &dHead)
	biasGrad := n.bias.Grad.RawRowView(0)
	for r := 0; r < rows; r++ {
		floats.Add(biasGrad, dLogits.RawRowView(r))
	}

	dValues := make([]*mat.Dense, len(g.Nodes))
	var dOut mat.Dense
	dOut.Mul(dLogits, n.head.Value.T())
	dValues[n.output] = &dOut

	alphaGrads := make([][]float64, len(g.Slots))
	addAlpha := func(slot int, d []float64) {
		if d == nil {
			return
		}
		if alphaGrads[slot] == nil {
			alphaGrads[slot] = make([]float64, len(d))
		}
		floats.Add(alphaGrads[slot], d)
	}

	isInput := make(map[int]bool, len(n.inputs))
	for _, i := range n.inputs {
		isInput[i] = true
	}
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		d := dValues[i]
		if d == nil || isInput[i] {
			continue
		}
		dSum := d
		if s := n.nodeSite[i]; s != nil {
			var dAlpha []float64
			dSum, dAlpha = n.backwardSite(s, p.nodes[i], p.sums[i], d)
			addAlpha(s.slot, dAlpha)
			if dSum == nil {
				continue
			}
		}
		for ei, e := range g.Edges {
			if n.nodeIdx[e.To] != i {
				continue
			}
			from := n.nodeIdx[e.From]
			s := n.edgeSite[ei]
			dX, dAlpha := n.backwardSite(s, p.edges[ei], p.values[from], dSum)
			if s.slot >= 0 {
				addAlpha(s.slot, dAlpha)
			}
			dValues[from] = accumulate(dValues[from], dX, 1)
		}
	}

	var dH0 *mat.Dense
	for _, i := range n.inputs {
		dH0 = accumulate(dH0, dValues[i], 1)
	}
	if dH0 != nil {
		dPre := reluBackward(p.stemPre, dH0)
		var dStem mat.Dense
		dStem.Mul(p.x.T(), dPre)
		n.stem.Grad.Add(n.stem.Grad, &dStem)
	}
	return alphaGrads
}

// Correct counts the samples whose arg-max logit matches y.
func (p *Pass) Correct(y []int) int {
	rows, _ := p.Logits.Dims()
	correct := 0
	for r := 0; r < rows; r++ {
		if floats.MaxIdx(p.Logits.RawRowView(r)) == y[r] {
			correct++
		}
	}
	return correct
}

// Weights exports a copy of every parameter by name.
func (n *Network) Weights() map[string][]float64 {
	out := make(map[string][]float64, len(n.params))
	for _, p := range n.params {
		out[p.Name] = append([]float64(nil), p.Value.RawMatrix().Data...)
	}
	return out
}

// LoadWeights restores parameters exported by Weights. Every parameter must be
// present with the right size.
func (n *Network) LoadWeights(w map[string][]float64) error {
	for _, p := range n.params {
		data, ok := w[p.Name]
		if !ok {
			return fmt.Errorf("missing weights for %s", p.Name)
		}
		if len(data) != p.Size() {
			return fmt.Errorf("weights for %s have %d values, want %d", p.Name, len(data), p.Size())
		}
		copy(p.Value.RawMatrix().Data, data)
	}
	return nil
}
