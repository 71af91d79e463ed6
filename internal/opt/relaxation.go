package opt

import (
	"math"

	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
)

// Relaxation maps points of the unit box onto architectures. Every in-scope
// slot owns one coordinate per candidate op; a point is decoded by loading the
// coordinates as alphas and discretizing with the space's own rules, so every
// decoded architecture is valid.
type Relaxation struct {
	space searchspace.Space
	base  *graph.Graph
	slots []int
	dim   int
}

// NewRelaxation relaxes the in-scope slots of base. Slots outside scope keep
// base's selection in every decoded architecture.
func NewRelaxation(space searchspace.Space, base *graph.Graph, scope ...string) *Relaxation {
	r := &Relaxation{space: space, base: base.Clone()}
	for _, i := range base.SlotsInScope(scope...) {
		r.slots = append(r.slots, i)
		r.dim += len(base.Slots[i].Ops)
	}
	for i := range r.base.Slots {
		r.base.Slots[i].Alpha = nil
	}
	return r
}

// Dim is the number of coordinates.
func (r *Relaxation) Dim() int {
	return r.dim
}

// Bounds returns the unit box.
func (r *Relaxation) Bounds() (lower, upper []float64) {
	lower = make([]float64, r.dim)
	upper = make([]float64, r.dim)
	for i := range upper {
		upper[i] = 1
	}
	return lower, upper
}

// Encode places g at a corner of the box: 1 on each selected op, 0 elsewhere.
func (r *Relaxation) Encode(g *graph.Graph) []float64 {
	x := make([]float64, 0, r.dim)
	for _, i := range r.slots {
		for k := range g.Slots[i].Ops {
			if k == g.Slots[i].Selected {
				x = append(x, 1)
			} else {
				x = append(x, 0)
			}
		}
	}
	return x
}

// Decode turns a point into a valid discrete architecture.
func (r *Relaxation) Decode(x []float64) *graph.Graph {
	g := r.base.Clone()
	off := 0
	for _, i := range r.slots {
		n := len(g.Slots[i].Ops)
		g.Slots[i].Alpha = append([]float64(nil), x[off:off+n]...)
		off += n
	}
	return r.space.Discretize(g)
}

// Maximize searches the relaxation for the architecture with the highest score.
// Scores are cached per architecture since many points decode to the same one.
func Maximize(o Optimizer, r *Relaxation, score func(*graph.Graph) float64) (*graph.Graph, float64) {
	if r.dim == 0 {
		g := r.base.Clone()
		return g, score(g)
	}
	cache := make(map[string]float64)
	eval := func(x []float64) float64 {
		g := r.Decode(x)
		key := g.String()
		s, ok := cache[key]
		if !ok {
			s = score(g)
			if math.IsNaN(s) {
				s = math.Inf(-1)
			}
			cache[key] = s
		}
		return -s
	}
	lower, upper := r.Bounds()
	best, _ := o.Run(eval, lower, upper, r.dim)
	g := r.Decode(best)
	s, ok := cache[g.String()]
	if !ok {
		s = score(g)
	}
	return g, s
}
