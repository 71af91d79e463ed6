package searchspace

import (
	"math/rand"
	"sort"

	"github.com/cwbudde/gonas/internal/graph"
)

// DartsOps are the candidate ops of every cell edge.
var DartsOps = []string{
	graph.OpNone,
	"max_pool_3x3",
	"avg_pool_3x3",
	"skip_connect",
	"sep_conv_3x3",
	"sep_conv_5x5",
	"dil_conv_3x3",
	"dil_conv_5x5",
}

// DartsCells are the scopes of the darts space.
var DartsCells = []string{"normal", "reduce"}

const (
	dartsIntermediates = 4
	dartsInDegree      = 2
	dartsDefaultOp     = 4 // sep_conv_3x3
)

// cellLayout records the node ids of one cell.
type cellLayout struct {
	scope         string
	inputs        [2]int
	intermediates []int
	output        int
}

// Darts stacks a normal and a reduction cell. Each cell has two inputs, four
// intermediate nodes fed by every earlier node, and an output summing the
// intermediates. A valid architecture keeps exactly two non-none incoming
// edges per intermediate node.
type Darts struct {
	template
	cells []cellLayout
}

// NewDarts builds the space; each intermediate node starts with sep_conv_3x3
// from its two nearest predecessors.
func NewDarts() *Darts {
	b := graph.NewBuilder("darts")
	stem := b.Node("normal", graph.RoleInput)
	prevPrev, prev := stem, stem

	var cells []cellLayout
	for ci, scope := range DartsCells {
		c := cellLayout{scope: scope}
		// each cell gets its own pair of preprocessed inputs
		in0 := b.Node(scope, graph.RoleIntermediate)
		b.FixedEdge(scope, prevPrev, in0, "skip_connect")
		in1 := b.Node(scope, graph.RoleIntermediate)
		b.FixedEdge(scope, prev, in1, "skip_connect")
		c.inputs = [2]int{in0, in1}

		preds := []int{in0, in1}
		for k := 0; k < dartsIntermediates; k++ {
			node := b.Node(scope, graph.RoleIntermediate)
			for pi, p := range preds {
				selected := 0
				if pi >= len(preds)-dartsInDegree {
					selected = dartsDefaultOp
				}
				b.ChoiceEdge(scope, p, node, DartsOps, selected)
			}
			preds = append(preds, node)
			c.intermediates = append(c.intermediates, node)
		}

		role := graph.RoleIntermediate
		if ci == len(DartsCells)-1 {
			role = graph.RoleOutput
		}
		out := b.Node(scope, role)
		for _, n := range c.intermediates {
			b.FixedEdge(scope, n, out, "skip_connect")
		}
		c.output = out
		cells = append(cells, c)
		prevPrev, prev = in1, out
	}
	return &Darts{template: template{g: b.MustBuild()}, cells: cells}
}

func (s *Darts) Name() string { return "darts" }

func (s *Darts) Clone() Space {
	return &Darts{template: template{g: s.g.Clone()}, cells: s.cells}
}

// incoming returns the choice edges that end at node.
func incoming(g *graph.Graph, node int) []graph.Edge {
	var in []graph.Edge
	for _, e := range g.InEdges(node) {
		if e.Slot >= 0 {
			in = append(in, e)
		}
	}
	return in
}

// Sample picks two distinct predecessors and a non-none op for each of them at
// every intermediate node of the cells in scope.
func (s *Darts) Sample(rng *rand.Rand, scope ...string) *graph.Graph {
	g := discreteCopy(s.g)
	for _, c := range s.cells {
		if !inScope(c.scope, scope) {
			continue
		}
		for _, node := range c.intermediates {
			in := incoming(g, node)
			for _, e := range in {
				g.Slots[e.Slot].Selected = 0
			}
			for _, pick := range rng.Perm(len(in))[:dartsInDegree] {
				sl := &g.Slots[in[pick].Slot]
				sl.Selected = 1 + rng.Intn(len(sl.Ops)-1)
			}
		}
	}
	return g
}

// Mutate either changes the op of one active edge or rewires it to another
// predecessor of the same node.
func (s *Darts) Mutate(g *graph.Graph, rng *rand.Rand, scope ...string) *graph.Graph {
	m := discreteCopy(g)
	var cells []cellLayout
	for _, c := range s.cells {
		if inScope(c.scope, scope) {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		return m
	}
	c := cells[rng.Intn(len(cells))]
	node := c.intermediates[rng.Intn(len(c.intermediates))]
	in := incoming(m, node)

	var active, inactive []graph.Edge
	for _, e := range in {
		if m.EdgeOp(e) == graph.OpNone {
			inactive = append(inactive, e)
		} else {
			active = append(active, e)
		}
	}
	if len(active) == 0 {
		return m
	}
	e := active[rng.Intn(len(active))]
	sl := &m.Slots[e.Slot]

	if len(inactive) > 0 && rng.Intn(2) == 0 {
		target := inactive[rng.Intn(len(inactive))]
		m.Slots[target.Slot].Selected = sl.Selected
		sl.Selected = 0
		return m
	}
	sl.Selected = otherOp(rng, sl.Ops, sl.Selected, graph.OpNone)
	return m
}

// Discretize keeps, per intermediate node, the two incoming edges with the
// strongest non-none weight and gives each its best non-none op.
func (s *Darts) Discretize(g *graph.Graph) *graph.Graph {
	d := g.Clone()
	for _, c := range s.cells {
		for _, node := range c.intermediates {
			in := incoming(d, node)
			if len(in) == 0 || d.Slots[in[0].Slot].Alpha == nil {
				continue
			}
			type ranked struct {
				slot  int
				op    int
				score float64
			}
			scores := make([]ranked, 0, len(in))
			for _, e := range in {
				sl := d.Slots[e.Slot]
				op := graph.ArgmaxOp(sl.Ops, sl.Alpha)
				scores = append(scores, ranked{slot: e.Slot, op: op, score: sl.Alpha[op]})
			}
			sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
			for i, r := range scores {
				if i < dartsInDegree {
					d.Slots[r.slot].Selected = r.op
				} else {
					d.Slots[r.slot].Selected = 0
				}
			}
		}
	}
	for i := range d.Slots {
		d.Slots[i].Alpha = nil
	}
	return d
}

func (s *Darts) IsValid(g *graph.Graph) bool {
	if !g.IsDiscrete() || g.Validate() != nil {
		return false
	}
	for _, c := range s.cells {
		for _, node := range c.intermediates {
			active := 0
			for _, e := range incoming(g, node) {
				if g.EdgeOp(e) != graph.OpNone {
					active++
				}
			}
			if active != dartsInDegree {
				return false
			}
		}
	}
	return true
}
