package searchspace

import (
	"math/rand"
	"sort"

	"github.com/cwbudde/gonas/internal/graph"
)

// NasBench101Ops are the candidate ops of each intermediate node.
var NasBench101Ops = []string{"conv3x3-bn-relu", "conv1x1-bn-relu", "maxpool3x3"}

// nb101EdgeOps make every upper-triangular adjacency entry a binary decision.
var nb101EdgeOps = []string{graph.OpNone, "skip_connect"}

const (
	nb101Scope    = "cell"
	nb101Vertices = 7
	nb101MaxEdges = 9
	// attempts before Sample and Mutate give up and keep the last valid graph
	nb101MaxTries = 1000
)

// NasBench101 is a 7-vertex cell: ops live on the five intermediate vertices and
// the adjacency matrix is searched edge by edge, with at most nine edges and the
// output reachable from the input.
type NasBench101 struct {
	template
}

// NewNasBench101 builds the space as a chain of conv3x3 vertices.
func NewNasBench101() *NasBench101 {
	b := graph.NewBuilder("nasbench101")
	b.Node(nb101Scope, graph.RoleInput)
	for i := 1; i < nb101Vertices-1; i++ {
		b.ChoiceNode(nb101Scope, graph.RoleIntermediate, NasBench101Ops, 0)
	}
	b.Node(nb101Scope, graph.RoleOutput)
	for to := 1; to < nb101Vertices; to++ {
		for from := 0; from < to; from++ {
			selected := 0
			if to == from+1 {
				selected = 1
			}
			b.ChoiceEdge(nb101Scope, from, to, nb101EdgeOps, selected)
		}
	}
	return &NasBench101{template{g: b.MustBuild()}}
}

func (s *NasBench101) Name() string { return "nasbench101" }

func (s *NasBench101) Clone() Space {
	return &NasBench101{template{g: s.g.Clone()}}
}

func (s *NasBench101) Sample(rng *rand.Rand, scope ...string) *graph.Graph {
	base := discreteCopy(s.g)
	if !inScope(nb101Scope, scope) {
		return base
	}
	for try := 0; try < nb101MaxTries; try++ {
		g := base.Clone()
		for i := range g.Slots {
			g.Slots[i].Selected = rng.Intn(len(g.Slots[i].Ops))
		}
		if s.IsValid(g) {
			return g
		}
	}
	return base
}

// Mutate flips each edge with probability 1/edges and changes each vertex op
// with probability 1/vertices, retrying until the result is valid and new.
func (s *NasBench101) Mutate(g *graph.Graph, rng *rand.Rand, scope ...string) *graph.Graph {
	base := discreteCopy(g)
	if !inScope(nb101Scope, scope) {
		return base
	}
	edgeProb := 1.0 / float64(len(base.Edges))
	opProb := 1.0 / float64(nb101Vertices-2)
	for try := 0; try < nb101MaxTries; try++ {
		m := base.Clone()
		for _, e := range m.Edges {
			if rng.Float64() < edgeProb {
				m.Slots[e.Slot].Selected = 1 - m.Slots[e.Slot].Selected
			}
		}
		for _, n := range m.Nodes {
			if n.Slot >= 0 && rng.Float64() < opProb {
				sl := &m.Slots[n.Slot]
				sl.Selected = otherOp(rng, sl.Ops, sl.Selected)
			}
		}
		if s.IsValid(m) && m.String() != base.String() {
			return m
		}
	}
	return base
}

// Discretize keeps the (at most nine) edges whose skip weight beats their none
// weight by the largest margin and falls back to the direct input-output edge
// when that leaves the output unreachable.
func (s *NasBench101) Discretize(g *graph.Graph) *graph.Graph {
	d := g.Clone()
	var edges []scoredEdge
	for _, e := range d.Edges {
		sl := d.Slots[e.Slot]
		if sl.Alpha == nil {
			continue
		}
		edges = append(edges, scoredEdge{slot: e.Slot, margin: sl.Alpha[1] - sl.Alpha[0]})
	}
	if len(edges) > 0 {
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].margin > edges[j].margin })
		for _, e := range edges {
			d.Slots[e.slot].Selected = 0
		}
		kept := 0
		for _, e := range edges {
			if e.margin <= 0 || kept == nb101MaxEdges {
				break
			}
			d.Slots[e.slot].Selected = 1
			kept++
		}
	}
	for i := range d.Slots {
		if d.Slots[i].Alpha != nil {
			if isNodeSlot(d, i) {
				d.Slots[i].Selected = graph.ArgmaxOp(d.Slots[i].Ops, d.Slots[i].Alpha)
			}
			d.Slots[i].Alpha = nil
		}
	}
	if !reachable(d) {
		direct := d.SlotIndex(nb101Scope + "/0-6")
		if countEdges(d) >= nb101MaxEdges {
			dropWeakest(d, edges)
		}
		d.Slots[direct].Selected = 1
	}
	return d
}

func (s *NasBench101) IsValid(g *graph.Graph) bool {
	return g.IsDiscrete() && countEdges(g) <= nb101MaxEdges && reachable(g)
}

type scoredEdge struct {
	slot   int
	margin float64
}

func isNodeSlot(g *graph.Graph, slot int) bool {
	for _, n := range g.Nodes {
		if n.Slot == slot {
			return true
		}
	}
	return false
}

func countEdges(g *graph.Graph) int {
	n := 0
	for _, e := range g.Edges {
		if g.EdgeOp(e) != graph.OpNone {
			n++
		}
	}
	return n
}

// dropWeakest deselects the present edge with the smallest margin.
func dropWeakest(g *graph.Graph, ranked []scoredEdge) {
	for i := len(ranked) - 1; i >= 0; i-- {
		if g.Slots[ranked[i].slot].Selected == 1 {
			g.Slots[ranked[i].slot].Selected = 0
			return
		}
	}
}

// reachable reports whether the output vertex can be reached from the input
// through present edges.
func reachable(g *graph.Graph) bool {
	seen := make([]bool, len(g.Nodes))
	seen[0] = true
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			continue
		}
		for _, e := range g.Edges {
			if e.From == n.ID && g.EdgeOp(e) != graph.OpNone {
				seen[e.To] = true
			}
		}
	}
	return seen[len(g.Nodes)-1]
}
