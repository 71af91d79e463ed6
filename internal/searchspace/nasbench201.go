package searchspace

import (
	"math/rand"

	"github.com/cwbudde/gonas/internal/graph"
)

// NasBench201Ops are the candidate ops on every cell edge.
var NasBench201Ops = []string{
	graph.OpNone,
	"skip_connect",
	"nor_conv_1x1",
	"nor_conv_3x3",
	"avg_pool_3x3",
}

const nb201Scope = "cell"

// NasBench201 is a single 4-node cell with an op decision on each of its six
// edges.
type NasBench201 struct {
	template
}

// NewNasBench201 builds the space with every edge set to nor_conv_3x3.
func NewNasBench201() *NasBench201 {
	b := graph.NewBuilder("nasbench201")
	nodes := make([]int, 4)
	for i := range nodes {
		role := graph.RoleIntermediate
		switch i {
		case 0:
			role = graph.RoleInput
		case 3:
			role = graph.RoleOutput
		}
		nodes[i] = b.Node(nb201Scope, role)
	}
	for to := 1; to < 4; to++ {
		for from := 0; from < to; from++ {
			b.ChoiceEdge(nb201Scope, nodes[from], nodes[to], NasBench201Ops, 3)
		}
	}
	return &NasBench201{template{g: b.MustBuild()}}
}

func (s *NasBench201) Name() string { return "nasbench201" }

func (s *NasBench201) Clone() Space {
	return &NasBench201{template{g: s.g.Clone()}}
}

func (s *NasBench201) Sample(rng *rand.Rand, scope ...string) *graph.Graph {
	g := discreteCopy(s.g)
	for i := range g.Slots {
		if g.InScope(i, scope...) {
			g.Slots[i].Selected = rng.Intn(len(g.Slots[i].Ops))
		}
	}
	return g
}

func (s *NasBench201) Mutate(g *graph.Graph, rng *rand.Rand, scope ...string) *graph.Graph {
	m := discreteCopy(g)
	idx := m.SlotsInScope(scope...)
	if len(idx) == 0 {
		return m
	}
	i := idx[rng.Intn(len(idx))]
	m.Slots[i].Selected = otherOp(rng, m.Slots[i].Ops, m.Slots[i].Selected)
	return m
}

func (s *NasBench201) Discretize(g *graph.Graph) *graph.Graph {
	return g.Discretize()
}

func (s *NasBench201) IsValid(g *graph.Graph) bool {
	return g.IsDiscrete() && g.Validate() == nil
}
