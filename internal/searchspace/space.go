// Package searchspace defines the architecture families the optimizers explore.
//
// A Space owns a template graph. Optimizers never mutate a caller's Space: they
// Clone it and work on the copy. Sampling and mutation only touch slots inside
// the requested scope; everything else is copied from the template.
package searchspace

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/graph"
)

// Space is one architecture family.
type Space interface {
	// Name is the registry name, e.g. "nasbench201".
	Name() string

	// Graph returns the template graph owned by this space.
	Graph() *graph.Graph

	// Clone returns an independent copy of the space and its graph.
	Clone() Space

	// Sample draws a random valid discrete architecture. Slots outside scope
	// keep the template's selection.
	Sample(rng *rand.Rand, scope ...string) *graph.Graph

	// Mutate returns a valid architecture that differs from g in at least one
	// slot inside scope. g is left untouched.
	Mutate(g *graph.Graph, rng *rand.Rand, scope ...string) *graph.Graph

	// Discretize turns architectural parameters into a valid discrete
	// architecture, applying the family's structural constraints.
	Discretize(g *graph.Graph) *graph.Graph

	// IsValid reports whether a discrete architecture satisfies the family's
	// constraints.
	IsValid(g *graph.Graph) bool
}

// New builds a space by registry name.
func New(name string) (Space, error) {
	switch name {
	case "nasbench201":
		return NewNasBench201(), nil
	case "nasbench101":
		return NewNasBench101(), nil
	case "darts":
		return NewDarts(), nil
	default:
		return nil, fmt.Errorf("%w: unknown search space %q", config.ErrInvalidArgument, name)
	}
}

// template holds the graph shared by every concrete space.
type template struct {
	g *graph.Graph
}

func (t *template) Graph() *graph.Graph {
	return t.g
}

// discreteCopy clones g without any architectural parameters.
func discreteCopy(g *graph.Graph) *graph.Graph {
	c := g.Clone()
	for i := range c.Slots {
		c.Slots[i].Alpha = nil
	}
	return c
}

// otherOp picks a uniformly random op index different from cur, skipping
// excluded names.
func otherOp(rng *rand.Rand, ops []string, cur int, exclude ...string) int {
	var candidates []int
	for i, op := range ops {
		if i == cur || contains(exclude, op) {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return cur
	}
	return candidates[rng.Intn(len(candidates))]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// inScope reports whether any requested scope contains name; empty means all.
func inScope(name string, scope []string) bool {
	return len(scope) == 0 || contains(scope, name)
}
