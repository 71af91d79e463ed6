package graph

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// OpNone is the zero operation. Discretization avoids it whenever a slot offers
// any other candidate.
const OpNone = "none"

// Role classifies a node in a cell.
type Role string

const (
	RoleInput        Role = "input"
	RoleIntermediate Role = "intermediate"
	RoleOutput       Role = "output"
)

var (
	// ErrNoSlots is returned when a scope does not address any decision slot.
	ErrNoSlots = errors.New("no architecture slots in scope")
	// ErrUnknownScope is returned when a scope name is not part of the graph.
	ErrUnknownScope = errors.New("unknown scope")
)

// Slot is one architectural decision: which of Ops is used at an edge or node.
type Slot struct {
	Key      string    `json:"key" yaml:"key"`
	Scope    string    `json:"scope" yaml:"scope"`
	Ops      []string  `json:"ops" yaml:"ops"`
	Selected int       `json:"selected" yaml:"selected"`
	Alpha    []float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
}

// Op returns the currently selected operation name.
func (s *Slot) Op() string {
	return s.Ops[s.Selected]
}

// Node is a data-flow junction. Its inputs are summed, then the node op (if any)
// is applied.
type Node struct {
	ID      int    `json:"id" yaml:"id"`
	Scope   string `json:"scope" yaml:"scope"`
	Role    Role   `json:"role" yaml:"role"`
	Slot    int    `json:"slot" yaml:"slot"`
	FixedOp string `json:"fixedOp,omitempty" yaml:"fixedOp,omitempty"`
}

// Edge carries data from one node to a later one through an operation.
type Edge struct {
	From    int    `json:"from" yaml:"from"`
	To      int    `json:"to" yaml:"to"`
	Scope   string `json:"scope" yaml:"scope"`
	Slot    int    `json:"slot" yaml:"slot"`
	FixedOp string `json:"fixedOp,omitempty" yaml:"fixedOp,omitempty"`
}

// Graph is a declarative architecture: nodes are ordered topologically, so every
// edge satisfies From < To.
type Graph struct {
	Name  string `json:"name" yaml:"name"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
	Slots []Slot `json:"slots" yaml:"slots"`
}

// Clone returns a deep copy. Mutating the copy never affects g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:  g.Name,
		Nodes: slices.Clone(g.Nodes),
		Edges: slices.Clone(g.Edges),
		Slots: make([]Slot, len(g.Slots)),
	}
	for i, s := range g.Slots {
		s.Ops = slices.Clone(s.Ops)
		s.Alpha = slices.Clone(s.Alpha)
		c.Slots[i] = s
	}
	return c
}

// Scopes returns the distinct slot scopes in first-seen order.
func (g *Graph) Scopes() []string {
	var scopes []string
	for _, s := range g.Slots {
		if !slices.Contains(scopes, s.Scope) {
			scopes = append(scopes, s.Scope)
		}
	}
	return scopes
}

// CheckScope verifies that every requested scope exists.
func (g *Graph) CheckScope(scope ...string) error {
	known := g.Scopes()
	for _, s := range scope {
		if !slices.Contains(known, s) {
			return fmt.Errorf("%w: %q (known: %s)", ErrUnknownScope, s, strings.Join(known, ", "))
		}
	}
	return nil
}

// InScope reports whether slot i may be changed under the given scope. An empty
// scope addresses everything.
func (g *Graph) InScope(i int, scope ...string) bool {
	if len(scope) == 0 {
		return true
	}
	return slices.Contains(scope, g.Slots[i].Scope)
}

// SlotsInScope returns the indices of the slots addressable under scope.
func (g *Graph) SlotsInScope(scope ...string) []int {
	var idx []int
	for i := range g.Slots {
		if g.InScope(i, scope...) {
			idx = append(idx, i)
		}
	}
	return idx
}

// AddAlphas attaches zero-initialised architectural parameters to every slot in
// scope.
func (g *Graph) AddAlphas(scope ...string) error {
	if err := g.CheckScope(scope...); err != nil {
		return err
	}
	idx := g.SlotsInScope(scope...)
	if len(idx) == 0 {
		return ErrNoSlots
	}
	for _, i := range idx {
		g.Slots[i].Alpha = make([]float64, len(g.Slots[i].Ops))
	}
	return nil
}

// Select fixes the operation of slot i.
func (g *Graph) Select(i, op int) error {
	if i < 0 || i >= len(g.Slots) {
		return fmt.Errorf("slot index out of range: %d", i)
	}
	if op < 0 || op >= len(g.Slots[i].Ops) {
		return fmt.Errorf("op index out of range for slot %s: %d", g.Slots[i].Key, op)
	}
	g.Slots[i].Selected = op
	return nil
}

// SelectByName fixes the operation of slot i by name.
func (g *Graph) SelectByName(i int, op string) error {
	if i < 0 || i >= len(g.Slots) {
		return fmt.Errorf("slot index out of range: %d", i)
	}
	j := slices.Index(g.Slots[i].Ops, op)
	if j < 0 {
		return fmt.Errorf("slot %s has no op %q", g.Slots[i].Key, op)
	}
	g.Slots[i].Selected = j
	return nil
}

// SlotIndex returns the index of the slot with the given key, or -1.
func (g *Graph) SlotIndex(key string) int {
	for i := range g.Slots {
		if g.Slots[i].Key == key {
			return i
		}
	}
	return -1
}

// IsDiscrete reports whether no slot carries architectural parameters.
func (g *Graph) IsDiscrete() bool {
	for _, s := range g.Slots {
		if s.Alpha != nil {
			return false
		}
	}
	return true
}

// Discretize returns a copy where every slot with alphas selects its argmax op
// and the alphas are dropped. "none" only wins when nothing else is offered.
func (g *Graph) Discretize() *Graph {
	c := g.Clone()
	for i := range c.Slots {
		s := &c.Slots[i]
		if s.Alpha == nil {
			continue
		}
		s.Selected = ArgmaxOp(s.Ops, s.Alpha)
		s.Alpha = nil
	}
	return c
}

// ArgmaxOp picks the index of the largest weight, skipping OpNone unless it is
// the only candidate. Ties resolve to the lowest index.
func ArgmaxOp(ops []string, weights []float64) int {
	best := -1
	for i, w := range weights {
		if ops[i] == OpNone && len(ops) > 1 {
			continue
		}
		if best < 0 || w > weights[best] {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// EdgeOp returns the effective operation on edge e.
func (g *Graph) EdgeOp(e Edge) string {
	if e.Slot >= 0 {
		return g.Slots[e.Slot].Op()
	}
	return e.FixedOp
}

// NodeOp returns the effective operation of node n, or "" when the node only sums.
func (g *Graph) NodeOp(n Node) string {
	if n.Slot >= 0 {
		return g.Slots[n.Slot].Op()
	}
	return n.FixedOp
}

// InEdges returns the edges that end at node id.
func (g *Graph) InEdges(id int) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}

// NodeIndex returns the position of node id in g.Nodes, or -1.
func (g *Graph) NodeIndex(id int) int {
	for i, n := range g.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// String renders the discrete selection canonically, one slot per entry in key
// order.
func (g *Graph) String() string {
	parts := make([]string, len(g.Slots))
	for i, s := range g.Slots {
		parts[i] = s.Key + "=" + s.Op()
	}
	sort.Strings(parts)
	return g.Name + "|" + strings.Join(parts, "|")
}

// Diff returns the keys of slots whose selection or alphas differ between g and
// other. Both graphs must share the same slot layout.
func (g *Graph) Diff(other *Graph) []string {
	var keys []string
	for i := range g.Slots {
		a, b := g.Slots[i], other.Slots[i]
		if a.Selected != b.Selected || !slices.Equal(a.Alpha, b.Alpha) {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

// Validate checks structural consistency.
func (g *Graph) Validate() error {
	ids := make(map[int]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %d", n.ID)
		}
		ids[n.ID] = true
		if n.Slot >= len(g.Slots) {
			return fmt.Errorf("node %d references missing slot %d", n.ID, n.Slot)
		}
	}
	for _, e := range g.Edges {
		if !ids[e.From] || !ids[e.To] {
			return fmt.Errorf("edge %d-%d references unknown node", e.From, e.To)
		}
		if e.From >= e.To {
			return fmt.Errorf("edge %d-%d violates topological order", e.From, e.To)
		}
		if e.Slot >= len(g.Slots) {
			return fmt.Errorf("edge %d-%d references missing slot %d", e.From, e.To, e.Slot)
		}
	}
	for _, s := range g.Slots {
		if len(s.Ops) == 0 {
			return fmt.Errorf("slot %s has no candidate ops", s.Key)
		}
		if s.Selected < 0 || s.Selected >= len(s.Ops) {
			return fmt.Errorf("slot %s selection %d out of range", s.Key, s.Selected)
		}
		if s.Alpha != nil && len(s.Alpha) != len(s.Ops) {
			return fmt.Errorf("slot %s has %d alphas for %d ops", s.Key, len(s.Alpha), len(s.Ops))
		}
	}
	return nil
}
