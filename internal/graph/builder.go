package graph

import "fmt"

// Builder assembles a Graph node by node. Node ids are assigned in insertion
// order, which keeps the graph topologically sorted.
type Builder struct {
	g *Graph
}

// NewBuilder starts an empty graph.
func NewBuilder(name string) *Builder {
	return &Builder{g: &Graph{Name: name}}
}

// Node appends a node without an op of its own and returns its id.
func (b *Builder) Node(scope string, role Role) int {
	id := len(b.g.Nodes)
	b.g.Nodes = append(b.g.Nodes, Node{ID: id, Scope: scope, Role: role, Slot: -1})
	return id
}

// ChoiceNode appends a node whose op is an architectural decision.
func (b *Builder) ChoiceNode(scope string, role Role, ops []string, selected int) int {
	id := len(b.g.Nodes)
	slot := b.slot(fmt.Sprintf("%s/n%d", scope, id), scope, ops, selected)
	b.g.Nodes = append(b.g.Nodes, Node{ID: id, Scope: scope, Role: role, Slot: slot})
	return id
}

// FixedEdge connects two nodes through a fixed op.
func (b *Builder) FixedEdge(scope string, from, to int, op string) {
	b.g.Edges = append(b.g.Edges, Edge{From: from, To: to, Scope: scope, Slot: -1, FixedOp: op})
}

// ChoiceEdge connects two nodes through an architectural decision.
func (b *Builder) ChoiceEdge(scope string, from, to int, ops []string, selected int) {
	slot := b.slot(fmt.Sprintf("%s/%d-%d", scope, from, to), scope, ops, selected)
	b.g.Edges = append(b.g.Edges, Edge{From: from, To: to, Scope: scope, Slot: slot})
}

func (b *Builder) slot(key, scope string, ops []string, selected int) int {
	b.g.Slots = append(b.g.Slots, Slot{
		Key:      key,
		Scope:    scope,
		Ops:      append([]string(nil), ops...),
		Selected: selected,
	})
	return len(b.g.Slots) - 1
}

// Build returns the assembled graph after validating it.
func (b *Builder) Build() (*Graph, error) {
	if err := b.g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph %s: %w", b.g.Name, err)
	}
	return b.g, nil
}

// MustBuild is Build for statically known layouts.
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
