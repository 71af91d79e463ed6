package searchspace

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/graph"
)

// Encoding names a fixed-length vector representation of an architecture.
type Encoding string

const (
	// AdjacencyOneHot concatenates a one-hot vector of every slot's selection.
	AdjacencyOneHot Encoding = "adjacency_one_hot"
	// Path counts the op sequences along every input-to-output path, hashed
	// into PathBins buckets.
	Path Encoding = "path"
)

// PathBins is the length of a path encoding.
const PathBins = 256

// Encode converts a discrete architecture into a feature vector.
func Encode(g *graph.Graph, enc Encoding) ([]float64, error) {
	switch enc {
	case AdjacencyOneHot:
		return encodeOneHot(g), nil
	case Path:
		return encodePaths(g), nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", config.ErrInvalidArgument, enc)
	}
}

// EncodeAll encodes a batch of architectures.
func EncodeAll(archs []*graph.Graph, enc Encoding) ([][]float64, error) {
	out := make([][]float64, len(archs))
	for i, g := range archs {
		x, err := Encode(g, enc)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func encodeOneHot(g *graph.Graph) []float64 {
	n := 0
	for _, s := range g.Slots {
		n += len(s.Ops)
	}
	x := make([]float64, n)
	off := 0
	for _, s := range g.Slots {
		x[off+s.Selected] = 1
		off += len(s.Ops)
	}
	return x
}

func encodePaths(g *graph.Graph) []float64 {
	x := make([]float64, PathBins)
	for _, p := range Paths(g) {
		h := fnv.New32a()
		h.Write([]byte(p))
		x[h.Sum32()%PathBins]++
	}
	return x
}

// Paths lists every input-to-output path of g as a "op>op>..." string. Edges
// with the none op break a path.
func Paths(g *graph.Graph) []string {
	out := -1
	var inputs []int
	for _, n := range g.Nodes {
		switch n.Role {
		case graph.RoleInput:
			inputs = append(inputs, n.ID)
		case graph.RoleOutput:
			out = n.ID
		}
	}
	if out < 0 {
		return nil
	}

	outgoing := make(map[int][]graph.Edge, len(g.Nodes))
	for _, e := range g.Edges {
		if g.EdgeOp(e) != graph.OpNone {
			outgoing[e.From] = append(outgoing[e.From], e)
		}
	}

	var paths []string
	var walk func(node int, ops []string)
	walk = func(node int, ops []string) {
		if op := g.NodeOp(g.Nodes[g.NodeIndex(node)]); op != "" {
			ops = append(ops, op)
		}
		if node == out {
			paths = append(paths, strings.Join(ops, ">"))
			return
		}
		for _, e := range outgoing[node] {
			walk(e.To, append(append([]string(nil), ops...), g.EdgeOp(e)))
		}
	}
	for _, in := range inputs {
		walk(in, nil)
	}
	return paths
}
