package optimizers

import (
	"sort"

	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/store"
)

// history records every rated architecture in order.
type history struct {
	entries []store.Evaluation
	seen    map[string]bool
	best    int
}

func newHistory() *history {
	return &history{seen: make(map[string]bool), best: -1}
}

func (h *history) add(g *graph.Graph, acc float64) {
	h.entries = append(h.entries, store.Evaluation{Arch: g, Accuracy: acc})
	h.seen[g.String()] = true
	if h.best < 0 || acc > h.entries[h.best].Accuracy {
		h.best = len(h.entries) - 1
	}
}

func (h *history) len() int { return len(h.entries) }

func (h *history) contains(g *graph.Graph) bool { return h.seen[g.String()] }

// bestEval returns the best entry; ok is false when empty.
func (h *history) bestEval() (store.Evaluation, bool) {
	if h.best < 0 {
		return store.Evaluation{}, false
	}
	return h.entries[h.best], true
}

// bestAccuracy is 0 for an empty history.
func (h *history) bestAccuracy() float64 {
	e, _ := h.bestEval()
	return e.Accuracy
}

// top returns the n best entries, earliest first among equals.
func (h *history) top(n int) []store.Evaluation {
	sorted := append([]store.Evaluation(nil), h.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Accuracy > sorted[j].Accuracy
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func (h *history) archs() ([]*graph.Graph, []float64) {
	archs := make([]*graph.Graph, len(h.entries))
	y := make([]float64, len(h.entries))
	for i, e := range h.entries {
		archs[i] = e.Arch
		y[i] = e.Accuracy
	}
	return archs, y
}

func (h *history) snapshot() []store.Evaluation {
	return append([]store.Evaluation(nil), h.entries...)
}

func restoreHistory(entries []store.Evaluation) *history {
	h := newHistory()
	for _, e := range entries {
		h.add(e.Arch, e.Accuracy)
	}
	return h
}
