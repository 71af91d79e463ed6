package optimizers

import (
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
)

// RandomSearch samples one architecture per step and keeps the best by
// benchmark validation accuracy.
type RandomSearch struct {
	lifecycle
	hist *history
}

// NewRandomSearch creates a benchmark-backed random search.
func NewRandomSearch(cfg *config.Config) *RandomSearch {
	return &RandomSearch{lifecycle: newLifecycle("rs", cfg), hist: newHistory()}
}

func (o *RandomSearch) AdaptSearchSpace(space searchspace.Space, opts AdaptOptions) (searchspace.Space, error) {
	if err := o.adapt(space, opts, true); err != nil {
		return nil, err
	}
	return o.space, nil
}

func (o *RandomSearch) Step(_, _ data.Batch) (Stats, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	g := o.space.Sample(o.rng, o.scope...)
	acc, err := o.query(g)
	if err != nil {
		return nil, err
	}
	o.hist.add(g, acc)
	o.steps++
	return Stats{"val_acc": acc, "best_val_acc": o.hist.bestAccuracy()}, nil
}

func (o *RandomSearch) FinalArchitecture() (*graph.Graph, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if best, ok := o.hist.bestEval(); ok {
		return best.Arch.Clone(), nil
	}
	return o.template(), nil
}

func (o *RandomSearch) State() (*store.OptimizerState, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return &store.OptimizerState{History: o.hist.snapshot(), Steps: o.steps}, nil
}

func (o *RandomSearch) Restore(st *store.OptimizerState) error {
	if err := o.ready(); err != nil {
		return err
	}
	o.hist = restoreHistory(st.History)
	o.steps = st.Steps
	o.reseed()
	return nil
}
