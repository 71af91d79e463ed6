package optimizers

import (
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
)

// RegularizedEvolution keeps a fixed-size population. Each step mutates the
// winner of a random tournament and retires the oldest member.
type RegularizedEvolution struct {
	lifecycle
	hist       *history
	population []store.Evaluation
}

// NewRegularizedEvolution creates an aging evolution optimizer.
func NewRegularizedEvolution(cfg *config.Config) *RegularizedEvolution {
	return &RegularizedEvolution{lifecycle: newLifecycle("re", cfg), hist: newHistory()}
}

func (o *RegularizedEvolution) AdaptSearchSpace(space searchspace.Space, opts AdaptOptions) (searchspace.Space, error) {
	if err := o.adapt(space, opts, true); err != nil {
		return nil, err
	}
	return o.space, nil
}

func (o *RegularizedEvolution) Step(_, _ data.Batch) (Stats, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}

	var g *graph.Graph
	if len(o.population) < max(o.cfg.Search.PopulationSize, 1) {
		g = o.space.Sample(o.rng, o.scope...)
	} else {
		g = o.space.Mutate(o.tournament().Arch, o.rng, o.scope...)
	}

	acc, err := o.query(g)
	if err != nil {
		return nil, err
	}
	o.hist.add(g, acc)
	o.population = append(o.population, store.Evaluation{Arch: g, Accuracy: acc})
	if len(o.population) > max(o.cfg.Search.PopulationSize, 1) {
		o.population = o.population[1:]
	}
	o.steps++

	return Stats{
		"val_acc":         acc,
		"best_val_acc":    o.hist.bestAccuracy(),
		"population_size": float64(len(o.population)),
	}, nil
}

// tournament draws sample_size members with replacement and returns the best.
func (o *RegularizedEvolution) tournament() store.Evaluation {
	var best store.Evaluation
	for i := 0; i < max(o.cfg.Search.SampleSize, 1); i++ {
		c := o.population[o.rng.Intn(len(o.population))]
		if i == 0 || c.Accuracy > best.Accuracy {
			best = c
		}
	}
	return best
}

func (o *RegularizedEvolution) FinalArchitecture() (*graph.Graph, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if best, ok := o.hist.bestEval(); ok {
		return best.Arch.Clone(), nil
	}
	return o.template(), nil
}

func (o *RegularizedEvolution) State() (*store.OptimizerState, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return &store.OptimizerState{
		History:    o.hist.snapshot(),
		Population: append([]store.Evaluation(nil), o.population...),
		Steps:      o.steps,
	}, nil
}

func (o *RegularizedEvolution) Restore(st *store.OptimizerState) error {
	if err := o.ready(); err != nil {
		return err
	}
	o.hist = restoreHistory(st.History)
	o.population = append([]store.Evaluation(nil), st.Population...)
	o.steps = st.Steps
	o.reseed()
	return nil
}
