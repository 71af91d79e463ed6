package optimizers

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/opt"
	"github.com/cwbudde/gonas/internal/predictors"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
)

// ucbExplore weighs the ensemble spread in the ucb acquisition.
const ucbExplore = 0.5

// Bananas is Bayesian optimization with a bootstrap ensemble predictor.
//
// The first num_init steps query random architectures. Afterwards, whenever
// the queue of proposals is empty, the ensemble is refit on everything queried
// so far, candidates are generated around the best architectures and the k
// with the highest acquisition value are queued. Each step queries one
// architecture.
type Bananas struct {
	lifecycle
	hist  *history
	queue []*graph.Graph
}

// NewBananas creates a BANANAS optimizer configured by cfg.Search.
func NewBananas(cfg *config.Config) *Bananas {
	return &Bananas{lifecycle: newLifecycle("bananas", cfg), hist: newHistory()}
}

func (o *Bananas) AdaptSearchSpace(space searchspace.Space, opts AdaptOptions) (searchspace.Space, error) {
	if err := o.adapt(space, opts, true); err != nil {
		return nil, err
	}
	return o.space, nil
}

func (o *Bananas) Step(_, _ data.Batch) (Stats, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}

	var g *graph.Graph
	if o.hist.len() < max(o.cfg.Search.NumInit, 2) {
		g = o.space.Sample(o.rng, o.scope...)
	} else {
		if len(o.queue) == 0 {
			batch, err := o.propose()
			if err != nil {
				return nil, err
			}
			o.queue = batch
		}
		g, o.queue = o.queue[0], o.queue[1:]
	}

	acc, err := o.query(g)
	if err != nil {
		return nil, err
	}
	o.hist.add(g, acc)
	o.steps++

	return Stats{
		"val_acc":      acc,
		"best_val_acc": o.hist.bestAccuracy(),
		"queued":       float64(len(o.queue)),
	}, nil
}

// acquisition scores candidates from the member predictions of an ensemble.
func (o *Bananas) acquisition(preds [][]float64) []float64 {
	mean, std := predictors.MeanStd(preds)
	out := make([]float64, len(mean))
	best := o.hist.bestAccuracy()
	for i := range out {
		switch o.cfg.Search.AcqFnType {
		case "its":
			out[i] = mean[i] + std[i]*o.rng.NormFloat64()
		case "ucb":
			out[i] = mean[i] + ucbExplore*std[i]
		case "ei":
			out[i] = expectedImprovement(mean[i], std[i], best)
		default:
			out[i] = mean[i]
		}
	}
	return out
}

func expectedImprovement(mean, std, best float64) float64 {
	if std <= 0 {
		return math.Max(mean-best, 0)
	}
	z := (mean - best) / std
	return (mean-best)*distuv.UnitNormal.CDF(z) + std*distuv.UnitNormal.Prob(z)
}

// propose refits the ensemble and returns the k most promising candidates.
func (o *Bananas) propose() ([]*graph.Graph, error) {
	s := o.cfg.Search
	ens := predictors.NewEnsemble(s.NumEnsemble, searchspace.Encoding(s.EncodingType), s.RidgeLambda, o.cfg.Seed+int64(o.steps))
	archs, y := o.hist.archs()
	if err := ens.Fit(archs, y); err != nil {
		return nil, fmt.Errorf("failed to fit bananas ensemble: %w", err)
	}

	cands, err := o.candidates(ens)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return []*graph.Graph{o.space.Sample(o.rng, o.scope...)}, nil
	}
	preds, err := ens.QueryEnsemble(cands)
	if err != nil {
		return nil, err
	}
	acq := o.acquisition(preds)

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return acq[order[a]] > acq[order[b]] })

	k := min(max(s.K, 1), len(cands))
	batch := make([]*graph.Graph, k)
	for i := range batch {
		batch[i] = cands[order[i]]
	}
	return batch, nil
}

// candidates generates unseen architectures with the configured strategy.
func (o *Bananas) candidates(ens *predictors.Ensemble) ([]*graph.Graph, error) {
	s := o.cfg.Search
	n := max(s.NumCandidates, 1)
	seen := make(map[string]bool)
	var out []*graph.Graph
	add := func(g *graph.Graph) {
		key := g.String()
		if seen[key] || o.hist.contains(g) || !o.space.IsValid(g) {
			return
		}
		seen[key] = true
		out = append(out, g)
	}

	switch s.AcqFnOptimization {
	case "mutation":
		parents := o.hist.top(max(s.NumArchToMutate, 1))
		per := max(n/len(parents), 1)
		for _, p := range parents {
			for i := 0; i < per; i++ {
				child := p.Arch
				for m := o.rng.Intn(max(s.MaxMutations, 1)) + 1; m > 0; m-- {
					child = o.space.Mutate(child, o.rng, o.scope...)
				}
				add(child)
			}
		}
	case "mayfly":
		best, _ := o.hist.bestEval()
		r := opt.NewRelaxation(o.space, best.Arch, o.scope...)
		score := func(g *graph.Graph) float64 {
			preds, err := ens.QueryEnsemble([]*graph.Graph{g})
			if err != nil {
				return math.Inf(-1)
			}
			mean, std := predictors.MeanStd(preds)
			return mean[0] + ucbExplore*std[0]
		}
		g, _ := opt.Maximize(opt.NewMayfly(20, opt.MinPopulation, o.cfg.Seed+int64(o.steps)), r, score)
		add(g)
		fallthrough
	default:
		for tries := 0; len(out) < n && tries < 4*n; tries++ {
			add(o.space.Sample(o.rng, o.scope...))
		}
	}
	return out, nil
}

func (o *Bananas) FinalArchitecture() (*graph.Graph, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if best, ok := o.hist.bestEval(); ok {
		return best.Arch.Clone(), nil
	}
	return o.template(), nil
}

func (o *Bananas) State() (*store.OptimizerState, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return &store.OptimizerState{History: o.hist.snapshot(), Steps: o.steps}, nil
}

func (o *Bananas) Restore(st *store.OptimizerState) error {
	if err := o.ready(); err != nil {
		return err
	}
	o.hist = restoreHistory(st.History)
	o.queue = nil
	o.steps = st.Steps
	o.reseed()
	return nil
}
