package optimizers

import (
	"fmt"
	"math"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
	"github.com/cwbudde/gonas/internal/supernet"
)

// OneShot relaxes every in-scope slot into a softmax mixture of its ops and
// trains architecture parameters and shared weights in alternation.
type OneShot struct {
	lifecycle
	*shared
	g    *graph.Graph
	arch *supernet.ArchParams
	adam supernet.OpOptimizer
}

// NewOneShot creates a one-shot optimizer configured by cfg.Search.
func NewOneShot(cfg *config.Config) *OneShot {
	return &OneShot{lifecycle: newLifecycle("oneshot", cfg)}
}

func (o *OneShot) AdaptSearchSpace(space searchspace.Space, opts AdaptOptions) (searchspace.Space, error) {
	if err := o.adapt(space, opts, false); err != nil {
		return nil, err
	}
	g := o.space.Graph()
	if err := g.AddAlphas(o.scope...); err != nil {
		o.adapted = false
		return nil, fmt.Errorf("%w: %w", ErrIncompatibleSpace, err)
	}
	sh, err := o.build(g, opts)
	if err != nil {
		o.adapted = false
		return nil, err
	}
	s := o.cfg.Search
	o.shared = sh
	o.g = g
	o.arch = supernet.NewArchParams(g)
	o.adam = supernet.NewAdam(s.ArchLearningRate, 0.5, 0.999, s.ArchWeightDecay)
	return o.space, nil
}

// Step updates the alphas on val, then the weights on train.
func (o *OneShot) Step(train, val data.Batch) (Stats, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	stats := Stats{"nan_loss": 0}

	if !val.Empty() {
		o.adam.ZeroGrad(o.arch.Params)
		pass, err := o.net.Forward(o.g, val.X)
		if err != nil {
			return nil, err
		}
		loss := pass.Loss(val.Y)
		stats["val_loss"] = loss
		stats["val_acc"] = 100 * float64(pass.Correct(val.Y)) / float64(val.Len())
		if math.IsNaN(loss) {
			stats["nan_loss"] = 1
		} else {
			o.arch.AddGrads(pass.Backward())
			o.adam.Step(o.arch.Params)
		}
	}

	if !train.Empty() {
		loss, correct, err := o.net.TrainStep(o.g, train, o.weights, o.cfg.Search.GradClip)
		if err != nil {
			return nil, err
		}
		stats["train_loss"] = loss
		stats["train_acc"] = 100 * float64(correct) / float64(train.Len())
		if math.IsNaN(loss) {
			stats["nan_loss"] = 1
		}
	}

	o.steps++
	return stats, nil
}

func (o *OneShot) NewEpoch(epoch int) error {
	if err := o.lifecycle.NewEpoch(epoch); err != nil {
		return err
	}
	o.newEpoch(epoch)
	return nil
}

func (o *OneShot) FinalArchitecture() (*graph.Graph, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return o.space.Discretize(o.g), nil
}

func (o *OneShot) UsesData() bool { return true }

func (o *OneShot) ModelSizeMB() float64 {
	if o.shared == nil {
		return 0
	}
	return o.net.CountParametersMB()
}

// ScoreArchitecture evaluates a discrete architecture with the supernet
// weights.
func (o *OneShot) ScoreArchitecture(g *graph.Graph, batches []data.Batch) (float64, error) {
	if err := o.ready(); err != nil {
		return 0, err
	}
	return o.score(g, batches)
}

func (o *OneShot) State() (*store.OptimizerState, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return &store.OptimizerState{Graph: o.g.Clone(), Weights: o.weightsOf(), Steps: o.steps}, nil
}

func (o *OneShot) Restore(st *store.OptimizerState) error {
	if err := o.ready(); err != nil {
		return err
	}
	if st.Graph == nil || len(st.Graph.Slots) != len(o.g.Slots) {
		return fmt.Errorf("%w: checkpoint graph does not match the search space", ErrIncompatibleSpace)
	}
	for i, s := range st.Graph.Slots {
		if len(s.Alpha) != len(o.g.Slots[i].Alpha) {
			return fmt.Errorf("%w: slot %s has a different scope in the checkpoint", ErrIncompatibleSpace, s.Key)
		}
		copy(o.g.Slots[i].Alpha, s.Alpha)
	}
	if err := o.net.LoadWeights(st.Weights); err != nil {
		return err
	}
	o.steps = st.Steps
	o.reseed()
	return nil
}
