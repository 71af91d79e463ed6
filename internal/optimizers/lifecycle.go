package optimizers

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/supernet"
)

// lifecycle holds the state every optimizer shares and enforces the order
// construct, adapt, step.
type lifecycle struct {
	name string
	cfg  *config.Config
	rng  *rand.Rand

	adapted bool
	space   searchspace.Space
	scope   []string
	bench   benchmark.Benchmark
	evalOpt supernet.OpOptimizer

	epoch int
	steps int
}

func newLifecycle(name string, cfg *config.Config) lifecycle {
	return lifecycle{
		name:  name,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		epoch: -1,
	}
}

func (l *lifecycle) Name() string { return l.name }

// adapt validates space against opts and keeps a private copy of it.
func (l *lifecycle) adapt(space searchspace.Space, opts AdaptOptions, needsBenchmark bool) error {
	if l.adapted {
		return ErrAlreadyAdapted
	}
	if space == nil {
		return fmt.Errorf("%w: nil search space", ErrIncompatibleSpace)
	}
	g := space.Graph()
	if err := g.CheckScope(opts.Scope...); err != nil {
		return fmt.Errorf("%w: %w", ErrIncompatibleSpace, err)
	}
	if len(g.SlotsInScope(opts.Scope...)) == 0 {
		return fmt.Errorf("%w: %w", ErrIncompatibleSpace, graph.ErrNoSlots)
	}
	if needsBenchmark && opts.Benchmark == nil {
		return fmt.Errorf("%w: %s needs a benchmark to query", ErrIncompatibleSpace, l.name)
	}

	l.space = space.Clone()
	l.scope = append([]string(nil), opts.Scope...)
	l.bench = opts.Benchmark
	ev := l.cfg.Evaluation
	l.evalOpt = supernet.NewSGD(ev.LearningRate, ev.Momentum, ev.WeightDecay)
	l.adapted = true
	return nil
}

func (l *lifecycle) ready() error {
	if !l.adapted {
		return ErrNotAdapted
	}
	return nil
}

func (l *lifecycle) NewEpoch(epoch int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if epoch < 0 || epoch <= l.epoch {
		return fmt.Errorf("%w: got %d after %d", ErrEpochOrder, epoch, l.epoch)
	}
	l.epoch = epoch
	return nil
}

func (l *lifecycle) BeforeTraining() error { return l.ready() }
func (l *lifecycle) AfterTraining() error  { return l.ready() }
func (l *lifecycle) ModelSizeMB() float64  { return 0 }
func (l *lifecycle) UsesData() bool        { return false }

func (l *lifecycle) OpOptimizer() supernet.OpOptimizer { return l.evalOpt }

// template returns a discrete copy of the adapted space's graph.
func (l *lifecycle) template() *graph.Graph {
	return l.space.Discretize(l.space.Graph())
}

// query rates g by validation accuracy.
func (l *lifecycle) query(g *graph.Graph) (float64, error) {
	acc, err := l.bench.Query(g, benchmark.ValAccuracy)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", l.name, err)
	}
	return acc, nil
}

// reseed restarts the random stream after a restore.
func (l *lifecycle) reseed() {
	l.rng = rand.New(rand.NewSource(l.cfg.Seed + int64(l.steps)))
}
