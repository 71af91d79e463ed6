package optimizers

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
)

// archiveSize bounds how many sampled paths RandomNAS remembers as final
// candidates.
const archiveSize = 10

// RandomNAS is random search with weight sharing. Each step samples one path
// through the supernet and trains only that path. The final architecture is
// the best of num_final_samples random architectures plus the best paths seen
// during training, ranked with the shared weights.
type RandomNAS struct {
	lifecycle
	*shared
	hist    *history
	lastVal data.Batch
}

// NewRandomNAS creates a random search with weight sharing.
func NewRandomNAS(cfg *config.Config) *RandomNAS {
	return &RandomNAS{lifecycle: newLifecycle("rsws", cfg), hist: newHistory()}
}

func (o *RandomNAS) AdaptSearchSpace(space searchspace.Space, opts AdaptOptions) (searchspace.Space, error) {
	if err := o.adapt(space, opts, false); err != nil {
		return nil, err
	}
	sh, err := o.build(o.space.Graph(), opts)
	if err != nil {
		o.adapted = false
		return nil, err
	}
	o.shared = sh
	return o.space, nil
}

func (o *RandomNAS) Step(train, val data.Batch) (Stats, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	arch := o.space.Sample(o.rng, o.scope...)
	stats := Stats{"nan_loss": 0}

	if !train.Empty() {
		loss, correct, err := o.net.TrainStep(arch, train, o.weights, o.cfg.Search.GradClip)
		if err != nil {
			return nil, err
		}
		stats["train_loss"] = loss
		stats["train_acc"] = 100 * float64(correct) / float64(train.Len())
		if math.IsNaN(loss) {
			stats["nan_loss"] = 1
		}
	}
	if !val.Empty() {
		loss, acc, err := o.net.Evaluate(arch, []data.Batch{val})
		if err != nil {
			return nil, err
		}
		stats["val_loss"] = loss
		stats["val_acc"] = acc
		o.hist.add(arch, acc)
		o.lastVal = val
	}

	o.steps++
	return stats, nil
}

func (o *RandomNAS) NewEpoch(epoch int) error {
	if err := o.lifecycle.NewEpoch(epoch); err != nil {
		return err
	}
	o.newEpoch(epoch)
	return nil
}

// FinalArchitecture is deterministic for a given optimizer state: its random
// candidates come from a generator seeded with the seed and step count.
func (o *RandomNAS) FinalArchitecture() (*graph.Graph, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if o.steps == 0 {
		return o.template(), nil
	}
	if o.lastVal.Empty() {
		if best, ok := o.hist.bestEval(); ok {
			return best.Arch.Clone(), nil
		}
		return o.template(), nil
	}

	rng := rand.New(rand.NewSource(o.cfg.Seed + int64(o.steps)))
	var cands []*graph.Graph
	for i := 0; i < max(o.cfg.Search.NumFinalSamples, 1); i++ {
		cands = append(cands, o.space.Sample(rng, o.scope...))
	}
	for _, e := range o.hist.top(archiveSize) {
		cands = append(cands, e.Arch)
	}

	var best *graph.Graph
	bestAcc := -1.0
	for _, g := range cands {
		acc, err := o.score(g, []data.Batch{o.lastVal})
		if err != nil {
			return nil, fmt.Errorf("failed to rank final candidate: %w", err)
		}
		if acc > bestAcc {
			best, bestAcc = g, acc
		}
	}
	return best.Clone(), nil
}

func (o *RandomNAS) UsesData() bool { return true }

func (o *RandomNAS) ModelSizeMB() float64 {
	if o.shared == nil {
		return 0
	}
	return o.net.CountParametersMB()
}

func (o *RandomNAS) ScoreArchitecture(g *graph.Graph, batches []data.Batch) (float64, error) {
	if err := o.ready(); err != nil {
		return 0, err
	}
	return o.score(g, batches)
}

func (o *RandomNAS) State() (*store.OptimizerState, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	return &store.OptimizerState{
		Graph:        o.space.Graph().Clone(),
		Weights:      o.weightsOf(),
		History:      o.hist.top(archiveSize),
		RankingBatch: batchState(o.lastVal),
		Steps:        o.steps,
	}, nil
}

func (o *RandomNAS) Restore(st *store.OptimizerState) error {
	if err := o.ready(); err != nil {
		return err
	}
	if err := o.net.LoadWeights(st.Weights); err != nil {
		return err
	}
	o.hist = restoreHistory(st.History)
	o.steps = st.Steps
	lastVal, err := batchFrom(st.RankingBatch)
	if err != nil {
		return err
	}
	o.lastVal = lastVal
	o.reseed()
	return nil
}

func batchState(b data.Batch) *store.Batch {
	if b.Empty() {
		return nil
	}
	x := mat.DenseCopyOf(b.X)
	r, c := x.Dims()
	return &store.Batch{Rows: r, Cols: c, X: x.RawMatrix().Data, Y: append([]int(nil), b.Y...)}
}

func batchFrom(b *store.Batch) (data.Batch, error) {
	if b == nil || b.Rows == 0 {
		return data.Batch{}, nil
	}
	if len(b.X) != b.Rows*b.Cols || len(b.Y) != b.Rows {
		return data.Batch{}, fmt.Errorf("%w: ranking batch has %d values and %d labels for %dx%d",
			ErrIncompatibleSpace, len(b.X), len(b.Y), b.Rows, b.Cols)
	}
	return data.Batch{X: mat.NewDense(b.Rows, b.Cols, append([]float64(nil), b.X...)), Y: append([]int(nil), b.Y...)}, nil
}
