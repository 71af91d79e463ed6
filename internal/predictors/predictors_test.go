package predictors

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/stats"
)

// linearBench scores an architecture as a sum of per-slot op weights, which a
// one-hot ridge model can recover.
type linearBench struct {
	w [][]float64
}

func newLinearBench(g *graph.Graph, seed int64) *linearBench {
	rng := rand.New(rand.NewSource(seed))
	b := &linearBench{w: make([][]float64, len(g.Slots))}
	for i, s := range g.Slots {
		b.w[i] = make([]float64, len(s.Ops))
		for k := range b.w[i] {
			b.w[i][k] = rng.Float64() * 10
		}
	}
	return b
}

func (b *linearBench) Query(g *graph.Graph, _ benchmark.Metric) (float64, error) {
	sum := 50.0
	for i, s := range g.Slots {
		sum += b.w[i][s.Selected]
	}
	return sum, nil
}

func labelled(t *testing.T, n int, seed int64) ([]*graph.Graph, []float64, *linearBench) {
	t.Helper()
	space := searchspace.NewNasBench201()
	bench := newLinearBench(space.Graph(), 42)
	rng := rand.New(rand.NewSource(seed))
	archs := make([]*graph.Graph, n)
	y := make([]float64, n)
	for i := range archs {
		archs[i] = space.Sample(rng)
		y[i], _ = bench.Query(archs[i], benchmark.ValAccuracy)
	}
	return archs, y, bench
}

func TestEnsembleRecoversLinearTarget(t *testing.T) {
	train, trainY, _ := labelled(t, 80, 1)
	test, testY, _ := labelled(t, 40, 2)

	for _, members := range []int{1, 5} {
		e := NewEnsemble(members, searchspace.AdjacencyOneHot, 1e-2, 3)
		require.NoError(t, e.Fit(train, trainY))
		pred, err := e.Query(test)
		require.NoError(t, err)
		require.Len(t, pred, len(test))

		tau := ByKendallTau(mustScores(t, testY, pred))
		assert.Greater(t, tau, 0.7, "members=%d", members)
	}
}

func TestEnsembleMembersDisagree(t *testing.T) {
	train, trainY, _ := labelled(t, 30, 4)
	e := NewEnsemble(5, searchspace.AdjacencyOneHot, 1e-2, 5)
	require.NoError(t, e.Fit(train, trainY))

	preds, err := e.QueryEnsemble(train[:10])
	require.NoError(t, err)
	require.Len(t, preds, 5)

	_, std := MeanStd(preds)
	spread := 0.0
	for _, s := range std {
		spread += s
	}
	assert.Greater(t, spread, 0.0)
}

func TestEnsembleQueryBeforeFit(t *testing.T) {
	archs, _, _ := labelled(t, 2, 1)
	_, err := NewEnsemble(3, searchspace.Path, 1e-2, 1).Query(archs)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestEnsemblePathEncoding(t *testing.T) {
	train, trainY, _ := labelled(t, 40, 6)
	e := NewEnsemble(3, searchspace.Path, 1e-1, 7)
	require.NoError(t, e.Fit(train, trainY))
	pred, err := e.Query(train)
	require.NoError(t, err)
	assert.Len(t, pred, len(train))
}

func TestKFold(t *testing.T) {
	folds, err := KFold(10, 3)
	require.NoError(t, err)
	require.Len(t, folds, 3)
	assert.Len(t, folds[0].Val, 3)
	assert.Len(t, folds[1].Val, 3)
	assert.Len(t, folds[2].Val, 4)
	for _, f := range folds {
		assert.Len(t, f.Train, 10-len(f.Val))
		for _, v := range f.Val {
			assert.NotContains(t, f.Train, v)
		}
	}

	_, err = KFold(10, 1)
	assert.ErrorIs(t, err, config.ErrInvalidArgument)
	_, err = KFold(2, 3)
	assert.ErrorIs(t, err, config.ErrInvalidArgument)
}

// oracle returns the true label of every architecture.
type oracle struct {
	bench *linearBench
	fits  int
}

func (o *oracle) Fit(archs []*graph.Graph, y []float64) error {
	o.fits++
	return nil
}

func (o *oracle) Query(archs []*graph.Graph) ([]float64, error) {
	out := make([]float64, len(archs))
	for i, g := range archs {
		out[i], _ = o.bench.Query(g, benchmark.ValAccuracy)
	}
	return out, nil
}

func TestCrossValidateScoresHeldOutFolds(t *testing.T) {
	archs, y, bench := labelled(t, 30, 8)
	o := &oracle{bench: bench}
	tau, err := CrossValidate(o, archs, y, 3, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tau, 1e-9)
	assert.Equal(t, 3, o.fits)

	_, err = CrossValidate(o, archs, y[:5], 3, nil)
	assert.Error(t, err)
}

type fixedScorer struct{ calls int }

func (s *fixedScorer) ScoreArchitecture(g *graph.Graph, batches []data.Batch) (float64, error) {
	s.calls++
	return float64(g.Slots[0].Selected), nil
}

func TestOneShotQueriesScorer(t *testing.T) {
	archs, y, _ := labelled(t, 4, 9)
	s := &fixedScorer{}
	p := NewOneShot(s, nil)
	require.NoError(t, p.Fit(archs, y))
	pred, err := p.Query(archs)
	require.NoError(t, err)
	assert.Equal(t, 4, s.calls)
	for i, g := range archs {
		assert.Equal(t, float64(g.Slots[0].Selected), pred[i])
	}
}

func TestEvaluatorWritesResults(t *testing.T) {
	cfg := config.Default()
	cfg.Save = t.TempDir()
	cfg.Search.TrainSizes = []int{20, 60}
	cfg.Search.TestSize = 30

	space := searchspace.NewNasBench201()
	ev := NewEvaluator(NewEnsemble(3, searchspace.AdjacencyOneHot, 1e-2, 1), cfg)

	_, err := ev.Evaluate(context.Background())
	assert.ErrorIs(t, err, ErrNoBenchmark)

	ev.AdaptSearchSpace(space, newLinearBench(space.Graph(), 42))
	results, err := ev.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Empty(t, results[1].Error)
	assert.Equal(t, 60, results[1].TrainSize)
	assert.Greater(t, results[1].KendallTau, 0.5)
	assert.Len(t, results[1].YTest, 30)

	_, err = os.Stat(filepath.Join(cfg.Save, ResultsFile))
	assert.NoError(t, err)
}

func TestEvaluatorHonoursCancellation(t *testing.T) {
	cfg := config.Default()
	cfg.Search.TrainSizes = []int{5}
	cfg.Search.TestSize = 5
	space := searchspace.NewNasBench201()
	ev := NewEvaluator(NewEnsemble(1, searchspace.AdjacencyOneHot, 1e-2, 1), cfg)
	ev.AdaptSearchSpace(space, newLinearBench(space.Graph(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := ev.Evaluate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func mustScores(t *testing.T, y, pred []float64) stats.Scores {
	t.Helper()
	s, err := stats.ComputeScores(y, pred)
	require.NoError(t, err)
	return s
}
