package trainer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/optimizers"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
)

func testConfig(t *testing.T, optimizer string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Optimizer = optimizer
	cfg.SearchSpace = "nasbench201"
	cfg.Dataset = "synthetic"
	cfg.Seed = 3
	cfg.Save = t.TempDir()
	cfg.Search.Epochs = 4
	cfg.Search.CheckpointFreq = 2
	cfg.Search.HiddenDim = 4
	cfg.Search.NumInit = 2
	cfg.Search.K = 2
	cfg.Search.NumEnsemble = 2
	cfg.Search.NumCandidates = 8
	cfg.Evaluation.Epochs = 2
	require.NoError(t, cfg.Prepare())
	return cfg
}

func testLoader(t *testing.T) *data.Loader {
	t.Helper()
	train, test := data.Synthetic(data.SyntheticOptions{Seed: 1, Train: 64, Test: 16, Features: 6, Classes: 3})
	loader, err := data.NewLoader(train, test, 0.5, 16, 1)
	require.NoError(t, err)
	return loader
}

func adapted(t *testing.T, cfg *config.Config, loader *data.Loader) (optimizers.Optimizer, benchmark.Benchmark) {
	t.Helper()
	o, err := optimizers.New(cfg.Optimizer, cfg)
	require.NoError(t, err)
	space, err := searchspace.New(cfg.SearchSpace)
	require.NoError(t, err)
	bench := benchmark.NewSurrogate(cfg.SearchSpace, cfg.Dataset)
	opts := optimizers.AdaptOptions{Scope: cfg.Scope, Benchmark: bench}
	if loader != nil {
		opts.Features, opts.Classes = loader.Features(), loader.Classes()
	}
	_, err = o.AdaptSearchSpace(space, opts)
	require.NoError(t, err)
	return o, bench
}

func readTrace(t *testing.T, dir string) []store.TraceEntry {
	t.Helper()
	r, err := store.NewTraceReader(dir)
	require.NoError(t, err)
	defer r.Close()
	entries, err := r.ReadAll()
	require.NoError(t, err)
	return entries
}

func TestQueryBasedSearchAndEvaluate(t *testing.T) {
	cfg := testConfig(t, "rs")
	o, bench := adapted(t, cfg, nil)
	tr := New(o, cfg, nil)

	require.NoError(t, tr.Search(context.Background(), ""))

	entries := readTrace(t, cfg.SearchDir())
	require.Len(t, entries, 4)
	assert.NotEmpty(t, entries[0].Architecture)
	assert.Contains(t, entries[3].Stats, "best_val_acc")

	fsStore, err := store.NewFSStore(cfg.SearchDir())
	require.NoError(t, err)
	infos, err := fsStore.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 1, infos[0].Epoch)
	assert.Equal(t, 3, infos[1].Epoch)

	res, err := tr.Evaluate(context.Background(), "", bench)
	require.NoError(t, err)
	want, err := bench.Query(res.Arch, benchmark.TestAccuracy)
	require.NoError(t, err)
	assert.Equal(t, want, res.TestAccuracy)

	raw, err := os.ReadFile(filepath.Join(cfg.Save, ErrorsFile))
	require.NoError(t, err)
	var h History
	require.NoError(t, json.Unmarshal(raw, &h))
	assert.Len(t, h.ValidAcc, 4)
	assert.Equal(t, []float64{want}, h.TestAcc)
	assert.Equal(t, res.Arch.String(), h.Arch)
}

func TestSearchResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig(t, "re")
	cfg.Search.Epochs = 3
	o, _ := adapted(t, cfg, nil)
	require.NoError(t, New(o, cfg, nil).Search(context.Background(), ""))

	cfg.Search.Epochs = 5
	resumed, _ := adapted(t, cfg, nil)
	require.NoError(t, New(resumed, cfg, nil).Search(context.Background(), cfg.SearchDir()))

	entries := readTrace(t, cfg.SearchDir())
	require.Len(t, entries, 5)
	assert.Equal(t, 4, entries[4].Epoch)

	st, err := resumed.State()
	require.NoError(t, err)
	assert.Equal(t, 5, st.Steps)
	assert.Len(t, st.History, 5)

	fsStore, err := store.NewFSStore(cfg.SearchDir())
	require.NoError(t, err)
	cp, err := fsStore.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, 4, cp.Epoch)
}

func TestResolveCheckpoint(t *testing.T) {
	_, err := resolveCheckpoint(t.TempDir())
	assert.ErrorIs(t, err, store.ErrNotFound, "a directory without checkpoints")

	cfg := testConfig(t, "rs")
	cfg.Search.Epochs = 2
	o, _ := adapted(t, cfg, nil)
	require.NoError(t, New(o, cfg, nil).Search(context.Background(), ""))

	fromDir, err := resolveCheckpoint(cfg.SearchDir())
	require.NoError(t, err)
	assert.Equal(t, 1, fromDir.Epoch)

	fromFile, err := resolveCheckpoint(filepath.Join(cfg.SearchDir(), "checkpoint_1.json"))
	require.NoError(t, err)
	assert.Equal(t, fromDir.RunID, fromFile.RunID)
}

func TestResumeRejectsOtherSeed(t *testing.T) {
	cfg := testConfig(t, "rs")
	cfg.Search.Epochs = 1
	o, _ := adapted(t, cfg, nil)
	require.NoError(t, New(o, cfg, nil).Search(context.Background(), ""))

	other := *cfg
	other.Seed = cfg.Seed + 1
	o2, _ := adapted(t, &other, nil)
	err := New(o2, &other, nil).Search(context.Background(), cfg.SearchDir())
	var compat *store.CompatibilityError
	require.ErrorAs(t, err, &compat)
	assert.Equal(t, "Seed", compat.Field)
}

func TestResumeRejectsOtherOptimizer(t *testing.T) {
	cfg := testConfig(t, "rs")
	cfg.Search.Epochs = 1
	o, _ := adapted(t, cfg, nil)
	require.NoError(t, New(o, cfg, nil).Search(context.Background(), ""))

	other := *cfg
	other.Optimizer = "re"
	o2, _ := adapted(t, &other, nil)
	err := New(o2, &other, nil).Search(context.Background(), cfg.SearchDir())
	var compat *store.CompatibilityError
	assert.ErrorAs(t, err, &compat)
}

func TestResumeFromMissingCheckpoint(t *testing.T) {
	cfg := testConfig(t, "rs")
	o, _ := adapted(t, cfg, nil)
	err := New(o, cfg, nil).Search(context.Background(), filepath.Join(cfg.Save, "missing.json"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWeightSharingSearchAndTrainFromScratch(t *testing.T) {
	for _, name := range []string{"oneshot", "rsws"} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, name)
			cfg.Search.Epochs = 2
			loader := testLoader(t)
			o, _ := adapted(t, cfg, loader)
			tr := New(o, cfg, loader)

			require.NoError(t, tr.Search(context.Background(), ""))
			h := tr.History()
			assert.Len(t, h.TrainAcc, 2)
			assert.Greater(t, h.ParamsMB, 0.0)

			res, err := tr.Evaluate(context.Background(), "", nil)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.TestAccuracy, 0.0)
			assert.LessOrEqual(t, res.TestAccuracy, 100.0)
			assert.Len(t, tr.History().TestAcc, cfg.Evaluation.Epochs)

			_, err = store.LastCheckpoint(cfg.EvalDir())
			assert.NoError(t, err)
		})
	}
}

func TestEvaluationResumesFinishedTraining(t *testing.T) {
	cfg := testConfig(t, "rsws")
	cfg.Search.Epochs = 1
	loader := testLoader(t)
	o, _ := adapted(t, cfg, loader)
	tr := New(o, cfg, loader)
	require.NoError(t, tr.Search(context.Background(), ""))
	first, err := tr.Evaluate(context.Background(), cfg.EvalDir(), nil)
	require.NoError(t, err)

	again, err := tr.Evaluate(context.Background(), cfg.EvalDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.TestAccuracy, again.TestAccuracy)
}

func TestWeightSharingNeedsLoader(t *testing.T) {
	cfg := testConfig(t, "oneshot")
	o, _ := adapted(t, cfg, testLoader(t))
	err := New(o, cfg, nil).Search(context.Background(), "")
	assert.ErrorIs(t, err, config.ErrInvalidArgument)
}

func TestSearchHonoursCancellation(t *testing.T) {
	cfg := testConfig(t, "rs")
	o, _ := adapted(t, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New(o, cfg, nil).Search(ctx, ""), context.Canceled)
}

func TestSearchStopsEarly(t *testing.T) {
	cfg := testConfig(t, "rs")
	cfg.Search.Epochs = 10
	cfg.Search.Patience = 1
	cfg.Search.Threshold = 1
	o, _ := adapted(t, cfg, nil)
	require.NoError(t, New(o, cfg, nil).Search(context.Background(), ""))

	entries := readTrace(t, cfg.SearchDir())
	assert.Len(t, entries, 2)
	_, err := store.LastCheckpoint(cfg.SearchDir())
	assert.NoError(t, err)
}

func TestLightweightOutputOmitsArchitecture(t *testing.T) {
	cfg := testConfig(t, "rs")
	cfg.LightweightOutput = true
	o, _ := adapted(t, cfg, nil)
	require.NoError(t, New(o, cfg, nil).Search(context.Background(), ""))
	for _, e := range readTrace(t, cfg.SearchDir()) {
		assert.Empty(t, e.Architecture)
	}
}

func TestEvaluationUsesItsOwnBatchSize(t *testing.T) {
	cfg := testConfig(t, "oneshot")
	loader := testLoader(t)
	o, _ := adapted(t, cfg, loader)

	cfg.Evaluation.BatchSize = 8
	ev, err := New(o, cfg, loader).evalLoader()
	require.NoError(t, err)
	assert.Equal(t, 8, ev.BatchSize())
	assert.Len(t, ev.Batches(data.Train), 4)
	assert.Len(t, ev.Batches(data.Test), 2)
	assert.Len(t, loader.Batches(data.Train), 2, "search batches keep the search batch size")

	cfg.Evaluation.BatchSize = 16
	same, err := New(o, cfg, loader).evalLoader()
	require.NoError(t, err)
	assert.Same(t, loader, same)
}
