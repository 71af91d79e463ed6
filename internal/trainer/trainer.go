// Package trainer drives a meta-optimizer through the search phase and
// evaluates the architecture it settles on.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/optimizers"
	"github.com/cwbudde/gonas/internal/stats"
	"github.com/cwbudde/gonas/internal/store"
	"github.com/cwbudde/gonas/internal/supernet"
)

// ErrorsFile is the per-run history written to the experiment directory.
const ErrorsFile = "errors.json"

// History is the content of errors.json.
type History struct {
	TrainAcc  []float64 `json:"train_acc"`
	ValidAcc  []float64 `json:"valid_acc"`
	TestAcc   []float64 `json:"test_acc"`
	TrainLoss []float64 `json:"train_loss"`
	ValidLoss []float64 `json:"valid_loss"`
	TestLoss  []float64 `json:"test_loss"`
	Runtime   []float64 `json:"runtime"`
	TrainTime []float64 `json:"train_time"`
	ParamsMB  float64   `json:"params"`
	Arch      string    `json:"arch,omitempty"`
}

// Result is the outcome of Evaluate.
type Result struct {
	Arch         *graph.Graph
	TestAccuracy float64
	TestLoss     float64
}

// Trainer runs the search and evaluation phases of one experiment.
type Trainer struct {
	opt    optimizers.Optimizer
	cfg    *config.Config
	loader *data.Loader

	runID   string
	bestAcc float64
	history History
}

// New creates a trainer for an optimizer that has already been adapted to its
// search space. loader may be nil for query-based optimizers evaluated on a
// benchmark.
func New(opt optimizers.Optimizer, cfg *config.Config, loader *data.Loader) *Trainer {
	return &Trainer{opt: opt, cfg: cfg, loader: loader}
}

// History returns the recorded per-epoch statistics.
func (t *Trainer) History() History {
	return t.history
}

func (t *Trainer) runConfig(epochs int) store.RunConfig {
	return store.RunConfig{
		Optimizer:   t.cfg.Optimizer,
		SearchSpace: t.cfg.SearchSpace,
		Dataset:     t.cfg.Dataset,
		Seed:        t.cfg.Seed,
		Scope:       t.cfg.Scope,
		Epochs:      epochs,
	}
}

// resolveCheckpoint accepts a checkpoint file or a directory holding a
// last_checkpoint pointer.
func resolveCheckpoint(path string) (*store.Checkpoint, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &store.NotFoundError{Path: path}
		}
		return nil, err
	}
	if info.IsDir() {
		var s store.Store
		if s, err = store.NewFSStore(path); err != nil {
			return nil, err
		}
		return s.LoadLatest()
	}
	return store.LoadCheckpointFile(path)
}

// Search runs the configured number of search epochs. With resumeFrom set it
// restores the optimizer from that checkpoint and continues after its epoch.
func (t *Trainer) Search(ctx context.Context, resumeFrom string) error {
	epochs := t.cfg.Search.Epochs
	runCfg := t.runConfig(epochs)
	if t.opt.UsesData() && t.loader == nil {
		return fmt.Errorf("%w: %s needs a data loader", config.ErrInvalidArgument, t.opt.Name())
	}

	start := 0
	t.runID = store.NewRunID()
	if resumeFrom != "" {
		cp, err := resolveCheckpoint(resumeFrom)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if err := cp.IsCompatible(runCfg); err != nil {
			return err
		}
		if err := t.opt.Restore(&cp.State); err != nil {
			return fmt.Errorf("failed to restore optimizer: %w", err)
		}
		start = cp.Epoch + 1
		t.runID = cp.RunID
		t.bestAcc = cp.BestAccuracy
		slog.Info("Resuming search", "run_id", t.runID, "epoch", start)
	}

	fsStore, err := store.NewFSStore(t.cfg.SearchDir())
	if err != nil {
		return err
	}
	trace, err := store.NewTraceWriter(t.cfg.SearchDir(), resumeFrom != "")
	if err != nil {
		return err
	}
	defer trace.Close()

	if err := t.opt.BeforeTraining(); err != nil {
		return err
	}
	t.history.ParamsMB = t.opt.ModelSizeMB()
	slog.Info("Starting search",
		"run_id", t.runID,
		"optimizer", t.opt.Name(),
		"epochs", epochs,
		"param_size_mb", t.history.ParamsMB,
	)

	tracker := NewConvergenceTracker(ConvergenceFromSearch(t.cfg.Search.Patience, t.cfg.Search.Threshold))
	for e := start; e < epochs; e++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.opt.NewEpoch(e); err != nil {
			return err
		}

		began := time.Now()
		meters, err := t.searchEpoch(ctx)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", e, err)
		}
		avg := meters.Averages()
		t.record(avg, time.Since(began).Seconds())

		slog.Info("Epoch complete",
			"epoch", e,
			"train_acc", avg["train_acc"],
			"val_acc", avg["val_acc"],
			"best_val_acc", t.bestAcc,
			"summary", meters.Summary(),
		)

		entry := store.TraceEntry{Epoch: e, Stats: avg, Timestamp: time.Now()}
		if !t.cfg.LightweightOutput {
			if g, err := t.opt.FinalArchitecture(); err == nil {
				entry.Architecture = g.String()
			}
		}
		if err := trace.Write(entry); err != nil {
			return err
		}

		converged := tracker.Update(100 - t.bestAcc)
		if converged || t.shouldCheckpoint(e, epochs) {
			if err := t.checkpoint(fsStore, e, finite(avg), runCfg); err != nil {
				return err
			}
		}
		if err := trace.Flush(); err != nil {
			return err
		}
		if converged {
			break
		}
	}

	if err := t.opt.AfterTraining(); err != nil {
		return err
	}
	if g, err := t.opt.FinalArchitecture(); err == nil {
		t.history.Arch = g.String()
	}
	return t.writeHistory()
}

// searchEpoch calls Step once per training batch, or once for optimizers that
// do not consume data.
func (t *Trainer) searchEpoch(ctx context.Context) (*stats.MeterGroup, error) {
	meters := stats.NewMeterGroup()
	if !t.opt.UsesData() {
		s, err := t.opt.Step(data.Batch{}, data.Batch{})
		if err != nil {
			return nil, err
		}
		meters.Update(s, 1)
		return meters, nil
	}

	train := t.loader.Batches(data.Train)
	val := t.loader.Batches(data.Val)
	for i, tb := range train {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var vb data.Batch
		if len(val) > 0 {
			vb = val[i%len(val)]
		}
		s, err := t.opt.Step(tb, vb)
		if err != nil {
			return nil, err
		}
		if s["nan_loss"] > 0 {
			slog.Warn("NaN loss, update skipped", "batch", i)
		}
		meters.Update(s, tb.Len())
	}
	return meters, nil
}

// record appends the epoch averages to the history.
func (t *Trainer) record(avg map[string]float64, runtime float64) {
	for _, k := range []string{"val_acc", "best_val_acc"} {
		if v, ok := avg[k]; ok && !math.IsNaN(v) {
			t.bestAcc = math.Max(t.bestAcc, v)
		}
	}
	t.history.TrainAcc = append(t.history.TrainAcc, finiteOr0(avg["train_acc"]))
	t.history.ValidAcc = append(t.history.ValidAcc, finiteOr0(avg["val_acc"]))
	t.history.TrainLoss = append(t.history.TrainLoss, finiteOr0(avg["train_loss"]))
	t.history.ValidLoss = append(t.history.ValidLoss, finiteOr0(avg["val_loss"]))
	t.history.Runtime = append(t.history.Runtime, runtime)
	t.history.TrainTime = append(t.history.TrainTime, runtime)
}

func (t *Trainer) shouldCheckpoint(epoch, epochs int) bool {
	freq := t.cfg.Search.CheckpointFreq
	return epoch == epochs-1 || (freq > 0 && (epoch+1)%freq == 0)
}

func (t *Trainer) checkpoint(fsStore *store.FSStore, epoch int, avg map[string]float64, runCfg store.RunConfig) error {
	state, err := t.opt.State()
	if err != nil {
		return err
	}
	cp := store.NewCheckpoint(t.runID, epoch, t.bestAcc, avg, runCfg, *state)
	if err := fsStore.SaveCheckpoint(cp); err != nil {
		return err
	}
	slog.Info("Checkpoint saved", "epoch", epoch, "dir", fsStore.Dir())
	return nil
}

func (t *Trainer) writeHistory() error {
	if t.cfg.Save == "" {
		return nil
	}
	return store.WriteJSON(filepath.Join(t.cfg.Save, ErrorsFile), t.history)
}

// Evaluate measures the final architecture. With a benchmark it queries the
// test accuracy. Otherwise it trains the architecture from scratch with the
// optimizer's op optimizer and reports accuracy on the test split. resumeFrom
// continues an interrupted from-scratch training.
func (t *Trainer) Evaluate(ctx context.Context, resumeFrom string, bench benchmark.Benchmark) (*Result, error) {
	g, err := t.opt.FinalArchitecture()
	if err != nil {
		return nil, err
	}
	slog.Info("Final architecture", "arch", g.String())
	t.history.Arch = g.String()

	if bench != nil {
		acc, err := bench.Query(g, benchmark.TestAccuracy)
		if err != nil {
			return nil, fmt.Errorf("failed to query test accuracy: %w", err)
		}
		slog.Info("Queried final architecture", "test_acc", acc)
		t.history.TestAcc = append(t.history.TestAcc, acc)
		return &Result{Arch: g, TestAccuracy: acc}, t.writeHistory()
	}

	res, err := t.trainFromScratch(ctx, g, resumeFrom)
	if err != nil {
		return nil, err
	}
	return res, t.writeHistory()
}

func (t *Trainer) trainFromScratch(ctx context.Context, g *graph.Graph, resumeFrom string) (*Result, error) {
	if t.loader == nil {
		return nil, fmt.Errorf("%w: evaluation without a benchmark needs a data loader", config.ErrInvalidArgument)
	}
	ev := t.cfg.Evaluation
	loader, err := t.evalLoader()
	if err != nil {
		return nil, err
	}
	net, err := supernet.New(g, loader.Features(), max(t.cfg.Search.HiddenDim, 1), loader.Classes(),
		rand.New(rand.NewSource(t.cfg.Seed)))
	if err != nil {
		return nil, err
	}
	opt := t.opt.OpOptimizer()
	schedule := supernet.CosineSchedule{Max: ev.LearningRate, Min: 0, Epochs: ev.Epochs}
	runCfg := t.runConfig(ev.Epochs)

	runID, start := store.NewRunID(), 0
	if resumeFrom != "" {
		cp, err := resolveCheckpoint(resumeFrom)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load evaluation checkpoint: %w", err)
		}
		if cp != nil {
			if err := cp.IsCompatible(runCfg); err != nil {
				return nil, err
			}
			if err := net.LoadWeights(cp.State.Weights); err != nil {
				return nil, err
			}
			runID, start = cp.RunID, cp.Epoch+1
			slog.Info("Resuming evaluation", "epoch", start)
		}
	}

	fsStore, err := store.NewFSStore(t.cfg.EvalDir())
	if err != nil {
		return nil, err
	}

	res := &Result{Arch: g}
	test := loader.Batches(data.Test)
	for e := start; e < ev.Epochs; e++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opt.SetLR(schedule.At(e))
		began := time.Now()

		meters := stats.NewMeterGroup()
		batches := append(loader.Batches(data.Train), loader.Batches(data.Val)...)
		for _, b := range batches {
			loss, correct, err := net.TrainStep(g, b, opt, t.cfg.Search.GradClip)
			if err != nil {
				return nil, err
			}
			meters.Update(map[string]float64{
				"train_loss": loss,
				"train_acc":  100 * float64(correct) / float64(b.Len()),
			}, b.Len())
		}
		trainTime := time.Since(began).Seconds()

		testLoss, testAcc, err := net.Evaluate(g, test)
		if err != nil {
			return nil, err
		}
		avg := meters.Averages()
		t.history.TrainAcc = append(t.history.TrainAcc, finiteOr0(avg["train_acc"]))
		t.history.TrainLoss = append(t.history.TrainLoss, finiteOr0(avg["train_loss"]))
		t.history.TestAcc = append(t.history.TestAcc, testAcc)
		t.history.TestLoss = append(t.history.TestLoss, finiteOr0(testLoss))
		t.history.TrainTime = append(t.history.TrainTime, trainTime)
		t.history.Runtime = append(t.history.Runtime, time.Since(began).Seconds())
		res.TestAccuracy, res.TestLoss = testAcc, testLoss

		slog.Info("Evaluation epoch complete",
			"epoch", e,
			"lr", opt.LR(),
			"train_acc", avg["train_acc"],
			"test_acc", testAcc,
		)

		if e == ev.Epochs-1 || (t.cfg.Search.CheckpointFreq > 0 && (e+1)%t.cfg.Search.CheckpointFreq == 0) {
			state := store.OptimizerState{Graph: g, Weights: net.Weights()}
			cp := store.NewCheckpoint(runID, e, testAcc, finite(avg), runCfg, state)
			if err := fsStore.SaveCheckpoint(cp); err != nil {
				return nil, err
			}
		}
	}

	if start >= ev.Epochs {
		testLoss, testAcc, err := net.Evaluate(g, test)
		if err != nil {
			return nil, err
		}
		res.TestAccuracy, res.TestLoss = testAcc, testLoss
	}
	slog.Info("Evaluation complete", "test_acc", res.TestAccuracy, "test_loss", res.TestLoss)
	return res, nil
}

// evalLoader serves from-scratch training with the evaluation batch size.
func (t *Trainer) evalLoader() (*data.Loader, error) {
	if n := t.cfg.Evaluation.BatchSize; n > 0 && n != t.loader.BatchSize() {
		return t.loader.WithBatchSize(n)
	}
	return t.loader, nil
}

// finite drops values JSON cannot encode.
func finite(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

func finiteOr0(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
