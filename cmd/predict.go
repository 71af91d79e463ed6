package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/predictors"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/trainer"
)

var predictCmd = &cobra.Command{
	Use:   "predict [key value]...",
	Short: "Evaluate a performance predictor",
	Long: `Fits the configured predictor on growing training sets of benchmark-labelled
architectures and scores its predictions on a fixed test set. Results are
written to <save>/predictor_results.json.

The ensemble predictor is a bootstrap ridge ensemble over the configured
encoding. The oneshot predictor first trains a weight-sharing supernet with the
configured optimizer (oneshot or rsws), or restores it from resume_from.`,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, closer, err := setupExperiment(args)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	space, err := searchspace.New(cfg.SearchSpace)
	if err != nil {
		return err
	}
	bench, err := benchmark.Open(cfg.SearchSpace, cfg.Dataset, cfg.BenchmarkPath)
	if err != nil {
		return err
	}

	p, err := buildPredictor(ctx, cfg)
	if err != nil {
		return err
	}

	ev := predictors.NewEvaluator(p, cfg)
	ev.AdaptSearchSpace(space, bench)
	results, err := ev.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("predictor evaluation failed: %w", err)
	}
	for _, r := range results {
		fmt.Printf("train_size %4d  kendalltau %.4f  spearman %.4f  mae %.4f %s\n",
			r.TrainSize, r.KendallTau, r.Spearman, r.MAE, r.Error)
	}

	if cfg.Predictor == "ensemble" && cfg.Search.KFold >= 2 {
		tau, err := crossValidate(p, space, bench, cfg)
		if err != nil {
			return err
		}
		slog.Info("Cross-validation", "folds", cfg.Search.KFold, "kendalltau", tau)
	}

	slog.Info("Predictor evaluation complete", "results", filepath.Join(cfg.Save, predictors.ResultsFile))
	return nil
}

func buildPredictor(ctx context.Context, cfg *config.Config) (predictors.Predictor, error) {
	s := cfg.Search
	switch cfg.Predictor {
	case "ensemble":
		return predictors.NewEnsemble(s.NumEnsemble, searchspace.Encoding(s.EncodingType), s.RidgeLambda, cfg.Seed), nil
	case "oneshot":
		if cfg.Optimizer != "oneshot" && cfg.Optimizer != "rsws" {
			slog.Warn("oneshot predictor needs a weight-sharing optimizer, using oneshot", "optimizer", cfg.Optimizer)
			cfg.Optimizer = "oneshot"
		}
		o, loader, _, err := buildOptimizer(cfg, true)
		if err != nil {
			return nil, err
		}
		scorer, ok := o.(predictors.Scorer)
		if !ok {
			return nil, fmt.Errorf("%w: optimizer %s cannot score architectures", config.ErrInvalidArgument, o.Name())
		}
		if err := trainer.New(o, cfg, loader).Search(ctx, cfg.ResumeFrom); err != nil {
			return nil, fmt.Errorf("failed to train supernet: %w", err)
		}
		return predictors.NewOneShot(scorer, loader.Batches(data.Val)), nil
	default:
		return nil, fmt.Errorf("%w: unknown predictor %q", config.ErrInvalidArgument, cfg.Predictor)
	}
}

// crossValidate scores the predictor with k-fold cross-validation on a fresh
// labelled sample as large as the biggest training size.
func crossValidate(p predictors.Predictor, space searchspace.Space, bench benchmark.Benchmark, cfg *config.Config) (float64, error) {
	n := 0
	for _, size := range cfg.Search.TrainSizes {
		n = max(n, size)
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	archs := make([]*graph.Graph, n)
	y := make([]float64, n)
	for i := range archs {
		archs[i] = space.Sample(rng, cfg.Scope...)
		acc, err := bench.Query(archs[i], benchmark.ValAccuracy)
		if err != nil {
			return 0, err
		}
		y[i] = acc
	}
	return predictors.CrossValidate(p, archs, y, cfg.Search.KFold, predictors.ByKendallTau)
}
