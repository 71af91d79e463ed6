package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/optimizers"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/trainer"
)

var trainFinal bool

var searchCmd = &cobra.Command{
	Use:   "search [key value]...",
	Short: "Run an architecture search and evaluate the result",
	Long: `Builds the configured search space and optimizer, runs the search phase
with checkpoints under <save>/search, then evaluates the final architecture.

Query-based optimizers rate architectures through the benchmark given by
benchmark_path, or a deterministic surrogate when it is empty. The final
architecture is scored by the benchmark unless --train-final is set, in which
case it is trained from scratch on the dataset.

Set "resume true" to continue from the last checkpoints of the experiment, or
resume_from to a specific checkpoint file.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&trainFinal, "train-final", false, "Train the final architecture from scratch instead of querying the benchmark")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, closer, err := setupExperiment(args)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, loader, bench, err := buildOptimizer(cfg, trainFinal)
	if err != nil {
		return err
	}

	tr := trainer.New(o, cfg, loader)
	resume := cfg.ResumeFrom
	if cfg.Resume && resume == "" {
		resume = cfg.SearchDir()
	}
	if err := tr.Search(ctx, resume); err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	evalResume := ""
	if cfg.Resume {
		evalResume = cfg.EvalDir()
	}
	evalBench := bench
	if trainFinal {
		evalBench = nil
	}
	res, err := tr.Evaluate(ctx, evalResume, evalBench)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	slog.Info("Search complete",
		"optimizer", cfg.Optimizer,
		"search_space", cfg.SearchSpace,
		"test_acc", res.TestAccuracy,
		"arch", res.Arch.String(),
		"save", cfg.Save,
	)
	fmt.Printf("Final architecture: %s\nTest accuracy: %.2f%%\n", res.Arch.String(), res.TestAccuracy)
	return nil
}

// buildOptimizer wires search space, benchmark, data and optimizer together
// and adapts the optimizer to its own copy of the space.
func buildOptimizer(cfg *config.Config, needData bool) (optimizers.Optimizer, *data.Loader, benchmark.Benchmark, error) {
	space, err := searchspace.New(cfg.SearchSpace)
	if err != nil {
		return nil, nil, nil, err
	}
	bench, err := benchmark.Open(cfg.SearchSpace, cfg.Dataset, cfg.BenchmarkPath)
	if err != nil {
		return nil, nil, nil, err
	}
	o, err := optimizers.New(cfg.Optimizer, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := optimizers.AdaptOptions{Scope: cfg.Scope, Benchmark: bench}
	var loader *data.Loader
	if o.UsesData() || needData {
		if loader, err = data.Load(cfg, cfg.Search.BatchSize); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load dataset %s: %w", cfg.Dataset, err)
		}
		opts.Features, opts.Classes = loader.Features(), loader.Classes()
	}

	if _, err := o.AdaptSearchSpace(space, opts); err != nil {
		return nil, nil, nil, err
	}
	slog.Info("Optimizer adapted",
		"optimizer", o.Name(),
		"search_space", space.Name(),
		"scope", cfg.Scope,
		"uses_data", o.UsesData(),
	)
	return o, loader, bench, nil
}
