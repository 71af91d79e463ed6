package predictors

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/stats"
	"github.com/cwbudde/gonas/internal/store"
)

// ResultsFile is written to the experiment directory by Evaluator.Evaluate.
const ResultsFile = "predictor_results.json"

// ErrNoBenchmark is returned when Evaluate runs before AdaptSearchSpace.
var ErrNoBenchmark = fmt.Errorf("%w: predictor evaluator needs a search space and benchmark", config.ErrInvalidArgument)

// Result is the outcome for one training-set size.
type Result struct {
	TrainSize int     `json:"train_size"`
	FitTime   float64 `json:"fit_time"`
	QueryTime float64 `json:"query_time"`
	stats.Scores
	Error string `json:"error,omitempty"`
}

// Evaluator measures how well a predictor ranks architectures whose true
// accuracy is known from a benchmark.
type Evaluator struct {
	predictor Predictor
	cfg       *config.Config

	space searchspace.Space
	bench benchmark.Benchmark
	rng   *rand.Rand
	seen  map[string]bool
}

// NewEvaluator creates an evaluator for p using the predictor settings of cfg.
func NewEvaluator(p Predictor, cfg *config.Config) *Evaluator {
	return &Evaluator{
		predictor: p,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		seen:      make(map[string]bool),
	}
}

// AdaptSearchSpace attaches a private copy of space and the benchmark that
// labels sampled architectures.
func (e *Evaluator) AdaptSearchSpace(space searchspace.Space, bench benchmark.Benchmark) {
	e.space = space.Clone()
	e.bench = bench
}

// sample draws n labelled architectures not drawn before. Duplicates are
// accepted once the space looks exhausted.
func (e *Evaluator) sample(n int) ([]*graph.Graph, []float64, error) {
	archs := make([]*graph.Graph, 0, n)
	y := make([]float64, 0, n)
	for len(archs) < n {
		var g *graph.Graph
		for attempt := 0; attempt < 100; attempt++ {
			g = e.space.Sample(e.rng, e.cfg.Scope...)
			if !e.seen[g.String()] {
				break
			}
		}
		e.seen[g.String()] = true
		acc, err := e.bench.Query(g, benchmark.ValAccuracy)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to label architecture: %w", err)
		}
		archs = append(archs, g)
		y = append(y, acc)
	}
	return archs, y, nil
}

// Evaluate fits the predictor on each configured training size and scores its
// predictions on a shared test set. Results are written to
// <save>/predictor_results.json.
func (e *Evaluator) Evaluate(ctx context.Context) ([]Result, error) {
	if e.space == nil || e.bench == nil {
		return nil, ErrNoBenchmark
	}
	testArchs, testY, err := e.sample(e.cfg.Search.TestSize)
	if err != nil {
		return nil, err
	}
	slog.Info("Sampled test architectures", "count", len(testArchs))

	var results []Result
	for _, size := range e.cfg.Search.TrainSizes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		trainArchs, trainY, err := e.sample(size)
		if err != nil {
			return results, err
		}
		res := e.single(size, trainArchs, trainY, testArchs, testY)
		results = append(results, res)
		slog.Info("Predictor evaluated",
			"train_size", size,
			"fit_time", res.FitTime,
			"query_time", res.QueryTime,
			"kendalltau", res.KendallTau,
			"spearman", res.Spearman,
			"error", res.Error,
		)
	}

	if e.cfg.Save != "" {
		if err := writeResults(filepath.Join(e.cfg.Save, ResultsFile), results); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *Evaluator) single(size int, trainArchs []*graph.Graph, trainY []float64, testArchs []*graph.Graph, testY []float64) Result {
	res := Result{TrainSize: size}

	start := time.Now()
	if err := e.predictor.Fit(trainArchs, trainY); err != nil {
		res.Error = err.Error()
		return res
	}
	res.FitTime = time.Since(start).Seconds()

	start = time.Now()
	pred, err := e.predictor.Query(testArchs)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.QueryTime = time.Since(start).Seconds()

	scores, err := stats.ComputeScores(testY, pred)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Scores = scores
	return res
}

func writeResults(path string, results []Result) error {
	if err := store.WriteJSON(path, results); err != nil {
		return fmt.Errorf("failed to write predictor results: %w", err)
	}
	return nil
}
