// Package benchmark answers "how good is this architecture" without training
// it, the way tabular and surrogate NAS benchmarks do.
package benchmark

import (
	"errors"
	"fmt"

	"github.com/cwbudde/gonas/internal/graph"
)

// Metric names a queryable quantity.
type Metric string

const (
	ValAccuracy  Metric = "val_acc"
	TestAccuracy Metric = "test_acc"
	TrainTime    Metric = "train_time"
	Params       Metric = "params"
)

// ErrUnknownArchitecture is returned by tables that do not contain an
// architecture.
var ErrUnknownArchitecture = errors.New("architecture not in benchmark")

// Benchmark is the dataset API consumed by query-based optimizers and the
// predictor evaluator.
type Benchmark interface {
	Query(g *graph.Graph, metric Metric) (float64, error)
}

// Open returns a table benchmark when path is set and a deterministic
// surrogate otherwise.
func Open(searchSpace, dataset, path string) (Benchmark, error) {
	if path == "" {
		return NewSurrogate(searchSpace, dataset), nil
	}
	t, err := LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open benchmark for %s/%s: %w", searchSpace, dataset, err)
	}
	return t, nil
}
