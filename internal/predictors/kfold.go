package predictors

import (
	"fmt"
	"math"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/stats"
)

// Fold is one train/validation split of sample indices.
type Fold struct {
	Train []int
	Val   []int
}

// KFold splits n samples into k contiguous folds. The last fold takes the
// remainder.
func KFold(n, k int) ([]Fold, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("%w: cannot split %d samples into %d folds", config.ErrInvalidArgument, n, k)
	}
	size := n / k
	folds := make([]Fold, k)
	for i := 0; i < k; i++ {
		lo, hi := i*size, (i+1)*size
		if i == k-1 {
			hi = n
		}
		for j := 0; j < n; j++ {
			if j >= lo && j < hi {
				folds[i].Val = append(folds[i].Val, j)
			} else {
				folds[i].Train = append(folds[i].Train, j)
			}
		}
	}
	return folds, nil
}

// Metric extracts one number from a score set.
type Metric func(stats.Scores) float64

// ByKendallTau is the default cross-validation metric.
func ByKendallTau(s stats.Scores) float64 { return s.KendallTau }

// CrossValidate fits p on each fold's training part and scores its
// predictions on the held-out part. It returns the mean metric over folds
// whose scores are defined.
func CrossValidate(p Predictor, archs []*graph.Graph, y []float64, k int, metric Metric) (float64, error) {
	if len(archs) != len(y) {
		return 0, fmt.Errorf("%d architectures but %d targets", len(archs), len(y))
	}
	folds, err := KFold(len(archs), k)
	if err != nil {
		return 0, err
	}
	if metric == nil {
		metric = ByKendallTau
	}

	sum, n := 0.0, 0
	for _, f := range folds {
		if err := p.Fit(pick(archs, f.Train), pickF(y, f.Train)); err != nil {
			return 0, err
		}
		pred, err := p.Query(pick(archs, f.Val))
		if err != nil {
			return 0, err
		}
		scores, err := stats.ComputeScores(pickF(y, f.Val), pred)
		if err != nil {
			continue
		}
		if v := metric(scores); !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN(), nil
	}
	return sum / float64(n), nil
}

func pick(archs []*graph.Graph, idx []int) []*graph.Graph {
	out := make([]*graph.Graph, len(idx))
	for i, j := range idx {
		out[i] = archs[j]
	}
	return out
}

func pickF(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
