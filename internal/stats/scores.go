// Package stats computes predictor quality scores, classification accuracy and
// running averages.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerate is returned when scores are undefined for the given inputs:
// mismatched lengths, fewer than two points or a constant vector.
var ErrDegenerate = errors.New("degenerate input for scores")

// Scores rate predictions against ground truth.
type Scores struct {
	MAE         float64   `json:"mae"`
	RMSE        float64   `json:"rmse"`
	Pearson     float64   `json:"pearson"`
	Spearman    float64   `json:"spearman"`
	KendallTau  float64   `json:"kendalltau"`
	KT2Dec      float64   `json:"kt_2dec"`
	KT1Dec      float64   `json:"kt_1dec"`
	Precision10 float64   `json:"precision_10"`
	Precision20 float64   `json:"precision_20"`
	YTest       []float64 `json:"full_ytest,omitempty"`
	Pred        []float64 `json:"full_testpred,omitempty"`
}

// ComputeScores compares predictions with true values. Pearson is reported as
// an absolute value.
func ComputeScores(ytest, pred []float64) (Scores, error) {
	if len(ytest) != len(pred) {
		return Scores{}, fmt.Errorf("%w: %d targets, %d predictions", ErrDegenerate, len(ytest), len(pred))
	}
	if len(ytest) < 2 || constant(ytest) || constant(pred) {
		return Scores{}, fmt.Errorf("%w: need at least two distinct values on both sides", ErrDegenerate)
	}

	diff := make([]float64, len(ytest))
	floats.SubTo(diff, pred, ytest)
	s := Scores{
		RMSE:     floats.Norm(diff, 2) / math.Sqrt(float64(len(diff))),
		Pearson:  math.Abs(stat.Correlation(ytest, pred, nil)),
		Spearman: Spearman(ytest, pred),
		YTest:    append([]float64(nil), ytest...),
		Pred:     append([]float64(nil), pred...),
	}
	for i := range diff {
		diff[i] = math.Abs(diff[i])
	}
	s.MAE = stat.Mean(diff, nil)
	s.KendallTau = KendallTau(ytest, pred)
	s.KT2Dec = KendallTau(ytest, round(pred, 2))
	s.KT1Dec = KendallTau(ytest, round(pred, 1))
	s.Precision10 = precisionAtK(ytest, pred, 10)
	s.Precision20 = precisionAtK(ytest, pred, 20)
	return s, nil
}

func constant(v []float64) bool {
	return floats.Max(v) == floats.Min(v)
}

func round(v []float64, decimals int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = scalar.Round(x, decimals)
	}
	return out
}

// Ranks returns 1-based ranks, ties sharing their average rank.
func Ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	ranks := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Spearman is the Pearson correlation of the ranks.
func Spearman(x, y []float64) float64 {
	return stat.Correlation(Ranks(x), Ranks(y), nil)
}

// KendallTau computes tau-b, which corrects for ties. It returns 0 when either
// side is entirely tied.
func KendallTau(x, y []float64) float64 {
	var concordant, discordant, tiesX, tiesY float64
	for i := 0; i < len(x); i++ {
		for j := i + 1; j < len(x); j++ {
			dx := x[i] - x[j]
			dy := y[i] - y[j]
			switch {
			case dx == 0 && dy == 0:
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case (dx > 0) == (dy > 0):
				concordant++
			default:
				discordant++
			}
		}
	}
	denom := math.Sqrt((concordant + discordant + tiesX) * (concordant + discordant + tiesY))
	if denom == 0 {
		return 0
	}
	return (concordant - discordant) / denom
}

// precisionAtK is the overlap of the true and predicted top-k sets, over k.
func precisionAtK(ytest, pred []float64, k int) float64 {
	top := func(v []float64) []bool {
		sorted := append([]float64(nil), v...)
		sort.Float64s(sorted)
		threshold := sorted[max(0, len(sorted)-k-1)]
		in := make([]bool, len(v))
		for i, x := range v {
			in[i] = x > threshold
		}
		return in
	}
	a, b := top(ytest), top(pred)
	hits := 0
	for i := range a {
		if a[i] && b[i] {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// Accuracy returns the top-k accuracy in percent: the share of rows whose
// target is among the k largest logits.
func Accuracy(logits *mat.Dense, targets []int, k int) float64 {
	rows, _ := logits.Dims()
	if rows == 0 {
		return 0
	}
	correct := 0
	for r := 0; r < rows; r++ {
		row := logits.RawRowView(r)
		target := row[targets[r]]
		higher := 0
		for c, v := range row {
			if v > target || (v == target && c < targets[r]) {
				higher++
			}
		}
		if higher < k {
			correct++
		}
	}
	return 100 * float64(correct) / float64(rows)
}
