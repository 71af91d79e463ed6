package predictors

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
)

// Ensemble is a bootstrap ensemble of ridge regressors over an architecture
// encoding. The spread of its members is the uncertainty estimate that drives
// Bayesian-optimization acquisition functions.
type Ensemble struct {
	members  int
	encoding searchspace.Encoding
	lambda   float64
	rng      *rand.Rand

	weights []*mat.VecDense
	yMean   float64
	yStd    float64
}

// NewEnsemble creates an unfitted ensemble.
func NewEnsemble(members int, encoding searchspace.Encoding, lambda float64, seed int64) *Ensemble {
	return &Ensemble{
		members:  max(members, 1),
		encoding: encoding,
		lambda:   lambda,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// design encodes archs as rows, with a trailing bias column.
func (e *Ensemble) design(archs []*graph.Graph) (*mat.Dense, error) {
	enc, err := searchspace.EncodeAll(archs, e.encoding)
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 {
		return nil, fmt.Errorf("no architectures to encode")
	}
	cols := len(enc[0]) + 1
	x := mat.NewDense(len(enc), cols, nil)
	for i, row := range enc {
		copy(x.RawRowView(i), row)
		x.Set(i, cols-1, 1)
	}
	return x, nil
}

// Fit trains every member on a bootstrap resample of the data.
func (e *Ensemble) Fit(archs []*graph.Graph, y []float64) error {
	if len(archs) != len(y) {
		return fmt.Errorf("%d architectures but %d targets", len(archs), len(y))
	}
	x, err := e.design(archs)
	if err != nil {
		return err
	}
	e.yMean, e.yStd = stat.MeanStdDev(y, nil)
	if e.yStd == 0 || len(y) < 2 {
		e.yStd = 1
	}

	n, d := x.Dims()
	e.weights = e.weights[:0]
	for m := 0; m < e.members; m++ {
		xb := mat.NewDense(n, d, nil)
		yb := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			j := i
			if e.members > 1 {
				j = e.rng.Intn(n)
			}
			xb.SetRow(i, x.RawRowView(j))
			yb.SetVec(i, (y[j]-e.yMean)/e.yStd)
		}
		w, err := e.ridge(xb, yb)
		if err != nil {
			return fmt.Errorf("ensemble member %d: %w", m, err)
		}
		e.weights = append(e.weights, w)
	}
	return nil
}

// ridge solves (XᵀX + λI) w = Xᵀy.
func (e *Ensemble) ridge(x *mat.Dense, y *mat.VecDense) (*mat.VecDense, error) {
	_, d := x.Dims()
	gram := mat.NewSymDense(d, nil)
	gram.SymOuterK(1, x.T())
	for i := 0; i < d; i++ {
		gram.SetSym(i, i, gram.At(i, i)+e.lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(x.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, fmt.Errorf("normal equations are not positive definite (lambda %g)", e.lambda)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, err
	}
	return &w, nil
}

// QueryEnsemble returns every member's predictions, one row per member.
func (e *Ensemble) QueryEnsemble(archs []*graph.Graph) ([][]float64, error) {
	if len(e.weights) == 0 {
		return nil, ErrNotFitted
	}
	x, err := e.design(archs)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(e.weights))
	for m, w := range e.weights {
		var pred mat.VecDense
		pred.MulVec(x, w)
		row := make([]float64, len(archs))
		for i := range row {
			row[i] = pred.AtVec(i)*e.yStd + e.yMean
		}
		out[m] = row
	}
	return out, nil
}

// Query returns the mean prediction of the members.
func (e *Ensemble) Query(archs []*graph.Graph) ([]float64, error) {
	preds, err := e.QueryEnsemble(archs)
	if err != nil {
		return nil, err
	}
	mean, _ := MeanStd(preds)
	return mean, nil
}

// MeanStd reduces member predictions to a per-architecture mean and standard
// deviation.
func MeanStd(preds [][]float64) (mean, std []float64) {
	if len(preds) == 0 {
		return nil, nil
	}
	n := len(preds[0])
	mean = make([]float64, n)
	std = make([]float64, n)
	col := make([]float64, len(preds))
	for i := 0; i < n; i++ {
		for m := range preds {
			col[m] = preds[m][i]
		}
		mean[i] = stat.Mean(col, nil)
		if len(col) > 1 {
			std[i] = stat.PopStdDev(col, nil)
		}
	}
	return mean, std
}
