package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestComputeScoresPerfectRanking(t *testing.T) {
	y := []float64{1, 2, 3, 4, 5}
	pred := []float64{2, 4, 6, 8, 10}
	s, err := ComputeScores(y, pred)
	require.NoError(t, err)

	assert.InDelta(t, 3, s.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt(11), s.RMSE, 1e-12)
	assert.InDelta(t, 1, s.Pearson, 1e-12)
	assert.InDelta(t, 1, s.Spearman, 1e-12)
	assert.InDelta(t, 1, s.KendallTau, 1e-12)
	assert.Equal(t, y, s.YTest)
}

func TestComputeScoresReversed(t *testing.T) {
	s, err := ComputeScores([]float64{1, 2, 3, 4}, []float64{4, 3, 2, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1, s.Pearson, 1e-12, "pearson is absolute")
	assert.InDelta(t, -1, s.Spearman, 1e-12)
	assert.InDelta(t, -1, s.KendallTau, 1e-12)
}

func TestComputeScoresDegenerate(t *testing.T) {
	_, err := ComputeScores([]float64{1, 2}, []float64{1})
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = ComputeScores([]float64{1, 2, 3}, []float64{5, 5, 5})
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = ComputeScores([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestRanksAverageTies(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, Ranks([]float64{10, 20, 20, 30}))
}

func TestKendallTauWithTies(t *testing.T) {
	// one tie in y: 5 concordant pairs, 0 discordant
	tau := KendallTau([]float64{1, 2, 3, 4}, []float64{1, 2, 2, 3})
	assert.InDelta(t, 5/math.Sqrt(6*5), tau, 1e-12)
	assert.Equal(t, 0.0, KendallTau([]float64{1, 2}, []float64{3, 3}))
}

func TestPrecisionAtK(t *testing.T) {
	y := make([]float64, 30)
	for i := range y {
		y[i] = float64(i)
	}
	assert.InDelta(t, 1, precisionAtK(y, y, 10), 1e-12)

	short := []float64{1, 2, 3}
	// fewer points than k: everything above the minimum counts
	assert.InDelta(t, 0.2, precisionAtK(short, short, 10), 1e-12)
}

func TestAccuracyTopK(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		0.1, 0.7, 0.2,
		0.5, 0.3, 0.2,
		0.2, 0.3, 0.5,
	})
	targets := []int{1, 1, 0}
	assert.InDelta(t, 100.0/3, Accuracy(logits, targets, 1), 1e-9)
	assert.InDelta(t, 200.0/3, Accuracy(logits, targets, 2), 1e-9)
	assert.InDelta(t, 100, Accuracy(logits, targets, 3), 1e-9)
}

func TestMeterGroup(t *testing.T) {
	g := NewMeterGroup()
	g.Update(map[string]float64{"loss": 2, "acc": 50}, 1)
	g.Update(map[string]float64{"loss": 1, "acc": 70}, 3)

	assert.InDelta(t, 1.25, g.Get("loss").Avg(), 1e-12)
	assert.InDelta(t, 65, g.Averages()["acc"], 1e-12)
	assert.Equal(t, "acc 65.0000  loss 1.2500", g.Summary())
	assert.Nil(t, g.Get("missing"))
}

func TestRoundedKendallTau(t *testing.T) {
	assert.InDeltaSlice(t, []float64{1.2, -1.0, 5.0}, round([]float64{1.234, -0.987, 5}, 1), 1e-12)

	y := []float64{1, 2, 3, 4}
	pred := []float64{0.111, 0.122, 0.133, 0.144}
	s, err := ComputeScores(y, pred)
	require.NoError(t, err)
	assert.InDelta(t, 1, s.KT2Dec, 1e-12)
}
