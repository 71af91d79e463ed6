// Package predictors estimates architecture quality without full training and
// measures how well such estimates rank architectures.
package predictors

import (
	"errors"

	"github.com/cwbudde/gonas/internal/graph"
)

// ErrNotFitted is returned by Query before a successful Fit.
var ErrNotFitted = errors.New("predictor has not been fitted")

// Predictor maps architectures to predicted accuracy.
type Predictor interface {
	// Fit trains on labelled architectures.
	Fit(archs []*graph.Graph, y []float64) error

	// Query predicts the accuracy of every architecture.
	Query(archs []*graph.Graph) ([]float64, error)
}
