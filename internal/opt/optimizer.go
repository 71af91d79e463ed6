// Package opt holds black-box continuous optimizers and the relaxation that
// lets them search discrete architecture spaces.
package opt

// Optimizer defines a continuous minimisation algorithm.
type Optimizer interface {
	// Run minimises eval over the box [lower, upper] in dim dimensions and
	// returns the best point and its cost.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
