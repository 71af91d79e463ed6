package trainer

import (
	"log/slog"
	"math"
)

// ConvergenceConfig controls early stopping of a search.
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool

	// Patience is the number of epochs without significant improvement
	// before the search stops
	Patience int

	// Threshold is the minimum relative error reduction that counts as
	// progress. Example: 0.001 requires the validation error to drop by 0.1%
	Threshold float64
}

// ConvergenceFromSearch enables early stopping when patience is positive.
func ConvergenceFromSearch(patience int, threshold float64) ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   patience > 0,
		Patience:  patience,
		Threshold: threshold,
	}
}

// ConvergenceTracker watches the best validation error per epoch and reports
// when it has stalled.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64
	lastSignificant float64
	stale           int
}

// NewConvergenceTracker creates a tracker with no recorded epochs.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the validation error of an epoch and returns true once the
// search has converged.
func (c *ConvergenceTracker) Update(valErr float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.history = append(c.history, valErr)
	c.best = math.Min(c.best, valErr)

	if len(c.history) == 1 {
		c.lastSignificant = valErr
		return false
	}

	improvement := c.lastSignificant - valErr
	if c.lastSignificant > 0 {
		improvement /= c.lastSignificant
	}

	if improvement >= c.config.Threshold && improvement > 0 {
		c.lastSignificant = valErr
		c.stale = 0
		slog.Debug("Validation error improved",
			"val_err", valErr,
			"relative_improvement", improvement,
		)
		return false
	}

	c.stale++
	slog.Debug("No significant improvement",
		"val_err", valErr,
		"last_significant", c.lastSignificant,
		"stale_epochs", c.stale,
		"patience", c.config.Patience,
	)
	if c.stale >= c.config.Patience {
		slog.Info("Search converged, stopping early",
			"stale_epochs", c.stale,
			"best_val_err", c.best,
		)
		return true
	}
	return false
}

// Best returns the lowest validation error seen.
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// History returns a copy of the recorded errors.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64(nil), c.history...)
}

// StaleCount returns the epochs since the last significant improvement.
func (c *ConvergenceTracker) StaleCount() int {
	return c.stale
}

func (c *ConvergenceTracker) Reset() {
	c.history = nil
	c.best = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.stale = 0
}
