package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/gonas/internal/graph"
)

// RunConfig is the part of the experiment configuration a checkpoint must agree
// with to be resumed.
type RunConfig struct {
	Optimizer   string   `json:"optimizer"`
	SearchSpace string   `json:"searchSpace"`
	Dataset     string   `json:"dataset"`
	Seed        int64    `json:"seed"`
	Scope       []string `json:"scope,omitempty"`
	Epochs      int      `json:"epochs"`
}

// Evaluation is one queried or trained architecture and its score.
type Evaluation struct {
	Arch     *graph.Graph `json:"arch"`
	Accuracy float64      `json:"accuracy"`
}

// OptimizerState is what an optimizer needs to continue a search.
//
// Random number generators are not serialized. On restore an optimizer
// reseeds from the configured seed and Steps, so a resumed run is reproducible
// but not identical to an uninterrupted one.
type OptimizerState struct {
	// Graph is the optimizer's owned search graph, alphas included
	Graph *graph.Graph `json:"graph,omitempty"`

	// Weights are the shared supernet parameters by name
	Weights map[string][]float64 `json:"weights,omitempty"`

	// History lists every evaluated architecture in order
	History []Evaluation `json:"history,omitempty"`

	// Population is the live population of evolutionary optimizers
	Population []Evaluation `json:"population,omitempty"`

	// RankingBatch is the validation batch used to rank final candidates
	RankingBatch *Batch `json:"rankingBatch,omitempty"`

	// Steps counts calls to Step so far
	Steps int `json:"steps"`
}

// Batch is a labelled batch in row-major order.
type Batch struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	X    []float64 `json:"x"`
	Y    []int     `json:"y"`
}

// Checkpoint is the saved state of a search after a completed epoch.
type Checkpoint struct {
	// RunID identifies the search run across resumes
	RunID string `json:"runId"`

	// Epoch is the last completed epoch
	Epoch int `json:"epoch"`

	// BestAccuracy is the best validation accuracy seen so far
	BestAccuracy float64 `json:"bestAccuracy"`

	// Stats are the averaged step statistics of the last epoch
	Stats map[string]float64 `json:"stats,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Config is checked against the resuming configuration
	Config RunConfig `json:"config"`

	State OptimizerState `json:"state"`
}

// CheckpointInfo contains metadata about a checkpoint without the optimizer state.
type CheckpointInfo struct {
	RunID        string    `json:"runId"`
	Epoch        int       `json:"epoch"`
	BestAccuracy float64   `json:"bestAccuracy"`
	Timestamp    time.Time `json:"timestamp"`
	Optimizer    string    `json:"optimizer"`
	SearchSpace  string    `json:"searchSpace"`
	Path         string    `json:"path"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(runID string, epoch int, best float64, stats map[string]float64, config RunConfig, state OptimizerState) *Checkpoint {
	return &Checkpoint{
		RunID:        runID,
		Epoch:        epoch,
		BestAccuracy: best,
		Stats:        stats,
		Timestamp:    time.Now(),
		Config:       config,
		State:        state,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo(path string) CheckpointInfo {
	return CheckpointInfo{
		RunID:        c.RunID,
		Epoch:        c.Epoch,
		BestAccuracy: c.BestAccuracy,
		Timestamp:    c.Timestamp,
		Optimizer:    c.Config.Optimizer,
		SearchSpace:  c.Config.SearchSpace,
		Path:         path,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(c.RunID); err != nil {
		return &ValidationError{Field: "RunID", Reason: "must be a UUID"}
	}
	if c.Epoch < 0 {
		return &ValidationError{Field: "Epoch", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Optimizer == "" {
		return &ValidationError{Field: "Config.Optimizer", Reason: "cannot be empty"}
	}
	if c.Config.SearchSpace == "" {
		return &ValidationError{Field: "Config.SearchSpace", Reason: "cannot be empty"}
	}
	if c.Config.Epochs > 0 && c.Epoch >= c.Config.Epochs {
		return &ValidationError{
			Field:  "Epoch",
			Reason: fmt.Sprintf("%d beyond configured %d epochs", c.Epoch, c.Config.Epochs),
		}
	}
	if g := c.State.Graph; g != nil {
		if err := g.Validate(); err != nil {
			return &ValidationError{Field: "State.Graph", Reason: err.Error()}
		}
	}
	if c.State.Steps < 0 {
		return &ValidationError{Field: "State.Steps", Reason: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Optimizer != config.Optimizer {
		return &CompatibilityError{Field: "Optimizer", Expected: c.Config.Optimizer, Actual: config.Optimizer}
	}
	if c.Config.SearchSpace != config.SearchSpace {
		return &CompatibilityError{Field: "SearchSpace", Expected: c.Config.SearchSpace, Actual: config.SearchSpace}
	}
	if c.Config.Dataset != config.Dataset {
		return &CompatibilityError{Field: "Dataset", Expected: c.Config.Dataset, Actual: config.Dataset}
	}
	if c.Config.Seed != config.Seed {
		return &CompatibilityError{
			Field:    "Seed",
			Expected: strconv.FormatInt(c.Config.Seed, 10),
			Actual:   strconv.FormatInt(config.Seed, 10),
		}
	}
	if !slices.Equal(c.Config.Scope, config.Scope) {
		return &CompatibilityError{
			Field:    "Scope",
			Expected: strings.Join(c.Config.Scope, ","),
			Actual:   strings.Join(config.Scope, ","),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
