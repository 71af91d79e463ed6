// Package optimizers implements NAS meta-optimizers behind one contract.
//
// An optimizer is constructed from a configuration, adapted to a search space
// exactly once, then driven by Step calls until FinalArchitecture is queried.
// AdaptSearchSpace never touches the caller's space: it works on a private
// copy and returns it.
//
// Query-based optimizers (bananas, rs, re) rate architectures through a
// benchmark and ignore the batches passed to Step. Weight-sharing optimizers
// (oneshot, rsws) train a supernet on them.
package optimizers

import (
	"errors"
	"fmt"

	"github.com/cwbudde/gonas/internal/benchmark"
	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/searchspace"
	"github.com/cwbudde/gonas/internal/store"
	"github.com/cwbudde/gonas/internal/supernet"
)

var (
	// ErrIncompatibleSpace is returned by AdaptSearchSpace when the space
	// cannot host the optimizer.
	ErrIncompatibleSpace = errors.New("incompatible search space")
	// ErrNotAdapted is returned by any operation that needs an adapted space.
	ErrNotAdapted = errors.New("optimizer has not been adapted to a search space")
	// ErrAlreadyAdapted is returned by a second AdaptSearchSpace call.
	ErrAlreadyAdapted = errors.New("optimizer is already adapted to a search space")
	// ErrEpochOrder is returned when NewEpoch does not move forward.
	ErrEpochOrder = errors.New("epochs must be non-negative and strictly increasing")
)

// Stats are the named scalar diagnostics of one step.
type Stats map[string]float64

// AdaptOptions carry what an optimizer may need besides the space.
type AdaptOptions struct {
	// Scope restricts which regions of the space may change; empty means all.
	Scope []string

	// Benchmark rates architectures for query-based optimizers.
	Benchmark benchmark.Benchmark

	// Features and Classes shape the supernet of weight-sharing optimizers.
	Features int
	Classes  int
}

// Optimizer is the NAS meta-optimizer contract.
type Optimizer interface {
	Name() string

	// AdaptSearchSpace takes ownership of a copy of space, attaches the
	// optimizer's architectural state to it and returns the copy.
	AdaptSearchSpace(space searchspace.Space, opts AdaptOptions) (searchspace.Space, error)

	// Step performs one search iteration.
	Step(train, val data.Batch) (Stats, error)

	// FinalArchitecture returns the discrete architecture the optimizer
	// currently believes best. It can be called at any time after adaptation.
	FinalArchitecture() (*graph.Graph, error)

	// OpOptimizer returns the optimizer used to train the final architecture
	// from scratch.
	OpOptimizer() supernet.OpOptimizer

	Hooks
	Checkpointer
}

// Hooks are the optional lifecycle callbacks. The embedded lifecycle provides
// defaults.
type Hooks interface {
	NewEpoch(epoch int) error
	BeforeTraining() error
	AfterTraining() error
	ModelSizeMB() float64

	// UsesData reports whether Step consumes batches.
	UsesData() bool
}

// Checkpointer saves and restores search progress.
type Checkpointer interface {
	State() (*store.OptimizerState, error)
	Restore(st *store.OptimizerState) error
}

// Names lists the registered optimizers.
func Names() []string {
	return []string{"bananas", "oneshot", "rsws", "rs", "re"}
}

// New constructs an optimizer by registry name.
func New(name string, cfg *config.Config) (Optimizer, error) {
	switch name {
	case "bananas":
		return NewBananas(cfg), nil
	case "oneshot":
		return NewOneShot(cfg), nil
	case "rsws":
		return NewRandomNAS(cfg), nil
	case "rs":
		return NewRandomSearch(cfg), nil
	case "re":
		return NewRegularizedEvolution(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", config.ErrInvalidArgument, name)
	}
}
