package optimizers

import (
	"fmt"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
	"github.com/cwbudde/gonas/internal/supernet"
)

// shared is the supernet state of the weight-sharing optimizers.
type shared struct {
	net      *supernet.Network
	weights  supernet.OpOptimizer
	schedule supernet.CosineSchedule
}

// build creates the supernet over g from the data shape in opts.
func (l *lifecycle) build(g *graph.Graph, opts AdaptOptions) (*shared, error) {
	if opts.Features <= 0 || opts.Classes <= 0 {
		return nil, fmt.Errorf("%w: %s needs the data shape, got %d features and %d classes",
			config.ErrInvalidArgument, l.name, opts.Features, opts.Classes)
	}
	s := l.cfg.Search
	net, err := supernet.New(g, opts.Features, max(s.HiddenDim, 1), opts.Classes, l.rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatibleSpace, err)
	}
	return &shared{
		net:      net,
		weights:  supernet.NewSGD(s.LearningRate, s.Momentum, s.WeightDecay),
		schedule: supernet.CosineSchedule{Max: s.LearningRate, Min: s.LearningRateMin, Epochs: s.Epochs},
	}, nil
}

// score returns the accuracy of g on batches using the shared weights.
func (s *shared) score(g *graph.Graph, batches []data.Batch) (float64, error) {
	_, acc, err := s.net.Evaluate(g, batches)
	return acc, err
}

func (s *shared) weightsOf() map[string][]float64 { return s.net.Weights() }

func (s *shared) newEpoch(epoch int) {
	s.weights.SetLR(s.schedule.At(epoch))
}
