package benchmark

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cwbudde/gonas/internal/graph"
)

// accuracy range per dataset, loosely following published benchmark spreads
var datasetRange = map[string][2]float64{
	"cifar10":        {70, 95},
	"cifar100":       {40, 74},
	"ImageNet16-120": {15, 47},
	"synthetic":      {50, 99},
}

// Surrogate scores architectures with a fixed, hash-seeded function of their
// op composition. It is deterministic for a (search space, dataset) pair and
// never fails, which makes it usable in tests and for quick experiments.
type Surrogate struct {
	space   string
	dataset string
	lo, hi  float64
}

// NewSurrogate creates a surrogate for the given space and dataset.
func NewSurrogate(searchSpace, dataset string) *Surrogate {
	r, ok := datasetRange[dataset]
	if !ok {
		r = datasetRange["synthetic"]
	}
	return &Surrogate{space: searchSpace, dataset: dataset, lo: r[0], hi: r[1]}
}

// Query implements Benchmark.
func (s *Surrogate) Query(g *graph.Graph, metric Metric) (float64, error) {
	if !g.IsDiscrete() {
		return 0, fmt.Errorf("surrogate query needs a discrete architecture")
	}
	switch metric {
	case ValAccuracy:
		return s.accuracy(g, "val"), nil
	case TestAccuracy:
		return s.accuracy(g, "test"), nil
	case TrainTime:
		return s.trainTime(g), nil
	case Params:
		return s.params(g), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func (s *Surrogate) accuracy(g *graph.Graph, split string) float64 {
	if len(g.Slots) == 0 {
		return s.lo
	}
	var total float64
	convs := 0
	for _, sl := range g.Slots {
		op := sl.Op()
		q := opQuality(op)
		// an absent adjacency entry is not a bad op
		if op == graph.OpNone && len(sl.Ops) <= 2 {
			q = 0
		}
		total += q + 0.2*s.unit("slot", sl.Key, op)
		if isParametric(op) {
			convs++
		}
	}
	mean := total / float64(len(g.Slots))
	// cells without any learned op cannot do much
	if convs == 0 {
		mean -= 0.5
	}
	base := s.lo + (s.hi-s.lo)/(1+math.Exp(-3*mean))
	noise := 0.5 * s.unit("arch", g.String(), split)
	return math.Max(0, math.Min(100, base+noise))
}

func (s *Surrogate) trainTime(g *graph.Graph) float64 {
	t := 10.0
	for _, sl := range g.Slots {
		if isParametric(sl.Op()) {
			t += 4
		} else if sl.Op() != graph.OpNone {
			t += 1
		}
	}
	return t
}

func (s *Surrogate) params(g *graph.Graph) float64 {
	p := 0.05
	for _, sl := range g.Slots {
		if isParametric(sl.Op()) {
			p += 0.1
		}
	}
	return p
}

// unit hashes its parts into [-1, 1].
func (s *Surrogate) unit(parts ...string) float64 {
	h := fnv.New64a()
	h.Write([]byte(s.space + "/" + s.dataset))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return float64(h.Sum64()%2000001)/1000000 - 1
}

func opQuality(op string) float64 {
	switch {
	case op == graph.OpNone:
		return -1
	case op == "skip_connect":
		return 0.2
	case strings.Contains(op, "pool"):
		return 0.1
	case strings.Contains(op, "3x3"):
		return 0.8
	case strings.Contains(op, "5x5"):
		return 0.7
	default:
		return 0.6
	}
}

// isParametric reports whether an op carries trainable weights.
func isParametric(op string) bool {
	return op != graph.OpNone && op != "skip_connect" && !strings.Contains(op, "pool")
}
