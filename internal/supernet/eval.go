package supernet

import (
	"math"

	"github.com/cwbudde/gonas/internal/data"
	"github.com/cwbudde/gonas/internal/graph"
)

// TrainStep runs forward and backward on one batch, then updates the weights
// with opt. It returns the batch loss and the number of correct predictions.
// A NaN loss leaves the weights untouched.
func (n *Network) TrainStep(g *graph.Graph, b data.Batch, opt OpOptimizer, gradClip float64) (float64, int, error) {
	opt.ZeroGrad(n.params)
	pass, err := n.Forward(g, b.X)
	if err != nil {
		return 0, 0, err
	}
	loss := pass.Loss(b.Y)
	if math.IsNaN(loss) {
		return loss, 0, nil
	}
	pass.Backward()
	if gradClip > 0 {
		ClipGradNorm(n.params, gradClip)
	}
	opt.Step(n.params)
	return loss, pass.Correct(b.Y), nil
}

// Evaluate returns the mean loss and accuracy (in percent) of g over batches.
func (n *Network) Evaluate(g *graph.Graph, batches []data.Batch) (loss, acc float64, err error) {
	total, correct := 0, 0
	for _, b := range batches {
		if b.Empty() {
			continue
		}
		pass, err := n.Forward(g, b.X)
		if err != nil {
			return 0, 0, err
		}
		loss += pass.Loss(b.Y) * float64(b.Len())
		correct += pass.Correct(b.Y)
		total += b.Len()
	}
	if total == 0 {
		return 0, 0, nil
	}
	return loss / float64(total), 100 * float64(correct) / float64(total), nil
}
