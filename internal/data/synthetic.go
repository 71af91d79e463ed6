package data

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SyntheticOptions shapes the generated classification problem. Zero fields
// take defaults.
type SyntheticOptions struct {
	Seed     int64
	Train    int
	Test     int
	Features int
	Classes  int
	// Spread is the standard deviation around each class centre.
	Spread float64
}

func (o *SyntheticOptions) defaults() {
	if o.Train == 0 {
		o.Train = 512
	}
	if o.Test == 0 {
		o.Test = 128
	}
	if o.Features == 0 {
		o.Features = 16
	}
	if o.Classes == 0 {
		o.Classes = 4
	}
	if o.Spread == 0 {
		o.Spread = 1
	}
}

// Synthetic generates Gaussian blobs: every class has a random centre and
// samples are drawn around it.
func Synthetic(opts SyntheticOptions) (train, test *Dataset) {
	opts.defaults()
	rng := rand.New(rand.NewSource(opts.Seed))
	centres := mat.NewDense(opts.Classes, opts.Features, nil)
	for i := 0; i < opts.Classes; i++ {
		for j := 0; j < opts.Features; j++ {
			centres.Set(i, j, 2*rng.NormFloat64())
		}
	}
	gen := func(n int) *Dataset {
		x := mat.NewDense(n, opts.Features, nil)
		y := make([]int, n)
		for i := 0; i < n; i++ {
			c := rng.Intn(opts.Classes)
			y[i] = c
			for j := 0; j < opts.Features; j++ {
				x.Set(i, j, centres.At(c, j)+opts.Spread*rng.NormFloat64())
			}
		}
		return &Dataset{X: x, Y: y, Classes: opts.Classes}
	}
	return gen(opts.Train), gen(opts.Test)
}
