// Package data provides the batches fed to search and evaluation loops.
package data

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/gonas/internal/config"
)

// Batch is one (input, target) pair: X holds one sample per row, Y the class
// labels. The zero Batch is empty and is what query-based optimizers receive.
type Batch struct {
	X *mat.Dense
	Y []int
}

// Len returns the number of samples.
func (b Batch) Len() int {
	return len(b.Y)
}

// Empty reports whether the batch carries no samples.
func (b Batch) Empty() bool {
	return b.X == nil || len(b.Y) == 0
}

// Split identifies a data partition.
type Split string

const (
	Train Split = "train"
	Val   Split = "val"
	Test  Split = "test"
)

// Dataset is an in-memory labelled sample matrix.
type Dataset struct {
	X       *mat.Dense
	Y       []int
	Classes int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Y)
}

// Features returns the input dimensionality.
func (d *Dataset) Features() int {
	_, c := d.X.Dims()
	return c
}

// subset copies the given rows.
func (d *Dataset) subset(rows []int) *Dataset {
	_, c := d.X.Dims()
	x := mat.NewDense(len(rows), c, nil)
	y := make([]int, len(rows))
	for i, r := range rows {
		x.SetRow(i, d.X.RawRowView(r))
		y[i] = d.Y[r]
	}
	return &Dataset{X: x, Y: y, Classes: d.Classes}
}

// Loader serves train, validation and test batches.
type Loader struct {
	splits    map[Split]*Dataset
	batchSize int
	seed      int64
	rng       *rand.Rand
}

// NewLoader splits train into train/val by portion and serves batches of the
// given size. The seed fixes both the split and every shuffle.
func NewLoader(train, test *Dataset, portion float64, batchSize int, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", config.ErrInvalidArgument)
	}
	if train.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least two training samples", config.ErrInvalidArgument)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(train.Len())
	cut := int(float64(train.Len()) * portion)
	cut = max(1, min(cut, train.Len()-1))

	return &Loader{
		splits: map[Split]*Dataset{
			Train: train.subset(perm[:cut]),
			Val:   train.subset(perm[cut:]),
			Test:  test,
		},
		batchSize: batchSize,
		seed:      seed,
		rng:       rng,
	}, nil
}

// BatchSize is the number of samples per batch.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// WithBatchSize returns a loader over the same splits that cuts batches of
// size n with its own shuffling stream.
func (l *Loader) WithBatchSize(n int) (*Loader, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", config.ErrInvalidArgument)
	}
	return &Loader{
		splits:    l.splits,
		batchSize: n,
		seed:      l.seed,
		rng:       rand.New(rand.NewSource(l.seed)),
	}, nil
}

// Dataset returns the samples of a split.
func (l *Loader) Dataset(s Split) *Dataset {
	return l.splits[s]
}

// Classes returns the number of target classes.
func (l *Loader) Classes() int {
	return l.splits[Train].Classes
}

// Features returns the input dimensionality.
func (l *Loader) Features() int {
	return l.splits[Train].Features()
}

// Batches cuts a split into batches. Train and val are reshuffled on every
// call; test keeps its order.
func (l *Loader) Batches(s Split) []Batch {
	d := l.splits[s]
	if d == nil || d.Len() == 0 {
		return nil
	}
	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	if s != Test {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var batches []Batch
	for start := 0; start < len(order); start += l.batchSize {
		end := min(start+l.batchSize, len(order))
		sub := d.subset(order[start:end])
		batches = append(batches, Batch{X: sub.X, Y: sub.Y})
	}
	return batches
}

// Load builds the loader for cfg.Dataset. Vision datasets are read from CSV
// files under cfg.DataPath; "synthetic" is generated from cfg.Seed.
func Load(cfg *config.Config, batchSize int) (*Loader, error) {
	var train, test *Dataset
	var err error
	switch cfg.Dataset {
	case "synthetic":
		train, test = Synthetic(SyntheticOptions{Seed: cfg.Seed})
	case "cifar10", "cifar100", "ImageNet16-120":
		train, test, err = LoadCSVDir(cfg.DataPath, cfg.Dataset)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown dataset %q", config.ErrInvalidArgument, cfg.Dataset)
	}
	return NewLoader(train, test, cfg.Search.TrainPortion, batchSize, cfg.Seed)
}
