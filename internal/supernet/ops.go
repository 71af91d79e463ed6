package supernet

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/gonas/internal/graph"
)

type opKind int

const (
	kindZero opKind = iota
	kindIdentity
	kindDense
	kindAvgPool
	kindMaxPool
)

// poolRadius gives the 3-wide feature window of the pooling ops.
const poolRadius = 1

// kindOf maps an op name of any search space onto its numeric realisation.
func kindOf(op string) (opKind, error) {
	switch {
	case op == graph.OpNone:
		return kindZero, nil
	case op == "skip_connect":
		return kindIdentity, nil
	case strings.Contains(op, "conv"):
		return kindDense, nil
	case strings.Contains(op, "avg_pool"):
		return kindAvgPool, nil
	case strings.Contains(op, "max_pool"), strings.Contains(op, "maxpool"):
		return kindMaxPool, nil
	default:
		return 0, fmt.Errorf("unsupported op %q", op)
	}
}

// IsParametric reports whether op carries trainable weights.
func IsParametric(op string) bool {
	k, err := kindOf(op)
	return err == nil && k == kindDense
}

type opCache struct {
	pre    *mat.Dense
	argmax []int
}

// opForward applies one op. A nil result stands for the zero tensor.
func opForward(kind opKind, w *Param, x *mat.Dense) (*mat.Dense, opCache) {
	switch kind {
	case kindZero:
		return nil, opCache{}
	case kindIdentity:
		return x, opCache{}
	case kindDense:
		var pre mat.Dense
		pre.Mul(x, w.Value)
		return relu(&pre), opCache{pre: &pre}
	case kindAvgPool:
		return avgPool(x), opCache{}
	case kindMaxPool:
		out, idx := maxPool(x)
		return out, opCache{argmax: idx}
	}
	panic(fmt.Sprintf("supernet: unhandled op kind %d", kind))
}

// opBackward accumulates the weight gradient into w and returns the gradient
// with respect to x (nil when zero).
func opBackward(kind opKind, w *Param, x *mat.Dense, c opCache, dOut *mat.Dense) *mat.Dense {
	switch kind {
	case kindZero:
		return nil
	case kindIdentity:
		return dOut
	case kindDense:
		dPre := reluBackward(c.pre, dOut)
		var dW mat.Dense
		dW.Mul(x.T(), dPre)
		w.Grad.Add(w.Grad, &dW)
		var dX mat.Dense
		dX.Mul(dPre, w.Value.T())
		return &dX
	case kindAvgPool:
		return avgPoolBackward(dOut)
	case kindMaxPool:
		return maxPoolBackward(dOut, c.argmax)
	}
	panic(fmt.Sprintf("supernet: unhandled op kind %d", kind))
}

func relu(pre *mat.Dense) *mat.Dense {
	r, c := pre.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, pre)
	return out
}

func reluBackward(pre, dOut *mat.Dense) *mat.Dense {
	r, c := dOut.Dims()
	d := mat.NewDense(r, c, nil)
	d.Apply(func(i, j int, v float64) float64 {
		if pre.At(i, j) > 0 {
			return v
		}
		return 0
	}, dOut)
	return d
}

func window(j, width int) (lo, hi int) {
	return max(0, j-poolRadius), min(width-1, j+poolRadius)
}

func avgPool(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			lo, hi := window(j, c)
			s := 0.0
			for k := lo; k <= hi; k++ {
				s += row[k]
			}
			out.Set(i, j, s/float64(hi-lo+1))
		}
	}
	return out
}

func avgPoolBackward(dOut *mat.Dense) *mat.Dense {
	r, c := dOut.Dims()
	dX := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		drow := dOut.RawRowView(i)
		xrow := dX.RawRowView(i)
		for j := 0; j < c; j++ {
			lo, hi := window(j, c)
			g := drow[j] / float64(hi-lo+1)
			for k := lo; k <= hi; k++ {
				xrow[k] += g
			}
		}
	}
	return dX
}

func maxPool(x *mat.Dense) (*mat.Dense, []int) {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	idx := make([]int, r*c)
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			lo, hi := window(j, c)
			best := lo
			for k := lo + 1; k <= hi; k++ {
				if row[k] > row[best] {
					best = k
				}
			}
			out.Set(i, j, row[best])
			idx[i*c+j] = best
		}
	}
	return out, idx
}

func maxPoolBackward(dOut *mat.Dense, argmax []int) *mat.Dense {
	r, c := dOut.Dims()
	dX := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		drow := dOut.RawRowView(i)
		xrow := dX.RawRowView(i)
		for j := 0; j < c; j++ {
			xrow[argmax[i*c+j]] += drow[j]
		}
	}
	return dX
}

// accumulate returns dst + scale*src, allocating dst when it is still zero.
func accumulate(dst, src *mat.Dense, scale float64) *mat.Dense {
	if src == nil {
		return dst
	}
	if dst == nil {
		r, c := src.Dims()
		dst = mat.NewDense(r, c, nil)
	}
	addScaled(dst, dst, scale, src)
	return dst
}

// addScaled sets dst = a + s*b. dst may alias a.
func addScaled(dst, a *mat.Dense, s float64, b mat.Matrix) {
	var sb mat.Dense
	sb.Scale(s, b)
	dst.Add(a, &sb)
}

// Softmax returns the normalised exponentials of v.
func Softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	m := v[0]
	for _, x := range v[1:] {
		m = math.Max(m, x)
	}
	sum := 0.0
	for i, x := range v {
		out[i] = math.Exp(x - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
