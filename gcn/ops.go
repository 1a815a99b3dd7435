package gcn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/mesh"
)

// ReLU applies max(0, x) elementwise. Purely local: the nonlinearity
// needs no communication under any partitioning.
func ReLU(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	res := mat.NewDense(r, c, nil)
	res.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, v)
	}, x)
	return res
}

// ReLUBackward zeroes the gradient wherever the pre-activation was
// non-positive.
func ReLUBackward(pre, grad *mat.Dense) *mat.Dense {
	r, c := grad.Dims()
	res := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if pre.At(i, j) > 0 {
				res.Set(i, j, grad.At(i, j))
			}
		}
	}
	return res
}

// LogSoftmax computes row-wise log-softmax. When a vertex's row is
// split across ranks (2D partitioning), group must span the ranks
// holding the row's column slices: the row-wise max and sum are then
// reduced across it. A nil or singleton group keeps everything local.
func LogSoftmax(c *cluster.Comms, group mesh.Group, logits *mat.Dense) *mat.Dense {
	r, cols := logits.Dims()

	maxv := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		m := math.Inf(-1)
		for j := 0; j < cols; j++ {
			m = math.Max(m, logits.At(i, j))
		}
		maxv.Set(i, 0, m)
	}
	maxv = groupReduce(c, group, maxv, mesh.OpMax)

	sums := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		var s float64
		for j := 0; j < cols; j++ {
			s += math.Exp(logits.At(i, j) - maxv.At(i, 0))
		}
		sums.Set(i, 0, s)
	}
	sums = groupReduce(c, group, sums, mesh.OpSum)

	res := mat.NewDense(r, cols, nil)
	for i := 0; i < r; i++ {
		off := maxv.At(i, 0) + math.Log(sums.At(i, 0))
		for j := 0; j < cols; j++ {
			res.Set(i, j, logits.At(i, j)-off)
		}
	}
	return res
}

// LogSoftmaxBackward maps the gradient of the log-probabilities back
// to the logits: dx = g - softmax(x) * rowsum(g), with the row sum
// reduced across the same group as the forward pass.
func LogSoftmaxBackward(c *cluster.Comms, group mesh.Group, logp, grad *mat.Dense) *mat.Dense {
	r, cols := grad.Dims()
	rowSum := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		var s float64
		for j := 0; j < cols; j++ {
			s += grad.At(i, j)
		}
		rowSum.Set(i, 0, s)
	}
	rowSum = groupReduce(c, group, rowSum, mesh.OpSum)

	res := mat.NewDense(r, cols, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			res.Set(i, j, grad.At(i, j)-math.Exp(logp.At(i, j))*rowSum.At(i, 0))
		}
	}
	return res
}

// MaskedNLL computes the negative log-likelihood over this rank's
// masked rows and the matching gradient on the log-probabilities.
//
// labels holds the global class of each local row; classOff is the
// global class index of local column 0, so a row only contributes on
// the rank whose column slice holds its label. total is the global
// number of masked rows; lossGroup must cover every rank that holds a
// distinct slice of the output (the loss is summed across it).
func MaskedNLL(c *cluster.Comms, lossGroup mesh.Group, logp *mat.Dense,
	labels []int, mask []bool, classOff, total int) (float64, *mat.Dense) {
	r, cols := logp.Dims()
	grad := mat.NewDense(r, cols, nil)
	var loss float64
	for i := 0; i < r; i++ {
		if !mask[i] {
			continue
		}
		cl := labels[i] - classOff
		if cl < 0 || cl >= cols {
			continue
		}
		loss -= logp.At(i, cl)
		grad.Set(i, cl, -1/float64(total))
	}
	loss = AllReduceScalar(c, lossGroup, loss, mesh.OpSum)
	return loss / float64(total), grad
}

// Accuracy computes the fraction of masked rows whose argmax matches
// the label. rowGroup (may be nil) spans the column slices of a row;
// countGroup spans ranks with distinct vertex rows, over which the
// correct counts are summed.
func Accuracy(c *cluster.Comms, rowGroup, countGroup mesh.Group, logp *mat.Dense,
	labels []int, mask []bool, total int) float64 {
	full := logp
	if rowGroup != nil && rowGroup.Size() > 1 {
		full = mesh.ConcatCols(mesh.AllGather(c, rowGroup, logp))
	}
	r, cols := full.Dims()
	var correct float64
	for i := 0; i < r; i++ {
		if !mask[i] {
			continue
		}
		best := 0
		for j := 1; j < cols; j++ {
			if full.At(i, j) > full.At(i, best) {
				best = j
			}
		}
		if best == labels[i] {
			correct++
		}
	}
	correct = AllReduceScalar(c, countGroup, correct, mesh.OpSum)
	return correct / float64(total)
}

// AllReduceScalar reduces a single value across a group.
func AllReduceScalar(c *cluster.Comms, g mesh.Group, v float64, op mesh.ReduceOp) float64 {
	if g == nil || g.Size() <= 1 {
		return v
	}
	m := mat.NewDense(1, 1, []float64{v})
	return mesh.AllReduce(c, g, m, op).At(0, 0)
}

func groupReduce(c *cluster.Comms, g mesh.Group, m *mat.Dense, op mesh.ReduceOp) *mat.Dense {
	if g == nil || g.Size() <= 1 {
		return m
	}
	return mesh.AllReduce(c, g, m, op)
}
