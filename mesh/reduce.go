package mesh

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
)

// FlopTime is the virtual time taken by one floating-point operation,
// used to model local computation inside collectives.
const FlopTime = 1e-9

// A ReduceOp combines matrices elementwise. Reductions are associative
// and commutative, so group members may apply them in any order as
// long as every member contributes exactly once.
type ReduceOp int

const (
	OpSum ReduceOp = iota
	OpMax
)

// reduceInto accumulates src into dst elementwise.
func (op ReduceOp) reduceInto(dst, src *mat.Dense) {
	dr, dc := dst.Dims()
	sr, sc := src.Dims()
	if dr != sr || dc != sc {
		panic("mismatching reduction shapes")
	}
	d := dst.RawMatrix()
	s := src.RawMatrix()
	for i := 0; i < dr; i++ {
		drow := d.Data[i*d.Stride : i*d.Stride+dc]
		srow := s.Data[i*s.Stride : i*s.Stride+sc]
		switch op {
		case OpSum:
			for j, v := range srow {
				drow[j] += v
			}
		case OpMax:
			for j, v := range srow {
				drow[j] = math.Max(drow[j], v)
			}
		}
	}
}

// reduce combines vecs into a fresh matrix and charges the handle for
// the flops.
func (op ReduceOp) reduce(h *cluster.Handle, vecs ...*mat.Dense) *mat.Dense {
	res := mat.DenseCopyOf(vecs[0])
	for _, v := range vecs[1:] {
		op.reduceInto(res, v)
	}
	r, c := res.Dims()
	h.Sleep(FlopTime * float64(len(vecs)*r*c))
	return res
}

// denseSize returns the nominal wire size of a dense matrix in bytes.
func denseSize(m *mat.Dense) float64 {
	r, c := m.Dims()
	return float64(r * c * 8)
}
