package partition

import (
	"math"

	"github.com/pkg/errors"

	"github.com/unixpickle/dist-gcn/sparse"
)

// InvSqrtDegrees computes deg(i)^(-1/2) for every vertex of the global
// adjacency matrix by histogram counting over the source indices.
// Self-loops must already have been added upstream if the symmetric
// normalization is meant to include them.
//
// Degree-zero vertices get a scale factor of 0, not +Inf: an isolated
// vertex contributes nothing to propagation and must not poison other
// partitions with non-finite values.
//
// Every rank computes this independently from the same global edge
// list; the results are identical without any communication, but the
// full edge list must be available before local normalization starts.
func InvSqrtDegrees(adj *sparse.COO) []float64 {
	deg := make([]float64, adj.Rows)
	for _, r := range adj.Row {
		deg[r]++
	}
	for i, d := range deg {
		if d == 0 {
			continue
		}
		deg[i] = 1 / math.Sqrt(d)
	}
	return deg
}

// ScaleBlock applies symmetric degree normalization to a local
// adjacency block whose rows cover global vertices [rowOff, rowOff+h)
// and whose columns cover [colOff, colOff+w):
//
//	D_left * B * D_right
//
// with D_left = diag(deg[rowOff:rowOff+h]) and D_right =
// diag(deg[colOff:colOff+w]). The two products are sparse-sparse; the
// global normalized matrix is never materialized.
func ScaleBlock(block *sparse.COO, deg []float64, rowOff, colOff int) (*sparse.COO, error) {
	if rowOff < 0 || rowOff+block.Rows > len(deg) || colOff < 0 || colOff+block.Cols > len(deg) {
		return nil, errors.Errorf("partition: block [%d+%d, %d+%d) outside degree vector of length %d",
			rowOff, block.Rows, colOff, block.Cols, len(deg))
	}
	dleft := sparse.Diag(deg[rowOff : rowOff+block.Rows])
	dright := sparse.Diag(deg[colOff : colOff+block.Cols])

	scaled, err := block.MulCOO(dright)
	if err != nil {
		return nil, errors.Wrap(err, "right degree scaling")
	}
	scaled, err = dleft.MulCOO(scaled)
	if err != nil {
		return nil, errors.Wrap(err, "left degree scaling")
	}
	return scaled, nil
}
