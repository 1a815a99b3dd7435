// Package gcn implements distributed graph-convolution layers on top
// of partitioned adjacency blocks: the 1D ring-multiplication scheme
// and the 2D grid scheme, each with closed-form backward passes.
package gcn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/mesh"
	"github.com/unixpickle/dist-gcn/sparse"
)

// RingPropagate computes this rank's row-block of Aᵀ·H, where the
// rank holds its row-block of Aᵀ as one column partition per rank
// (adjParts) and its own row-block of H (feat).
//
// The feature blocks rotate around the process ring in size-1 steps:
// at iteration i each rank holds the block that originated at rank
// (rank-i) mod size, multiplies it against the matching adjacency
// column partition, and accumulates. After size iterations every rank
// has seen every block exactly once, so the accumulation equals the
// full row-block product. The final iteration skips the exchange.
//
// In every pairwise exchange the lower-ranked participant sends before
// it receives, so symmetric rotations cannot deadlock on a blocking
// transport.
func RingPropagate(c *cluster.Comms, adjParts []*sparse.COO, feat *mat.Dense) (*mat.Dense, error) {
	size := c.Size()
	if len(adjParts) != size {
		return nil, errors.Errorf("gcn: %d adjacency partitions for %d ranks", len(adjParts), size)
	}

	_, fc := feat.Dims()
	zLoc := mat.NewDense(adjParts[0].Rows, fc, nil)
	cur := feat

	for i := 0; i < size; i++ {
		// The block in hand originated at the rank i hops behind us.
		part := ((c.Rank-i)%size + size) % size

		partial, err := adjParts[part].MulDense(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "ring iteration %d (partition %d)", i, part)
		}
		zLoc.Add(zLoc, partial)
		c.Handle.Sleep(mesh.FlopTime * float64(2*adjParts[part].NNZ()*fc))

		if i == size-1 {
			continue
		}

		dst := (c.Rank + 1) % size
		src := ((c.Rank - 1) % size + size) % size
		c.Send(dst, cluster.TagRing, cur, denseSize(cur))
		cur = c.Recv(src, cluster.TagRing).(*mat.Dense)
	}

	return zLoc, nil
}

func denseSize(m *mat.Dense) float64 {
	r, c := m.Dims()
	return float64(r * c * 8)
}
