package partition

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/unixpickle/dist-gcn/sparse"
)

// OneD holds one rank's blocks under 1D row partitioning: the rank
// owns a contiguous row-block of the transposed adjacency (split into
// one column partition per rank for the ring multiplier) and the
// matching row-block of the feature matrix.
type OneD struct {
	// AdjParts[k] is the (local rows x boundary-k width) piece of this
	// rank's row-block of the transposed adjacency, column indices
	// rebased per partition.
	AdjParts []*sparse.COO

	// Feat is this rank's row-block of the features, all columns.
	Feat *mat.Dense

	// Bounds are the vertex partition boundaries shared by both
	// splits.
	Bounds []int
}

// OneDPartition builds rank's local blocks for a size-process 1D run.
// adj is the global adjacency (self-loops already added if normalize
// is set); feats is the global feature matrix.
func OneDPartition(rank, size int, adj *sparse.COO, feats *mat.Dense, normalize bool) (*OneD, error) {
	if rank < 0 || rank >= size {
		return nil, errors.Errorf("partition: rank %d out of range [0, %d)", rank, size)
	}
	fr, fc := feats.Dims()
	if fr != adj.Rows {
		return nil, errors.Errorf("partition: %d feature rows for %d vertices", fr, adj.Rows)
	}

	colParts, bounds, err := SplitCOO(adj, Cols, size)
	if err != nil {
		return nil, err
	}
	local := colParts[rank]

	if normalize {
		deg := InvSqrtDegrees(adj)
		local, err = ScaleBlock(local, deg, 0, bounds[rank])
		if err != nil {
			return nil, err
		}
	}

	// The ring multiplier works on row-blocks of the transpose.
	ringParts, _, err := SplitCOO(local.T(), Cols, size)
	if err != nil {
		return nil, err
	}

	feat := mat.DenseCopyOf(feats.Slice(bounds[rank], bounds[rank+1], 0, fc))

	klog.V(1).Infof("rank %d: 1D blocks %dx%d (adj) %dx%d (features)",
		rank, ringParts[0].Rows, adj.Cols, bounds[rank+1]-bounds[rank], fc)

	return &OneD{AdjParts: ringParts, Feat: feat, Bounds: bounds}, nil
}
