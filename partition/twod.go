package partition

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/unixpickle/dist-gcn/mesh"
	"github.com/unixpickle/dist-gcn/sparse"
)

// TwoD holds one rank's blocks under 2D partitioning: the adjacency
// block at the rank's grid coordinate and the matching feature tile.
type TwoD struct {
	// Adj is the (RankRow, RankCol) block of the global adjacency:
	// rows cover vertices [RowBounds[RankRow], RowBounds[RankRow+1]),
	// columns cover [RowBounds[RankCol], RowBounds[RankCol+1]),
	// both rebased, normalized when requested.
	Adj *sparse.COO

	// Feat is the (RankRow, RankCol) tile of the features: the rank's
	// vertex row-block restricted to its feature-dimension slice.
	Feat *mat.Dense

	// RowBounds are the vertex partition boundaries (ProcRow+1
	// entries); FeatBounds slice the feature dimension (ProcCol+1).
	RowBounds  []int
	FeatBounds []int
}

// TwoDPartition builds the calling rank's local adjacency block and
// feature tile. The adjacency is column-split into ProcCol blocks, the
// rank's column block is row-split into ProcRow pieces, and the piece
// at the rank's row coordinate is degree-normalized. The features are
// tiled node-dimension first, feature-dimension second.
//
// The scheme needs a square process grid so that the adjacency's inner
// (column) blocking lines up with the features' vertex blocking.
func TwoDPartition(g *mesh.Grid, adj *sparse.COO, feats *mat.Dense, normalize bool) (*TwoD, error) {
	if !g.Square() {
		return nil, errors.Errorf("partition: 2D partitioning needs a square grid, got %dx%d",
			g.ProcRow, g.ProcCol)
	}
	fr, fc := feats.Dims()
	if fr != adj.Rows {
		return nil, errors.Errorf("partition: %d feature rows for %d vertices", fr, adj.Rows)
	}

	colParts, vtx, err := SplitCOO(adj, Cols, g.ProcCol)
	if err != nil {
		return nil, err
	}
	rowParts, _, err := SplitCOO(colParts[g.RankCol], Rows, g.ProcRow)
	if err != nil {
		return nil, err
	}

	local := rowParts[g.RankRow]
	if normalize {
		deg := InvSqrtDegrees(adj)
		local, err = ScaleBlock(local, deg, vtx[g.RankRow], vtx[g.RankCol])
		if err != nil {
			return nil, err
		}
	}

	featBounds, err := Boundaries(fc, g.ProcCol)
	if err != nil {
		return nil, err
	}
	tile := mat.DenseCopyOf(feats.Slice(
		vtx[g.RankRow], vtx[g.RankRow+1],
		featBounds[g.RankCol], featBounds[g.RankCol+1]))

	tr, tc := tile.Dims()
	klog.V(1).Infof("rank %d (%d, %d): 2D blocks %dx%d (adj, %d nnz) %dx%d (features)",
		g.Rank, g.RankRow, g.RankCol, local.Rows, local.Cols, local.NNZ(), tr, tc)

	return &TwoD{
		Adj:        local,
		Feat:       tile,
		RowBounds:  vtx,
		FeatBounds: featBounds,
	}, nil
}
