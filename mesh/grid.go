// Package mesh arranges a flat set of ranks into a 2D process grid and
// provides the communication groups and group collectives used by
// partitioned matrix computations.
package mesh

import (
	"github.com/pkg/errors"
)

// ErrInactiveRank is returned when a rank's grid coordinates fall
// outside the declared grid. Such a configuration has no defined role
// for the rank; the job should abort rather than proceed with partial
// groups.
var ErrInactiveRank = errors.New("mesh: rank falls outside the process grid")

// A Group is an ordered collection of ranks used as a communication
// scope. Groups are immutable after construction.
type Group []int

// Size gets the number of ranks in the group.
func (g Group) Size() int {
	return len(g)
}

// Index returns the position of rank in the group, or -1.
func (g Group) Index(rank int) int {
	for i, r := range g {
		if r == rank {
			return i
		}
	}
	return -1
}

// Contains reports whether rank is a member.
func (g Group) Contains(rank int) bool {
	return g.Index(rank) >= 0
}

// Dims factors size into process-grid dimensions (rows, cols) with
// rows*cols == size, rows <= cols, and both as close to sqrt(size) as
// possible. Prime sizes degenerate to a 1 x size grid.
func Dims(size int) (rows, cols int) {
	for r := 1; r*r <= size; r++ {
		if size%r == 0 {
			rows = r
		}
	}
	return rows, size / rows
}

// A Grid is one rank's view of the 2D process topology: its own
// coordinates plus every communication group it may take part in.
//
// The grid is built once at startup and passed by reference into every
// component that communicates; there is no package-level topology
// state.
type Grid struct {
	Rank int
	Size int

	ProcRow int
	ProcCol int
	RankRow int
	RankCol int

	// RowGroups[i] holds the ranks of grid row i:
	// {i*ProcCol, ..., i*ProcCol + ProcCol - 1}.
	RowGroups []Group

	// ColGroups[j] holds the ranks {j, j+ProcRow, j+2*ProcRow, ...}
	// below Size.
	ColGroups []Group

	// Transpose pairs this rank with the rank at its mirrored grid
	// coordinate (col, row). Nil on the diagonal, where a rank is its
	// own mirror.
	Transpose Group

	// World holds every rank.
	World Group
}

// NewGrid builds the topology for one rank of a size-process job.
func NewGrid(rank, size int) (*Grid, error) {
	if size < 1 {
		return nil, errors.Errorf("mesh: invalid process count %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, errors.Errorf("mesh: rank %d out of range [0, %d)", rank, size)
	}
	procRow, procCol := Dims(size)
	rankRow := rank / procCol
	rankCol := rank % procCol
	if rankRow >= procRow || rankCol >= procCol {
		return nil, errors.Wrapf(ErrInactiveRank, "rank %d maps to (%d, %d) in a %dx%d grid",
			rank, rankRow, rankCol, procRow, procCol)
	}

	g := &Grid{
		Rank:    rank,
		Size:    size,
		ProcRow: procRow,
		ProcCol: procCol,
		RankRow: rankRow,
		RankCol: rankCol,
	}

	for i := 0; i < procRow; i++ {
		row := make(Group, procCol)
		for j := range row {
			row[j] = i*procCol + j
		}
		g.RowGroups = append(g.RowGroups, row)
	}

	for j := 0; j < procCol; j++ {
		var col Group
		for r := j; r < size; r += procRow {
			col = append(col, r)
		}
		g.ColGroups = append(g.ColGroups, col)
	}

	rankT := rankCol*procRow + rankRow
	if rankT != rank && rankT < size {
		if rank < rankT {
			g.Transpose = Group{rank, rankT}
		} else {
			g.Transpose = Group{rankT, rank}
		}
	}

	g.World = make(Group, size)
	for i := range g.World {
		g.World[i] = i
	}

	return g, nil
}

// RowGroup gets the group of this rank's grid row.
func (g *Grid) RowGroup() Group {
	return g.RowGroups[g.RankRow]
}

// ColGroup gets the group of this rank's grid column.
func (g *Grid) ColGroup() Group {
	return g.ColGroups[g.RankCol]
}

// Square reports whether the grid has as many rows as columns. The 2D
// partitioning scheme requires a square grid.
func (g *Grid) Square() bool {
	return g.ProcRow == g.ProcCol
}

// RankAt returns the flat rank at grid coordinate (row, col).
func (g *Grid) RankAt(row, col int) int {
	return row*g.ProcCol + col
}
