package partition

import (
	"github.com/unixpickle/dist-gcn/sparse"
)

// Dim selects which dimension of a sparse matrix to split along.
type Dim int

const (
	Rows Dim = iota
	Cols
)

// SplitCOO splits m into parts sub-matrices along dim. Each entry of m
// lands in exactly one output partition: the one whose boundary range
// contains the entry's coordinate along dim. That coordinate is
// rebased to start at 0 within its partition; the other dimension is
// left global.
func SplitCOO(m *sparse.COO, dim Dim, parts int) ([]*sparse.COO, []int, error) {
	total := m.Rows
	if dim == Cols {
		total = m.Cols
	}
	bounds, err := Boundaries(total, parts)
	if err != nil {
		return nil, nil, err
	}

	res := make([]*sparse.COO, parts)
	for i := range res {
		width := bounds[i+1] - bounds[i]
		if dim == Rows {
			res[i] = sparse.New(width, m.Cols)
		} else {
			res[i] = sparse.New(m.Rows, width)
		}
	}

	for e := range m.Val {
		coord := m.Row[e]
		if dim == Cols {
			coord = m.Col[e]
		}
		// Blocks are uniform except the last, which absorbs the
		// remainder.
		per := bounds[1]
		p := coord / per
		if p >= parts {
			p = parts - 1
		}
		if dim == Rows {
			res[p].Append(m.Row[e]-bounds[p], m.Col[e], m.Val[e])
		} else {
			res[p].Append(m.Row[e], m.Col[e]-bounds[p], m.Val[e])
		}
	}

	return res, bounds, nil
}
