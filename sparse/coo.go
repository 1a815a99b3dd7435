// Package sparse implements coordinate-format sparse matrices for
// graph adjacency blocks: construction from edge lists, sparse-sparse
// and sparse-dense products, and transposition.
package sparse

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// COO is a sparse matrix stored as coordinate-format non-zero entries.
//
// Entries are not required to be sorted or unique; Coalesce sorts them
// and merges duplicates.
type COO struct {
	Rows, Cols int

	Row []int
	Col []int
	Val []float64
}

// New creates an empty Rows x Cols matrix.
func New(rows, cols int) *COO {
	return &COO{Rows: rows, Cols: cols}
}

// FromEdges builds an adjacency matrix from an edge list: entry
// (src[i], dst[i]) = 1 for every edge. Vertex indices must be in
// [0, n).
func FromEdges(n int, src, dst []int) (*COO, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("edge list has %d sources but %d destinations",
			len(src), len(dst))
	}
	m := New(n, n)
	for i := range src {
		if src[i] < 0 || src[i] >= n || dst[i] < 0 || dst[i] >= n {
			return nil, errors.Errorf("edge (%d, %d) out of range [0, %d)",
				src[i], dst[i], n)
		}
		m.Append(src[i], dst[i], 1)
	}
	return m, nil
}

// Append adds a non-zero entry.
func (m *COO) Append(row, col int, val float64) {
	m.Row = append(m.Row, row)
	m.Col = append(m.Col, col)
	m.Val = append(m.Val, val)
}

// NNZ returns the number of stored entries.
func (m *COO) NNZ() int {
	return len(m.Val)
}

// Clone returns a deep copy.
func (m *COO) Clone() *COO {
	res := &COO{
		Rows: m.Rows,
		Cols: m.Cols,
		Row:  append([]int{}, m.Row...),
		Col:  append([]int{}, m.Col...),
		Val:  append([]float64{}, m.Val...),
	}
	return res
}

// AddRemainingSelfLoops appends a (i, i) entry with value fill for
// every row i of a square matrix that does not already have one.
func (m *COO) AddRemainingSelfLoops(fill float64) error {
	if m.Rows != m.Cols {
		return errors.Errorf("self loops need a square matrix, got %dx%d", m.Rows, m.Cols)
	}
	has := make([]bool, m.Rows)
	for i := range m.Val {
		if m.Row[i] == m.Col[i] {
			has[m.Row[i]] = true
		}
	}
	for i, h := range has {
		if !h {
			m.Append(i, i, fill)
		}
	}
	return nil
}

// Coalesce sorts the entries in row-major order and merges duplicate
// coordinates by summing their values.
func (m *COO) Coalesce() {
	if m.NNZ() == 0 {
		return
	}
	perm := make([]int, m.NNZ())
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(a, b int) bool {
		i, j := perm[a], perm[b]
		if m.Row[i] != m.Row[j] {
			return m.Row[i] < m.Row[j]
		}
		return m.Col[i] < m.Col[j]
	})

	rows := make([]int, 0, m.NNZ())
	cols := make([]int, 0, m.NNZ())
	vals := make([]float64, 0, m.NNZ())
	for _, i := range perm {
		n := len(vals)
		if n > 0 && rows[n-1] == m.Row[i] && cols[n-1] == m.Col[i] {
			vals[n-1] += m.Val[i]
			continue
		}
		rows = append(rows, m.Row[i])
		cols = append(cols, m.Col[i])
		vals = append(vals, m.Val[i])
	}
	m.Row, m.Col, m.Val = rows, cols, vals
}

// T returns the transpose as a new matrix.
func (m *COO) T() *COO {
	res := &COO{
		Rows: m.Cols,
		Cols: m.Rows,
		Row:  append([]int{}, m.Col...),
		Col:  append([]int{}, m.Row...),
		Val:  append([]float64{}, m.Val...),
	}
	return res
}

// Diag creates a square sparse matrix with vals on the diagonal.
// Zero entries are kept implicit.
func Diag(vals []float64) *COO {
	m := New(len(vals), len(vals))
	for i, v := range vals {
		if v != 0 {
			m.Append(i, i, v)
		}
	}
	return m
}

// MulCOO computes the sparse-sparse product m * b, coalesced.
func (m *COO) MulCOO(b *COO) (*COO, error) {
	if m.Cols != b.Rows {
		return nil, errors.Errorf("dimension mismatch: %dx%d times %dx%d",
			m.Rows, m.Cols, b.Rows, b.Cols)
	}

	// Bucket b's entries by row for the inner lookups.
	rowStart := make([]int, b.Rows+1)
	for _, r := range b.Row {
		rowStart[r+1]++
	}
	for i := 1; i <= b.Rows; i++ {
		rowStart[i] += rowStart[i-1]
	}
	order := make([]int, b.NNZ())
	fill := append([]int{}, rowStart[:b.Rows]...)
	for i, r := range b.Row {
		order[fill[r]] = i
		fill[r]++
	}

	acc := make(map[int64]float64)
	for i := range m.Val {
		k, v := m.Col[i], m.Val[i]
		for _, bi := range order[rowStart[k]:rowStart[k+1]] {
			key := int64(m.Row[i])*int64(b.Cols) + int64(b.Col[bi])
			acc[key] += v * b.Val[bi]
		}
	}

	res := New(m.Rows, b.Cols)
	for key, v := range acc {
		res.Append(int(key/int64(b.Cols)), int(key%int64(b.Cols)), v)
	}
	res.Coalesce()
	return res, nil
}

// MulDense computes the sparse-dense product m * x.
func (m *COO) MulDense(x *mat.Dense) (*mat.Dense, error) {
	xr, xc := x.Dims()
	if m.Cols != xr {
		return nil, errors.Errorf("dimension mismatch: %dx%d times %dx%d",
			m.Rows, m.Cols, xr, xc)
	}
	res := mat.NewDense(m.Rows, xc, nil)
	raw := res.RawMatrix()
	xraw := x.RawMatrix()
	for i := range m.Val {
		r, k, v := m.Row[i], m.Col[i], m.Val[i]
		dst := raw.Data[r*raw.Stride : r*raw.Stride+xc]
		src := xraw.Data[k*xraw.Stride : k*xraw.Stride+xc]
		for j, s := range src {
			dst[j] += v * s
		}
	}
	return res, nil
}

// Dense materializes the matrix. Intended for tests and tiny inputs.
func (m *COO) Dense() *mat.Dense {
	res := mat.NewDense(m.Rows, m.Cols, nil)
	for i := range m.Val {
		res.Set(m.Row[i], m.Col[i], res.At(m.Row[i], m.Col[i])+m.Val[i])
	}
	return res
}
