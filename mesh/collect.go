package mesh

import (
	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/sparse"
)

// Bcast distributes root's matrix to every member of the group and
// returns each member's copy. Ranks outside the group must not call
// it.
func Bcast(c *cluster.Comms, g Group, root int, m *mat.Dense) *mat.Dense {
	if c.Rank == root {
		for _, r := range g {
			if r != root {
				c.Send(r, cluster.TagBcast, m, denseSize(m))
			}
		}
		return m
	}
	return c.Recv(root, cluster.TagBcast).(*mat.Dense)
}

// BcastCOO is Bcast for sparse blocks.
func BcastCOO(c *cluster.Comms, g Group, root int, m *sparse.COO) *sparse.COO {
	if c.Rank == root {
		size := float64(m.NNZ() * 24)
		for _, r := range g {
			if r != root {
				c.Send(r, cluster.TagBcast, m, size)
			}
		}
		return m
	}
	return c.Recv(root, cluster.TagBcast).(*sparse.COO)
}

// AllReduce reduces the group members' matrices with op and leaves the
// result on every member.
//
// The ranks are arranged in a binary tree within the group: partial
// reductions flow up to the group's first rank and the final matrix
// flows back down.
func AllReduce(c *cluster.Comms, g Group, m *mat.Dense, op ReduceOp) *mat.Dense {
	if g.Size() == 1 {
		return m
	}
	idx := g.Index(c.Rank)
	if idx < 0 {
		panic("rank is not a member of the reduction group")
	}
	parent, children := positionInTree(g, idx)

	gathered := []*mat.Dense{m}
	for _, child := range children {
		gathered = append(gathered, c.Recv(child, cluster.TagReduce).(*mat.Dense))
	}

	result := op.reduce(c.Handle, gathered...)
	if parent >= 0 {
		c.Send(parent, cluster.TagReduce, result, denseSize(result))
		result = c.Recv(parent, cluster.TagBcast).(*mat.Dense)
	}

	for _, child := range children {
		c.Send(child, cluster.TagBcast, result, denseSize(result))
	}

	return result
}

// positionInTree returns the parent rank (-1 for the root) and child
// ranks for position idx of a binary tree laid out over the group in
// breadth-first order.
func positionInTree(g Group, idx int) (parent int, children []int) {
	parent = -1
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if idx >= rowStart+rowSize {
			continue
		}
		rowIdx := idx - rowStart
		if depth > 0 {
			parent = g[rowIdx/2+(rowSize/2-1)]
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < g.Size() {
				children = append(children, g[firstChild+i])
			}
		}
		return
	}
	panic("unreachable")
}

// AllGather collects every member's matrix on every member, ordered by
// group position.
func AllGather(c *cluster.Comms, g Group, m *mat.Dense) []*mat.Dense {
	idx := g.Index(c.Rank)
	if idx < 0 {
		panic("rank is not a member of the gather group")
	}
	res := make([]*mat.Dense, g.Size())
	res[idx] = m
	for _, r := range g {
		if r != c.Rank {
			c.Send(r, cluster.TagGather, m, denseSize(m))
		}
	}
	for i, r := range g {
		if r != c.Rank {
			res[i] = c.Recv(r, cluster.TagGather).(*mat.Dense)
		}
	}
	return res
}

// ReduceScatter reduces member i's parts[i] contributions across the
// group: every member sends parts[j] to the member at group position
// j and returns the op-reduction of the parts addressed to itself.
// len(parts) must equal the group size.
func ReduceScatter(c *cluster.Comms, g Group, parts []*mat.Dense, op ReduceOp) *mat.Dense {
	if len(parts) != g.Size() {
		panic("one part per group member is required")
	}
	idx := g.Index(c.Rank)
	if idx < 0 {
		panic("rank is not a member of the scatter group")
	}
	for j, r := range g {
		if r != c.Rank {
			c.Send(r, cluster.TagScatter, parts[j], denseSize(parts[j]))
		}
	}
	gathered := []*mat.Dense{parts[idx]}
	for _, r := range g {
		if r != c.Rank {
			gathered = append(gathered, c.Recv(r, cluster.TagScatter).(*mat.Dense))
		}
	}
	return op.reduce(c.Handle, gathered...)
}

// ConcatCols joins matrices left to right.
func ConcatCols(blocks []*mat.Dense) *mat.Dense {
	res := blocks[0]
	for _, b := range blocks[1:] {
		var joined mat.Dense
		joined.Augment(res, b)
		res = &joined
	}
	return res
}

// ConcatRows stacks matrices top to bottom.
func ConcatRows(blocks []*mat.Dense) *mat.Dense {
	res := blocks[0]
	for _, b := range blocks[1:] {
		var joined mat.Dense
		joined.Stack(res, b)
		res = &joined
	}
	return res
}
