package gcn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/mesh"
	"github.com/unixpickle/dist-gcn/partition"
	"github.com/unixpickle/dist-gcn/sparse"
)

// A Layer is one graph-convolution step: a partitioned sparse-dense
// propagation followed by a local dense weight transform. Forward
// saves what Backward needs; Backward returns the gradient with
// respect to the layer input and leaves the replicated weight gradient
// in Grad. The closed-form gradients are
//
//	dH = Aᵀ · G · Wᵀ
//	dW = (A · H)ᵀ · G
//
// so no general autodiff machinery is involved.
type Layer interface {
	Forward(x *mat.Dense) (*mat.Dense, error)
	Backward(grad *mat.Dense) (*mat.Dense, error)
	Weight() *mat.Dense
	Grad() *mat.Dense
}

// OneDLayer is a graph convolution over 1D row-partitioned blocks,
// propagated with the ring multiplier. Weights are replicated; the
// weight gradient is summed across all ranks so every replica steps
// identically.
type OneDLayer struct {
	comms    *cluster.Comms
	world    mesh.Group
	adjParts []*sparse.COO
	weight   *mat.Dense

	grad *mat.Dense
	agg  *mat.Dense // Aᵀ·H row-block, saved by Forward
}

// NewOneDLayer creates a layer over this rank's adjacency partitions
// (as produced by partition.OneDPartition) and a replicated weight.
func NewOneDLayer(c *cluster.Comms, p *partition.OneD, weight *mat.Dense) *OneDLayer {
	world := make(mesh.Group, c.Size())
	for i := range world {
		world[i] = i
	}
	return &OneDLayer{
		comms:    c,
		world:    world,
		adjParts: p.AdjParts,
		weight:   weight,
	}
}

func (l *OneDLayer) Weight() *mat.Dense { return l.weight }
func (l *OneDLayer) Grad() *mat.Dense   { return l.grad }

// Forward computes this rank's row-block of Aᵀ·H·W.
func (l *OneDLayer) Forward(x *mat.Dense) (*mat.Dense, error) {
	agg, err := RingPropagate(l.comms, l.adjParts, x)
	if err != nil {
		return nil, err
	}
	l.agg = agg

	var z mat.Dense
	z.Mul(agg, l.weight)
	sleepMul(l.comms.Handle, agg, l.weight)
	return &z, nil
}

// Backward computes the input gradient and all-reduces the weight
// gradient across the world group.
func (l *OneDLayer) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if l.agg == nil {
		return nil, errors.New("gcn: Backward called before Forward")
	}

	var dw mat.Dense
	dw.Mul(l.agg.T(), grad)
	sleepMul(l.comms.Handle, l.agg, grad)
	l.grad = mesh.AllReduce(l.comms, l.world, &dw, mesh.OpSum)

	var gw mat.Dense
	gw.Mul(grad, l.weight.T())
	sleepMul(l.comms.Handle, grad, l.weight)

	// dH_k = Σ_r (Aᵀ)[r,k]ᵀ · (G·Wᵀ)_r: each rank computes its
	// contribution to every destination block, then a reduce-scatter
	// over the world group sums and routes them.
	parts := make([]*mat.Dense, len(l.adjParts))
	for k, p := range l.adjParts {
		contrib, err := p.T().MulDense(&gw)
		if err != nil {
			return nil, errors.Wrapf(err, "input-gradient contribution for block %d", k)
		}
		_, gwc := gw.Dims()
		l.comms.Handle.Sleep(mesh.FlopTime * float64(2*p.NNZ()*gwc))
		parts[k] = contrib
	}
	return mesh.ReduceScatter(l.comms, l.world, parts, mesh.OpSum), nil
}

// TwoDLayer is a graph convolution over 2D block-partitioned blocks.
// Propagation is SUMMA-style: stage k broadcasts the adjacency block
// A(i,k) along the grid row and the feature block H(k,j) along the
// grid column, accumulating the local product. The weight transform
// multiplies by the replicated weight's matching row slab and
// reduce-scatters output-dimension slices along the grid row.
type TwoDLayer struct {
	comms *cluster.Comms
	grid  *mesh.Grid

	adj       *sparse.COO
	rowBounds []int
	inBounds  []int
	outBounds []int
	weight    *mat.Dense

	grad *mat.Dense
	agg  *mat.Dense // A·H local block, saved by Forward
}

// NewTwoDLayer creates a layer for the rank at g's coordinates.
// rowBounds are the vertex partition boundaries; in and out are the
// layer's global feature dimensions, each sliced into ProcCol blocks.
func NewTwoDLayer(c *cluster.Comms, g *mesh.Grid, adj *sparse.COO, rowBounds []int,
	in, out int, weight *mat.Dense) (*TwoDLayer, error) {
	if !g.Square() {
		return nil, errors.Errorf("gcn: 2D layer needs a square grid, got %dx%d", g.ProcRow, g.ProcCol)
	}
	inBounds, err := partition.Boundaries(in, g.ProcCol)
	if err != nil {
		return nil, errors.Wrap(err, "input dimension blocking")
	}
	outBounds, err := partition.Boundaries(out, g.ProcCol)
	if err != nil {
		return nil, errors.Wrap(err, "output dimension blocking")
	}
	return &TwoDLayer{
		comms:     c,
		grid:      g,
		adj:       adj,
		rowBounds: rowBounds,
		inBounds:  inBounds,
		outBounds: outBounds,
		weight:    weight,
	}, nil
}

func (l *TwoDLayer) Weight() *mat.Dense { return l.weight }
func (l *TwoDLayer) Grad() *mat.Dense   { return l.grad }

// propagate runs the SUMMA stages for blocks · tiles, where the
// calling rank contributes ownAdj at row-group stage RankCol and tile
// at column-group stage RankRow.
func (l *TwoDLayer) propagate(ownAdj *sparse.COO, tile *mat.Dense) (*mat.Dense, error) {
	g := l.grid
	rows := l.rowBounds[g.RankRow+1] - l.rowBounds[g.RankRow]
	_, tc := tile.Dims()
	acc := mat.NewDense(rows, tc, nil)

	for k := 0; k < g.ProcCol; k++ {
		var aIn *sparse.COO
		if k == g.RankCol {
			aIn = ownAdj
		}
		aBlk := mesh.BcastCOO(l.comms, g.RowGroup(), g.RankAt(g.RankRow, k), aIn)

		var hIn *mat.Dense
		if k == g.RankRow {
			hIn = tile
		}
		hBlk := mesh.Bcast(l.comms, g.ColGroup(), g.RankAt(k, g.RankCol), hIn)

		partial, err := aBlk.MulDense(hBlk)
		if err != nil {
			return nil, errors.Wrapf(err, "propagation stage %d", k)
		}
		acc.Add(acc, partial)
		l.comms.Handle.Sleep(mesh.FlopTime * float64(2*aBlk.NNZ()*tc))
	}
	return acc, nil
}

// Forward computes this rank's output tile of Â·H·W.
func (l *TwoDLayer) Forward(x *mat.Dense) (*mat.Dense, error) {
	agg, err := l.propagate(l.adj, x)
	if err != nil {
		return nil, err
	}
	l.agg = agg

	g := l.grid
	wSlab := l.weight.Slice(l.inBounds[g.RankCol], l.inBounds[g.RankCol+1], 0, l.outBounds[len(l.outBounds)-1])
	var partial mat.Dense
	partial.Mul(agg, wSlab)
	sleepMul(l.comms.Handle, agg, wSlab)

	parts := make([]*mat.Dense, g.ProcCol)
	pr, _ := partial.Dims()
	for j := range parts {
		parts[j] = mat.DenseCopyOf(partial.Slice(0, pr, l.outBounds[j], l.outBounds[j+1]))
	}
	return mesh.ReduceScatter(l.comms, g.RowGroup(), parts, mesh.OpSum), nil
}

// Backward computes the input-gradient tile and leaves the fully
// assembled, replicated weight gradient in Grad.
func (l *TwoDLayer) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if l.agg == nil {
		return nil, errors.New("gcn: Backward called before Forward")
	}
	g := l.grid

	// A vertex's output row is split across the grid row; reassemble
	// the full-width gradient before forming products against it.
	gFull := mesh.ConcatCols(mesh.AllGather(l.comms, g.RowGroup(), grad))

	// dW rows [inBounds[j], inBounds[j+1]) = Σ_i AH(i,j)ᵀ · G(i,:).
	var dwPart mat.Dense
	dwPart.Mul(l.agg.T(), gFull)
	sleepMul(l.comms.Handle, l.agg, gFull)
	dwRows := mesh.AllReduce(l.comms, g.ColGroup(), &dwPart, mesh.OpSum)
	l.grad = mesh.ConcatRows(mesh.AllGather(l.comms, g.RowGroup(), dwRows))

	// dH = Âᵀ · (G·Wᵀ), via the same SUMMA stages on transposed
	// blocks. Âᵀ(i,j) = Â(j,i)ᵀ lives at the transpose-pair peer.
	var gw mat.Dense
	gw.Mul(gFull, l.weight.T())
	sleepMul(l.comms.Handle, gFull, l.weight)
	gwr, _ := gw.Dims()
	gwTile := mat.DenseCopyOf(gw.Slice(0, gwr, l.inBounds[g.RankCol], l.inBounds[g.RankCol+1]))

	var adjT *sparse.COO
	if g.Transpose == nil {
		adjT = l.adj.T()
	} else {
		peer := g.RankAt(g.RankCol, g.RankRow)
		mirror := l.comms.Exchange(peer, cluster.TagTranspose, l.adj,
			float64(l.adj.NNZ()*24)).(*sparse.COO)
		adjT = mirror.T()
	}

	return l.propagate(adjT, gwTile)
}

// sleepMul charges virtual time for a dense product a·b.
func sleepMul(h *cluster.Handle, a, b mat.Matrix) {
	ar, ac := a.Dims()
	_, bc := b.Dims()
	h.Sleep(mesh.FlopTime * float64(2*ar*ac*bc))
}
