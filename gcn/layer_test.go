package gcn

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/mesh"
	"github.com/unixpickle/dist-gcn/partition"
)

// denseReference computes the undistributed forward and backward of a
// single convolution z = prop·h·w against the output gradient g.
func denseReference(prop mat.Matrix, h, w, g *mat.Dense) (z, dw, dh *mat.Dense) {
	var agg mat.Dense
	agg.Mul(prop, h)
	z = &mat.Dense{}
	z.Mul(&agg, w)

	dw = &mat.Dense{}
	dw.Mul(agg.T(), g)

	var gw mat.Dense
	gw.Mul(g, w.T())
	dh = &mat.Dense{}
	dh.Mul(prop.T(), &gw)
	return
}

func TestOneDLayerMatchesDense(t *testing.T) {
	const (
		size = 4
		n    = 8
		in   = 3
		out  = 5
	)
	rng := rand.New(rand.NewSource(10))
	adj := randomAdj(rng, n, 20)
	feats := randomDense(rng, n, in)
	weight := randomDense(rng, in, out)
	gradFull := randomDense(rng, n, out)

	deg := partition.InvSqrtDegrees(adj)
	scaled, err := partition.ScaleBlock(adj, deg, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// The 1D scheme propagates with the transposed normalized
	// adjacency.
	z, dw, dh := denseReference(scaled.Dense().T(), feats, weight, gradFull)

	runRanks(t, size, func(c *cluster.Comms) {
		p, err := partition.OneDPartition(c.Rank, size, adj, feats, true)
		if err != nil {
			t.Error(err)
			return
		}
		layer := NewOneDLayer(c, p, mat.DenseCopyOf(weight))

		got, err := layer.Forward(p.Feat)
		if err != nil {
			t.Error(err)
			return
		}
		lo, hi := p.Bounds[c.Rank], p.Bounds[c.Rank+1]
		if !mat.EqualApprox(got, z.Slice(lo, hi, 0, out), 1e-10) {
			t.Errorf("rank %d: forward does not match the dense product", c.Rank)
		}

		gradBlk := mat.DenseCopyOf(gradFull.Slice(lo, hi, 0, out))
		gotDH, err := layer.Backward(gradBlk)
		if err != nil {
			t.Error(err)
			return
		}
		if !mat.EqualApprox(layer.Grad(), dw, 1e-10) {
			t.Errorf("rank %d: weight gradient does not match", c.Rank)
		}
		if !mat.EqualApprox(gotDH, dh.Slice(lo, hi, 0, in), 1e-10) {
			t.Errorf("rank %d: input gradient does not match", c.Rank)
		}
	})
}

func TestOneDLayerBackwardBeforeForward(t *testing.T) {
	runRanks(t, 1, func(c *cluster.Comms) {
		p, err := partition.OneDPartition(0, 1, randomAdj(rand.New(rand.NewSource(11)), 4, 6),
			mat.NewDense(4, 2, nil), false)
		if err != nil {
			t.Error(err)
			return
		}
		layer := NewOneDLayer(c, p, mat.NewDense(2, 2, nil))
		if _, err := layer.Backward(mat.NewDense(4, 2, nil)); err == nil {
			t.Error("expected an ordering error")
		}
	})
}

func TestTwoDLayerMatchesDense(t *testing.T) {
	const (
		size = 4
		n    = 8
		in   = 4
		out  = 6
	)
	rng := rand.New(rand.NewSource(12))
	adj := randomAdj(rng, n, 24)
	feats := randomDense(rng, n, in)
	weight := randomDense(rng, in, out)
	gradFull := randomDense(rng, n, out)

	deg := partition.InvSqrtDegrees(adj)
	scaled, err := partition.ScaleBlock(adj, deg, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// The 2D scheme propagates with the normalized adjacency itself.
	z, dw, dh := denseReference(scaled.Dense(), feats, weight, gradFull)

	runRanks(t, size, func(c *cluster.Comms) {
		g, err := mesh.NewGrid(c.Rank, size)
		if err != nil {
			t.Error(err)
			return
		}
		p, err := partition.TwoDPartition(g, adj, feats, true)
		if err != nil {
			t.Error(err)
			return
		}
		layer, err := NewTwoDLayer(c, g, p.Adj, p.RowBounds, in, out, mat.DenseCopyOf(weight))
		if err != nil {
			t.Error(err)
			return
		}

		rowLo, rowHi := p.RowBounds[g.RankRow], p.RowBounds[g.RankRow+1]
		outBounds, err := partition.Boundaries(out, g.ProcCol)
		if err != nil {
			t.Error(err)
			return
		}
		inBounds, err := partition.Boundaries(in, g.ProcCol)
		if err != nil {
			t.Error(err)
			return
		}

		got, err := layer.Forward(p.Feat)
		if err != nil {
			t.Error(err)
			return
		}
		wantZ := z.Slice(rowLo, rowHi, outBounds[g.RankCol], outBounds[g.RankCol+1])
		if !mat.EqualApprox(got, wantZ, 1e-10) {
			t.Errorf("rank %d: forward tile does not match", c.Rank)
		}

		gradTile := mat.DenseCopyOf(gradFull.Slice(rowLo, rowHi,
			outBounds[g.RankCol], outBounds[g.RankCol+1]))
		gotDH, err := layer.Backward(gradTile)
		if err != nil {
			t.Error(err)
			return
		}
		if !mat.EqualApprox(layer.Grad(), dw, 1e-10) {
			t.Errorf("rank %d: weight gradient does not match", c.Rank)
		}
		wantDH := dh.Slice(rowLo, rowHi, inBounds[g.RankCol], inBounds[g.RankCol+1])
		if !mat.EqualApprox(gotDH, wantDH, 1e-10) {
			t.Errorf("rank %d: input-gradient tile does not match", c.Rank)
		}
	})
}
