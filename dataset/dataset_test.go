package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSyntheticDeterministic(t *testing.T) {
	a, err := Synthetic(20, 4, 8, 3, 5)
	require.NoError(t, err)
	b, err := Synthetic(20, 4, 8, 3, 5)
	require.NoError(t, err)

	require.Equal(t, a.Labels, b.Labels)
	require.Equal(t, a.Src, b.Src)
	require.Equal(t, a.Dst, b.Dst)
	require.True(t, mat.Equal(a.Features, b.Features))
}

func TestSyntheticShape(t *testing.T) {
	d, err := Synthetic(20, 4, 8, 3, 5)
	require.NoError(t, err)
	require.Equal(t, 20, d.NumNodes)
	require.Equal(t, 4, d.NumClasses)
	require.Len(t, d.Labels, 20)
	r, c := d.Features.Dims()
	require.Equal(t, 20, r)
	require.Equal(t, 8, c)

	// Labels come in contiguous non-decreasing class blocks.
	for i := 1; i < 20; i++ {
		require.LessOrEqual(t, d.Labels[i-1], d.Labels[i])
	}
	for _, l := range d.Labels {
		require.GreaterOrEqual(t, l, 0)
		require.Less(t, l, 4)
	}

	// Every node lands in exactly one mask.
	for i := 0; i < 20; i++ {
		count := 0
		for _, m := range [][]bool{d.TrainMask, d.ValMask, d.TestMask} {
			if m[i] {
				count++
			}
		}
		require.Equal(t, 1, count, "node %d", i)
	}
}

func TestSyntheticSymmetricEdges(t *testing.T) {
	d, err := Synthetic(20, 4, 8, 3, 5)
	require.NoError(t, err)
	counts := map[[2]int]int{}
	for i := range d.Src {
		counts[[2]int{d.Src[i], d.Dst[i]}]++
	}
	for e, n := range counts {
		require.Equal(t, n, counts[[2]int{e[1], e[0]}], "edge %v", e)
	}
}

func TestSyntheticRejectsBadShapes(t *testing.T) {
	_, err := Synthetic(10, 1, 8, 3, 5)
	require.Error(t, err)
	_, err = Synthetic(3, 4, 8, 3, 5)
	require.Error(t, err)
	_, err = Synthetic(10, 4, 2, 3, 5)
	require.Error(t, err)
}

func TestNormalizeFeatures(t *testing.T) {
	feats := mat.NewDense(3, 2, []float64{
		2, 2,
		0, 0,
		1, 3,
	})
	NormalizeFeatures(feats)
	require.InDelta(t, 0.5, feats.At(0, 0), 1e-12)
	require.InDelta(t, 0.5, feats.At(0, 1), 1e-12)
	require.Equal(t, 0.0, feats.At(1, 0))
	require.InDelta(t, 0.25, feats.At(2, 0), 1e-12)
	require.InDelta(t, 0.75, feats.At(2, 1), 1e-12)
}

func TestMaskCount(t *testing.T) {
	require.Equal(t, 2, MaskCount([]bool{true, false, true}))
	require.Equal(t, 0, MaskCount(nil))
}

func TestLoadEdgeList(t *testing.T) {
	input := `# a comment
% another comment
0 1
1 2

5 0 extra-field-ignored
`
	n, src, dst, err := LoadEdgeList(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, []int{0, 1, 5}, src)
	require.Equal(t, []int{1, 2, 0}, dst)
}

func TestLoadEdgeListErrors(t *testing.T) {
	_, _, _, err := LoadEdgeList(strings.NewReader("0\n"))
	require.Error(t, err)
	_, _, _, err = LoadEdgeList(strings.NewReader("a b\n"))
	require.Error(t, err)
	_, _, _, err = LoadEdgeList(strings.NewReader("-1 2\n"))
	require.Error(t, err)
}
