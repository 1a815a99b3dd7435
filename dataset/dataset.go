// Package dataset supplies node-classification inputs to the
// distributed trainer: an edge-list loader, a deterministic synthetic
// generator, and the usual train/validation/test masks. It is a thin
// boundary; all the algorithmic work lives elsewhere.
package dataset

import (
	"bufio"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Data is one node-classification dataset.
type Data struct {
	NumNodes   int
	NumClasses int

	// Edge list as parallel (source, destination) slices.
	Src, Dst []int

	// Features has one row per node; rows sum to 1 after
	// normalization.
	Features *mat.Dense

	// Labels holds each node's class. Masks select the training,
	// validation and test nodes.
	Labels    []int
	TrainMask []bool
	ValMask   []bool
	TestMask  []bool
}

// MaskCount returns the number of set entries in a mask.
func MaskCount(mask []bool) int {
	var n int
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

// NormalizeFeatures scales each row to sum to 1, leaving all-zero rows
// alone.
func NormalizeFeatures(feats *mat.Dense) {
	r, c := feats.Dims()
	for i := 0; i < r; i++ {
		var sum float64
		for j := 0; j < c; j++ {
			sum += feats.At(i, j)
		}
		if sum == 0 {
			continue
		}
		for j := 0; j < c; j++ {
			feats.Set(i, j, feats.At(i, j)/sum)
		}
	}
}

// Synthetic generates a clustered graph: nodes are assigned to classes
// in contiguous blocks, edges mostly stay within a class, and features
// are noisy class indicators. The same seed always produces the same
// dataset on every rank.
func Synthetic(nodes, classes, featDim, edgesPerNode int, seed int64) (*Data, error) {
	if classes < 2 || nodes < classes || featDim < classes {
		return nil, errors.Errorf("dataset: bad synthetic shape: %d nodes, %d classes, %d features",
			nodes, classes, featDim)
	}
	rng := rand.New(rand.NewSource(seed))

	d := &Data{
		NumNodes:   nodes,
		NumClasses: classes,
		Labels:     make([]int, nodes),
		TrainMask:  make([]bool, nodes),
		ValMask:    make([]bool, nodes),
		TestMask:   make([]bool, nodes),
	}

	per := nodes / classes
	for i := 0; i < nodes; i++ {
		cl := i / per
		if cl >= classes {
			cl = classes - 1
		}
		d.Labels[i] = cl
		switch i % 4 {
		case 0, 1:
			d.TrainMask[i] = true
		case 2:
			d.ValMask[i] = true
		default:
			d.TestMask[i] = true
		}
	}

	feats := mat.NewDense(nodes, featDim, nil)
	for i := 0; i < nodes; i++ {
		for j := 0; j < featDim; j++ {
			v := rng.Float64() * 0.2
			if j%classes == d.Labels[i] {
				v += 1
			}
			feats.Set(i, j, v)
		}
	}
	NormalizeFeatures(feats)
	d.Features = feats

	for i := 0; i < nodes; i++ {
		for e := 0; e < edgesPerNode; e++ {
			var dst int
			if rng.Float64() < 0.9 {
				// Intra-class edge.
				lo := d.Labels[i] * per
				hi := lo + per
				if d.Labels[i] == classes-1 {
					hi = nodes
				}
				dst = lo + rng.Intn(hi-lo)
			} else {
				dst = rng.Intn(nodes)
			}
			d.Src = append(d.Src, i)
			d.Dst = append(d.Dst, dst)
			// Keep the graph symmetric so directed degree counting
			// matches the undirected degrees.
			d.Src = append(d.Src, dst)
			d.Dst = append(d.Dst, i)
		}
	}

	return d, nil
}

// LoadEdgeList reads whitespace-separated "src dst" pairs, one per
// line. Lines starting with '#' or '%' are skipped. The node count is
// the largest index seen plus one.
func LoadEdgeList(r io.Reader) (n int, src, dst []int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "%") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return 0, nil, nil, errors.Errorf("dataset: line %d: expected \"src dst\", got %q", line, text)
		}
		s, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, nil, nil, errors.Wrapf(err, "dataset: line %d", line)
		}
		t, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, nil, nil, errors.Wrapf(err, "dataset: line %d", line)
		}
		if s < 0 || t < 0 {
			return 0, nil, nil, errors.Errorf("dataset: line %d: negative vertex index", line)
		}
		src = append(src, s)
		dst = append(dst, t)
		if s+1 > n {
			n = s + 1
		}
		if t+1 > n {
			n = t + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, nil, nil, errors.Wrap(err, "dataset: reading edge list")
	}
	return n, src, dst, nil
}
