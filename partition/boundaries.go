// Package partition splits sparse adjacency matrices and dense feature
// matrices into the per-rank blocks used by distributed GCN training,
// and applies symmetric degree normalization to the local blocks.
package partition

import "github.com/pkg/errors"

// Boundaries splits the index range [0, n) into parts contiguous
// blocks of near-equal size. It returns parts+1 monotonically
// increasing markers with first 0 and last n; the last block absorbs
// the remainder, so no index is ever dropped.
func Boundaries(n, parts int) ([]int, error) {
	if parts < 1 {
		return nil, errors.Errorf("partition: invalid partition count %d", parts)
	}
	per := n / parts
	if per == 0 {
		return nil, errors.Errorf("partition: cannot split %d indices into %d partitions", n, parts)
	}
	bounds := make([]int, parts+1)
	for i := 0; i < parts; i++ {
		bounds[i] = i * per
	}
	bounds[parts] = n
	return bounds, nil
}
