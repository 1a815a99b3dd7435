package cluster

// A ConnMat is a connectivity matrix between ranks.
//
// Entries indicate a transfer rate from a source rank (row) to a
// destination rank (column).
type ConnMat struct {
	numRanks int
	rates    []float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numRanks int) *ConnMat {
	return &ConnMat{
		numRanks: numRanks,
		rates:    make([]float64, numRanks*numRanks),
	}
}

// NumRanks returns the number of ranks.
func (c *ConnMat) NumRanks() int {
	return c.numRanks
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	if src < 0 || dst < 0 || src >= c.numRanks || dst >= c.numRanks {
		panic("index out of bounds")
	}
	return c.rates[src*c.numRanks+dst]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	if src < 0 || dst < 0 || src >= c.numRanks || dst >= c.numRanks {
		panic("index out of bounds")
	}
	c.rates[src*c.numRanks+dst] = value
}

// SumDest sums a column of the matrix.
func (c *ConnMat) SumDest(dst int) float64 {
	if dst < 0 || dst >= c.numRanks {
		panic("index out of bounds")
	}
	var sum float64
	for i := 0; i < c.numRanks; i++ {
		sum += c.Get(i, dst)
	}
	return sum
}

// SumSource sums a row of the matrix.
func (c *ConnMat) SumSource(src int) float64 {
	if src < 0 || src >= c.numRanks {
		panic("index out of bounds")
	}
	var sum float64
	for i := 0; i < c.numRanks; i++ {
		sum += c.Get(src, i)
	}
	return sum
}

// ScaleDest scales a column of the matrix.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	if dst < 0 || dst >= c.numRanks {
		panic("index out of bounds")
	}
	for i := 0; i < c.numRanks; i++ {
		c.Set(i, dst, c.Get(i, dst)*scale)
	}
}

// ScaleSource scales a row of the matrix.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	if src < 0 || src >= c.numRanks {
		panic("index out of bounds")
	}
	for i := 0; i < c.numRanks; i++ {
		c.Set(src, i, c.Get(src, i)*scale)
	}
}
