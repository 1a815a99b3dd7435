package cluster

// A Switcher decides how rapidly data flows between ranks, including
// how to split bandwidth when links are oversubscribed.
type Switcher interface {
	// SwitchedRates computes the transfer rate of every connection.
	//
	// On entry, mat holds 1 wherever a rank wants to send data to
	// another rank and 0 everywhere else. On return, mat holds the
	// data rate between every pair of ranks.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher emulates a switch where outgoing data is spread
// evenly across a rank's destinations, and incoming data is dropped
// uniformly when a rank's NIC is oversubscribed.
//
// Equivalently: normalize the rows of the connection matrix, then
// normalize the columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher with uniform
// upload and download rates across all ranks.
func NewGreedyDropSwitcher(numRanks int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numRanks)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: rates,
	}
}

// NumRanks gets the number of ranks the switch expects.
func (g *GreedyDropSwitcher) NumRanks() int {
	return len(g.SendRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumRanks() != g.NumRanks() {
		panic("unexpected number of ranks")
	}

	// Split upload traffic evenly across destinations.
	for src := 0; src < g.NumRanks(); src++ {
		numDests := mat.SumSource(src)
		if numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}

	// Drop download traffic in proportion to the volume arriving from
	// each source.
	for dst := 0; dst < g.NumRanks(); dst++ {
		incomingRate := mat.SumDest(dst)
		if incomingRate > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incomingRate)
		}
	}
}
