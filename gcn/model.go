package gcn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/mesh"
	"github.com/unixpickle/dist-gcn/partition"
)

// A Model is a stack of distributed graph-convolution layers with a
// ReLU between layers and a log-softmax on the output. Weights are
// replicated on every rank and stepped identically, so there is no
// parameter server.
type Model struct {
	Comms  *cluster.Comms
	Layers []Layer

	// RowGroup spans the ranks holding column slices of this rank's
	// output rows; nil under 1D partitioning, where rows are whole.
	RowGroup mesh.Group

	// LossGroup and CountGroup scope the loss and correct-count
	// reductions (see MaskedNLL and Accuracy).
	LossGroup  mesh.Group
	CountGroup mesh.Group

	// ClassOff is the global class index of local output column 0.
	ClassOff int

	preacts []*mat.Dense
	logp    *mat.Dense
}

// GlorotWeights draws an in x out weight matrix from the usual
// uniform(-a, a) with a = sqrt(6/(in+out)). Every rank seeds the same
// generator, so replicas agree without a broadcast.
func GlorotWeights(rng *rand.Rand, in, out int) *mat.Dense {
	a := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * a
	}
	return mat.NewDense(in, out, data)
}

// NewOneDModel stacks ring-multiplier layers with the given dimensions
// (dims[0] = input features, dims[len-1] = classes).
func NewOneDModel(c *cluster.Comms, p *partition.OneD, dims []int, seed int64) (*Model, error) {
	if len(dims) < 2 {
		return nil, errors.New("gcn: a model needs at least one layer")
	}
	rng := rand.New(rand.NewSource(seed))
	world := make(mesh.Group, c.Size())
	for i := range world {
		world[i] = i
	}

	m := &Model{Comms: c, LossGroup: world, CountGroup: world}
	for l := 0; l+1 < len(dims); l++ {
		w := GlorotWeights(rng, dims[l], dims[l+1])
		m.Layers = append(m.Layers, NewOneDLayer(c, p, w))
	}
	return m, nil
}

// NewTwoDModel stacks SUMMA layers over a square grid.
func NewTwoDModel(c *cluster.Comms, g *mesh.Grid, p *partition.TwoD, dims []int, seed int64) (*Model, error) {
	if len(dims) < 2 {
		return nil, errors.New("gcn: a model needs at least one layer")
	}
	rng := rand.New(rand.NewSource(seed))

	classBounds, err := partition.Boundaries(dims[len(dims)-1], g.ProcCol)
	if err != nil {
		return nil, errors.Wrap(err, "class dimension blocking")
	}

	m := &Model{
		Comms:      c,
		RowGroup:   g.RowGroup(),
		LossGroup:  g.World,
		CountGroup: g.ColGroup(),
		ClassOff:   classBounds[g.RankCol],
	}
	for l := 0; l+1 < len(dims); l++ {
		w := GlorotWeights(rng, dims[l], dims[l+1])
		layer, err := NewTwoDLayer(c, g, p.Adj, p.RowBounds, dims[l], dims[l+1], w)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", l)
		}
		m.Layers = append(m.Layers, layer)
	}
	return m, nil
}

// Forward runs the stack on the local input block and returns the
// local block of log-probabilities.
func (m *Model) Forward(x *mat.Dense) (*mat.Dense, error) {
	m.preacts = m.preacts[:0]
	h := x
	for l, layer := range m.Layers {
		z, err := layer.Forward(h)
		if err != nil {
			return nil, errors.Wrapf(err, "forward layer %d", l)
		}
		if l+1 < len(m.Layers) {
			m.preacts = append(m.preacts, z)
			h = ReLU(z)
		} else {
			h = z
		}
	}
	m.logp = LogSoftmax(m.Comms, m.RowGroup, h)
	return m.logp, nil
}

// Backward propagates the log-probability gradient through the stack,
// leaving each layer's replicated weight gradient behind.
func (m *Model) Backward(gradLogp *mat.Dense) error {
	grad := LogSoftmaxBackward(m.Comms, m.RowGroup, m.logp, gradLogp)
	for l := len(m.Layers) - 1; l >= 0; l-- {
		var err error
		grad, err = m.Layers[l].Backward(grad)
		if err != nil {
			return errors.Wrapf(err, "backward layer %d", l)
		}
		if l > 0 {
			grad = ReLUBackward(m.preacts[l-1], grad)
		}
	}
	return nil
}

// Step applies one gradient-descent update to every layer. All ranks
// hold identical gradients, so the replicas stay in lockstep.
func (m *Model) Step(lr float64) {
	for _, layer := range m.Layers {
		w, g := layer.Weight(), layer.Grad()
		var scaled mat.Dense
		scaled.Scale(lr, g)
		w.Sub(w, &scaled)
	}
}

// TrainEpoch runs one forward/backward/update pass and returns the
// global training loss.
func (m *Model) TrainEpoch(x *mat.Dense, labels []int, trainMask []bool,
	trainTotal int, lr float64) (float64, error) {
	logp, err := m.Forward(x)
	if err != nil {
		return 0, err
	}
	loss, grad := MaskedNLL(m.Comms, m.LossGroup, logp, labels, trainMask, m.ClassOff, trainTotal)
	if err := m.Backward(grad); err != nil {
		return 0, err
	}
	m.Step(lr)
	return loss, nil
}

// Evaluate runs a forward pass and returns the accuracy over the
// masked rows.
func (m *Model) Evaluate(x *mat.Dense, labels []int, mask []bool, total int) (float64, error) {
	if total == 0 {
		return 0, nil
	}
	logp, err := m.Forward(x)
	if err != nil {
		return 0, err
	}
	return Accuracy(m.Comms, m.RowGroup, m.CountGroup, logp, labels, mask, total), nil
}
