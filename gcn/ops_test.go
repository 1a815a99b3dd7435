package gcn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/mesh"
)

func TestReLU(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{-1, 2, 0, -3})
	got := ReLU(x)
	if !mat.Equal(got, mat.NewDense(2, 2, []float64{0, 2, 0, 0})) {
		t.Error("unexpected ReLU output")
	}
	// The input is left alone.
	if x.At(0, 0) != -1 {
		t.Error("ReLU modified its input")
	}
}

func TestReLUBackward(t *testing.T) {
	pre := mat.NewDense(2, 2, []float64{-1, 2, 0, 3})
	grad := mat.NewDense(2, 2, []float64{5, 6, 7, 8})
	got := ReLUBackward(pre, grad)
	if !mat.Equal(got, mat.NewDense(2, 2, []float64{0, 6, 0, 8})) {
		t.Error("unexpected masked gradient")
	}
}

func TestLogSoftmaxLocal(t *testing.T) {
	runRanks(t, 1, func(c *cluster.Comms) {
		logits := mat.NewDense(2, 3, []float64{1, 2, 3, -1, 0, 1000})
		logp := LogSoftmax(c, nil, logits)

		for i := 0; i < 2; i++ {
			var sum float64
			for j := 0; j < 3; j++ {
				if logp.At(i, j) > 0 {
					t.Errorf("positive log-probability at (%d, %d)", i, j)
				}
				sum += math.Exp(logp.At(i, j))
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("row %d probabilities sum to %f", i, sum)
			}
		}
		// The large logit must not overflow thanks to the max shift.
		if logp.At(1, 2) != 0 {
			t.Errorf("dominant logit has log-probability %f", logp.At(1, 2))
		}
	})
}

func TestLogSoftmaxSplitColumns(t *testing.T) {
	// Two ranks each hold half the columns of the same rows; the
	// result must match the single-process computation on the full
	// row.
	logits := mat.NewDense(2, 4, []float64{1, 2, 3, 4, -1, 5, 0, 2})
	var full *mat.Dense
	runRanks(t, 1, func(c *cluster.Comms) {
		full = LogSoftmax(c, nil, logits)
	})

	group := mesh.Group{0, 1}
	runRanks(t, 2, func(c *cluster.Comms) {
		half := mat.DenseCopyOf(logits.Slice(0, 2, c.Rank*2, c.Rank*2+2))
		got := LogSoftmax(c, group, half)
		want := full.Slice(0, 2, c.Rank*2, c.Rank*2+2)
		if !mat.EqualApprox(got, want, 1e-12) {
			t.Errorf("rank %d: split log-softmax does not match", c.Rank)
		}
	})
}

func TestLogSoftmaxBackwardFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	logits := randomDense(rng, 2, 3)
	upstream := randomDense(rng, 2, 3)

	runRanks(t, 1, func(c *cluster.Comms) {
		logp := LogSoftmax(c, nil, logits)
		grad := LogSoftmaxBackward(c, nil, logp, upstream)

		const eps = 1e-6
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				orig := logits.At(i, j)

				logits.Set(i, j, orig+eps)
				plus := LogSoftmax(c, nil, logits)
				logits.Set(i, j, orig-eps)
				minus := LogSoftmax(c, nil, logits)
				logits.Set(i, j, orig)

				var want float64
				for a := 0; a < 2; a++ {
					for b := 0; b < 3; b++ {
						want += upstream.At(a, b) * (plus.At(a, b) - minus.At(a, b)) / (2 * eps)
					}
				}
				if math.Abs(grad.At(i, j)-want) > 1e-4 {
					t.Errorf("gradient at (%d, %d): got %f, want %f", i, j, grad.At(i, j), want)
				}
			}
		}
	})
}

func TestMaskedNLL(t *testing.T) {
	runRanks(t, 1, func(c *cluster.Comms) {
		logp := mat.NewDense(3, 2, []float64{
			math.Log(0.5), math.Log(0.5),
			math.Log(0.25), math.Log(0.75),
			math.Log(0.9), math.Log(0.1),
		})
		labels := []int{0, 1, 0}
		mask := []bool{true, true, false}

		loss, grad := MaskedNLL(c, nil, logp, labels, mask, 0, 2)
		want := -(math.Log(0.5) + math.Log(0.75)) / 2
		if math.Abs(loss-want) > 1e-12 {
			t.Errorf("loss %f, want %f", loss, want)
		}
		expected := mat.NewDense(3, 2, []float64{
			-0.5, 0,
			0, -0.5,
			0, 0,
		})
		if !mat.Equal(grad, expected) {
			t.Error("unexpected loss gradient")
		}
	})
}

func TestMaskedNLLClassSlice(t *testing.T) {
	// A rank holding classes [2, 4) only contributes rows whose label
	// lands in its slice.
	runRanks(t, 1, func(c *cluster.Comms) {
		logp := mat.NewDense(2, 2, []float64{
			math.Log(0.5), math.Log(0.5),
			math.Log(0.1), math.Log(0.9),
		})
		labels := []int{3, 0}
		mask := []bool{true, true}

		loss, grad := MaskedNLL(c, nil, logp, labels, mask, 2, 2)
		want := -math.Log(0.5) / 2
		if math.Abs(loss-want) > 1e-12 {
			t.Errorf("loss %f, want %f", loss, want)
		}
		if grad.At(0, 1) != -0.5 || grad.At(1, 0) != 0 || grad.At(1, 1) != 0 {
			t.Error("gradient placed on the wrong columns")
		}
	})
}

func TestAccuracy(t *testing.T) {
	runRanks(t, 1, func(c *cluster.Comms) {
		logp := mat.NewDense(3, 2, []float64{
			-0.1, -2,
			-3, -0.2,
			-0.5, -0.4,
		})
		labels := []int{0, 1, 0}
		mask := []bool{true, true, true}
		world := mesh.Group{0}
		acc := Accuracy(c, nil, world, logp, labels, mask, 3)
		// Rows 0 and 1 are right, row 2 argmaxes to class 1.
		if math.Abs(acc-2.0/3.0) > 1e-12 {
			t.Errorf("accuracy %f", acc)
		}
	})
}

func TestAllReduceScalar(t *testing.T) {
	group := mesh.Group{0, 1, 2}
	runRanks(t, 3, func(c *cluster.Comms) {
		sum := AllReduceScalar(c, group, float64(c.Rank+1), mesh.OpSum)
		if sum != 6 {
			t.Errorf("rank %d: sum %f", c.Rank, sum)
		}
		max := AllReduceScalar(c, group, float64(c.Rank), mesh.OpMax)
		if max != 2 {
			t.Errorf("rank %d: max %f", c.Rank, max)
		}
	})
}
