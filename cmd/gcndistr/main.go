// Command gcndistr trains a graph convolutional network over a
// simulated cluster, partitioning the adjacency and feature matrices
// across the ranks with either the 1D ring scheme or the 2D grid
// scheme.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/unixpickle/dist-gcn/cluster"
	"github.com/unixpickle/dist-gcn/dataset"
	"github.com/unixpickle/dist-gcn/gcn"
	"github.com/unixpickle/dist-gcn/mesh"
	"github.com/unixpickle/dist-gcn/partition"
	"github.com/unixpickle/dist-gcn/sparse"
)

type config struct {
	partitioning string
	procs        int
	hidden       int
	layers       int
	lr           float64
	epochs       int
	normalize    bool
	seed         int64
}

type rankResult struct {
	loss    float64
	valAcc  float64
	testAcc float64
	err     error
}

func main() {
	var cfg config
	var nodes, classes, features, edgesPerNode int
	var edgeFile string
	var latency, rate float64

	flag.StringVar(&cfg.partitioning, "partitioning", "2d", "partitioning strategy: 1d or 2d")
	flag.IntVar(&cfg.procs, "procs", 4, "number of simulated processes")
	flag.IntVar(&cfg.hidden, "hidden", 16, "hidden layer width")
	flag.IntVar(&cfg.layers, "layers", 2, "number of graph convolution layers")
	flag.Float64Var(&cfg.lr, "lr", 0.1, "learning rate")
	flag.IntVar(&cfg.epochs, "epochs", 50, "training epochs")
	flag.BoolVar(&cfg.normalize, "normalize", true, "apply symmetric degree normalization")
	flag.Int64Var(&cfg.seed, "seed", 0, "weight and dataset seed")

	flag.IntVar(&nodes, "nodes", 400, "synthetic dataset: node count")
	flag.IntVar(&classes, "classes", 4, "synthetic dataset: class count")
	flag.IntVar(&features, "features", 32, "synthetic dataset: feature width")
	flag.IntVar(&edgesPerNode, "edges-per-node", 5, "synthetic dataset: edges per node")
	flag.StringVar(&edgeFile, "edges", "", "optional edge-list file (replaces synthetic edges)")

	flag.Float64Var(&latency, "latency", 1e-4, "simulated network latency")
	flag.Float64Var(&rate, "rate", 1e9, "simulated NIC rate, bytes per virtual second")

	klog.InitFlags(nil)
	flag.Parse()

	data, err := dataset.Synthetic(nodes, classes, features, edgesPerNode, cfg.seed)
	if err != nil {
		klog.Exitf("building dataset: %v", err)
	}
	if edgeFile != "" {
		f, err := os.Open(edgeFile)
		if err != nil {
			klog.Exitf("opening edge list: %v", err)
		}
		n, src, dst, err := dataset.LoadEdgeList(f)
		f.Close()
		if err != nil {
			klog.Exitf("reading edge list: %v", err)
		}
		if n > data.NumNodes {
			klog.Exitf("edge list references %d nodes but the dataset has %d", n, data.NumNodes)
		}
		data.Src, data.Dst = src, dst
	}

	adj, err := sparse.FromEdges(data.NumNodes, data.Src, data.Dst)
	if err != nil {
		klog.Exitf("building adjacency: %v", err)
	}
	if cfg.normalize {
		if err := adj.AddRemainingSelfLoops(1); err != nil {
			klog.Exitf("adding self loops: %v", err)
		}
	}
	adj.Coalesce()

	loop := cluster.NewEventLoop()
	boxes := cluster.Mailboxes(loop, cfg.procs)
	switcher := cluster.NewGreedyDropSwitcher(cfg.procs, rate)
	network := cluster.NewSwitcherNetwork(switcher, boxes, latency)

	results := make([]rankResult, cfg.procs)
	cluster.Spawn(loop, network, boxes, func(c *cluster.Comms) {
		results[c.Rank] = runRank(c, &cfg, data, adj)
	})
	if err := loop.Run(); err != nil {
		klog.Exitf("cluster failed: %v", err)
	}
	for rank, res := range results {
		if res.err != nil {
			klog.Exitf("rank %d failed: %v", rank, res.err)
		}
	}

	fmt.Println("| Rank | Loss | Val | Test |")
	fmt.Println("|:--|:--|:--|:--|")
	for rank, res := range results {
		fmt.Printf("| %d | %.4f | %.4f | %.4f |\n", rank, res.loss, res.valAcc, res.testAcc)
	}
	klog.Infof("virtual time: %f", loop.Time())
}

func runRank(c *cluster.Comms, cfg *config, data *dataset.Data, adj *sparse.COO) rankResult {
	_, featDim := data.Features.Dims()
	dims := []int{featDim}
	for i := 0; i < cfg.layers-1; i++ {
		dims = append(dims, cfg.hidden)
	}
	dims = append(dims, data.NumClasses)

	var model *gcn.Model
	var feat *mat.Dense
	var lo, hi int

	switch strings.ToLower(cfg.partitioning) {
	case "1d":
		p, err := partition.OneDPartition(c.Rank, c.Size(), adj, data.Features, cfg.normalize)
		if err != nil {
			return rankResult{err: err}
		}
		feat = p.Feat
		lo, hi = p.Bounds[c.Rank], p.Bounds[c.Rank+1]
		model, err = gcn.NewOneDModel(c, p, dims, cfg.seed)
		if err != nil {
			return rankResult{err: err}
		}
	case "2d":
		grid, err := mesh.NewGrid(c.Rank, c.Size())
		if err != nil {
			return rankResult{err: err}
		}
		p, err := partition.TwoDPartition(grid, adj, data.Features, cfg.normalize)
		if err != nil {
			return rankResult{err: err}
		}
		feat = p.Feat
		// A rank's label rows follow its grid row, not its flat rank.
		lo, hi = p.RowBounds[grid.RankRow], p.RowBounds[grid.RankRow+1]
		model, err = gcn.NewTwoDModel(c, grid, p, dims, cfg.seed)
		if err != nil {
			return rankResult{err: err}
		}
	default:
		return rankResult{err: fmt.Errorf("unknown partitioning %q", cfg.partitioning)}
	}

	labels := data.Labels[lo:hi]
	trainMask := data.TrainMask[lo:hi]
	valMask := data.ValMask[lo:hi]
	testMask := data.TestMask[lo:hi]
	trainTotal := dataset.MaskCount(data.TrainMask)
	valTotal := dataset.MaskCount(data.ValMask)
	testTotal := dataset.MaskCount(data.TestMask)

	var res rankResult
	bestVal := 0.0
	for epoch := 0; epoch < cfg.epochs; epoch++ {
		loss, err := model.TrainEpoch(feat, labels, trainMask, trainTotal, cfg.lr)
		if err != nil {
			return rankResult{err: err}
		}
		valAcc, err := model.Evaluate(feat, labels, valMask, valTotal)
		if err != nil {
			return rankResult{err: err}
		}
		res.loss = loss
		res.valAcc = valAcc
		if valAcc >= bestVal {
			bestVal = valAcc
			testAcc, err := model.Evaluate(feat, labels, testMask, testTotal)
			if err != nil {
				return rankResult{err: err}
			}
			res.testAcc = testAcc
		}
		if c.Rank == 0 {
			klog.Infof("epoch %03d: loss %.4f val %.4f", epoch, loss, valAcc)
		}
	}
	return res
}
