// Package effort implements the per-model computational cost proxy
// used solely to order pipelines shortest-job-first. Estimates are
// coarse heuristics, not profiling.
package effort

import (
	"fmt"
	"math"
)

// ErrUnknownModel is returned when no estimator is registered for a
// model type tag.
type ErrUnknownModel struct {
	ModelType string
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("effort: unknown model type %q", e.ModelType)
}

// Params carries the workload parameters an Estimator needs. Not every
// field applies to every model family; zero values take the documented
// default where one exists.
type Params struct {
	NSamples  int
	NFeatures int

	NIterations int // SGD/logistic/SVM iteration count
	MaxDepth    int // decision tree max depth, 0 = unset
	NEstimators int // random forest, default 100 if 0

	Linear bool // svm: linear vs non-linear kernel
	NSV    int  // svm: number of support vectors, default n if 0

	NEpochs int
	Layers  []Layer
}

// Layer describes one layer of a neural network / CNN for MAC counting.
type Layer struct {
	Kind LayerKind

	// Dense
	In, Out int

	// Conv2D / MaxPool
	KW, KH, CIn, COut, WOut, HOut, Stride int
}

// LayerKind enumerates the layer shapes the estimator understands.
type LayerKind string

const (
	LayerDense   LayerKind = "dense"
	LayerConv2D  LayerKind = "conv2d"
	LayerMaxPool LayerKind = "maxpool"
)

// Estimator returns effort for training and prediction given workload
// parameters.
type Estimator interface {
	EstimateTrain(p Params) int64
	EstimatePred(p Params) int64
}

var registry = map[string]Estimator{
	"linear_regression":   linearRegression{},
	"logistic_regression": logisticRegression{},
	"decision_tree":       decisionTree{},
	"random_forest":       randomForest{},
	"svm":                 svm{},
	"neural_network":      neuralNetwork{},
	"cnn":                 neuralNetwork{},
	"pca":                 pca{},
	"tsne":                tsne{},
}

// EstimateTrain dispatches to the registered estimator for modelType.
func EstimateTrain(modelType string, p Params) (int64, error) {
	e, ok := registry[modelType]
	if !ok {
		return 0, &ErrUnknownModel{ModelType: modelType}
	}
	return e.EstimateTrain(p), nil
}

// EstimatePred dispatches to the registered estimator for modelType.
func EstimatePred(modelType string, p Params) (int64, error) {
	e, ok := registry[modelType]
	if !ok {
		return 0, &ErrUnknownModel{ModelType: modelType}
	}
	return e.EstimatePred(p), nil
}

// Preprocessing effort is computed directly (not via a registered
// model), per the spec: n_samples * n_features for tabular data, or
// n_samples * H*W*C for image data.
func PreprocessingTabular(nSamples, nFeatures int) int64 {
	return int64(nSamples) * int64(nFeatures)
}

func PreprocessingImage(nSamples, h, w, c int) int64 {
	return int64(nSamples) * int64(h) * int64(w) * int64(c)
}

func iterOrDefault(n, def int) int64 {
	if n <= 0 {
		return int64(def)
	}
	return int64(n)
}

type linearRegression struct{}

func (linearRegression) EstimateTrain(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	if p.NIterations > 0 {
		// SGD solver.
		return int64(p.NIterations) * n * f
	}
	// OLS (normal-equations) solver.
	return n*f*f + f*f*f
}

func (linearRegression) EstimatePred(p Params) int64 {
	return int64(p.NSamples) * int64(p.NFeatures)
}

type logisticRegression struct{}

func (logisticRegression) EstimateTrain(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	return n * f * iterOrDefault(p.NIterations, 100)
}

func (logisticRegression) EstimatePred(p Params) int64 {
	return int64(p.NSamples) * int64(p.NFeatures)
}

type decisionTree struct{}

func treeTrainCost(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	if n <= 1 {
		return f * n
	}
	return f * n * int64(math.Log2(float64(n)))
}

func treePredCost(p Params) int64 {
	n := int64(p.NSamples)
	if p.MaxDepth > 0 {
		return n * int64(p.MaxDepth)
	}
	if n <= 1 {
		return n
	}
	return n * int64(math.Log2(float64(n)))
}

func (decisionTree) EstimateTrain(p Params) int64 { return treeTrainCost(p) }
func (decisionTree) EstimatePred(p Params) int64  { return treePredCost(p) }

type randomForest struct{}

func (randomForest) EstimateTrain(p Params) int64 {
	return treeTrainCost(p) * iterOrDefault(p.NEstimators, 100)
}

func (randomForest) EstimatePred(p Params) int64 {
	return treePredCost(p) * iterOrDefault(p.NEstimators, 100)
}

type svm struct{}

func (svm) EstimateTrain(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	iters := iterOrDefault(p.NIterations, 100)
	if p.Linear {
		return n * f * iters
	}
	return n * n * f * iters
}

func (svm) EstimatePred(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	if p.Linear {
		return n * f
	}
	sv := p.NSV
	if sv <= 0 {
		sv = p.NSamples
	}
	return n * int64(sv) * f
}

func layerMACs(l Layer) int64 {
	switch l.Kind {
	case LayerDense:
		return int64(l.In)*int64(l.Out) + int64(l.Out)
	case LayerConv2D:
		stride := l.Stride
		if stride <= 0 {
			stride = 1
		}
		return int64(l.KW) * int64(l.KH) * int64(l.CIn) * int64(l.WOut) * int64(l.HOut) * int64(l.COut) / int64(stride*stride)
	case LayerMaxPool:
		return int64(l.KW) * int64(l.KH) * int64(l.CIn) * int64(l.WOut) * int64(l.HOut)
	default:
		return 0
	}
}

func totalMACs(p Params) int64 {
	var total int64
	for _, l := range p.Layers {
		total += layerMACs(l)
	}
	return total
}

type neuralNetwork struct{}

func (neuralNetwork) EstimateTrain(p Params) int64 {
	macs := totalMACs(p)
	epochs := iterOrDefault(p.NEpochs, 1)
	// forward + 2x backward factor, 2 FLOPs per MAC.
	return 2 * macs * 3 * epochs * int64(p.NSamples)
}

func (neuralNetwork) EstimatePred(p Params) int64 {
	return 2 * totalMACs(p) * int64(p.NSamples)
}

type pca struct{}

func (pca) EstimateTrain(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	return n*f*f + f*f*f
}

func (pca) EstimatePred(Params) int64 { return 0 }

type tsne struct{}

func (tsne) EstimateTrain(p Params) int64 {
	n, f := int64(p.NSamples), int64(p.NFeatures)
	return n * n * f
}

func (tsne) EstimatePred(Params) int64 { return 0 }
