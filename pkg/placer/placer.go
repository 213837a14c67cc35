// Package placer implements the pluggable node-selection strategies
// that turn a batch of queued pipelines into concrete node/platform
// assignments.
package placer

import (
	"github.com/pipeforge/controller/pkg/effort"
	"github.com/pipeforge/controller/pkg/inventory"
	"github.com/pipeforge/controller/pkg/types"
)

// placementOverhead is the headroom factor used by every strategy's
// ordinary memory fit test.
const placementOverhead = 2.0

// strictOverhead is the tighter headroom factor the custom placer
// uses for its dataset-fit pre-check before falling back to the
// least-loaded high-cpu node.
const strictOverhead = 1.5

// Ledger is the Decision Unit's assignment book. Placers add entries
// to it but never remove or reinterpret existing ones.
type Ledger interface {
	Count(node string) int
	Add(node, pipelineID, componentName string)
	Has(node, pipelineID string) bool
}

// NodeSource is the read-only view of the Node Inventory a placer
// needs. Placers never reserve or release nodes.
type NodeSource interface {
	List(filters inventory.ListFilters, sortKeys []string, descending bool) []*types.Node
	ByName(name string) *types.Node
	PlatformOf(name string) string
}

// DatasetSource is the read-only view of the Dataset Catalog a placer
// needs to size a pipeline's memory footprint.
type DatasetSource interface {
	SizeInMemory(desc types.DatasetDescriptor, version types.DatasetVersionDescriptor) int64
}

// Placer assigns every component of every pipeline in the batch to a
// node, mutating ledger as it goes.
type Placer interface {
	Place(pipelines []*types.Pipeline, ledger Ledger, nodes NodeSource, datasets DatasetSource) ([]types.Placement, error)
}

// New constructs the named strategy. Unknown names fall back to the
// custom placer, matching config.Load's own default.
func New(name string, seed int64) Placer {
	switch name {
	case "fifo_round_robin":
		return &fifoRoundRobin{}
	case "fifo_random":
		return newFifoRandom(seed)
	case "random_random":
		return newRandomRandom(seed)
	case "fifo_greedy":
		return &fifoGreedy{}
	case "custom":
		return &custom{}
	default:
		return &custom{}
	}
}

// fits reports whether a node has enough free memory for sizeNeededKB
// under the given overhead factor.
func fits(n *types.Node, sizeNeededKB int64, overhead float64) bool {
	if n == nil {
		return false
	}
	return n.FreeMemoryKB() > float64(sizeNeededKB)*overhead
}

// totalEffort sums a pipeline's per-component efforts and stashes them
// on an Efforts map keyed by component name plus "total".
func totalEffort(p *types.Pipeline) (map[string]int64, int64) {
	efforts := make(map[string]int64, len(p.Order)+1)
	var total int64
	for _, c := range p.OrderedComponents() {
		e := componentEffort(p, c)
		efforts[c.Name] = e
		total += e
	}
	efforts["total"] = total
	return efforts, total
}

// componentEffort computes the effort proxy for one component,
// dispatching by component type and the pipeline's model descriptor.
func componentEffort(p *types.Pipeline, c *types.Component) int64 {
	switch c.Type {
	case types.ComponentPreprocessing:
		return preprocessingEffort(p.Metadata.Dataset)
	case types.ComponentTraining:
		params := trainingParams(p.Metadata)
		e, err := effort.EstimateTrain(p.Metadata.Model.Type, params)
		if err != nil {
			return 0
		}
		return e
	case types.ComponentEvaluation:
		params := trainingParams(p.Metadata)
		e, err := effort.EstimatePred(p.Metadata.Model.Type, params)
		if err != nil {
			return 0
		}
		return e
	default:
		return 0
	}
}

func preprocessingEffort(desc types.DatasetDescriptor) int64 {
	switch desc.Type {
	case "image":
		shape := desc.Original.InputShape
		if len(shape) != 3 {
			return 0
		}
		return effort.PreprocessingImage(desc.Original.NSamples, shape[0], shape[1], shape[2])
	case "tabular":
		return effort.PreprocessingTabular(desc.Original.NSamples, desc.Original.NFeatures)
	default:
		return 0
	}
}

// trainingParams bridges the pipeline's read-only metadata into the
// effort estimator's Params, reading the preprocessed dataset version
// (training always runs after preprocessing) and any hyperparameters
// the submitter supplied.
func trainingParams(meta types.Metadata) effort.Params {
	version := meta.Dataset.Prepared
	p := effort.Params{
		NSamples:  version.NSamples,
		NFeatures: version.NFeatures,
	}
	hp := meta.Model.Params
	if v, ok := intParam(hp, "n_iterations"); ok {
		p.NIterations = v
	}
	if v, ok := intParam(hp, "max_depth"); ok {
		p.MaxDepth = v
	}
	if v, ok := intParam(hp, "n_estimators"); ok {
		p.NEstimators = v
	}
	if v, ok := boolParam(hp, "linear"); ok {
		p.Linear = v
	}
	if v, ok := intParam(hp, "n_sv"); ok {
		p.NSV = v
	}
	if v, ok := intParam(hp, "n_epochs"); ok {
		p.NEpochs = v
	}
	p.Layers = layersParam(hp)
	return p
}

func intParam(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func boolParam(m map[string]interface{}, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func layersParam(m map[string]interface{}) []effort.Layer {
	raw, ok := m["layers"]
	if !ok {
		return nil
	}
	rawList, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	layers := make([]effort.Layer, 0, len(rawList))
	for _, item := range rawList {
		spec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		kindStr, _ := spec["kind"].(string)
		l := effort.Layer{Kind: effort.LayerKind(kindStr)}
		l.In, _ = intParam(spec, "in")
		l.Out, _ = intParam(spec, "out")
		l.KW, _ = intParam(spec, "kw")
		l.KH, _ = intParam(spec, "kh")
		l.CIn, _ = intParam(spec, "c_in")
		l.COut, _ = intParam(spec, "c_out")
		l.WOut, _ = intParam(spec, "w_out")
		l.HOut, _ = intParam(spec, "h_out")
		l.Stride, _ = intParam(spec, "stride")
		layers = append(layers, l)
	}
	return layers
}

// sizeNeededKB is the memory a placer must reserve a node for:
// max(original, preprocessed) footprint of the pipeline's dataset.
func sizeNeededKB(datasets DatasetSource, desc types.DatasetDescriptor) int64 {
	orig := datasets.SizeInMemory(desc, desc.Original)
	prep := datasets.SizeInMemory(desc, desc.Prepared)
	if prep > orig {
		return prep
	}
	return orig
}
