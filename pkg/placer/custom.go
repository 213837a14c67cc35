package placer

import (
	"sort"

	"github.com/pipeforge/controller/pkg/inventory"
	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/metrics"
	"github.com/pipeforge/controller/pkg/types"
)

var customLogger = log.WithComponent("placer-custom")

// candidateRule maps a model type to the worker tiers it may run on
// and whether accelerator-bearing nodes are preferred. It carries no
// per-model sort key: among fitting candidates the node with the fewest
// ledger assignments wins, and equal loads go to the lowest node name.
type candidateRule struct {
	trainTiers []types.WorkerType
	evalTiers  []types.WorkerType
	accelerate bool // prefer accelerator-bearing nodes (NN/CNN)
}

var modelRules = map[string]candidateRule{
	"linear_regression":   {trainTiers: tiers(types.WorkerLow, types.WorkerMed), evalTiers: tiers(types.WorkerLow)},
	"logistic_regression": {trainTiers: tiers(types.WorkerLow, types.WorkerMed), evalTiers: tiers(types.WorkerLow)},
	"decision_tree":       {trainTiers: tiers(types.WorkerLow, types.WorkerMed), evalTiers: tiers(types.WorkerLow)},
	"random_forest":       {trainTiers: tiers(types.WorkerMed), evalTiers: tiers(types.WorkerLow, types.WorkerMed)},
	"svm":                 {trainTiers: tiers(types.WorkerMed), evalTiers: tiers(types.WorkerLow, types.WorkerMed)},
	"neural_network":      {trainTiers: tiers(types.WorkerHighCPU), evalTiers: tiers(types.WorkerMed, types.WorkerHighCPU), accelerate: true},
	"cnn":                 {trainTiers: tiers(types.WorkerHighCPU), evalTiers: tiers(types.WorkerMed, types.WorkerHighCPU), accelerate: true},
	"pca":                 {trainTiers: tiers(types.WorkerLow, types.WorkerMed), evalTiers: tiers(types.WorkerLow)},
	"tsne":                {trainTiers: tiers(types.WorkerLow, types.WorkerMed), evalTiers: tiers(types.WorkerLow)},
}

var preprocessingTiers = tiers(types.WorkerLow, types.WorkerMed, types.WorkerHighCPU)

func tiers(ts ...types.WorkerType) []types.WorkerType { return ts }

// custom is the primary placer: shortest-job-first pipeline ordering,
// per-model candidate tiers, affinity to co-located components, and an
// unconditional high-cpu fallback.
type custom struct{}

func (custom) Place(pipelines []*types.Pipeline, ledger Ledger, nodes NodeSource, datasets DatasetSource) ([]types.Placement, error) {
	ordered := make([]*types.Pipeline, len(pipelines))
	copy(ordered, pipelines)
	efforts := make(map[string]map[string]int64, len(ordered))
	for _, p := range ordered {
		e, _ := totalEffort(p)
		efforts[p.ID] = e
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return efforts[ordered[i].ID]["total"] < efforts[ordered[j].ID]["total"]
	})

	results := make([]types.Placement, 0, len(ordered))
	for _, p := range ordered {
		placement := types.Placement{PipelineID: p.ID, Mapping: make(map[string]types.ComponentPlacement), Efforts: efforts[p.ID]}
		needed := sizeNeededKB(datasets, p.Metadata.Dataset)

		for _, c := range p.OrderedComponents() {
			node := selectNodeForComponent(p, c, needed, ledger, nodes)
			placement.Mapping[c.Name] = types.ComponentPlacement{Node: node, Platform: nodes.PlatformOf(node)}
			ledger.Add(node, p.ID, c.Name)
		}
		results = append(results, placement)
	}
	return results, nil
}

func selectNodeForComponent(p *types.Pipeline, c *types.Component, neededKB int64, ledger Ledger, nodes NodeSource) string {
	tiers, accelerate := tiersFor(c, p.Metadata.Model.Type)

	candidates := candidatesInTiers(nodes, tiers)
	fitting := filterByFit(candidates, neededKB, placementOverhead)

	withAffinity := preferAffinity(fitting, p.ID, ledger)
	if len(withAffinity) > 0 {
		fitting = withAffinity
	}

	if len(fitting) == 0 {
		return fallbackHighCPU(nodes, ledger, neededKB)
	}

	return leastLoaded(fitting, accelerate, ledger)
}

func tiersFor(c *types.Component, modelType string) ([]types.WorkerType, bool) {
	if c.Type == types.ComponentPreprocessing {
		return preprocessingTiers, false
	}
	rule, ok := modelRules[modelType]
	if !ok {
		return tiers(types.WorkerLow, types.WorkerMed), false
	}
	if c.Type == types.ComponentEvaluation {
		return rule.evalTiers, rule.accelerate
	}
	return rule.trainTiers, rule.accelerate
}

func candidatesInTiers(nodes NodeSource, ts []types.WorkerType) []*types.Node {
	strs := make([]string, len(ts))
	for i, t := range ts {
		strs[i] = string(t)
	}
	return nodes.List(inventory.ListFilters{"worker_type": strs}, []string{"name"}, false)
}

func filterByFit(candidates []*types.Node, neededKB int64, overhead float64) []*types.Node {
	out := make([]*types.Node, 0, len(candidates))
	for _, n := range candidates {
		if fits(n, neededKB, overhead) {
			out = append(out, n)
		}
	}
	return out
}

// preferAffinity narrows candidates to those that already host an
// assignment for the same pipeline, per the affinity rule; callers
// keep the unfiltered set when this returns empty.
func preferAffinity(candidates []*types.Node, pipelineID string, ledger Ledger) []*types.Node {
	out := make([]*types.Node, 0, len(candidates))
	for _, n := range candidates {
		if ledger.Has(n.Name, pipelineID) {
			out = append(out, n)
		}
	}
	return out
}

// leastLoaded picks the lowest-current-load node. When accelerate is
// set (NN/CNN), nodes are scored 3*has_accelerator - current_load and
// the highest score wins.
func leastLoaded(candidates []*types.Node, accelerate bool, ledger Ledger) string {
	best := candidates[0]
	bestScore := score(best, accelerate, ledger)
	for _, n := range candidates[1:] {
		s := score(n, accelerate, ledger)
		if s > bestScore {
			best, bestScore = n, s
		}
	}
	return best.Name
}

func score(n *types.Node, accelerate bool, ledger Ledger) float64 {
	load := float64(ledger.Count(n.Name))
	if accelerate {
		hasAccel := 0.0
		if n.Accelerator != "" && n.Accelerator != "none" {
			hasAccel = 1.0
		}
		return 3*hasAccel - load
	}
	return -load
}

// fallbackHighCPU returns the least-loaded high-cpu node unconditionally,
// per the custom placer's memory-exhaustion fallback clause. It still
// runs the stricter pre-check so the decision is logged as a forced
// placement, but never refuses to place: with no high-cpu node in the
// inventory it picks the least-loaded node of any tier, and it returns
// "" only when the inventory holds no node at all.
func fallbackHighCPU(nodes NodeSource, ledger Ledger, neededKB int64) string {
	highCPU := nodes.List(inventory.ListFilters{"worker_type": string(types.WorkerHighCPU)}, []string{"name"}, false)
	if len(highCPU) == 0 {
		highCPU = nodes.List(nil, []string{"name"}, false)
		if len(highCPU) == 0 {
			return ""
		}
	}
	if fitting := filterByFit(highCPU, neededKB, strictOverhead); len(fitting) == 0 {
		metrics.ForcedFallbacksTotal.Inc()
		customLogger.Warn().Int64("needed_kb", neededKB).Msg("forced fallback: no high-cpu node fits even under the stricter pre-check")
	}
	return leastLoaded(highCPU, false, ledger)
}
