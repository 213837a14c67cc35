package placer

import "github.com/pipeforge/controller/pkg/types"

// fifoGreedy preserves FIFO input order (no shortest-job-first
// reordering) and reuses the custom placer's greedy least-loaded node
// selection per component, including its tier tables, affinity
// preference, and unconditional high-cpu fallback.
type fifoGreedy struct{}

func (fifoGreedy) Place(pipelines []*types.Pipeline, ledger Ledger, nodes NodeSource, datasets DatasetSource) ([]types.Placement, error) {
	results := make([]types.Placement, 0, len(pipelines))
	for _, p := range pipelines {
		efforts, _ := totalEffort(p)
		placement := types.Placement{PipelineID: p.ID, Mapping: make(map[string]types.ComponentPlacement), Efforts: efforts}
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
