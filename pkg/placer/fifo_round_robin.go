package placer

import "github.com/pipeforge/controller/pkg/types"

// fifoRoundRobin preserves input order and cycles through all nodes,
// skipping any that fail the memory fit test.
type fifoRoundRobin struct{}

func (fifoRoundRobin) Place(pipelines []*types.Pipeline, ledger Ledger, nodes NodeSource, datasets DatasetSource) ([]types.Placement, error) {
	all := nodes.List(nil, []string{"name"}, false)
	if len(all) == 0 {
		return nil, nil
	}

	cursor := 0
	results := make([]types.Placement, 0, len(pipelines))
	for _, p := range pipelines {
		efforts, _ := totalEffort(p)
		placement := types.Placement{PipelineID: p.ID, Mapping: make(map[string]types.ComponentPlacement), Efforts: efforts}
		needed := sizeNeededKB(datasets, p.Metadata.Dataset)

		for _, c := range p.OrderedComponents() {
			node := nextFitting(all, &cursor, needed)
			placement.Mapping[c.Name] = types.ComponentPlacement{Node: node, Platform: nodes.PlatformOf(node)}
			ledger.Add(node, p.ID, c.Name)
		}
		results = append(results, placement)
	}
	return results, nil
}

// nextFitting advances cursor through all (wrapping) until it finds a
// node satisfying the fit test, or exhausts a full cycle and returns
// the cursor's current node regardless (no failure path defined).
func nextFitting(all []*types.Node, cursor *int, neededKB int64) string {
	n := len(all)
	for i := 0; i < n; i++ {
		idx := (*cursor + i) % n
		if fits(all[idx], neededKB, placementOverhead) {
			*cursor = (idx + 1) % n
			return all[idx].Name
		}
	}
	node := all[*cursor%n].Name
	*cursor = (*cursor + 1) % n
	return node
}
