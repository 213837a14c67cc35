package placer

import (
	"math/rand"

	"github.com/pipeforge/controller/pkg/types"
)

// fifoRandom preserves input order and picks a uniformly random node
// satisfying the fit test, using a deterministically seeded source.
type fifoRandom struct {
	rng *rand.Rand
}

func newFifoRandom(seed int64) *fifoRandom {
	return &fifoRandom{rng: rand.New(rand.NewSource(seed))}
}

func (f *fifoRandom) Place(pipelines []*types.Pipeline, ledger Ledger, nodes NodeSource, datasets DatasetSource) ([]types.Placement, error) {
	all := nodes.List(nil, []string{"name"}, false)
	if len(all) == 0 {
		return nil, nil
	}

	results := make([]types.Placement, 0, len(pipelines))
	for _, p := range pipelines {
		efforts, _ := totalEffort(p)
		placement := types.Placement{PipelineID: p.ID, Mapping: make(map[string]types.ComponentPlacement), Efforts: efforts}
		needed := sizeNeededKB(datasets, p.Metadata.Dataset)

		for _, c := range p.OrderedComponents() {
			node := f.randomFitting(all, needed)
			placement.Mapping[c.Name] = types.ComponentPlacement{Node: node, Platform: nodes.PlatformOf(node)}
			ledger.Add(node, p.ID, c.Name)
		}
		results = append(results, placement)
	}
	return results, nil
}

func (f *fifoRandom) randomFitting(all []*types.Node, neededKB int64) string {
	fitting := filterByFit(all, neededKB, placementOverhead)
	if len(fitting) == 0 {
		return all[f.rng.Intn(len(all))].Name
	}
	return fitting[f.rng.Intn(len(fitting))].Name
}
