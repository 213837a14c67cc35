package placer

import (
	"math/rand"

	"github.com/pipeforge/controller/pkg/types"
)

// randomRandom shuffles the incoming pipeline order and then picks a
// random fitting node per component.
type randomRandom struct {
	rng *rand.Rand
}

func newRandomRandom(seed int64) *randomRandom {
	return &randomRandom{rng: rand.New(rand.NewSource(seed))}
}

func (r *randomRandom) Place(pipelines []*types.Pipeline, ledger Ledger, nodes NodeSource, datasets DatasetSource) ([]types.Placement, error) {
	all := nodes.List(nil, []string{"name"}, false)
	if len(all) == 0 {
		return nil, nil
	}

	shuffled := make([]*types.Pipeline, len(pipelines))
	copy(shuffled, pipelines)
	r.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	results := make([]types.Placement, 0, len(shuffled))
	for _, p := range shuffled {
		efforts, _ := totalEffort(p)
		placement := types.Placement{PipelineID: p.ID, Mapping: make(map[string]types.ComponentPlacement), Efforts: efforts}
		needed := sizeNeededKB(datasets, p.Metadata.Dataset)

		for _, c := range p.OrderedComponents() {
			fitting := filterByFit(all, needed, placementOverhead)
			var node string
			if len(fitting) == 0 {
				node = all[r.rng.Intn(len(all))].Name
			} else {
				node = fitting[r.rng.Intn(len(fitting))].Name
			}
			placement.Mapping[c.Name] = types.ComponentPlacement{Node: node, Platform: nodes.PlatformOf(node)}
			ledger.Add(node, p.ID, c.Name)
		}
		results = append(results, placement)
	}
	return results, nil
}
