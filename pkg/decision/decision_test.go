package decision

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/pipeforge/controller/pkg/datasets"
	"github.com/pipeforge/controller/pkg/inventory"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct{ nodes []corev1.Node }

func (f fakeLister) ListNodes(ctx context.Context) ([]corev1.Node, error) { return f.nodes, nil }

func testNode(name string) corev1.Node {
	return corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{inventory.WorkerLabelKey: ""}},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
			Allocatable: corev1.ResourceList{
				corev1.ResourceCPU:    *resource.NewQuantity(4, resource.DecimalSI),
				corev1.ResourceMemory: *resource.NewQuantity(1_000_000_000, resource.BinarySI),
			},
		},
	}
}

func newTestUnit(t *testing.T) (*Unit, *inventory.Inventory) {
	t.Helper()
	inv := inventory.New(fakeLister{nodes: []corev1.Node{testNode("n1"), testNode("n2")}}, nil)
	require.NoError(t, inv.Refresh(context.Background()))
	cat := datasets.New(t.TempDir())
	unit := New("custom", 1, inv, cat)
	return unit, inv
}

func samplePipeline(id string) *types.Pipeline {
	return &types.Pipeline{
		ID:    id,
		Order: []string{"train"},
		Components: map[string]*types.Component{
			"train": {Name: "train", Type: types.ComponentTraining},
		},
		Metadata: types.Metadata{
			Model:   types.ModelDescriptor{Type: "logistic_regression"},
			Dataset: types.DatasetDescriptor{Type: "tabular", Original: types.DatasetVersionDescriptor{NSamples: 10, NFeatures: 2}},
		},
	}
}

func TestGetPlacementsAssignsAndUpdatesLedger(t *testing.T) {
	unit, _ := newTestUnit(t)
	p := samplePipeline("p1")

	placements, err := unit.GetPlacements([]*types.Pipeline{p})
	require.NoError(t, err)
	require.Len(t, placements, 1)

	node := placements[0].Mapping["train"].Node
	require.NotEmpty(t, node)
	assert.True(t, unit.IsNodeNeeded(node, "p1"))
}

func TestRemoveAssignmentClearsNodeNeeded(t *testing.T) {
	unit, _ := newTestUnit(t)
	p := samplePipeline("p1")

	placements, err := unit.GetPlacements([]*types.Pipeline{p})
	require.NoError(t, err)
	node := placements[0].Mapping["train"].Node

	require.True(t, unit.IsNodeNeeded(node, "p1"))
	unit.RemoveAssignment(node, "p1", "train")
	assert.False(t, unit.IsNodeNeeded(node, "p1"))
}

func TestRemoveAssignmentNoopWhenAbsent(t *testing.T) {
	unit, _ := newTestUnit(t)
	assert.NotPanics(t, func() {
		unit.RemoveAssignment("unknown-node", "missing-pipeline", "missing-component")
	})
}

func TestLedgerCountMatchesSetSize(t *testing.T) {
	l := newLedger([]string{"n1"})
	l.Add("n1", "p1", "a")
	l.Add("n1", "p1", "b")
	l.Add("n1", "p1", "a") // duplicate add is idempotent
	assert.Equal(t, 2, l.Count("n1"))
}
