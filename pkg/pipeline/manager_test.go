package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipeforge/controller/pkg/audit"
	"github.com/pipeforge/controller/pkg/backend"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecider struct {
	placements []types.Placement
	placeErr   error
	removed    []string
	nodeNeeded bool
	placeCalls int
}

func (f *fakeDecider) GetPlacements(pipelines []*types.Pipeline) ([]types.Placement, error) {
	f.placeCalls++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.placements, nil
}

func (f *fakeDecider) RemoveAssignment(node, pipelineID, componentName string) {
	f.removed = append(f.removed, node+"/"+pipelineID+"/"+componentName)
}

func (f *fakeDecider) IsNodeNeeded(node, pipelineID string) bool { return f.nodeNeeded }

type fakeNodeManager struct {
	available  bool
	reserved   [][]string
	released   [][]string
	refreshed  int
	refreshErr error
}

func (f *fakeNodeManager) Refresh(ctx context.Context) error {
	f.refreshed++
	return f.refreshErr
}

func (f *fakeNodeManager) Available(names []string) bool { return f.available }
func (f *fakeNodeManager) Reserve(names []string, pipelineID string) {
	f.reserved = append(f.reserved, names)
}
func (f *fakeNodeManager) Release(names []string, pipelineID string) {
	f.released = append(f.released, names)
}

type fakeBackend struct {
	buildErr    error
	dispatchID  string
	dispatchErr error
	runs        []backend.Run
	runsErr     error
}

func (f *fakeBackend) Build(ctx context.Context, dir string, mapping [][2]string) error {
	return f.buildErr
}
func (f *fakeBackend) Dispatch(ctx context.Context, dir string) (string, error) {
	return f.dispatchID, f.dispatchErr
}
func (f *fakeBackend) ListRuns(ctx context.Context) ([]backend.Run, error) {
	return f.runs, f.runsErr
}

type fakeAudit struct {
	entries int
}

func (f *fakeAudit) Append(ts time.Time, eventType audit.EventType, running, waiting int) {
	f.entries++
}

func newTestManager(dec *fakeDecider, nm *fakeNodeManager, be *fakeBackend, au *fakeAudit) *Manager {
	return New(Deps{
		Decision:       dec,
		Inventory:      nm,
		Backend:        be,
		Audit:          au,
		PipelinesDir:   "/tmp/pipectl-test",
		WaitInterval:   time.Second,
		UpdateInterval: time.Second,
	})
}

func TestAddPipelineQueuesAndInfersComponentTypes(t *testing.T) {
	m := newTestManager(&fakeDecider{}, &fakeNodeManager{}, &fakeBackend{}, &fakeAudit{})

	files := []ComponentFile{
		{Filename: "prep.py", Name: "preprocess"},
		{Filename: "train.py", Name: "train"},
		{Filename: "eval.py", Name: "evaluate"},
	}
	p := m.AddPipeline("pipe-1", "my-pipeline", files, types.Metadata{})

	require.Equal(t, types.PipelineQueued, p.State)
	assert.Equal(t, types.ComponentPreprocessing, p.Components["preprocess"].Type)
	assert.Equal(t, types.ComponentTraining, p.Components["train"].Type)
	assert.Equal(t, types.ComponentEvaluation, p.Components["evaluate"].Type)
	assert.Equal(t, []string{"pipe-1"}, m.queue)
}

func TestAddPipelineRejectsZeroComponents(t *testing.T) {
	m := newTestManager(&fakeDecider{}, &fakeNodeManager{}, &fakeBackend{}, &fakeAudit{})

	p := m.AddPipeline("pipe-empty", "empty", []ComponentFile{}, types.Metadata{})

	assert.Equal(t, types.PipelineFailed, p.State)
	assert.Empty(t, m.queue)
	assert.Same(t, p, m.pipelines["pipe-empty"])
}

func TestAddPipelineHonorsDeclaredComponentTypes(t *testing.T) {
	m := newTestManager(&fakeDecider{}, &fakeNodeManager{}, &fakeBackend{}, &fakeAudit{})
	files := []ComponentFile{{Filename: "a.py", Name: "a"}, {Filename: "b.py", Name: "b"}}
	meta := types.Metadata{ComponentTypes: map[string]string{"a": "training", "b": "training"}}

	p := m.AddPipeline("pipe-2", "p", files, meta)
	assert.Equal(t, types.ComponentTraining, p.Components["a"].Type)
	assert.Equal(t, types.ComponentTraining, p.Components["b"].Type)
}

func TestPlacementTickAppliesPlacementsAndMovesToWaiting(t *testing.T) {
	dec := &fakeDecider{}
	be := &fakeBackend{}
	au := &fakeAudit{}
	m := newTestManager(dec, &fakeNodeManager{}, be, au)

	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})
	dec.placements = []types.Placement{
		{
			PipelineID: "pipe-1",
			Mapping:    map[string]types.ComponentPlacement{"a": {Node: "node-1", Platform: "cpu"}},
			Efforts:    map[string]int64{"a": 10, "total": 10},
		},
	}

	m.placementTick()

	assert.Equal(t, 1, dec.placeCalls)
	assert.Equal(t, types.PipelineWaiting, p.State)
	assert.Equal(t, "node-1", p.Components["a"].Node)
	assert.Equal(t, int64(10), p.TotalEffort)
	assert.Equal(t, []string{"pipe-1"}, m.waiting)
	assert.Empty(t, m.queue)
	assert.Equal(t, 1, au.entries)
}

// TestPlacementTickPreservesSJFWaitingOrder mirrors spec scenario
// S1: a batch of {A: 1e8, B: 1e6, C: 1e7} submitted in that order
// must yield waiting-list order B, C, A, since the custom placer
// returns placements already sorted by ascending total_effort and
// the tick must not re-sort them back to submission order.
func TestPlacementTickPreservesSJFWaitingOrder(t *testing.T) {
	dec := &fakeDecider{}
	m := newTestManager(dec, &fakeNodeManager{}, &fakeBackend{}, &fakeAudit{})

	m.AddPipeline("pipe-a", "a", []ComponentFile{{Filename: "x.py", Name: "x"}}, types.Metadata{})
	m.AddPipeline("pipe-b", "b", []ComponentFile{{Filename: "x.py", Name: "x"}}, types.Metadata{})
	m.AddPipeline("pipe-c", "c", []ComponentFile{{Filename: "x.py", Name: "x"}}, types.Metadata{})

	mapping := func(id string, effort int64) types.Placement {
		return types.Placement{
			PipelineID: id,
			Mapping:    map[string]types.ComponentPlacement{"x": {Node: "node-1", Platform: "cpu"}},
			Efforts:    map[string]int64{"x": effort, "total": effort},
		}
	}
	dec.placements = []types.Placement{
		mapping("pipe-b", 1e6),
		mapping("pipe-c", 1e7),
		mapping("pipe-a", 1e8),
	}

	m.placementTick()

	assert.Equal(t, []string{"pipe-b", "pipe-c", "pipe-a"}, m.waiting)
}

func TestPlacementTickRequeuesBatchOnPlacerError(t *testing.T) {
	dec := &fakeDecider{placeErr: errors.New("no fit")}
	m := newTestManager(dec, &fakeNodeManager{}, &fakeBackend{}, &fakeAudit{})
	m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})

	m.placementTick()

	assert.Equal(t, []string{"pipe-1"}, m.queue)
	assert.Empty(t, m.waiting)
}

func TestPlacementTickMarksFailedOnBuildError(t *testing.T) {
	dec := &fakeDecider{placements: []types.Placement{{
		PipelineID: "pipe-1",
		Mapping:    map[string]types.ComponentPlacement{"a": {Node: "node-1", Platform: "cpu"}},
		Efforts:    map[string]int64{"a": 1, "total": 1},
	}}}
	be := &fakeBackend{buildErr: errors.New("boom")}
	m := newTestManager(dec, &fakeNodeManager{}, be, &fakeAudit{})
	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})

	m.placementTick()

	assert.Equal(t, types.PipelineFailed, p.State)
	assert.Empty(t, m.waiting)
}

func TestPlacementTickNoopWhenQueueEmpty(t *testing.T) {
	dec := &fakeDecider{}
	m := newTestManager(dec, &fakeNodeManager{}, &fakeBackend{}, &fakeAudit{})
	m.placementTick()
	assert.Equal(t, 0, dec.placeCalls)
}

func TestAdmitWaitingDispatchesWhenNodesAvailable(t *testing.T) {
	dec := &fakeDecider{}
	nm := &fakeNodeManager{available: true}
	be := &fakeBackend{dispatchID: "run-1"}
	au := &fakeAudit{}
	m := newTestManager(dec, nm, be, au)

	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})
	p.Components["a"].Node = "node-1"
	p.State = types.PipelineWaiting
	m.waiting = []string{"pipe-1"}

	m.mu.Lock()
	m.admitWaiting()
	m.mu.Unlock()

	assert.Equal(t, types.PipelineRunning, p.State)
	assert.Equal(t, "run-1", p.BackendRunID)
	assert.Empty(t, m.waiting)
	assert.Len(t, nm.reserved, 1)
	_, running := m.running["pipe-1"]
	assert.True(t, running)
}

func TestAdmitWaitingLeavesPipelineOnListWhenNodesBusy(t *testing.T) {
	dec := &fakeDecider{}
	nm := &fakeNodeManager{available: false}
	m := newTestManager(dec, nm, &fakeBackend{}, &fakeAudit{})

	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})
	p.Components["a"].Node = "node-1"
	m.waiting = []string{"pipe-1"}

	m.mu.Lock()
	m.admitWaiting()
	m.mu.Unlock()

	assert.Equal(t, []string{"pipe-1"}, m.waiting)
	assert.Empty(t, nm.reserved)
}

func TestAdmitWaitingMarksFailedOnDispatchError(t *testing.T) {
	dec := &fakeDecider{}
	nm := &fakeNodeManager{available: true}
	be := &fakeBackend{dispatchErr: errors.New("dispatch boom")}
	m := newTestManager(dec, nm, be, &fakeAudit{})

	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})
	p.Components["a"].Node = "node-1"
	m.waiting = []string{"pipe-1"}

	m.mu.Lock()
	m.admitWaiting()
	m.mu.Unlock()

	assert.Equal(t, types.PipelineFailed, p.State)
	assert.Len(t, nm.released, 1)
	_, running := m.running["pipe-1"]
	assert.False(t, running)
}

func TestPollAndUpdateTransitionsComponentAndReleasesNode(t *testing.T) {
	dec := &fakeDecider{}
	nm := &fakeNodeManager{}
	m := newTestManager(dec, nm, &fakeBackend{}, &fakeAudit{})

	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})
	p.Components["a"].Node = "node-1"
	p.BackendRunID = "run-1"
	m.running["pipe-1"] = struct{}{}

	runs := []backend.Run{{
		RunID: "run-1",
		State: "SUCCEEDED",
		RunDetails: backend.RunDetails{
			TaskDetails: []backend.TaskDetail{{DisplayName: "a", State: "SUCCEEDED"}},
		},
	}}

	m.mu.Lock()
	m.pollAndUpdate(runs)
	m.mu.Unlock()

	assert.Equal(t, types.ComponentSucceeded, p.Components["a"].State)
	assert.Equal(t, types.PipelineSucceeded, p.State)
	assert.Contains(t, dec.removed, "node-1/pipe-1/a")
}

func TestTerminateFinishedEvictsAndReleasesReservations(t *testing.T) {
	dec := &fakeDecider{}
	nm := &fakeNodeManager{}
	m := newTestManager(dec, nm, &fakeBackend{}, &fakeAudit{})

	p := m.AddPipeline("pipe-1", "p", []ComponentFile{{Filename: "a.py", Name: "a"}}, types.Metadata{})
	p.Components["a"].Node = "node-1"
	p.State = types.PipelineSucceeded
	m.running["pipe-1"] = struct{}{}

	m.mu.Lock()
	m.terminateFinished()
	m.mu.Unlock()

	_, stillRunning := m.running["pipe-1"]
	assert.False(t, stillRunning)
	assert.Len(t, nm.released, 1)
	assert.Equal(t, []string{"node-1"}, nm.released[0])
}

func TestLoopGuardDropsOverlappingTick(t *testing.T) {
	var g loopGuard
	require.True(t, g.tryEnter())
	assert.False(t, g.tryEnter())
	g.exit()
	assert.True(t, g.tryEnter())
}
