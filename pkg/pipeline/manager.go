// Package pipeline implements the Pipeline Manager: it holds every
// submitted Pipeline and its Components, and runs the two serial,
// non-overlapping control loops that place, dispatch, and reconcile
// them against the backend.
package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipeforge/controller/pkg/audit"
	"github.com/pipeforge/controller/pkg/backend"
	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/metrics"
	"github.com/pipeforge/controller/pkg/storage"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/rs/zerolog"
)

// ComponentFile is one uploaded source file, already canonicalized to
// its component name by the submission handler.
type ComponentFile struct {
	Filename string
	Name     string
}

// Decider is the subset of the Decision Unit the manager needs: batch
// placement plus ledger cleanup as components and pipelines finish.
type Decider interface {
	GetPlacements(pipelines []*types.Pipeline) ([]types.Placement, error)
	RemoveAssignment(node, pipelineID, componentName string)
	IsNodeNeeded(node, pipelineID string) bool
}

// NodeManager is the subset of the Node Inventory the manager drives:
// reservation mediation plus the periodic refresh the placement loop
// triggers (spec's "update_nodes" call) before every placement batch.
type NodeManager interface {
	Refresh(ctx context.Context) error
	Available(names []string) bool
	Reserve(names []string, pipelineID string)
	Release(names []string, pipelineID string)
}

// BackendClient is the subset of the backend Client the manager
// drives: build, dispatch, and poll.
type BackendClient interface {
	Build(ctx context.Context, pipelineDir string, mapping [][2]string) error
	Dispatch(ctx context.Context, pipelineDir string) (string, error)
	ListRuns(ctx context.Context) ([]backend.Run, error)
}

// AuditLog is the subset of the audit Log the manager appends to.
type AuditLog interface {
	Append(ts time.Time, eventType audit.EventType, runningCount, waitingCount int)
}

// loopGuard is a non-blocking mutual-exclusion flag: a tick that finds
// the loop already busy is dropped rather than queued.
type loopGuard struct{ busy int32 }

func (g *loopGuard) tryEnter() bool { return atomic.CompareAndSwapInt32(&g.busy, 0, 1) }
func (g *loopGuard) exit()          { atomic.StoreInt32(&g.busy, 0) }

// Manager owns every Pipeline and the submission queue, waiting list,
// and running set that move pipelines through their lifecycle.
type Manager struct {
	mu sync.Mutex

	pipelines map[string]*types.Pipeline
	queue     []string
	waiting   []string
	running   map[string]struct{}

	timeWindow int64

	decision  Decider
	inventory NodeManager
	backend   BackendClient
	audit     AuditLog
	store     storage.Store

	pipelinesDir   string
	waitInterval   time.Duration
	updateInterval time.Duration

	placementGuard  loopGuard
	reconcileGuard  loopGuard
	stopCh          chan struct{}
	logger          zerolog.Logger
}

// Deps bundles the collaborators a Manager needs.
type Deps struct {
	Decision       Decider
	Inventory      NodeManager
	Backend        BackendClient
	Audit          AuditLog
	Store          storage.Store
	PipelinesDir   string
	WaitInterval   time.Duration
	UpdateInterval time.Duration
}

// New constructs a Manager with empty collections.
func New(deps Deps) *Manager {
	return &Manager{
		pipelines:      make(map[string]*types.Pipeline),
		running:        make(map[string]struct{}),
		decision:       deps.Decision,
		inventory:      deps.Inventory,
		backend:        deps.Backend,
		audit:          deps.Audit,
		store:          deps.Store,
		pipelinesDir:   deps.PipelinesDir,
		waitInterval:   deps.WaitInterval,
		updateInterval: deps.UpdateInterval,
		stopCh:         make(chan struct{}),
		logger:         log.WithComponent("pipeline-manager"),
	}
}

// AddPipeline registers a newly submitted pipeline in QUEUED state and
// enqueues it for the next placement tick. metadata.ComponentTypes maps
// component name to its declared type tag; any component absent from
// it is inferred by position (first = preprocessing, last =
// evaluation, interior = training).
//
// A submission with zero components is rejected outright: it is
// stored as FAILED and never queued, so it can never reach the
// placer and never becomes WAITING.
func (m *Manager) AddPipeline(id, name string, files []ComponentFile, metadata types.Metadata) *types.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := make([]string, 0, len(files))
	components := make(map[string]*types.Component, len(files))
	for i, f := range files {
		order = append(order, f.Name)
		components[f.Name] = &types.Component{
			Name:       f.Name,
			SourceFile: f.Filename,
			Type:       componentTypeFor(f.Name, i, len(files), metadata.ComponentTypes),
			State:      types.ComponentPending,
		}
	}

	now := time.Now()
	p := &types.Pipeline{
		ID:          id,
		Name:        name,
		SubmittedAt: now,
		LastUpdate:  now,
		Order:       order,
		Components:  components,
		Metadata:    metadata,
	}

	if len(order) == 0 {
		p.State = types.PipelineFailed
		m.pipelines[id] = p
		m.persist(p)
		m.logger.Warn().Str("pipeline_id", id).Msg("rejected pipeline with zero components")
		return p
	}

	p.State = types.PipelineQueued
	m.pipelines[id] = p
	m.queue = append(m.queue, id)
	m.persist(p)
	metrics.PipelinesQueued.Set(float64(len(m.queue)))
	return p
}

func componentTypeFor(name string, index, total int, declared map[string]string) types.ComponentType {
	if declared != nil {
		if raw, ok := declared[name]; ok {
			switch types.ComponentType(raw) {
			case types.ComponentPreprocessing, types.ComponentTraining, types.ComponentEvaluation:
				return types.ComponentType(raw)
			}
		}
	}
	switch {
	case index == 0:
		return types.ComponentPreprocessing
	case index == total-1:
		return types.ComponentEvaluation
	default:
		return types.ComponentTraining
	}
}

// Get returns the pipeline by id, or nil.
func (m *Manager) Get(id string) *types.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelines[id]
}

// All returns every pipeline currently held, for the shutdown dump.
func (m *Manager) All() []*types.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	return out
}

func (m *Manager) persist(p *types.Pipeline) {
	if m.store == nil {
		return
	}
	if err := m.store.PutPipeline(p); err != nil {
		m.logger.Error().Err(err).Str("pipeline_id", p.ID).Msg("failed to persist pipeline")
	}
}

// Start launches both control loops as background goroutines.
func (m *Manager) Start() {
	go m.runPlacementLoop()
	go m.runReconciliationLoop()
}

// Stop signals both loops to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pipelineDir(root, id string) string {
	return filepath.Join(root, id)
}

func uniqueNodes(p *types.Pipeline) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range p.OrderedComponents() {
		if c.Node == "" {
			continue
		}
		if _, ok := seen[c.Node]; !ok {
			seen[c.Node] = struct{}{}
			out = append(out, c.Node)
		}
	}
	return out
}
