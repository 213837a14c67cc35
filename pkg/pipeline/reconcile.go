package pipeline

import (
	"context"
	"time"

	"github.com/pipeforge/controller/pkg/audit"
	"github.com/pipeforge/controller/pkg/backend"
	"github.com/pipeforge/controller/pkg/metrics"
	"github.com/pipeforge/controller/pkg/types"
)

func (m *Manager) runReconciliationLoop() {
	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.updateInterval).Msg("reconciliation loop started")
	for {
		select {
		case <-ticker.C:
			if !m.reconcileGuard.tryEnter() {
				metrics.LoopTicksSkipped.WithLabelValues("reconciliation").Inc()
				continue
			}
			m.reconcileTick()
			m.reconcileGuard.exit()
		case <-m.stopCh:
			m.logger.Info().Msg("reconciliation loop stopped")
			return
		}
	}
}

// reconcileTick runs the three ordered phases under the single coarse
// lock for its full duration: poll/update, terminate, admit. A failed
// poll aborts the whole tick — stale state is safer than acting on a
// half-updated one.
func (m *Manager) reconcileTick() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationLoopDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	runs, err := m.backend.ListRuns(context.Background())
	if err != nil {
		metrics.BackendPollFailuresTotal.Inc()
		m.logger.Error().Err(err).Msg("backend poll failed, skipping reconciliation tick")
		metrics.UpdateComponent("backend", false, err.Error())
		return
	}
	metrics.UpdateComponent("backend", true, "")

	m.pollAndUpdate(runs)
	m.terminateFinished()
	m.admitWaiting()

	metrics.PipelinesRunning.Set(float64(len(m.running)))
	metrics.PipelinesWaiting.Set(float64(len(m.waiting)))
	m.audit.Append(time.Now(), audit.EventUpdate, len(m.running), len(m.waiting))
}

// pollAndUpdate resolves each running pipeline's backend run id lazily,
// then folds the matching run's state into the pipeline and its
// components.
func (m *Manager) pollAndUpdate(runs []backend.Run) {
	runByID := make(map[string]backend.Run, len(runs))
	for _, r := range runs {
		runByID[r.RunID] = r
	}

	for id := range m.running {
		p := m.pipelines[id]
		if p == nil {
			continue
		}
		if p.BackendRunID == "" {
			runID, ok := backend.ResolveRunID(runs, p.ID)
			if !ok {
				continue
			}
			p.BackendRunID = runID
		}
		run, ok := runByID[p.BackendRunID]
		if !ok {
			continue
		}
		m.updatePipelineFromRun(p, run)
	}
}

func (m *Manager) updatePipelineFromRun(p *types.Pipeline, run backend.Run) {
	if sched := backend.NormalizeTime(run.ScheduledAt); sched != nil {
		p.ScheduledAt = sched
	}
	if fin := backend.NormalizeTime(run.FinishedAt); fin != nil {
		p.FinishedAt = fin
	}

	taskByName := make(map[string]backend.TaskDetail, len(run.RunDetails.TaskDetails))
	for _, td := range run.RunDetails.TaskDetails {
		taskByName[td.DisplayName] = td
	}

	for _, c := range p.OrderedComponents() {
		td, ok := taskByName[c.Name]
		if !ok {
			continue
		}
		wasTerminal := c.State.Terminal()
		c.State = componentStateFromBackend(td.State)
		c.StartTime = backend.NormalizeTime(td.StartTime)
		c.EndTime = backend.NormalizeTime(td.EndTime)
		if c.StartTime != nil && c.EndTime != nil {
			d := round2(c.EndTime.Sub(*c.StartTime).Seconds())
			c.Duration = &d
		}

		if !wasTerminal && c.State == types.ComponentSucceeded && c.Node != "" {
			m.decision.RemoveAssignment(c.Node, p.ID, c.Name)
			if !m.decision.IsNodeNeeded(c.Node, p.ID) {
				m.inventory.Release([]string{c.Node}, p.ID)
			}
		}
	}

	if terminal, known := backend.TerminalStates[run.State]; known && terminal {
		if allComponentsSucceeded(p) {
			p.State = types.PipelineSucceeded
		} else {
			p.State = types.PipelineFailed
		}
		if p.Duration == nil && p.ScheduledAt != nil && p.FinishedAt != nil {
			d := round2(p.FinishedAt.Sub(*p.ScheduledAt).Seconds())
			p.Duration = &d
		}
	} else {
		p.State = types.PipelineRunning
	}
	p.LastUpdate = time.Now()
	m.persist(p)
}

func componentStateFromBackend(state string) types.ComponentState {
	switch state {
	case "SUCCEEDED":
		return types.ComponentSucceeded
	case "FAILED":
		return types.ComponentFailed
	case "RUNNING":
		return types.ComponentRunning
	default:
		return types.ComponentPending
	}
}

func allComponentsSucceeded(p *types.Pipeline) bool {
	for _, c := range p.OrderedComponents() {
		if c.State != types.ComponentSucceeded {
			return false
		}
	}
	return true
}

// terminateFinished evicts every running pipeline that reached a
// terminal state this tick, clearing its remaining ledger entries and
// node reservations.
func (m *Manager) terminateFinished() {
	for id := range m.running {
		p := m.pipelines[id]
		if p == nil || !p.State.Terminal() {
			continue
		}
		for _, c := range p.OrderedComponents() {
			if c.Node == "" {
				continue
			}
			m.decision.RemoveAssignment(c.Node, p.ID, c.Name)
		}
		m.inventory.Release(uniqueNodes(p), p.ID)
		delete(m.running, id)
		metrics.PipelinesTotal.WithLabelValues(string(p.State)).Inc()
		m.persist(p)
	}
}

// admitWaiting walks the waiting list in order, dispatching any
// pipeline whose placed nodes are all currently available. Entries
// that cannot yet be admitted stay on the list in place.
func (m *Manager) admitWaiting() {
	ctx := context.Background()
	var stillWaiting []string
	for _, id := range m.waiting {
		p := m.pipelines[id]
		if p == nil {
			continue
		}
		nodes := uniqueNodes(p)
		if !m.inventory.Available(nodes) {
			stillWaiting = append(stillWaiting, id)
			continue
		}

		m.inventory.Reserve(nodes, p.ID)
		dir := pipelineDir(m.pipelinesDir, p.ID)
		runID, err := m.backend.Dispatch(ctx, dir)
		if err != nil {
			metrics.DispatchFailuresTotal.Inc()
			m.logger.Error().Err(err).Str("pipeline_id", p.ID).Msg("dispatch failed, pipeline marked FAILED")
			p.State = types.PipelineFailed
			m.inventory.Release(nodes, p.ID)
			metrics.PipelinesTotal.WithLabelValues(string(p.State)).Inc()
			m.persist(p)
			continue
		}

		now := time.Now()
		p.BackendRunID = runID
		p.State = types.PipelineRunning
		p.ScheduledAt = &now
		p.LastUpdate = now
		m.running[p.ID] = struct{}{}
		m.persist(p)
	}
	m.waiting = stillWaiting
}
