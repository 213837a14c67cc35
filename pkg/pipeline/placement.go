package pipeline

import (
	"context"
	"time"

	"github.com/pipeforge/controller/pkg/audit"
	"github.com/pipeforge/controller/pkg/metrics"
	"github.com/pipeforge/controller/pkg/types"
)

func (m *Manager) runPlacementLoop() {
	ticker := time.NewTicker(m.waitInterval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.waitInterval).Msg("placement loop started")
	for {
		select {
		case <-ticker.C:
			if !m.placementGuard.tryEnter() {
				metrics.LoopTicksSkipped.WithLabelValues("placement").Inc()
				continue
			}
			m.placementTick()
			m.placementGuard.exit()
		case <-m.stopCh:
			m.logger.Info().Msg("placement loop stopped")
			return
		}
	}
}

// placementTick holds the coarse lock for its full duration, including
// the blocking build subprocess calls, per the single-mutex
// concurrency model: handlers and the reconciliation loop never
// observe a partially-applied batch.
func (m *Manager) placementTick() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.PlacementLoopDuration)
		metrics.PlacementCyclesTotal.Inc()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return
	}

	ctx := context.Background()
	if err := m.inventory.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("node inventory refresh failed, placing against prior snapshot")
		metrics.UpdateComponent("inventory", false, err.Error())
	} else {
		metrics.UpdateComponent("inventory", true, "")
	}

	batchIDs := m.queue
	m.queue = nil
	m.timeWindow++

	batch := make([]*types.Pipeline, 0, len(batchIDs))
	for _, id := range batchIDs {
		p := m.pipelines[id]
		if p == nil {
			continue
		}
		p.TimeWindow = m.timeWindow
		batch = append(batch, p)
	}

	placements, err := m.decision.GetPlacements(batch)
	if err != nil {
		m.logger.Error().Err(err).Msg("placement failed for batch, pipelines remain queued")
		m.queue = append(batchIDs, m.queue...)
		return
	}

	// placements comes back in the placer's own order, which for the
	// custom placer is shortest-effort-first. Apply and build in that
	// order, not batch's submission order, so the waiting list
	// preserves the placer's order (SJF under the custom placer).
	for _, pl := range placements {
		p := m.pipelines[pl.PipelineID]
		if p == nil {
			continue
		}
		m.applyPlacementAndBuild(ctx, p, pl)
	}

	metrics.PipelinesQueued.Set(float64(len(m.queue)))
	metrics.PipelinesWaiting.Set(float64(len(m.waiting)))
	m.audit.Append(time.Now(), audit.EventNewWindow, len(m.running), len(m.waiting))
}

func (m *Manager) applyPlacementAndBuild(ctx context.Context, p *types.Pipeline, placement types.Placement) {
	mapping := make([][2]string, 0, len(p.Order))
	for _, c := range p.OrderedComponents() {
		cp, ok := placement.Mapping[c.Name]
		if !ok {
			continue
		}
		c.Node = cp.Node
		c.Platform = cp.Platform
		c.Effort = placement.Efforts[c.Name]
		mapping = append(mapping, [2]string{cp.Node, cp.Platform})
	}
	p.TotalEffort = placement.Efforts["total"]
	p.LastUpdate = time.Now()

	dir := pipelineDir(m.pipelinesDir, p.ID)
	if err := m.backend.Build(ctx, dir, mapping); err != nil {
		metrics.BuildFailuresTotal.Inc()
		p.State = types.PipelineFailed
		m.logger.Error().Err(err).Str("pipeline_id", p.ID).Msg("build failed, pipeline marked FAILED")
		m.persist(p)
		return
	}

	p.State = types.PipelineWaiting
	m.waiting = append(m.waiting, p.ID)
	m.persist(p)
}
