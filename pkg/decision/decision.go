// Package decision implements the Decision Unit: it owns the
// assignment ledger and delegates node selection to a configured
// Placer strategy.
package decision

import (
	"fmt"
	"sync"

	"github.com/pipeforge/controller/pkg/inventory"
	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/placer"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/rs/zerolog"
)

// assignmentKey identifies one (pipelineId, componentName) pair.
type assignmentKey struct {
	pipelineID    string
	componentName string
}

// ledger is the Decision Unit's assignment book: per node, the set of
// components it hosts and a count kept in lockstep with that set's
// size.
type ledger struct {
	mu     sync.Mutex
	byNode map[string]map[assignmentKey]struct{}
}

func newLedger(nodeNames []string) *ledger {
	l := &ledger{byNode: make(map[string]map[assignmentKey]struct{}, len(nodeNames))}
	for _, n := range nodeNames {
		l.byNode[n] = make(map[assignmentKey]struct{})
	}
	return l
}

// Count implements placer.Ledger.
func (l *ledger) Count(node string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byNode[node])
}

// Add implements placer.Ledger.
func (l *ledger) Add(node, pipelineID, componentName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.byNode[node]
	if !ok {
		set = make(map[assignmentKey]struct{})
		l.byNode[node] = set
	}
	set[assignmentKey{pipelineID, componentName}] = struct{}{}
}

// Has implements placer.Ledger: true iff node already hosts any
// component of pipelineID.
func (l *ledger) Has(node, pipelineID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.byNode[node] {
		if key.pipelineID == pipelineID {
			return true
		}
	}
	return false
}

// remove deletes the (pipelineID, componentName) entry from node, if
// present. No-op otherwise.
func (l *ledger) remove(node, pipelineID, componentName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.byNode[node]
	if !ok {
		return
	}
	delete(set, assignmentKey{pipelineID, componentName})
}

// isNodeNeeded reports whether any remaining entry on node belongs to
// pipelineID.
func (l *ledger) isNodeNeeded(node, pipelineID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.byNode[node] {
		if key.pipelineID == pipelineID {
			return true
		}
	}
	return false
}

// Unit is the Decision Unit: it owns the ledger and the active Placer
// strategy, selected once at startup.
type Unit struct {
	ledger  *ledger
	placer  placer.Placer
	nodes   placer.NodeSource
	dataset placer.DatasetSource
	logger  zerolog.Logger
}

// New initializes the ledger from the current inventory (one empty
// set and zero count per known node) and selects placerName as the
// active strategy. The inventory must already be refreshed.
func New(placerName string, seed int64, nodes *inventory.Inventory, datasets placer.DatasetSource) *Unit {
	known := nodes.List(nil, nil, false)
	names := make([]string, 0, len(known))
	for _, n := range known {
		names = append(names, n.Name)
	}

	return &Unit{
		ledger:  newLedger(names),
		placer:  placer.New(placerName, seed),
		nodes:   nodes,
		dataset: datasets,
		logger:  log.WithComponent("decision-unit"),
	}
}

// GetPlacements is pure delegation to the active placer.
func (u *Unit) GetPlacements(pipelines []*types.Pipeline) ([]types.Placement, error) {
	placements, err := u.placer.Place(pipelines, u.ledger, u.nodes, u.dataset)
	if err != nil {
		return nil, fmt.Errorf("decision: placement failed: %w", err)
	}
	return placements, nil
}

// RemoveAssignment removes the (pipelineID, componentName) entry from
// node. No-op if absent.
func (u *Unit) RemoveAssignment(node, pipelineID, componentName string) {
	u.ledger.remove(node, pipelineID, componentName)
	u.logger.Debug().Str("node", node).Str("pipeline_id", pipelineID).Str("component", componentName).
		Msg("removed assignment from ledger")
}

// IsNodeNeeded reports whether node still hosts any component of
// pipelineID.
func (u *Unit) IsNodeNeeded(node, pipelineID string) bool {
	return u.ledger.isNodeNeeded(node, pipelineID)
}
