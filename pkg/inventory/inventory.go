// Package inventory implements the Node Inventory: it discovers
// worker nodes from the cluster, refreshes their capacity and live
// memory usage, and mediates single-owner reservations.
package inventory

import (
	"context"
	"sort"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/pipeforge/controller/pkg/log"
	"github.com/pipeforge/controller/pkg/types"
	"github.com/rs/zerolog"
)

// WorkerLabelKey is the node label gating admission into the
// inventory, alongside the node's Ready condition.
const WorkerLabelKey = "node-role.kubernetes.io/worker"

// NodeLister is the read-only cluster inventory source: anything that
// can list corev1.Node objects. NewClientsetLister adapts a
// kubernetes.Interface to it, and tests supply a fake.
type NodeLister interface {
	ListNodes(ctx context.Context) ([]corev1.Node, error)
}

type clientsetLister struct {
	clientset kubernetes.Interface
}

func (l clientsetLister) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	list, err := l.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// NewClientsetLister wraps a client-go clientset as a NodeLister.
func NewClientsetLister(clientset kubernetes.Interface) NodeLister {
	return clientsetLister{clientset: clientset}
}

// MetricsSource issues the two PromQL queries the memory-usage
// derivation needs, per node. A failed query is not fatal: the
// Inventory treats it as 0.0 usage.
type MetricsSource interface {
	FreeMemoryKB(ctx context.Context, instance string) (float64, error)
	BackendContainerUsageKB(ctx context.Context, instance string) (float64, error)
}

// Inventory owns the node map and the occupation map (reservations).
type Inventory struct {
	lister  NodeLister
	metrics MetricsSource
	logger  zerolog.Logger

	mu         sync.RWMutex
	nodes      map[string]*types.Node
	occupation map[string]string // node -> pipelineId, empty = free
}

// New creates an Inventory backed by the given cluster lister and
// metrics source.
func New(lister NodeLister, metrics MetricsSource) *Inventory {
	return &Inventory{
		lister:     lister,
		metrics:    metrics,
		logger:     log.WithComponent("node-inventory"),
		nodes:      make(map[string]*types.Node),
		occupation: make(map[string]string),
	}
}

// Refresh rebuilds the node map from the cluster inventory source.
// Only nodes whose worker label is present and whose Ready condition
// is true are admitted. A failed listing leaves the prior map intact.
func (inv *Inventory) Refresh(ctx context.Context) error {
	k8sNodes, err := inv.lister.ListNodes(ctx)
	if err != nil {
		inv.logger.Error().Err(err).Msg("failed to list cluster nodes, keeping prior inventory")
		return err
	}

	next := make(map[string]*types.Node, len(k8sNodes))
	for _, n := range k8sNodes {
		if !isWorker(n) || !isReady(n) {
			continue
		}

		node := &types.Node{
			Name:         n.Name,
			IP:           nodeIP(n),
			CPUCores:     cpuCores(n),
			MemoryKB:     memoryKB(n),
			Accelerator:  labelOrDefault(n.Labels, "accelerator", "none"),
			Architecture: labelOrDefault(n.Labels, "kubernetes.io/arch", "amd64"),
			WorkerType:   workerType(n),
			Ready:        true,
		}
		node.MemoryUsage = inv.deriveMemoryUsage(ctx, node)
		next[node.Name] = node
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.nodes = next
	for name := range next {
		if _, ok := inv.occupation[name]; !ok {
			inv.occupation[name] = ""
		}
	}
	for name := range inv.occupation {
		if _, ok := next[name]; !ok {
			delete(inv.occupation, name)
		}
	}
	return nil
}

// deriveMemoryUsage computes:
//
//	(total - avg_free_5m - avg_backend_container_usage_5m) / total
//
// rounded to two decimals. A failed metric query for one node yields
// 0.0 usage for that node (optimistic), not fatal.
func (inv *Inventory) deriveMemoryUsage(ctx context.Context, node *types.Node) float64 {
	if inv.metrics == nil || node.MemoryKB <= 0 {
		return 0
	}

	instance := node.IP
	free, err := inv.metrics.FreeMemoryKB(ctx, instance)
	if err != nil {
		inv.logger.Warn().Err(err).Str("node", node.Name).Msg("free memory query failed, using 0.0 usage")
		return 0
	}
	backendUsage, err := inv.metrics.BackendContainerUsageKB(ctx, instance)
	if err != nil {
		inv.logger.Warn().Err(err).Str("node", node.Name).Msg("backend container usage query failed, using 0.0 usage")
		return 0
	}

	total := float64(node.MemoryKB)
	usage := (total - free - backendUsage) / total
	return roundTo2(usage)
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// ListFilters selects nodes by equality or set-membership on a field.
// A slice value means set-membership; any other value means equality.
type ListFilters map[string]interface{}

// List filters by equality or set-membership on any attribute, then
// sorts lexicographically over the listed keys.
func (inv *Inventory) List(filters ListFilters, sortKeys []string, descending bool) []*types.Node {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]*types.Node, 0, len(inv.nodes))
	for _, n := range inv.nodes {
		if matches(n, filters) {
			cp := *n
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		less := lessByKeys(out[i], out[j], sortKeys)
		if descending {
			return !less && !equalByKeys(out[i], out[j], sortKeys)
		}
		return less
	})
	return out
}

func matches(n *types.Node, filters ListFilters) bool {
	for key, want := range filters {
		got := fieldValue(n, key)
		switch w := want.(type) {
		case []string:
			found := false
			for _, v := range w {
				if v == got {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmtValue(want) != got {
				return false
			}
		}
	}
	return true
}

func fmtValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}

func fieldValue(n *types.Node, key string) string {
	switch key {
	case "name":
		return n.Name
	case "ip":
		return n.IP
	case "accelerator":
		return n.Accelerator
	case "architecture":
		return n.Architecture
	case "worker_type":
		return string(n.WorkerType)
	default:
		return ""
	}
}

func lessByKeys(a, b *types.Node, keys []string) bool {
	for _, k := range keys {
		av, bv := fieldValue(a, k), fieldValue(b, k)
		if av != bv {
			return av < bv
		}
	}
	return false
}

func equalByKeys(a, b *types.Node, keys []string) bool {
	for _, k := range keys {
		if fieldValue(a, k) != fieldValue(b, k) {
			return false
		}
	}
	return true
}

// ByName returns the named node, or nil if unknown.
func (inv *Inventory) ByName(name string) *types.Node {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	n, ok := inv.nodes[name]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// PlatformOf returns the accelerator tag if non-"none", else the
// architecture tag. Used to tag built container images.
func (inv *Inventory) PlatformOf(name string) string {
	n := inv.ByName(name)
	if n == nil {
		return ""
	}
	return n.Platform()
}

// Available reports whether every listed node currently has a null
// occupation.
func (inv *Inventory) Available(names []string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	for _, n := range names {
		if owner, ok := inv.occupation[n]; ok && owner != "" {
			return false
		}
	}
	return true
}

// Reserve sets occupation[n] = pipelineID on each named node
// unconditionally. Callers must check Available first.
func (inv *Inventory) Reserve(names []string, pipelineID string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, n := range names {
		inv.occupation[n] = pipelineID
	}
}

// Release sets occupation[n] = "" only if the current occupant
// matches pipelineID — a pipeline cannot release a reservation it does
// not own. Idempotent per-owner.
func (inv *Inventory) Release(names []string, pipelineID string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, n := range names {
		if inv.occupation[n] == pipelineID {
			inv.occupation[n] = ""
		}
	}
}

// Occupant returns the pipeline ID currently reserving the node, or ""
// if free or unknown.
func (inv *Inventory) Occupant(name string) string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.occupation[name]
}

func isWorker(n corev1.Node) bool {
	_, ok := n.Labels[WorkerLabelKey]
	return ok
}

func isReady(n corev1.Node) bool {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func nodeIP(n corev1.Node) string {
	for _, addr := range n.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			return addr.Address
		}
	}
	return ""
}

func cpuCores(n corev1.Node) int {
	q := n.Status.Allocatable.Cpu()
	if q == nil {
		return 0
	}
	return int(q.Value())
}

func memoryKB(n corev1.Node) int64 {
	q := n.Status.Allocatable.Memory()
	if q == nil {
		return 0
	}
	return q.Value() / 1024
}

func labelOrDefault(labels map[string]string, key, def string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return def
}

func workerType(n corev1.Node) types.WorkerType {
	if v, ok := n.Labels["worker-type"]; ok {
		switch v {
		case string(types.WorkerLow), string(types.WorkerMed), string(types.WorkerHighCPU):
			return types.WorkerType(v)
		}
	}
	// Fall back to a coarse class derived from cpu-flag count (cpu cores).
	cores := cpuCores(n)
	switch {
	case cores >= 16:
		return types.WorkerHighCPU
	case cores >= 4:
		return types.WorkerMed
	default:
		return types.WorkerLow
	}
}
