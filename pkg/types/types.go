// Package types holds the shared domain model for pipelines, their
// components, worker nodes, and datasets.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PipelineState is the lifecycle state of a Pipeline.
type PipelineState string

const (
	PipelineQueued    PipelineState = "QUEUED"
	PipelinePlaced    PipelineState = "PLACED"
	PipelineWaiting   PipelineState = "WAITING"
	PipelineRunning   PipelineState = "RUNNING"
	PipelineSucceeded PipelineState = "SUCCEEDED"
	PipelineFailed    PipelineState = "FAILED"
)

// UnmarshalJSON rejects any pipeline state not enumerated above, per
// the sealed-variant design note: unknown variants are errors at load,
// not at runtime.
func (s *PipelineState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch PipelineState(raw) {
	case PipelineQueued, PipelinePlaced, PipelineWaiting, PipelineRunning, PipelineSucceeded, PipelineFailed:
		*s = PipelineState(raw)
		return nil
	default:
		return fmt.Errorf("types: unknown pipeline state %q", raw)
	}
}

// Terminal reports whether the state is a terminal one.
func (s PipelineState) Terminal() bool {
	return s == PipelineSucceeded || s == PipelineFailed
}

// ComponentState mirrors the backend task state for a single component.
type ComponentState string

const (
	ComponentPending   ComponentState = "PENDING"
	ComponentRunning   ComponentState = "RUNNING"
	ComponentSucceeded ComponentState = "SUCCEEDED"
	ComponentFailed    ComponentState = "FAILED"
)

func (s *ComponentState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch ComponentState(raw) {
	case ComponentPending, ComponentRunning, ComponentSucceeded, ComponentFailed:
		*s = ComponentState(raw)
		return nil
	default:
		return fmt.Errorf("types: unknown component state %q", raw)
	}
}

func (s ComponentState) Terminal() bool {
	return s == ComponentSucceeded || s == ComponentFailed
}

// ComponentType tags a component's role within a pipeline.
type ComponentType string

const (
	ComponentPreprocessing ComponentType = "preprocessing"
	ComponentTraining      ComponentType = "training"
	ComponentEvaluation    ComponentType = "evaluation"
)

func (t *ComponentType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch ComponentType(raw) {
	case ComponentPreprocessing, ComponentTraining, ComponentEvaluation:
		*t = ComponentType(raw)
		return nil
	default:
		return fmt.Errorf("types: unknown component type %q", raw)
	}
}

// Component is a single node of the user-declared pipeline DAG.
type Component struct {
	Name       string         `json:"name"`
	SourceFile string         `json:"source_file"`
	Type       ComponentType  `json:"type"`
	Node       string         `json:"node,omitempty"`
	Platform   string         `json:"platform,omitempty"`
	Effort     int64          `json:"effort"`
	State      ComponentState `json:"state"`
	StartTime  *time.Time     `json:"start_time,omitempty"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Duration   *float64       `json:"duration_seconds,omitempty"`
}

// DatasetDescriptor is the read-only metadata blob attached to a pipeline.
type DatasetDescriptor struct {
	Name     string                   `json:"name"`
	Type     string                   `json:"type"` // "tabular" | "image"
	Original DatasetVersionDescriptor `json:"original"`
	Prepared DatasetVersionDescriptor `json:"preprocessed"`
}

// DatasetVersionDescriptor describes one version (original or
// preprocessed) of a dataset's schema.
type DatasetVersionDescriptor struct {
	NSamples   int            `json:"n_samples"`
	NFeatures  int            `json:"n_features,omitempty"`
	InputShape []int          `json:"input_shape,omitempty"`
	DataTypes  map[string]int `json:"data_types,omitempty"`
	Normalized bool           `json:"normalized,omitempty"`
}

// ModelDescriptor carries the model type and hyperparameters used by
// the effort estimator.
type ModelDescriptor struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Metadata is the read-only blob attached to a pipeline at submission.
type Metadata struct {
	Dataset        DatasetDescriptor `json:"dataset"`
	Model          ModelDescriptor   `json:"model"`
	TrainSplit     float64           `json:"train_split"`
	TestSplit      float64           `json:"test_split"`
	ComponentTypes map[string]string `json:"component_types,omitempty"`
}

// Pipeline is a user-submitted DAG of components plus its scheduling
// and lifecycle state.
type Pipeline struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	State        PipelineState `json:"state"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	ScheduledAt  *time.Time    `json:"scheduled_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	LastUpdate   time.Time     `json:"last_update"`
	Duration     *float64      `json:"duration_seconds,omitempty"`
	BackendRunID string        `json:"backend_run_id,omitempty"`

	// Order preserves insertion order = execution order declared by the user.
	Order      []string              `json:"order"`
	Components map[string]*Component `json:"components"`

	Metadata    Metadata `json:"metadata"`
	TotalEffort int64    `json:"total_effort"`
	TimeWindow  int64    `json:"time_window"`
}

// OrderedComponents returns the pipeline's components in declaration order.
func (p *Pipeline) OrderedComponents() []*Component {
	out := make([]*Component, 0, len(p.Order))
	for _, name := range p.Order {
		if c, ok := p.Components[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// WorkerType is a coarse node class used as a hard filter in placement.
type WorkerType string

const (
	WorkerLow     WorkerType = "low"
	WorkerMed     WorkerType = "med"
	WorkerHighCPU WorkerType = "high-cpu"
)

// Node is a worker node in the cluster, as refreshed from the cluster
// inventory source.
type Node struct {
	Name         string     `json:"name"`
	IP           string     `json:"ip"`
	CPUCores     int        `json:"cpu_cores"`
	MemoryKB     int64      `json:"memory_kb"`
	Accelerator  string     `json:"accelerator"` // "none" if absent
	Architecture string     `json:"architecture"`
	WorkerType   WorkerType `json:"worker_type"`
	MemoryUsage  float64    `json:"memory_usage"` // in [0,1]
	Ready        bool       `json:"ready"`
}

// FreeMemoryKB returns the memory this node has available for new
// placement, given its live usage fraction.
func (n *Node) FreeMemoryKB() float64 {
	return float64(n.MemoryKB) * (1 - n.MemoryUsage)
}

// Platform returns the accelerator tag if set, else the architecture
// tag — used to tag built container images.
func (n *Node) Platform() string {
	if n.Accelerator != "" && n.Accelerator != "none" {
		return n.Accelerator
	}
	return n.Architecture
}

// Dataset is a catalog entry for one on-disk dataset folder.
type Dataset struct {
	Name         string    `json:"name"`
	SizeOnDiskKB int64     `json:"size_on_disk_kb"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// Placement is what a Placer produces for one pipeline: a node/platform
// mapping per component plus the efforts that drove the ordering.
type Placement struct {
	PipelineID string
	Mapping    map[string]ComponentPlacement
	Efforts    map[string]int64 // componentName -> effort, plus "total"
}

// ComponentPlacement is where one component landed.
type ComponentPlacement struct {
	Node     string
	Platform string
}
