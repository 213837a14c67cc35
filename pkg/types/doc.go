/*
Package types defines the domain model shared by every component of the
placement and scheduling controller: pipelines and their components,
worker nodes, and dataset catalog entries.

# Core types

Pipeline lifecycle:
  - Pipeline: a user-submitted DAG of Components plus scheduling state
  - PipelineState: QUEUED -> WAITING -> RUNNING -> {SUCCEEDED, FAILED};
    PLACED is defined and accepted when decoding, but the Pipeline
    Manager never assigns it
  - Component: one DAG node, with its own State mirroring the backend
    task it compiles to

Placement inputs:
  - Node: a worker node as refreshed from the cluster inventory source
  - Dataset: a catalog entry for one on-disk dataset folder
  - Placement: the per-pipeline output of a Placer — a node/platform
    mapping per component plus the efforts that drove the ordering

# Enumeration pattern

Enum-like fields use typed string constants with a custom
UnmarshalJSON that rejects unrecognized values at the JSON boundary,
rather than discovering an unknown variant later at runtime.

# Thread safety

Types in this package carry no synchronization themselves; they are
read-safe from multiple goroutines once published, but callers (the
Decision Unit, the Pipeline Manager) are responsible for guarding
mutation with the single coarse lock described in their own packages.
*/
package types
