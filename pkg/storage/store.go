// Package storage persists each Pipeline record, with its components,
// to a local BoltDB file as the Pipeline Manager updates it. The
// submission queue, waiting list, running set, ledger and reservations
// are not stored, and nothing in the controller reads the records back
// at startup.
package storage

import "github.com/pipeforge/controller/pkg/types"

// Store is the durable-persistence interface the Pipeline Manager uses
// for crash resilience, independent of the pipelines.json shutdown
// dump it also writes.
type Store interface {
	PutPipeline(p *types.Pipeline) error
	GetPipeline(id string) (*types.Pipeline, error)
	ListPipelines() ([]*types.Pipeline, error)
	DeletePipeline(id string) error
	Close() error
}
