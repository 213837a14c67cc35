package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pipeforge/controller/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketPipelines = []byte("pipelines")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "pipectl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPipelines)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutPipeline upserts a pipeline record.
func (s *BoltStore) PutPipeline(p *types.Pipeline) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPipelines)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.ID), data)
	})
}

// GetPipeline fetches a pipeline by id.
func (s *BoltStore) GetPipeline(id string) (*types.Pipeline, error) {
	var p types.Pipeline
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPipelines)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("storage: pipeline not found: %s", id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPipelines returns every persisted pipeline.
func (s *BoltStore) ListPipelines() ([]*types.Pipeline, error) {
	var pipelines []*types.Pipeline
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPipelines)
		return b.ForEach(func(k, v []byte) error {
			var p types.Pipeline
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			pipelines = append(pipelines, &p)
			return nil
		})
	})
	return pipelines, err
}

// DeletePipeline removes a pipeline record.
func (s *BoltStore) DeletePipeline(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPipelines)
		return b.Delete([]byte(id))
	})
}
