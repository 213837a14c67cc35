// Package storage provides BoltDB-backed pipeline persistence,
// serialized as JSON in a single bucket keyed by pipeline id.
package storage
