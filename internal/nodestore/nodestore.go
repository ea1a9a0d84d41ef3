// Package nodestore is the authoritative version counter per server and
// per key. It is a thin, storage-agnostic wrapper around a
// storage.Adapter — the Adapter owns atomicity, nodestore owns nothing
// but the contract.
package nodestore

import (
	"context"

	"reality-mesh/internal/storage"
)

// NodeMeta re-exports storage.NodeMeta so callers outside internal/storage
// don't need to import that package just to hold a value.
type NodeMeta = storage.NodeMeta

// Store is the versioning engine sitting on top of a storage.Adapter.
type Store struct {
	adapter storage.Adapter
}

// New wraps adapter in a Store.
func New(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

// IncrementVersion bumps the server-global version counter and upserts
// the node. See storage.Adapter.IncrementVersion for the atomicity
// contract (invariant I2).
func (s *Store) IncrementVersion(ctx context.Context, key, hash string) (NodeMeta, error) {
	return s.adapter.IncrementVersion(ctx, key, hash)
}

// GetNode returns (nil, nil) for an unknown key, per invariant I5 — sync
// callers translate that into the {version:0, hash:""} sentinel.
func (s *Store) GetNode(ctx context.Context, key string) (*NodeMeta, error) {
	return s.adapter.GetNode(ctx, key)
}

// GetNodes batch-reads; missing keys are simply absent from the map.
func (s *Store) GetNodes(ctx context.Context, keys []string) (map[string]NodeMeta, error) {
	return s.adapter.GetNodes(ctx, keys)
}

// SetNode upserts meta verbatim without bumping the version counter.
func (s *Store) SetNode(ctx context.Context, meta NodeMeta) error {
	return s.adapter.SetNode(ctx, meta)
}

// ListChangedSince returns every node with version > v, ascending.
func (s *Store) ListChangedSince(ctx context.Context, v int64) ([]NodeMeta, error) {
	return s.adapter.ListChangedSince(ctx, v)
}

// GetMaxVersion returns the maximum version across all live nodes.
func (s *Store) GetMaxVersion(ctx context.Context) (int64, error) {
	return s.adapter.GetMaxVersion(ctx)
}

// DeleteNode destroys a node entirely.
func (s *Store) DeleteNode(ctx context.Context, key string) error {
	return s.adapter.DeleteNode(ctx, key)
}

// IsHealthy performs a lightweight round-trip check against storage.
func (s *Store) IsHealthy(ctx context.Context) bool {
	return s.adapter.IsHealthy(ctx)
}

// Close releases the underlying adapter's resources.
func (s *Store) Close() error {
	return s.adapter.Close()
}
