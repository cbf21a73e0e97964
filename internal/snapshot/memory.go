package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// Dumper captures and restores opaque table state. The in-memory store
// delegates to it instead of talking to a real database, which keeps the
// timeline's replay algorithm testable without DuckDB.
type Dumper interface {
	Dump(ctx context.Context, table core.TableID) ([]byte, error)
	Load(ctx context.Context, table core.TableID, data []byte) error
}

// MemoryStore keeps materializations in a map. Intended for tests.
type MemoryStore struct {
	mu     sync.Mutex
	source Dumper
	blobs  map[string][]byte
}

// NewMemoryStore creates an in-memory store over the given source.
func NewMemoryStore(source Dumper) *MemoryStore {
	return &MemoryStore{source: source, blobs: make(map[string][]byte)}
}

// Materialize captures the table's current state under a fresh key.
func (s *MemoryStore) Materialize(ctx context.Context, table core.TableID, position int) (core.SnapshotRef, error) {
	data, err := s.source.Dump(ctx, table)
	if err != nil {
		return core.SnapshotRef{}, &core.SnapshotFailure{Table: table, Position: position, Err: err}
	}

	key := fmt.Sprintf("%s.pos%d.%s", table, position, uuid.New().String()[:8])
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()

	return core.SnapshotRef{Table: table, Position: position, Key: key}, nil
}

// Restore overwrites the live table from the stored blob.
func (s *MemoryStore) Restore(ctx context.Context, ref core.SnapshotRef) error {
	s.mu.Lock()
	data, ok := s.blobs[ref.Key]
	s.mu.Unlock()
	if !ok {
		return &core.SnapshotFailure{Table: ref.Table, Position: ref.Position,
			Err: fmt.Errorf("snapshot %s not found", ref.Key)}
	}
	return s.source.Load(ctx, ref.Table, data)
}

// Release drops the blob. Idempotent.
func (s *MemoryStore) Release(_ context.Context, ref core.SnapshotRef) error {
	s.mu.Lock()
	delete(s.blobs, ref.Key)
	s.mu.Unlock()
	return nil
}

// Validate reports whether the blob is present.
func (s *MemoryStore) Validate(_ context.Context, ref core.SnapshotRef) bool {
	s.mu.Lock()
	_, ok := s.blobs[ref.Key]
	s.mu.Unlock()
	return ok
}

// Len returns the number of live materializations. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

var _ core.SnapshotStore = (*MemoryStore)(nil)
