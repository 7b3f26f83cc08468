package audit

import (
	"reflect"
	"sync"
)

// UnitOfWork reports what changed on an entity
type UnitOfWork interface {
	// ChangeSet returns the changed fields of an updated entity
	ChangeSet(entity any) map[string]Change
	// Snapshot returns the full field mapping of a created or removed entity
	Snapshot(entity any) map[string]any
}

// Snapshotter is implemented by entities tracked by SnapshotUnitOfWork
type Snapshotter interface {
	AuditSnapshot() map[string]any
}

// SnapshotUnitOfWork derives change-sets by comparing an entity's
// AuditSnapshot against the snapshot taken when it was tracked. Entities are
// keyed by identity, so track pointers.
type SnapshotUnitOfWork struct {
	mu       sync.Mutex
	original map[any]map[string]any
}

func NewSnapshotUnitOfWork() *SnapshotUnitOfWork {
	return &SnapshotUnitOfWork{original: make(map[any]map[string]any)}
}

// Track records the entity's current state as its original state
func (u *SnapshotUnitOfWork) Track(entity Snapshotter) {
	snapshot := copySnapshot(entity.AuditSnapshot())

	u.mu.Lock()
	defer u.mu.Unlock()
	u.original[entity] = snapshot
}

// Commit makes the entity's current state the new baseline
func (u *SnapshotUnitOfWork) Commit(entity Snapshotter) {
	u.Track(entity)
}

// Forget stops tracking the entity
func (u *SnapshotUnitOfWork) Forget(entity any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.original, entity)
}

func (u *SnapshotUnitOfWork) ChangeSet(entity any) map[string]Change {
	s, ok := entity.(Snapshotter)
	if !ok {
		return map[string]Change{}
	}
	current := s.AuditSnapshot()

	u.mu.Lock()
	original := u.original[entity]
	u.mu.Unlock()

	changes := make(map[string]Change)
	for field, value := range current {
		old, existed := original[field]
		if !existed || !reflect.DeepEqual(old, value) {
			changes[field] = Change{Old: old, New: value}
		}
	}
	for field, old := range original {
		if _, ok := current[field]; !ok {
			changes[field] = Change{Old: old, New: nil}
		}
	}
	return changes
}

// Snapshot returns the tracked original state, or the current state for
// untracked entities
func (u *SnapshotUnitOfWork) Snapshot(entity any) map[string]any {
	u.mu.Lock()
	original, ok := u.original[entity]
	u.mu.Unlock()
	if ok {
		return copySnapshot(original)
	}

	if s, ok := entity.(Snapshotter); ok {
		return copySnapshot(s.AuditSnapshot())
	}
	return map[string]any{}
}

func copySnapshot(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
