package organica

import (
	"context"
	"sync"

	dErrors "github.com/warp/afectaciones-engine/domainerrors"
)

// =============================================================================
// STORE - Reads the hierarchy checks need
// =============================================================================

// Store answers existence and dependency questions for stored nodes.
// Implementations return TRANSPORT-coded errors when the backend fails.
type Store interface {
	// NodeExists reports whether a node with exactly key exists at level.
	NodeExists(ctx context.Context, level Level, key Key) (bool, error)

	// CountChildren counts nodes at level+1 whose ancestor codes match key.
	CountChildren(ctx context.Context, level Level, key Key) (int, error)
}

// NodeStore adds the writes used by guarded node CRUD.
type NodeStore interface {
	Store
	InsertNode(ctx context.Context, node Node) error
	DeleteNode(ctx context.Context, key Key) error
	ListNodes(ctx context.Context, level Level, parent Key) ([]Node, error)
}

// =============================================================================
// HIERARCHY
// =============================================================================

// Hierarchy enforces parent/child integrity across the four levels.
// It is read-only and holds no state across requests; use Scoped for a
// per-request memo of existence reads.
type Hierarchy struct {
	store Store
	memo  *existsMemo
}

func NewHierarchy(store Store) *Hierarchy {
	return &Hierarchy{store: store}
}

// Scoped returns a view that remembers existence answers for its own
// lifetime. Drop it when the request ends.
func (h *Hierarchy) Scoped() *Hierarchy {
	return &Hierarchy{store: h.store, memo: &existsMemo{seen: make(map[Key]bool)}}
}

// Exists reports whether the node for key exists at level. The key is
// truncated to level first, so Exists(Level1, 01/02/03) asks about 01/02.
func (h *Hierarchy) Exists(ctx context.Context, level Level, key Key) (bool, error) {
	if !level.Valid() {
		return false, dErrors.Newf(dErrors.CodeValidation, "invalid level %d", int(level))
	}
	k := key.Truncate(level)
	if k.Code(level) == "" {
		return false, nil
	}
	if h.memo != nil {
		if ok, hit := h.memo.get(k); hit {
			return ok, nil
		}
	}
	ok, err := h.store.NodeExists(ctx, level, k)
	if err != nil {
		return false, err
	}
	if h.memo != nil {
		h.memo.put(k, ok)
	}
	return ok, nil
}

// HasDependents reports whether any node at level+1 references the node.
func (h *Hierarchy) HasDependents(ctx context.Context, level Level, key Key) (bool, error) {
	if !level.Valid() {
		return false, dErrors.Newf(dErrors.CodeValidation, "invalid level %d", int(level))
	}
	if level == MaxLevel {
		return false, nil
	}
	n, err := h.store.CountChildren(ctx, level, key.Truncate(level))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ValidateChain checks the key's format and then that every present level
// exists, walking from org0 down. The first missing level is reported as
// INVALID_HIERARCHY; nothing is defaulted.
func (h *Hierarchy) ValidateChain(ctx context.Context, key Key) error {
	if err := key.CheckFormat(); err != nil {
		return err
	}
	for l := Level0; l <= key.Level(); l++ {
		ok, err := h.Exists(ctx, l, key)
		if err != nil {
			return err
		}
		if !ok {
			if l == key.Level() {
				return dErrors.Newf(dErrors.CodeInvalidHierarchy, "%s %q does not exist", l, key.String())
			}
			return dErrors.Newf(dErrors.CodeInvalidHierarchy,
				"ancestor %s %q of %q does not exist", l, key.Truncate(l).String(), key.String())
		}
	}
	return nil
}

// GuardCreate allows creating key only when its parent chain is valid and the
// node is not already stored.
func (h *Hierarchy) GuardCreate(ctx context.Context, key Key) error {
	if err := key.CheckFormat(); err != nil {
		return err
	}
	if key.Level() > Level0 {
		if err := h.ValidateChain(ctx, key.Parent()); err != nil {
			return err
		}
	}
	ok, err := h.Exists(ctx, key.Level(), key)
	if err != nil {
		return err
	}
	if ok {
		return dErrors.Newf(dErrors.CodeConflict, "%s %q already exists", key.Level(), key.String())
	}
	return nil
}

// GuardDelete allows removing key only when it exists and nothing below
// references it.
func (h *Hierarchy) GuardDelete(ctx context.Context, key Key) error {
	if err := key.CheckFormat(); err != nil {
		return err
	}
	level := key.Level()
	ok, err := h.Exists(ctx, level, key)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "%s %q not found", level, key.String())
	}
	dependents, err := h.HasDependents(ctx, level, key)
	if err != nil {
		return err
	}
	if dependents {
		return dErrors.Newf(dErrors.CodeHierarchyConflict,
			"%s %q has dependent %s nodes", level, key.String(), level+1)
	}
	return nil
}

// =============================================================================
// GUARDED NODE WRITES
// =============================================================================

// CreateNode runs GuardCreate and inserts the node.
func CreateNode(ctx context.Context, store NodeStore, node Node) error {
	if err := NewHierarchy(store).GuardCreate(ctx, node.Key); err != nil {
		return err
	}
	return store.InsertNode(ctx, node)
}

// DeleteNode runs GuardDelete and removes the node.
func DeleteNode(ctx context.Context, store NodeStore, key Key) error {
	if err := NewHierarchy(store).GuardDelete(ctx, key); err != nil {
		return err
	}
	return store.DeleteNode(ctx, key)
}

type existsMemo struct {
	mu   sync.Mutex
	seen map[Key]bool
}

func (m *existsMemo) get(k Key) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.seen[k]
	return v, ok
}

func (m *existsMemo) put(k Key, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[k] = v
}
