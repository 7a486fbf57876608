// Package memory provides an in-memory store for tests and local runs. It
// implements organica.NodeStore, bitacora.Writer and bitacora.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	nodes  [organica.MaxLevel + 1]map[organica.Key]organica.Node
	rows   []bitacora.Afectacion // chronological
	folios map[string]int
	nextID int64
	last   time.Time
	now    func() time.Time
}

func New() *Memory {
	m := &Memory{
		folios: make(map[string]int),
		nextID: 1,
		now:    time.Now,
	}
	for i := range m.nodes {
		m.nodes[i] = make(map[organica.Key]organica.Node)
	}
	return m
}

// WithClock replaces the time source. Timestamps stay strictly increasing
// even if the clock stalls or goes backwards.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// =============================================================================
// HIERARCHY
// =============================================================================

func (m *Memory) NodeExists(_ context.Context, level organica.Level, key organica.Key) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[level][key.Truncate(level)]
	return ok, nil
}

func (m *Memory) CountChildren(_ context.Context, level organica.Level, key organica.Key) (int, error) {
	if level >= organica.MaxLevel {
		return 0, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	parent := key.Truncate(level)
	n := 0
	for k := range m.nodes[level+1] {
		if k.Truncate(level) == parent {
			n++
		}
	}
	return n, nil
}

// InsertNode stores a node without hierarchy checks; use organica.CreateNode.
func (m *Memory) InsertNode(_ context.Context, node organica.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := node.Level()
	if _, ok := m.nodes[level][node.Key]; ok {
		return dErrors.Newf(dErrors.CodeConflict, "%s %q already exists", level, node.Key.String())
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = m.now().UTC()
	}
	m.nodes[level][node.Key] = node
	return nil
}

func (m *Memory) DeleteNode(_ context.Context, key organica.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := key.Level()
	if _, ok := m.nodes[level][key]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "%s %q not found", level, key.String())
	}
	delete(m.nodes[level], key)
	return nil
}

// ListNodes returns nodes at level under parent, ordered by key.
func (m *Memory) ListNodes(_ context.Context, level organica.Level, parent organica.Key) ([]organica.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []organica.Node
	for k, n := range m.nodes[level] {
		if level == organica.Level0 || k.Truncate(level-1) == parent.Truncate(level-1) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Clave() < out[j].Key.Clave() })
	return out, nil
}

// =============================================================================
// PRIVILEGED WRITE
// =============================================================================

// RegistrarAfectacionOrg evaluates the business rules and appends exactly
// one row, all under the write lock.
func (m *Memory) RegistrarAfectacionOrg(ctx context.Context, p bitacora.Payload) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "privileged write aborted")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.folios[p.Folio]; p.Folio != "" && dup {
		return dErrors.Wrap(bitacora.ErrDuplicateFolio, dErrors.CodeConflict, "folio already recorded")
	}

	level := p.Key.Level()
	_, exists := m.nodes[level][p.Key]
	rama := p.Key.Branch()
	var history []bitacora.Afectacion
	for i := len(m.rows) - 1; i >= 0; i-- {
		if (bitacora.Filter{Rama: &rama}).Matches(m.rows[i]) {
			history = append(history, m.rows[i])
		}
	}

	d := bitacora.EvaluateRules(p, exists, history)
	row := p.Record(d.Resultado, d.Mensaje)
	row.AfectacionID = m.nextID
	row.CreatedAt = m.tick()
	m.nextID++

	m.rows = append(m.rows, row)
	if row.Folio != "" {
		m.folios[row.Folio] = len(m.rows) - 1
	}
	return nil
}

// tick returns a timestamp strictly after the previous one.
func (m *Memory) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

// =============================================================================
// AUDIT READS
// =============================================================================

func (m *Memory) FindByFolio(_ context.Context, folio string) (*bitacora.Afectacion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.folios[folio]
	if !ok {
		return nil, bitacora.ErrNotFound
	}
	row := m.rows[i]
	return &row, nil
}

func (m *Memory) Query(ctx context.Context, f bitacora.Filter) ([]bitacora.Afectacion, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "query aborted")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bitacora.Afectacion
	for i := len(m.rows) - 1; i >= 0; i-- {
		if !f.Matches(m.rows[i]) {
			continue
		}
		out = append(out, m.rows[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of audit rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
