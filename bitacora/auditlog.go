package bitacora

import (
	"context"
	"errors"

	"github.com/google/uuid"

	dErrors "github.com/warp/afectaciones-engine/domainerrors"
)

// =============================================================================
// SENTINEL ERRORS - Store facts, use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateFolio is returned when a row with the same folio exists.
	// Folios are unique; a duplicate means a caller reused a correlation id.
	ErrDuplicateFolio = errors.New("duplicate folio")

	// ErrNotFound is returned by FindByFolio when no row carries the folio.
	ErrNotFound = errors.New("afectacion not found")
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Writer is the privileged write operation. It evaluates the business rules
// atomically with the insert and records a failed rule as an ERROR row.
// It returns an error only when the row could not be written at all; its
// success says nothing about the outcome, which is read back from Store.
type Writer interface {
	RegistrarAfectacionOrg(ctx context.Context, p Payload) error
}

// Store reads the audit table. Implementations return TRANSPORT-coded
// errors for backend failures.
type Store interface {
	// FindByFolio returns the row with folio, or ErrNotFound.
	FindByFolio(ctx context.Context, folio string) (*Afectacion, error)

	// Query returns matching rows ordered by CreatedAt descending.
	Query(ctx context.Context, f Filter) ([]Afectacion, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// WriteHandle identifies one write for later verification.
type WriteHandle struct {
	Folio string
}

// AuditLog is the component-level view of the bitácora: append through the
// privileged write, read through Store.
type AuditLog struct {
	writer Writer
	store  Store
}

func NewAuditLog(writer Writer, store Store) *AuditLog {
	return &AuditLog{writer: writer, store: store}
}

// NewFolio returns a fresh correlation identifier.
func NewFolio() string { return uuid.NewString() }

// Append invokes the privileged write once. A folio is assigned when the
// payload has none. The returned handle is valid even when err is non-nil so
// callers can log what was attempted.
func (l *AuditLog) Append(ctx context.Context, p Payload) (WriteHandle, error) {
	if p.Folio == "" {
		p.Folio = NewFolio()
	}
	h := WriteHandle{Folio: p.Folio}
	if err := l.writer.RegistrarAfectacionOrg(ctx, p); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			err = dErrors.Wrap(err, dErrors.CodeTransport, "privileged write failed")
		}
		return h, err
	}
	return h, nil
}

// FindLatest returns the most recent row for the tuple, or nil when none.
func (l *AuditLog) FindLatest(ctx context.Context, entidad string, anio, quincena int, usuario string, accion Accion) (*Afectacion, error) {
	rows, err := l.store.Query(ctx, Filter{
		Entidad:  entidad,
		Anio:     anio,
		Quincena: quincena,
		Usuario:  usuario,
		Accion:   accion,
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindByHandle returns the row written under h, or nil when none.
func (l *AuditLog) FindByHandle(ctx context.Context, h WriteHandle) (*Afectacion, error) {
	return l.FindByFolio(ctx, h.Folio)
}

// FindByFolio returns the row with folio, or nil when none.
func (l *AuditLog) FindByFolio(ctx context.Context, folio string) (*Afectacion, error) {
	row, err := l.store.FindByFolio(ctx, folio)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// History returns matching rows, newest first.
func (l *AuditLog) History(ctx context.Context, f Filter) ([]Afectacion, error) {
	return l.store.Query(ctx, f)
}
