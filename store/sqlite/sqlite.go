/*
Package sqlite provides the default SQLite-backed store.

PURPOSE:
  Implements every persistence interface of the engine over one SQLite file:
  organica.NodeStore (hierarchy tables), bitacora.Writer (the privileged
  write) and bitacora.Store (audit reads).

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statement on afectaciones exists in this package
  - Triggers abort any UPDATE/DELETE issued by other clients
  - The folio column is UNIQUE; a reused folio is a CONFLICT

PRIVILEGED WRITE:
  RegistrarAfectacionOrg runs inside one SQL transaction under the store's
  write lock: read unit existence and branch history, evaluate
  bitacora.EvaluateRules, insert exactly one row, commit.

CONCURRENCY:
  Uses sync.RWMutex: SQLite has a single writer, and the lock keeps
  CreatedAt strictly increasing across concurrent registrations.

MIGRATION:
  Versioned goose migrations are embedded (migrations/*.sql) and applied by
  New. Use NewWithDB to wrap an existing handle without migrating.

USAGE:
  store, err := sqlite.New("./data/afectaciones.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/memory: same contract in memory
  - store/postgres: the privileged write as a stored procedure
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/store/internal/sqlfilter"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements organica.NodeStore, bitacora.Writer and bitacora.Store.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	last time.Time
	now  func() time.Time
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pool connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open handle. Migrations are not applied.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the time source used for created_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	p, err := s.provider()
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// MigrationStatus reports applied and pending migrations.
func (s *Store) MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error) {
	p, err := s.provider()
	if err != nil {
		return nil, err
	}
	return p.Status(ctx)
}

func (s *Store) provider() (*goose.Provider, error) {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectSQLite3, s.db, sub)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err, "ping failed")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// HIERARCHY (organica.NodeStore)
// =============================================================================

func (s *Store) NodeExists(ctx context.Context, level organica.Level, key organica.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nodeExists(ctx, s.db, level, key)
}

func nodeExists(ctx context.Context, q querier, level organica.Level, key organica.Key) (bool, error) {
	cond, args := sqlfilter.KeyMatch(key, level, sqlfilter.Question, 0)
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+level.Table()+" WHERE "+cond+" LIMIT 1", args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err, "node lookup failed")
	}
	return true, nil
}

func (s *Store) CountChildren(ctx context.Context, level organica.Level, key organica.Key) (int, error) {
	if level >= organica.MaxLevel {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := sqlfilter.KeyMatch(key, level, sqlfilter.Question, 0)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+(level+1).Table()+" WHERE "+cond, args...).Scan(&n)
	if err != nil {
		return 0, classify(err, "child count failed")
	}
	return n, nil
}

// InsertNode stores a node without hierarchy checks; use organica.CreateNode.
func (s *Store) InsertNode(ctx context.Context, node organica.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := node.Level()
	cols := sqlfilter.KeyColumns(level)
	args := []any{node.Key.Clave()}
	for i := range cols {
		args = append(args, node.Key.Code(organica.Level(i)))
	}
	createdAt := node.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	args = append(args, node.Nombre, createdAt.UTC().Format(timeLayout))

	query := fmt.Sprintf("INSERT INTO %s (clave, %s, nombre, created_at) VALUES (?%s, ?, ?)",
		level.Table(), strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return dErrors.Newf(dErrors.CodeConflict, "%s %q already exists", level, node.Key.String())
		}
		return classify(err, "node insert failed")
	}
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, key organica.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := key.Level()
	cond, args := sqlfilter.KeyMatch(key, level, sqlfilter.Question, 0)
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+level.Table()+" WHERE "+cond, args...)
	if err != nil {
		return classify(err, "node delete failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "%s %q not found", level, key.String())
	}
	return nil
}

// ListNodes returns nodes at level under parent, ordered by clave.
func (s *Store) ListNodes(ctx context.Context, level organica.Level, parent organica.Key) ([]organica.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cols := sqlfilter.KeyColumns(level)
	query := fmt.Sprintf("SELECT %s, nombre, created_at FROM %s", strings.Join(cols, ", "), level.Table())
	var args []any
	if level > organica.Level0 {
		var cond string
		cond, args = sqlfilter.KeyMatch(parent, level-1, sqlfilter.Question, 0)
		query += " WHERE " + cond
	}
	query += " ORDER BY clave"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "node list failed")
	}
	defer rows.Close()

	var out []organica.Node
	for rows.Next() {
		codes := make([]string, len(cols))
		dest := make([]any, 0, len(cols)+2)
		for i := range codes {
			dest = append(dest, &codes[i])
		}
		var n organica.Node
		var createdAt string
		dest = append(dest, &n.Nombre, &createdAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(err, "node scan failed")
		}
		n.Key = organica.NewKey(codes...)
		n.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "node list failed")
	}
	return out, nil
}

// =============================================================================
// PRIVILEGED WRITE (bitacora.Writer)
// =============================================================================

func (s *Store) RegistrarAfectacionOrg(ctx context.Context, p bitacora.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	exists, err := nodeExists(ctx, tx, p.Key.Level(), p.Key)
	if err != nil {
		return err
	}
	rama := p.Key.Branch()
	history, err := query(ctx, tx, bitacora.Filter{
		Rama:      &rama,
		Acciones:  []bitacora.Accion{bitacora.AccionAplicar, bitacora.AccionTerminado},
		Resultado: bitacora.ResultadoOK,
	})
	if err != nil {
		return err
	}

	d := bitacora.EvaluateRules(p, exists, history)
	row := p.Record(d.Resultado, d.Mensaje)
	row.CreatedAt = s.tick(ctx, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO afectaciones
		(folio, entidad, anio, quincena, org_nivel, org0, org1, org2, org3,
		 accion, resultado, mensaje, usuario, app_name, ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Folio, row.Entidad, row.Anio, row.Quincena, row.OrgNivel,
		row.Org0, row.Org1, row.Org2, row.Org3,
		string(row.Accion), string(row.Resultado), row.Mensaje,
		row.Usuario, row.AppName, row.IP, row.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return dErrors.Wrap(bitacora.ErrDuplicateFolio, dErrors.CodeConflict, "folio already recorded")
		}
		return classify(err, "failed to insert afectacion")
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit afectacion")
	}
	s.last = row.CreatedAt
	return nil
}

// tick returns a timestamp strictly after the newest stored row. Caller
// holds the write lock.
func (s *Store) tick(ctx context.Context, q querier) time.Time {
	if s.last.IsZero() {
		var newest sql.NullString
		if err := q.QueryRowContext(ctx, "SELECT MAX(created_at) FROM afectaciones").Scan(&newest); err == nil && newest.Valid {
			s.last, _ = time.Parse(timeLayout, newest.String)
		}
	}
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	return t
}

// =============================================================================
// AUDIT READS (bitacora.Store)
// =============================================================================

func (s *Store) FindByFolio(ctx context.Context, folio string) (*bitacora.Afectacion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqlfilter.AuditColumns+" FROM afectaciones WHERE folio = ?", folio)
	if err != nil {
		return nil, classify(err, "failed to query afectacion")
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classify(err, "failed to query afectacion")
		}
		return nil, bitacora.ErrNotFound
	}
	a, err := scanAfectacion(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Query(ctx context.Context, f bitacora.Filter) ([]bitacora.Afectacion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return query(ctx, s.db, f)
}

func query(ctx context.Context, q querier, f bitacora.Filter) ([]bitacora.Afectacion, error) {
	where, args := sqlfilter.Where(f, sqlfilter.Question)
	rows, err := q.QueryContext(ctx, "SELECT "+sqlfilter.AuditColumns+" FROM afectaciones"+where, args...)
	if err != nil {
		return nil, classify(err, "failed to query afectaciones")
	}
	defer rows.Close()

	var out []bitacora.Afectacion
	for rows.Next() {
		a, err := scanAfectacion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to query afectaciones")
	}
	return out, nil
}

func scanAfectacion(rows *sql.Rows) (bitacora.Afectacion, error) {
	var (
		a         bitacora.Afectacion
		accion    string
		resultado string
		createdAt string
	)
	err := rows.Scan(
		&a.AfectacionID, &a.Folio, &a.Entidad, &a.Anio, &a.Quincena, &a.OrgNivel,
		&a.Org0, &a.Org1, &a.Org2, &a.Org3, &accion, &resultado, &a.Mensaje,
		&a.Usuario, &a.AppName, &a.IP, &createdAt,
	)
	if err != nil {
		return a, classify(err, "failed to scan afectacion")
	}
	a.Accion = bitacora.Accion(accion)
	a.Resultado = bitacora.Resultado(resultado)
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return a, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classify marks driver failures as TRANSPORT so read paths may retry them.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeTransport, msg)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
