/*
Package postgres provides the PostgreSQL store.

PURPOSE:
  Same contract as store/sqlite, for deployments that share one database
  between several engine instances.

PRIVILEGED WRITE:
  The business rules run inside the database as the stored procedure
  registrar_afectacion_org (migrations/00003). The procedure takes a
  transaction-scoped advisory lock, so concurrent engine instances never
  interleave rule evaluation and created_at stays strictly increasing.
  RegistrarAfectacionOrg is a single CALL.

MIGRATION:
  goose migrations are embedded and run through a database/sql handle
  borrowed from the pgx pool (stdlib.OpenDBFromPool).

SEE ALSO:
  - store/sqlite: the same rules evaluated in Go (bitacora.EvaluateRules)
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/store/internal/sqlfilter"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store implements organica.NodeStore, bitacora.Writer and bitacora.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and applies migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := NewWithPool(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithPool wraps an existing pool. Migrations are not applied.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	return s.withProvider(func(p *goose.Provider) error {
		_, err := p.Up(ctx)
		return err
	})
}

// MigrationStatus reports applied and pending migrations.
func (s *Store) MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error) {
	var out []*goose.MigrationStatus
	err := s.withProvider(func(p *goose.Provider) error {
		var err error
		out, err = p.Status(ctx)
		return err
	})
	return out, err
}

func (s *Store) withProvider(fn func(*goose.Provider) error) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return err
	}
	return fn(p)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err, "ping failed")
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// HIERARCHY (organica.NodeStore)
// =============================================================================

func (s *Store) NodeExists(ctx context.Context, level organica.Level, key organica.Key) (bool, error) {
	cond, args := sqlfilter.KeyMatch(key, level, sqlfilter.Dollar, 0)
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+level.Table()+" WHERE "+cond+")", args...).Scan(&exists)
	if err != nil {
		return false, classify(err, "node lookup failed")
	}
	return exists, nil
}

func (s *Store) CountChildren(ctx context.Context, level organica.Level, key organica.Key) (int, error) {
	if level >= organica.MaxLevel {
		return 0, nil
	}
	cond, args := sqlfilter.KeyMatch(key, level, sqlfilter.Dollar, 0)
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+(level+1).Table()+" WHERE "+cond, args...).Scan(&n)
	if err != nil {
		return 0, classify(err, "child count failed")
	}
	return n, nil
}

// InsertNode stores a node without hierarchy checks; use organica.CreateNode.
func (s *Store) InsertNode(ctx context.Context, node organica.Node) error {
	level := node.Level()
	cols := sqlfilter.KeyColumns(level)
	args := []any{node.Key.Clave()}
	marks := []string{"$1"}
	for i := range cols {
		args = append(args, node.Key.Code(organica.Level(i)))
		marks = append(marks, sqlfilter.Dollar(len(args)))
	}
	args = append(args, node.Nombre)
	marks = append(marks, sqlfilter.Dollar(len(args)))

	created := "now()"
	if !node.CreatedAt.IsZero() {
		args = append(args, node.CreatedAt)
		created = sqlfilter.Dollar(len(args))
	}

	query := fmt.Sprintf("INSERT INTO %s (clave, %s, nombre, created_at) VALUES (%s, %s)",
		level.Table(), strings.Join(cols, ", "), strings.Join(marks, ", "), created)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return dErrors.Newf(dErrors.CodeConflict, "%s %q already exists", level, node.Key.String())
		}
		return classify(err, "node insert failed")
	}
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, key organica.Key) error {
	level := key.Level()
	cond, args := sqlfilter.KeyMatch(key, level, sqlfilter.Dollar, 0)
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+level.Table()+" WHERE "+cond, args...)
	if err != nil {
		return classify(err, "node delete failed")
	}
	if tag.RowsAffected() == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "%s %q not found", level, key.String())
	}
	return nil
}

// ListNodes returns nodes at level under parent, ordered by clave.
func (s *Store) ListNodes(ctx context.Context, level organica.Level, parent organica.Key) ([]organica.Node, error) {
	cols := sqlfilter.KeyColumns(level)
	query := fmt.Sprintf("SELECT %s, nombre, created_at FROM %s", strings.Join(cols, ", "), level.Table())
	var args []any
	if level > organica.Level0 {
		var cond string
		cond, args = sqlfilter.KeyMatch(parent, level-1, sqlfilter.Dollar, 0)
		query += " WHERE " + cond
	}
	query += " ORDER BY clave"

	rows, err := s.pool.Query(ctx, query, args...)
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
		dest = append(dest, &n.Nombre, &n.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(err, "node scan failed")
		}
		n.Key = organica.NewKey(codes...)
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
	_, err := s.pool.Exec(ctx,
		"CALL registrar_afectacion_org($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)",
		p.Folio, p.Entidad, p.Anio, p.Quincena, p.OrgNivel,
		p.Org0, p.Org1, p.Org2, p.Org3,
		string(p.Accion), string(p.Resultado), p.Mensaje,
		p.Usuario, p.AppName, p.IP,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dErrors.Wrap(bitacora.ErrDuplicateFolio, dErrors.CodeConflict, "folio already recorded")
		}
		return classify(err, "failed to register afectacion")
	}
	return nil
}

// =============================================================================
// AUDIT READS (bitacora.Store)
// =============================================================================

func (s *Store) FindByFolio(ctx context.Context, folio string) (*bitacora.Afectacion, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+sqlfilter.AuditColumns+" FROM afectaciones WHERE folio = $1", folio)
	a, err := scanAfectacion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bitacora.ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "failed to query afectacion")
	}
	return &a, nil
}

func (s *Store) Query(ctx context.Context, f bitacora.Filter) ([]bitacora.Afectacion, error) {
	where, args := sqlfilter.Where(f, sqlfilter.Dollar)
	rows, err := s.pool.Query(ctx, "SELECT "+sqlfilter.AuditColumns+" FROM afectaciones"+where, args...)
	if err != nil {
		return nil, classify(err, "failed to query afectaciones")
	}
	defer rows.Close()

	var out []bitacora.Afectacion
	for rows.Next() {
		a, err := scanAfectacion(rows)
		if err != nil {
			return nil, classify(err, "failed to scan afectacion")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to query afectaciones")
	}
	return out, nil
}

func scanAfectacion(row pgx.Row) (bitacora.Afectacion, error) {
	var (
		a         bitacora.Afectacion
		accion    string
		resultado string
	)
	err := row.Scan(
		&a.AfectacionID, &a.Folio, &a.Entidad, &a.Anio, &a.Quincena, &a.OrgNivel,
		&a.Org0, &a.Org1, &a.Org2, &a.Org3, &accion, &resultado, &a.Mensaje,
		&a.Usuario, &a.AppName, &a.IP, &a.CreatedAt,
	)
	a.Accion = bitacora.Accion(accion)
	a.Resultado = bitacora.Resultado(resultado)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, err
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classify marks driver failures as TRANSPORT so read paths may retry them.
func classify(err error, msg string) error {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeTransport, msg)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
