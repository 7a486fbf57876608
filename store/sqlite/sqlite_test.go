package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
	"github.com/warp/afectaciones-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, k := range []organica.Key{
		organica.NewKey("01"),
		organica.NewKey("01", "02"),
		organica.NewKey("01", "02", "03"),
		organica.NewKey("01", "04"),
	} {
		require.NoError(t, organica.CreateNode(ctx, store, organica.Node{Key: k, Nombre: "Unidad " + k.String()}))
	}
	return store
}

func payload(folio string, accion bitacora.Accion, q int, codes ...string) bitacora.Payload {
	key := organica.NewKey(codes...)
	return bitacora.Payload{
		Folio: folio, Entidad: "AFI", Anio: 2025, Quincena: q, OrgNivel: int(key.Level()),
		Key: key, Accion: accion, Usuario: "jperez", AppName: "nomina", IP: "10.0.0.1",
	}
}

// =============================================================================
// HIERARCHY TABLES
// =============================================================================

func TestStore_Hierarchy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h := organica.NewHierarchy(store)

	assert.NoError(t, h.ValidateChain(ctx, organica.NewKey("01", "02", "03")))
	assert.True(t, dErrors.HasCode(h.ValidateChain(ctx, organica.NewKey("09", "02")), dErrors.CodeInvalidHierarchy))

	n, err := store.CountChildren(ctx, organica.Level0, organica.NewKey("01"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	nodes, err := store.ListNodes(ctx, organica.Level1, organica.NewKey("01"))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, organica.NewKey("01", "02"), nodes[0].Key)
	assert.Equal(t, "Unidad 01/02", nodes[0].Nombre)
}

func TestStore_DeleteNode_Guarded(t *testing.T) {
	// GIVEN: 01/02 has child 01/02/03
	// WHEN: Deleting 01/02, then the leaf, then 01/02 again
	// THEN: Conflict first, then both deletes succeed

	ctx := context.Background()
	store := newTestStore(t)

	err := organica.DeleteNode(ctx, store, organica.NewKey("01", "02"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeHierarchyConflict))

	require.NoError(t, organica.DeleteNode(ctx, store, organica.NewKey("01", "02", "03")))
	require.NoError(t, organica.DeleteNode(ctx, store, organica.NewKey("01", "02")))

	ok, err := store.NodeExists(ctx, organica.Level1, organica.NewKey("01", "02"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_InsertNode_Duplicate(t *testing.T) {
	err := newTestStore(t).InsertNode(context.Background(), organica.Node{Key: organica.NewKey("01")})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

// =============================================================================
// PRIVILEGED WRITE
// =============================================================================

func TestStore_PrivilegedWrite_Rules(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("a", bitacora.AccionAplicar, 3, "01", "02")))
	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("b", bitacora.AccionAplicar, 4, "01", "02", "03")))
	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("c", "VALIDAR", 3, "01", "02", "03")))
	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("d", "VALIDAR", 3, "77")))

	want := map[string]bitacora.Resultado{
		"a": bitacora.ResultadoOK,    // opens Q03
		"b": bitacora.ResultadoError, // Q03 already open on the branch
		"c": bitacora.ResultadoOK,    // inside the open period
		"d": bitacora.ResultadoError, // unknown unit
	}
	for folio, resultado := range want {
		row, err := store.FindByFolio(ctx, folio)
		require.NoError(t, err, folio)
		assert.Equal(t, resultado, row.Resultado, folio)
		if resultado == bitacora.ResultadoError {
			assert.NotEmpty(t, row.Mensaje, folio)
		}
	}
}

func TestStore_DuplicateFolio_Conflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("same", bitacora.AccionAplicar, 3, "01", "02")))
	err := store.RegistrarAfectacionOrg(ctx, payload("same", bitacora.AccionTerminado, 3, "01", "02"))

	assert.ErrorIs(t, err, bitacora.ErrDuplicateFolio)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestStore_CreatedAtStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)
	store := newTestStore(t).WithClock(func() time.Time { return frozen })

	for _, f := range []string{"x", "y", "z"} {
		require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload(f, "VALIDAR", 3, "01", "02")))
	}

	rows, err := store.Query(ctx, bitacora.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "z", rows[0].Folio)
	assert.True(t, rows[0].CreatedAt.After(rows[1].CreatedAt))
	assert.True(t, rows[1].CreatedAt.After(rows[2].CreatedAt))
}

func TestStore_ConcurrentRegistrations_OneRowEach(t *testing.T) {
	// GIVEN: An open period
	// WHEN: 20 goroutines register the same affectation
	// THEN: 20 distinct rows, each verified by its own folio

	ctx := context.Background()
	store := newTestStore(t)
	log := bitacora.NewAuditLog(store, store)
	r := afectacion.NewRegistrar(organica.NewHierarchy(store), log, nil, nil, afectacion.Options{})

	_, err := r.Registrar(ctx, payload("", bitacora.AccionAplicar, 3, "01", "02"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*afectacion.Resultado, 20)
	errs := make([]error, 20)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Registrar(ctx, payload("", "VALIDAR", 3, "01", "02", "03"))
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := range results {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i].AfectacionID])
		seen[results[i].AfectacionID] = true
	}

	rows, err := log.History(ctx, bitacora.Filter{Accion: "VALIDAR"})
	require.NoError(t, err)
	assert.Len(t, rows, 20)
}

func TestStore_CalendarAndLatest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := bitacora.NewAuditLog(store, store)
	cal := quincena.NewCalendar(log)

	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("a", bitacora.AccionAplicar, 3, "01", "02")))

	q, err := cal.ResolveOpenPeriod(ctx, "01", "02")
	require.NoError(t, err)
	assert.Equal(t, "2025-Q03", q.String())

	latest, err := log.FindLatest(ctx, "AFI", 2025, 3, "jperez", bitacora.AccionAplicar)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a", latest.Folio)
	assert.Equal(t, organica.NewKey("01", "02"), latest.Key)

	require.NoError(t, store.RegistrarAfectacionOrg(ctx, payload("b", bitacora.AccionTerminado, 3, "01", "02")))
	_, err = cal.ResolveOpenPeriod(ctx, "01", "02")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoOpenPeriod))
}

func TestStore_MigrationStatus(t *testing.T) {
	status, err := newTestStore(t).MigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Len(t, status, 2)
}

// =============================================================================
// DRIVER FAILURE CLASSIFICATION (sqlmock)
// =============================================================================

func TestStore_DriverFailure_IsTransport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewWithDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT .+ FROM afectaciones WHERE folio = ?").
		WithArgs("f-1").
		WillReturnError(errors.New("disk I/O error"))

	_, err = store.FindByFolio(ctx, "f-1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransport))
	assert.True(t, dErrors.IsRetryable(err))

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err = store.RegistrarAfectacionOrg(ctx, payload("f-2", bitacora.AccionAplicar, 3, "01"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransport))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByFolio_ScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"afectacion_id", "folio", "entidad", "anio", "quincena", "org_nivel",
		"org0", "org1", "org2", "org3", "accion", "resultado", "mensaje", "usuario", "app_name", "ip", "created_at"}
	mock.ExpectQuery("SELECT .+ FROM afectaciones WHERE folio = ?").
		WithArgs("f-9").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(9), "f-9", "AFI", 2025, 3, 1, "01", "02", "", "",
			"APLICAR", "OK", "", "jperez", "nomina", "10.0.0.1", "2025-02-03T09:00:00.000001Z"))

	row, err := sqlite.NewWithDB(db).FindByFolio(context.Background(), "f-9")

	require.NoError(t, err)
	assert.Equal(t, int64(9), row.AfectacionID)
	assert.Equal(t, organica.NewKey("01", "02"), row.Key)
	assert.Equal(t, time.Date(2025, time.February, 3, 9, 0, 0, 1000, time.UTC), row.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
