package quincena_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
	"github.com/warp/afectaciones-engine/store/memory"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// BOUNDS
// =============================================================================

func TestBounds_Examples(t *testing.T) {
	inicio, fin, err := quincena.Bounds(2025, 3)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 1), inicio)
	assert.Equal(t, date(2025, time.February, 15), fin)

	inicio, fin, err = quincena.Bounds(2024, 4)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 16), inicio)
	assert.Equal(t, date(2024, time.February, 29), fin, "leap year")

	_, fin, _ = quincena.Bounds(2025, 24)
	assert.Equal(t, date(2025, time.December, 31), fin)
}

func TestBounds_Invalid(t *testing.T) {
	for _, c := range [][2]int{{2025, 0}, {2025, 25}, {1999, 1}, {2101, 1}} {
		_, _, err := quincena.Bounds(c[0], c[1])
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "%v", c)
	}
}

func TestBounds_PartitionYear(t *testing.T) {
	// GIVEN: A leap and a non-leap year
	// WHEN: Walking all 24 quincenas
	// THEN: Each starts the day after the previous ends, covering Jan 1..Dec 31

	for _, anio := range []int{2024, 2025} {
		expected := date(anio, time.January, 1)
		total := 0
		for n := 1; n <= quincena.PerYear; n++ {
			q, err := quincena.New(anio, n)
			require.NoError(t, err)
			assert.Equal(t, expected, q.FechaInicio, q.String())
			assert.False(t, q.FechaFin.Before(q.FechaInicio))
			total += int(q.FechaFin.Sub(q.FechaInicio).Hours()/24) + 1
			expected = q.FechaFin.AddDate(0, 0, 1)
		}
		assert.Equal(t, date(anio+1, time.January, 1), expected)
		assert.Equal(t, date(anio+1, time.January, 1).Sub(date(anio, time.January, 1)).Hours()/24, float64(total))
	}
}

func TestFor_NextPrevious(t *testing.T) {
	q := quincena.For(date(2025, time.February, 15))
	assert.Equal(t, "2025-Q03", q.String())
	assert.Equal(t, "2025-Q04", quincena.For(date(2025, time.February, 16)).String())

	assert.Equal(t, "2026-Q01", quincena.MustNew(2025, 24).Next().String())
	assert.Equal(t, "2024-Q24", quincena.MustNew(2025, 1).Previous().String())
	assert.True(t, q.Contains(time.Date(2025, time.February, 10, 23, 59, 0, 0, time.UTC)))
	assert.False(t, q.Contains(date(2025, time.February, 16)))
	assert.True(t, q.Ended(date(2025, time.February, 16)))
	assert.False(t, q.Ended(date(2025, time.February, 15)))
}

// =============================================================================
// CALENDAR
// =============================================================================

func newCalendar(t *testing.T) (*quincena.Calendar, *bitacora.AuditLog) {
	t.Helper()
	ctx := context.Background()
	m := memory.New()
	for _, k := range []organica.Key{organica.NewKey("01"), organica.NewKey("01", "02")} {
		require.NoError(t, organica.CreateNode(ctx, m, organica.Node{Key: k}))
	}
	log := bitacora.NewAuditLog(m, m)
	return quincena.NewCalendar(log), log
}

func write(t *testing.T, log *bitacora.AuditLog, accion bitacora.Accion, q int) {
	t.Helper()
	_, err := log.Append(context.Background(), bitacora.Payload{
		Entidad: "AFI", Anio: 2025, Quincena: q, OrgNivel: 1,
		Key: organica.NewKey("01", "02"), Accion: accion,
		Usuario: "jperez", AppName: "nomina",
	})
	require.NoError(t, err)
}

func TestResolveOpenPeriod_FollowsAplicarTerminado(t *testing.T) {
	// GIVEN: APLICAR 2025-Q03 for branch 01/02
	// WHEN: Resolving before and after TERMINADO
	// THEN: Q03 is open, then nothing is open

	ctx := context.Background()
	cal, log := newCalendar(t)

	_, err := cal.ResolveOpenPeriod(ctx, "01", "02")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoOpenPeriod))

	write(t, log, bitacora.AccionAplicar, 3)

	q, err := cal.ResolveOpenPeriod(ctx, "01", "02")
	require.NoError(t, err)
	assert.Equal(t, quincena.MustNew(2025, 3), q)
	estado, _ := cal.Estado(ctx, "01", "02")
	assert.Equal(t, quincena.Abierto, estado)

	write(t, log, bitacora.AccionTerminado, 3)

	_, err = cal.ResolveOpenPeriod(ctx, "01", "02")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoOpenPeriod))
	estado, _ = cal.Estado(ctx, "01", "02")
	assert.Equal(t, quincena.Cerrado, estado)
}

func TestResolveOpenPeriod_RejectedAplicarKeepsFirstOpen(t *testing.T) {
	ctx := context.Background()
	cal, log := newCalendar(t)

	write(t, log, bitacora.AccionAplicar, 3)
	write(t, log, bitacora.AccionAplicar, 4) // recorded as ERROR

	q, err := cal.ResolveOpenPeriod(ctx, "01", "02")
	require.NoError(t, err)
	assert.Equal(t, 3, q.Numero)

	ramas, err := cal.OpenBranches(ctx)
	require.NoError(t, err)
	require.Len(t, ramas, 1)
	assert.Equal(t, organica.NewKey("01", "02"), ramas[0].Rama)
}
