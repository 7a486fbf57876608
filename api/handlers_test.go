/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Registration over HTTP, requester identity fallbacks
- Mapping of every error code onto its HTTP status and {code, error} body
- State, dashboard, calendar and hierarchy endpoints
- /healthz and /metrics
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
	"github.com/warp/afectaciones-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *Handler
	router  http.Handler
	store   *memory.Memory
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestServerWith(t *testing.T, store Store, m *memory.Memory) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	logger := quietLogger()
	h := NewHandler(store, Options{
		Metrics: afectacion.NewMetrics(reg),
		Events:  afectacion.NopSink{},
		Logger:  logger,
		Registrar: afectacion.Options{
			Timeout:        2 * time.Second,
			VerifyAttempts: 2,
			VerifyBackoff:  time.Millisecond,
		},
	})
	router := NewRouter(h, RouterOptions{
		CORSOrigins:    []string{"*"},
		RequestTimeout: 5 * time.Second,
		MetricsPath:    "/metrics",
		Gatherer:       reg,
		Logger:         logger,
	})
	return &testServer{handler: h, router: router, store: m}
}

// newTestServer seeds units 01, 01/02, 01/02/03 and 01/04.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := memory.New()
	for _, k := range []organica.Key{
		organica.NewKey("01"),
		organica.NewKey("01", "02"),
		organica.NewKey("01", "02", "03"),
		organica.NewKey("01", "04"),
	} {
		require.NoError(t, organica.CreateNode(context.Background(), m, organica.Node{Key: k, Nombre: "Unidad " + k.String()}))
	}
	return newTestServerWith(t, m, m)
}

func (s *testServer) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func registrarBody(accion string, q int, codes ...string) map[string]any {
	body := map[string]any{
		"entidad":  "AFI",
		"anio":     2025,
		"quincena": q,
		"accion":   accion,
		"usuario":  "jperez",
		"appName":  "nomina",
	}
	for i, c := range codes {
		body["org"+string(rune('0'+i))] = c
	}
	return body
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code dErrors.Code) ErrorResponse {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(code), resp.Code)
	assert.NotEmpty(t, resp.Error)
	return resp
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegistrar_Success_AndAuditRow(t *testing.T) {
	// GIVEN: A seeded hierarchy
	// WHEN: POSTing an APLICAR without appName and ip
	// THEN: 201 with the folio; the audit row carries the header app name and remote ip

	s := newTestServer(t)
	body := registrarBody("aplicar", 3, "01", "02")
	delete(body, "appName")

	rec := s.do(t, http.MethodPost, "/api/afectaciones", body, "X-App-Name", "portal")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[afectacion.Resultado](t, rec)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Folio)
	assert.Positive(t, res.AfectacionID)

	rec = s.do(t, http.MethodGet, "/api/afectaciones/"+res.Folio, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	row := decode[bitacora.Afectacion](t, rec)
	assert.Equal(t, res.AfectacionID, row.AfectacionID)
	assert.Equal(t, bitacora.AccionAplicar, row.Accion)
	assert.Equal(t, "portal", row.AppName)
	assert.Equal(t, "192.0.2.1", row.IP)
	assert.Equal(t, 1, row.OrgNivel)
}

func TestRegistrar_AppNameFallsBackToConfigured(t *testing.T) {
	// GIVEN: A handler configured with AppName "afectaciones-cli"
	// WHEN: POSTing without appName in the body or the X-App-Name header
	// THEN: The audit row records the configured name; the header still wins over it

	s := newTestServer(t)
	s.handler.AppName = "afectaciones-cli"
	body := registrarBody("APLICAR", 3, "01", "02")
	delete(body, "appName")

	rec := s.do(t, http.MethodPost, "/api/afectaciones", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	row, err := s.handler.Log.FindByFolio(context.Background(), decode[afectacion.Resultado](t, rec).Folio)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "afectaciones-cli", row.AppName)

	body = registrarBody("VALIDAR", 3, "01", "02", "03")
	delete(body, "appName")
	rec = s.do(t, http.MethodPost, "/api/afectaciones", body, "X-App-Name", "portal")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	row, err = s.handler.Log.FindByFolio(context.Background(), decode[afectacion.Resultado](t, rec).Folio)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "portal", row.AppName)
}

func TestRegistrar_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02")).Code)

	tests := []struct {
		name   string
		body   any
		status int
		code   dErrors.Code
	}{
		{"malformed json", "{", http.StatusBadRequest, dErrors.CodeValidation},
		{"missing usuario", map[string]any{"entidad": "AFI", "anio": 2025, "quincena": 3, "org0": "01", "accion": "APLICAR", "appName": "x"},
			http.StatusBadRequest, dErrors.CodeValidation},
		{"missing ancestor", registrarBody("APLICAR", 3, "09", "02"), http.StatusBadRequest, dErrors.CodeInvalidHierarchy},
		{"period already open", registrarBody("APLICAR", 4, "01", "02"), http.StatusConflict, dErrors.CodePeriodConflict},
		{"rule rejection", registrarBody("VALIDAR", 3, "01", "04"), http.StatusUnprocessableEntity, dErrors.CodeRegistrationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/afectaciones", tt.body)
			assertError(t, rec, tt.status, tt.code)
		})
	}
}

func TestRegistrar_RejectionCarriesAuditMensaje(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("VALIDAR", 3, "01", "04"))

	resp := assertError(t, rec, http.StatusUnprocessableEntity, dErrors.CodeRegistrationFailed)
	assert.Equal(t, "El periodo 2025-Q03 no está abierto para la rama 01/04", resp.Error)
}

// =============================================================================
// AUDIT READS
// =============================================================================

func TestFindLatest(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02")).Code)

	rec := s.do(t, http.MethodGet, "/api/afectaciones/latest?entidad=afi&anio=2025&quincena=3&usuario=jperez&accion=APLICAR", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, organica.NewKey("01", "02"), decode[bitacora.Afectacion](t, rec).Key)

	rec = s.do(t, http.MethodGet, "/api/afectaciones/latest?entidad=AFI&anio=2025&quincena=4&usuario=jperez&accion=APLICAR", nil)
	assertError(t, rec, http.StatusNotFound, dErrors.CodeNotFound)

	rec = s.do(t, http.MethodGet, "/api/afectaciones/latest?entidad=AFI&anio=dos&quincena=4&usuario=jperez&accion=APLICAR", nil)
	assertError(t, rec, http.StatusBadRequest, dErrors.CodeValidation)
}

func TestGetAfectacion_UnknownFolio_NotFound(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodGet, "/api/afectaciones/no-such-folio", nil)
	assertError(t, rec, http.StatusNotFound, dErrors.CodeNotFound)
}

func TestListAfectaciones_FilterByUnit(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02"))
	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("VALIDAR", 3, "01", "02", "03"))

	rec := s.do(t, http.MethodGet, "/api/afectaciones?org0=01&org1=02&org2=03", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]bitacora.Afectacion](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, bitacora.Accion("VALIDAR"), rows[0].Accion)
}

// =============================================================================
// STATE AND DASHBOARD
// =============================================================================

func TestEstadoUltimaProgreso(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02"))

	rec := s.do(t, http.MethodGet, "/api/unidades/estado?org0=01&org1=02&anio=2025&quincena=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, afectacion.StatusOK, decode[afectacion.Estado](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/unidades/estado?org0=01&org1=04&anio=2025&quincena=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[afectacion.Estado](t, rec).SinHistorial)

	rec = s.do(t, http.MethodGet, "/api/unidades/ultima?org0=01&org1=02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[afectacion.Ultima](t, rec).Afectacion)

	rec = s.do(t, http.MethodGet, "/api/usuarios/jperez/progreso?anio=2025&quincena=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[afectacion.Progreso](t, rec).OK)

	rec = s.do(t, http.MethodGet, "/api/unidades/estado?org0=01&anio=2025&quincena=25", nil)
	assertError(t, rec, http.StatusBadRequest, dErrors.CodeValidation)
}

func TestProgreso_BlankUsuario_BadRequest(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02"))

	rec := s.do(t, http.MethodGet, "/api/usuarios//progreso?anio=2025&quincena=3", nil)
	assertError(t, rec, http.StatusBadRequest, dErrors.CodeValidation)

	rec = s.do(t, http.MethodGet, "/api/usuarios/%20%20/progreso?anio=2025&quincena=3", nil)
	assertError(t, rec, http.StatusBadRequest, dErrors.CodeValidation)
}

func TestTablero(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02"))

	rec := s.do(t, http.MethodPost, "/api/tablero", map[string]any{
		"anio": 2025, "quincena": 3,
		"unidades": []organica.Key{organica.NewKey("01", "02"), organica.NewKey("01", "04")},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	board := decode[afectacion.Tablero](t, rec)
	assert.Equal(t, 2, board.Total)
	assert.Equal(t, 1, board.Conteos[afectacion.StatusOK])
	assert.Equal(t, 1, board.Conteos[afectacion.StatusPending])
	assert.Equal(t, "50", board.Avance.String())
}

// =============================================================================
// PERIODOS
// =============================================================================

func TestPeriodos(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/periodos/abierto?org0=01&org1=02", nil)
	assertError(t, rec, http.StatusNotFound, dErrors.CodeNoOpenPeriod)

	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02"))

	rec = s.do(t, http.MethodGet, "/api/periodos/abierto?org0=01&org1=02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decode[quincena.Quincena](t, rec)
	assert.Equal(t, "2025-Q03", open.String())

	rec = s.do(t, http.MethodGet, "/api/periodos/estado?org0=01&org1=02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABIERTO", decode[EstadoPeriodoResponse](t, rec).Estado)

	rec = s.do(t, http.MethodGet, "/api/periodos/abiertos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]quincena.RamaAbierta](t, rec), 1)
}

func TestGetBounds(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/periodos/2024/4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[quincena.Quincena](t, rec)
	assert.Equal(t, time.Date(2024, time.February, 16, 0, 0, 0, 0, time.UTC), q.FechaInicio)
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), q.FechaFin)

	assertError(t, s.do(t, http.MethodGet, "/api/periodos/2024/0", nil), http.StatusBadRequest, dErrors.CodeValidation)
}

// =============================================================================
// ORGANICA
// =============================================================================

func TestOrganica_CreateListDelete(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/organica", map[string]any{"org0": "01", "org1": "04", "org2": "07", "nombre": "Archivo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "010407", decode[NodeDTO](t, rec).Clave)

	assertError(t, s.do(t, http.MethodPost, "/api/organica", map[string]any{"org0": "01", "org1": "04", "org2": "07"}),
		http.StatusConflict, dErrors.CodeConflict)
	assertError(t, s.do(t, http.MethodPost, "/api/organica", map[string]any{"org0": "05", "org1": "01"}),
		http.StatusBadRequest, dErrors.CodeInvalidHierarchy)

	rec = s.do(t, http.MethodGet, "/api/organica?org0=01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]NodeDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/organica/dependientes?org0=01&org1=04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[DependientesResponse](t, rec).HasDependents)

	assertError(t, s.do(t, http.MethodDelete, "/api/organica?org0=01&org1=04", nil),
		http.StatusConflict, dErrors.CodeHierarchyConflict)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/organica?org0=01&org1=04&org2=07", nil).Code)
	assertError(t, s.do(t, http.MethodDelete, "/api/organica?org0=01&org1=04&org2=07", nil),
		http.StatusNotFound, dErrors.CodeNotFound)
}

// =============================================================================
// OPERATIONS
// =============================================================================

type unreachableStore struct {
	*memory.Memory
}

func (unreachableStore) Ping(context.Context) error {
	return dErrors.Wrap(errors.New("connection refused"), dErrors.CodeTransport, "ping failed")
}

func TestHealth(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	m := memory.New()
	rec = newTestServerWith(t, unreachableStore{m}, m).do(t, http.MethodGet, "/healthz", nil)
	resp := assertError(t, rec, http.StatusServiceUnavailable, dErrors.CodeTransport)
	assert.NotContains(t, resp.Error, "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/afectaciones", registrarBody("APLICAR", 3, "01", "02"))

	rec := s.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `afectaciones_registrations_total{accion="APLICAR",outcome="OK"} 1`))
}
