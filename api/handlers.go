/*
handlers.go - HTTP API handlers for the affectation engine

PURPOSE:
  Exposes registration, audit reads, state views and hierarchy maintenance
  over REST. Handles HTTP request/response and JSON, and delegates every
  decision to the engine packages.

ENDPOINTS:
  Afectaciones:
    POST   /api/afectaciones                 Register (Registrar)
    GET    /api/afectaciones                 Audit history (filtered)
    GET    /api/afectaciones/latest          FindLatest
    GET    /api/afectaciones/{folio}         Audit row by folio

  State:
    GET    /api/unidades/estado              Estado of a unit in a quincena
    GET    /api/unidades/ultima              Latest row of a unit
    GET    /api/usuarios/{usuario}/progreso  Progreso of a user
    POST   /api/tablero                      Dashboard over a set of units

  Periodos:
    GET    /api/periodos/abierto             Open quincena of a branch
    GET    /api/periodos/abiertos            Every branch with an open quincena
    GET    /api/periodos/estado              ABIERTO / CERRADO
    GET    /api/periodos/{anio}/{quincena}   Quincena bounds

  Organica:
    GET    /api/organica                     Children of a unit
    POST   /api/organica                     Create node (guarded)
    DELETE /api/organica                     Delete node (guarded)
    GET    /api/organica/dependientes        HasDependents

REQUESTER IDENTITY:
  usuario comes from the body. appName falls back to the X-App-Name
  header and then to Options.AppName, ip to the RealIP-adjusted remote
  address.

ERROR HANDLING:
  Every error is a domainerrors code. The body is {code, error}; the HTTP
  status comes from domainerrors.HTTPStatus. Wrapped causes are logged,
  never returned.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the engine needs from persistence. store/memory,
// store/sqlite and store/postgres implement it.
type Store interface {
	organica.NodeStore
	bitacora.Writer
	bitacora.Store
	Ping(ctx context.Context) error
}

// Options tune the engine built by NewHandler.
type Options struct {
	Registrar            afectacion.Options
	DashboardConcurrency int
	Events               afectacion.EventSink
	Metrics              *afectacion.Metrics
	Logger               *logrus.Logger
	// AppName is recorded when neither the body nor X-App-Name names one.
	AppName              string
}

// Handler holds the engine components behind the HTTP surface.
type Handler struct {
	Store     Store
	Hierarchy *organica.Hierarchy
	Log       *bitacora.AuditLog
	Calendar  *quincena.Calendar
	Registrar *afectacion.Registrar
	Tracker   *afectacion.Tracker
	Dashboard *afectacion.Dashboard
	Logger    *logrus.Logger
	AppName   string
}

// NewHandler assembles the engine over store.
func NewHandler(store Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	events := opts.Events
	if events == nil {
		events = afectacion.NewLogrusSink(logger)
	}

	hierarchy := organica.NewHierarchy(store)
	log := bitacora.NewAuditLog(store, store)
	tracker := afectacion.NewTracker(log)

	return &Handler{
		Store:     store,
		Hierarchy: hierarchy,
		Log:       log,
		Calendar:  quincena.NewCalendar(log),
		Registrar: afectacion.NewRegistrar(hierarchy, log, events, opts.Metrics, opts.Registrar),
		Tracker:   tracker,
		Dashboard: afectacion.NewDashboard(tracker, opts.DashboardConcurrency, opts.Metrics),
		Logger:    logger,
		AppName:   opts.AppName,
	}
}

// =============================================================================
// AFECTACION HANDLERS
// =============================================================================

// RegistrarAfectacion registers one affectation and returns the confirmed row id.
func (h *Handler) RegistrarAfectacion(w http.ResponseWriter, r *http.Request) {
	var req RegistrarRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s := req.Solicitud()
	if strings.TrimSpace(s.AppName) == "" {
		s.AppName = r.Header.Get("X-App-Name")
	}
	if strings.TrimSpace(s.AppName) == "" {
		s.AppName = h.AppName
	}
	if strings.TrimSpace(s.IP) == "" {
		s.IP = clientIP(r)
	}

	res, err := h.Registrar.Registrar(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListAfectaciones returns audit rows newest first.
func (h *Handler) ListAfectaciones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := bitacora.Filter{
		Entidad:   strings.ToUpper(q.Get("entidad")),
		Usuario:   q.Get("usuario"),
		Accion:    bitacora.Accion(strings.ToUpper(q.Get("accion"))),
		Resultado: bitacora.Resultado(strings.ToUpper(q.Get("resultado"))),
		Limit:     defaultListLimit,
	}
	var err error
	if f.Anio, err = intParam(q.Get("anio"), "anio", false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.Quincena, err = intParam(q.Get("quincena"), "quincena", false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if limit, err := intParam(q.Get("limit"), "limit", false); err != nil {
		h.writeError(w, r, err)
		return
	} else if limit > 0 {
		f.Limit = min(limit, maxListLimit)
	}
	if key := keyFromQuery(r); !key.IsZero() {
		if err := key.CheckFormat(); err != nil {
			h.writeError(w, r, err)
			return
		}
		f.Unidad = &key
	}

	rows, err := h.Log.History(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []bitacora.Afectacion{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// FindLatest returns the most recent row for (entidad, anio, quincena, usuario, accion).
func (h *Handler) FindLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, name := range []string{"entidad", "usuario", "accion"} {
		if q.Get(name) == "" {
			h.writeError(w, r, dErrors.Newf(dErrors.CodeValidation, "missing query parameter %q", name))
			return
		}
	}
	anio, err := intParam(q.Get("anio"), "anio", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	qn, err := intParam(q.Get("quincena"), "quincena", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	row, err := h.Log.FindLatest(r.Context(),
		strings.ToUpper(q.Get("entidad")), anio, qn, q.Get("usuario"),
		bitacora.Accion(strings.ToUpper(q.Get("accion"))))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if row == nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeNotFound, "no matching afectacion"))
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// GetAfectacion returns the audit row recorded under a folio.
func (h *Handler) GetAfectacion(w http.ResponseWriter, r *http.Request) {
	folio := chi.URLParam(r, "folio")
	row, err := h.Log.FindByFolio(r.Context(), folio)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if row == nil {
		h.writeError(w, r, dErrors.Newf(dErrors.CodeNotFound, "folio %q not found", folio))
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

func (h *Handler) GetEstado(w http.ResponseWriter, r *http.Request) {
	q, err := quincenaFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	estado, err := h.Tracker.Estado(r.Context(), keyFromQuery(r), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estado)
}

func (h *Handler) GetUltima(w http.ResponseWriter, r *http.Request) {
	ultima, err := h.Tracker.Ultima(r.Context(), keyFromQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ultima)
}

func (h *Handler) GetProgreso(w http.ResponseWriter, r *http.Request) {
	q, err := quincenaFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	progreso, err := h.Tracker.Progreso(r.Context(), chi.URLParam(r, "usuario"), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progreso)
}

func (h *Handler) GetTablero(w http.ResponseWriter, r *http.Request) {
	var req TableroRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := quincena.New(req.Anio, req.Quincena)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	board, err := h.Dashboard.Tablero(r.Context(), req.Unidades, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// =============================================================================
// PERIODO HANDLERS
// =============================================================================

func (h *Handler) GetOpenPeriod(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	open, err := h.Calendar.ResolveOpenPeriod(r.Context(), q.Get("org0"), q.Get("org1"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, open)
}

func (h *Handler) ListOpenPeriods(w http.ResponseWriter, r *http.Request) {
	ramas, err := h.Calendar.OpenBranches(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ramas == nil {
		ramas = []quincena.RamaAbierta{}
	}
	writeJSON(w, http.StatusOK, ramas)
}

func (h *Handler) GetEstadoPeriodo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	estado, err := h.Calendar.Estado(r.Context(), q.Get("org0"), q.Get("org1"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EstadoPeriodoResponse{
		Rama:   organica.NewKey(q.Get("org0"), q.Get("org1")),
		Estado: string(estado),
	})
}

// GetBounds returns the date range of one quincena.
func (h *Handler) GetBounds(w http.ResponseWriter, r *http.Request) {
	anio, err := intParam(chi.URLParam(r, "anio"), "anio", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	numero, err := intParam(chi.URLParam(r, "quincena"), "quincena", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := quincena.New(anio, numero)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// =============================================================================
// ORGANICA HANDLERS
// =============================================================================

// ListNodes lists the children of the unit named by the query, or every
// org0 node when no code is given.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	parent := keyFromQuery(r)
	level := organica.Level0
	if !parent.IsZero() {
		if err := parent.CheckFormat(); err != nil {
			h.writeError(w, r, err)
			return
		}
		if parent.Level() == organica.MaxLevel {
			h.writeError(w, r, dErrors.Newf(dErrors.CodeValidation, "%s nodes have no children", organica.MaxLevel))
			return
		}
		level = parent.Level() + 1
	}

	nodes, err := h.Store.ListNodes(r.Context(), level, parent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]NodeDTO, len(nodes))
	for i, n := range nodes {
		dtos[i] = toNodeDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	codes := req.Key.Codes()
	node := organica.Node{Key: organica.NewKey(codes[:]...), Nombre: strings.TrimSpace(req.Nombre)}
	if err := organica.CreateNode(r.Context(), h.Store, node); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNodeDTO(node))
}

func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := organica.DeleteNode(r.Context(), h.Store, keyFromQuery(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetDependents(w http.ResponseWriter, r *http.Request) {
	key := keyFromQuery(r)
	if err := key.CheckFormat(); err != nil {
		h.writeError(w, r, err)
		return
	}
	hierarchy := h.Hierarchy.Scoped()
	exists, err := hierarchy.Exists(r.Context(), key.Level(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !exists {
		h.writeError(w, r, dErrors.Newf(dErrors.CodeNotFound, "%s %q not found", key.Level(), key.String()))
		return
	}
	has, err := hierarchy.HasDependents(r.Context(), key.Level(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DependientesResponse{Unidad: key, HasDependents: has})
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err onto its HTTP status. Server-side failures are logged
// with the full cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.Logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
			"code":       code,
		}).WithError(err).Error("request failed")
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Error: dErrors.MessageOf(err)})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid JSON body")
	}
	return nil
}

func keyFromQuery(r *http.Request) organica.Key {
	q := r.URL.Query()
	return organica.NewKey(q.Get("org0"), q.Get("org1"), q.Get("org2"), q.Get("org3"))
}

func quincenaFromQuery(r *http.Request) (quincena.Quincena, error) {
	q := r.URL.Query()
	anio, err := intParam(q.Get("anio"), "anio", true)
	if err != nil {
		return quincena.Quincena{}, err
	}
	numero, err := intParam(q.Get("quincena"), "quincena", true)
	if err != nil {
		return quincena.Quincena{}, err
	}
	return quincena.New(anio, numero)
}

func intParam(raw, name string, required bool) (int, error) {
	if raw == "" {
		if required {
			return 0, dErrors.Newf(dErrors.CodeValidation, "missing query parameter %q", name)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeValidation, name+" must be an integer")
	}
	return n, nil
}

// clientIP strips the port from RemoteAddr (already rewritten by RealIP).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
