/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     RemoteAddr from X-Forwarded-For / X-Real-IP (requester ip)
  3. Logger:     logrus request log (requestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request deadline inherited by every engine call
  6. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/afectaciones/*   Registration and audit reads
  /api/unidades/*       Per-unit state
  /api/usuarios/*       Per-user progress
  /api/tablero          Dashboard
  /api/periodos/*       Quincena calendar
  /api/organica/*       Hierarchy maintenance
  /api/scenarios/*      Demo data
  /healthz, /metrics    Operations

SECURITY NOTE:
  No authentication middleware. The requester identity (usuario, appName,
  ip) is taken from the request and recorded, not verified.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouterOptions configure the HTTP surface.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// MetricsPath is left unrouted when empty or Gatherer is nil.
	MetricsPath string
	Gatherer    prometheus.Gatherer
	Logger      *logrus.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-App-Name", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	if opts.MetricsPath != "" && opts.Gatherer != nil {
		r.Handle(opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/afectaciones", func(r chi.Router) {
			r.Post("/", h.RegistrarAfectacion)
			r.Get("/", h.ListAfectaciones)
			r.Get("/latest", h.FindLatest)
			r.Get("/{folio}", h.GetAfectacion)
		})

		r.Route("/unidades", func(r chi.Router) {
			r.Get("/estado", h.GetEstado)
			r.Get("/ultima", h.GetUltima)
		})

		r.Get("/usuarios/{usuario}/progreso", h.GetProgreso)
		r.Post("/tablero", h.GetTablero)

		r.Route("/periodos", func(r chi.Router) {
			r.Get("/abierto", h.GetOpenPeriod)
			r.Get("/abiertos", h.ListOpenPeriods)
			r.Get("/estado", h.GetEstadoPeriodo)
			r.Get("/{anio}/{quincena}", h.GetBounds)
		})

		r.Route("/organica", func(r chi.Router) {
			r.Get("/", h.ListNodes)
			r.Post("/", h.CreateNode)
			r.Delete("/", h.DeleteNode)
			r.Get("/dependientes", h.GetDependents)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"remote":     r.RemoteAddr,
			})
			switch {
			case status >= http.StatusInternalServerError:
				entry.Error("request failed")
			case status >= http.StatusBadRequest:
				entry.Warn("request rejected")
			default:
				entry.Info("request served")
			}
		})
	}
}
