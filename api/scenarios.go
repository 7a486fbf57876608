/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:

	Populates an engine with a small hierarchy and a few registrations so
	the dashboard and period views have something to show. Every
	registration goes through the Registrar; nothing writes the audit log
	directly.

AVAILABLE SCENARIOS:

	organica-basica:    Hierarchy only (two org0 branches, three levels)
	quincena-en-curso:  Current quincena opened on 01/02 with one validated
	                    child and one rejected request on 01/04
	periodo-olvidado:   A quincena two periods back opened on 02/01 and
	                    never closed (the stale-period monitor reports it)

HOW SCENARIOS WORK:
 1. Create the hierarchy (nodes that already exist are kept)
 2. Register the scenario's affectations through the Registrar
 3. Rejected registrations are part of the scenario and are not errors

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "quincena-en-curso"}

NOTE:

	The audit log is append-only, so a scenario cannot be unloaded and
	loading one twice records its affectations twice.

SEE ALSO:
  - handlers.go: Registrar wiring
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// LoadScenarioResponse summarises what a load registered.
type LoadScenarioResponse struct {
	ScenarioID  string   `json:"scenarioId"`
	Nodos       int      `json:"nodos"`
	Registradas []string `json:"registradas"`
	Rechazadas  []string `json:"rechazadas"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "organica-basica",
		Name:        "Orgánica básica",
		Description: "Two org0 branches down to org2, no affectations",
	},
	{
		ID:          "quincena-en-curso",
		Name:        "Quincena en curso",
		Description: "Current quincena open on 01/02, one validated unit, one rejected request",
	},
	{
		ID:          "periodo-olvidado",
		Name:        "Periodo olvidado",
		Description: "An old quincena left open on 02/01",
	},
}

var demoUnits = []organica.Node{
	{Key: organica.NewKey("01"), Nombre: "Secretaría de Finanzas"},
	{Key: organica.NewKey("01", "02"), Nombre: "Dirección de Nómina"},
	{Key: organica.NewKey("01", "02", "03"), Nombre: "Departamento de Pagos"},
	{Key: organica.NewKey("01", "04"), Nombre: "Dirección de Recursos Humanos"},
	{Key: organica.NewKey("02"), Nombre: "Secretaría de Educación"},
	{Key: organica.NewKey("02", "01"), Nombre: "Dirección de Personal Docente"},
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.LoadScenarioByID(r.Context(), req.ScenarioID, time.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// LoadScenarioByID loads one scenario, dating its periods relative to now.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string, now time.Time) (*LoadScenarioResponse, error) {
	resp := &LoadScenarioResponse{ScenarioID: id, Registradas: []string{}, Rechazadas: []string{}}
	actual := quincena.For(now)

	var plan []afectacion.Solicitud
	switch id {
	case "organica-basica":
	case "quincena-en-curso":
		plan = []afectacion.Solicitud{
			demoSolicitud(bitacora.AccionAplicar, actual, "01", "02"),
			demoSolicitud("VALIDAR", actual, "01", "02", "03"),
			// 01/04 has no open period: recorded as ERROR
			demoSolicitud("VALIDAR", actual, "01", "04"),
		}
	case "periodo-olvidado":
		plan = []afectacion.Solicitud{
			demoSolicitud(bitacora.AccionAplicar, actual.Previous().Previous(), "02", "01"),
		}
	default:
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown scenario %q", id)
	}

	for _, n := range demoUnits {
		err := organica.CreateNode(ctx, h.Store, n)
		switch {
		case err == nil:
			resp.Nodos++
		case dErrors.HasCode(err, dErrors.CodeConflict):
		default:
			return nil, err
		}
	}

	for _, s := range plan {
		res, err := h.Registrar.Registrar(ctx, s)
		switch {
		case err == nil:
			resp.Registradas = append(resp.Registradas, res.Folio)
		case dErrors.IsClientError(err):
			resp.Rechazadas = append(resp.Rechazadas, s.Key.String()+": "+dErrors.MessageOf(err))
		default:
			return nil, err
		}
	}
	return resp, nil
}

func demoSolicitud(accion bitacora.Accion, q quincena.Quincena, codes ...string) afectacion.Solicitud {
	key := organica.NewKey(codes...)
	return afectacion.Solicitud{
		Entidad:  "DEMO",
		Anio:     q.Anio,
		Quincena: q.Numero,
		OrgNivel: int(key.Level()),
		Key:      key,
		Accion:   accion,
		Usuario:  "demo",
		AppName:  "scenarios",
		IP:       "127.0.0.1",
	}
}
