/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Engine results (afectacion.Resultado, Estado, Ultima, Progreso, Tablero,
  quincena.Quincena, bitacora.Afectacion) already carry JSON tags and are
  written as-is. This file only holds request bodies and the few wrappers
  the engine has no type for.

VALIDATION:
  Done by the engine (schema tags on bitacora.Payload and organica.Key),
  not by the DTOs.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/bitacora"
	"github.com/warp/afectaciones-engine/organica"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RegistrarRequest is the body of POST /api/afectaciones. OrgNivel is
// derived from the deepest code when omitted.
type RegistrarRequest struct {
	Folio    string `json:"folio,omitempty"`
	Entidad  string `json:"entidad"`
	Anio     int    `json:"anio"`
	Quincena int    `json:"quincena"`
	OrgNivel *int   `json:"orgNivel,omitempty"`
	organica.Key
	Accion    string `json:"accion"`
	Resultado string `json:"resultado,omitempty"`
	Mensaje   string `json:"mensaje,omitempty"`
	Usuario   string `json:"usuario"`
	AppName   string `json:"appName,omitempty"`
	IP        string `json:"ip,omitempty"`
}

func (req RegistrarRequest) Solicitud() afectacion.Solicitud {
	nivel := int(req.Key.Level())
	if req.OrgNivel != nil {
		nivel = *req.OrgNivel
	}
	return afectacion.Solicitud{
		Folio:     req.Folio,
		Entidad:   req.Entidad,
		Anio:      req.Anio,
		Quincena:  req.Quincena,
		OrgNivel:  nivel,
		Key:       req.Key,
		Accion:    bitacora.Accion(req.Accion),
		Resultado: bitacora.Resultado(req.Resultado),
		Mensaje:   req.Mensaje,
		Usuario:   req.Usuario,
		AppName:   req.AppName,
		IP:        req.IP,
	}
}

// TableroRequest is the body of POST /api/tablero.
type TableroRequest struct {
	Unidades []organica.Key `json:"unidades"`
	Anio     int            `json:"anio"`
	Quincena int            `json:"quincena"`
}

// CreateNodeRequest is the body of POST /api/organica.
type CreateNodeRequest struct {
	organica.Key
	Nombre string `json:"nombre"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type NodeDTO struct {
	organica.Key
	Clave  string `json:"clave"`
	Nivel  int    `json:"nivel"`
	Nombre string `json:"nombre"`
}

func toNodeDTO(n organica.Node) NodeDTO {
	return NodeDTO{Key: n.Key, Clave: n.Key.Clave(), Nivel: int(n.Level()), Nombre: n.Nombre}
}

type DependientesResponse struct {
	Unidad        organica.Key `json:"unidad"`
	HasDependents bool         `json:"hasDependents"`
}

type EstadoPeriodoResponse struct {
	Rama   organica.Key `json:"rama"`
	Estado string       `json:"estado"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries the stable error code and a caller-safe message.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
