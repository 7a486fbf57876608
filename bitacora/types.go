/*
Package bitacora is the append-only audit log of affectation attempts.

PURPOSE:
  Every registration attempt that reaches the store leaves exactly one row
  here, successful or not. The log is the single source of truth for whether
  a registration succeeded: the write path's own return value is never
  trusted, and every read model (estado, última, progreso, tablero, periodo
  abierto) is a projection over these rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Afectacion: one immutable audit row
  - Payload:    the named parameters of the privileged write
  - Accion / Resultado: action verb and outcome
  - Filter:     the query shape shared by every store

APPEND-ONLY CONTRACT:
  Rows are inserted by the privileged write only. There is no Update and no
  Delete anywhere in this package or its stores. AfectacionID and CreatedAt
  are assigned by the store on commit; CreatedAt is strictly increasing.

SEE ALSO:
  - auditlog.go: Writer/Store interfaces and the AuditLog facade
  - rules.go:    business rules evaluated by the privileged write
*/
package bitacora

import (
	"fmt"
	"strings"
	"time"

	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/schema"
)

// =============================================================================
// ACCION / RESULTADO
// =============================================================================

// Accion is the verb recorded with an affectation. APLICAR and TERMINADO
// drive the period state machine; any other verb is an affectation inside
// the open period.
type Accion string

const (
	AccionAplicar   Accion = "APLICAR"
	AccionTerminado Accion = "TERMINADO"
)

type Resultado string

const (
	ResultadoOK    Resultado = "OK"
	ResultadoError Resultado = "ERROR"
)

// =============================================================================
// AFECTACION - Immutable audit row
// =============================================================================

type Afectacion struct {
	AfectacionID int64  `json:"afectacionId"`
	Folio        string `json:"folio"`
	Entidad      string `json:"entidad"`
	Anio         int    `json:"anio"`
	Quincena     int    `json:"quincena"`
	OrgNivel     int    `json:"orgNivel"`
	organica.Key
	Accion    Accion    `json:"accion"`
	Resultado Resultado `json:"resultado"`
	Mensaje   string    `json:"mensaje"`
	Usuario   string    `json:"usuario"`
	AppName   string    `json:"appName"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a Afectacion) Periodo() Periodo { return Periodo{Anio: a.Anio, Quincena: a.Quincena} }

func (a Afectacion) OK() bool { return a.Resultado == ResultadoOK }

// Periodo is a (year, quincena) pair as stored in the log. Calendar
// boundaries live in package quincena.
type Periodo struct {
	Anio     int
	Quincena int
}

func (p Periodo) String() string { return fmt.Sprintf("%d-Q%02d", p.Anio, p.Quincena) }

// =============================================================================
// PAYLOAD - Parameters of the privileged write
// =============================================================================

// Payload carries the named parameters of RegistrarAfectacionOrg.
type Payload struct {
	Folio    string `json:"folio" validate:"omitempty,max=64"`
	Entidad  string `json:"entidad" validate:"required,alphanum,max=10"`
	Anio     int    `json:"anio" validate:"required,min=2000,max=2100"`
	Quincena int    `json:"quincena" validate:"required,min=1,max=24"`
	OrgNivel int    `json:"orgNivel" validate:"min=0,max=3"`
	organica.Key
	Accion    Accion    `json:"accion" validate:"required,max=20"`
	Resultado Resultado `json:"resultado" validate:"omitempty,oneof=OK ERROR"`
	Mensaje   string    `json:"mensaje" validate:"max=500"`
	Usuario   string    `json:"usuario" validate:"required,max=50"`
	AppName   string    `json:"appName" validate:"required,max=50"`
	IP        string    `json:"ip" validate:"omitempty,ip"`
}

// Normalize trims free text and upper-cases codes.
func (p *Payload) Normalize() {
	p.Folio = strings.TrimSpace(p.Folio)
	p.Entidad = strings.ToUpper(strings.TrimSpace(p.Entidad))
	p.Key = organica.NewKey(p.Org0, p.Org1, p.Org2, p.Org3)
	p.Accion = Accion(strings.ToUpper(strings.TrimSpace(string(p.Accion))))
	p.Resultado = Resultado(strings.ToUpper(strings.TrimSpace(string(p.Resultado))))
	p.Mensaje = strings.TrimSpace(p.Mensaje)
	p.Usuario = strings.TrimSpace(p.Usuario)
	p.AppName = strings.TrimSpace(p.AppName)
	p.IP = strings.TrimSpace(p.IP)
}

// Validate checks the declarative schema and that OrgNivel names the
// deepest key level present.
func (p Payload) Validate() error {
	if err := schema.Check(p); err != nil {
		return err
	}
	if organica.Level(p.OrgNivel) != p.Key.Level() {
		return dErrors.Newf(dErrors.CodeValidation,
			"orgNivel %d does not match key %q (level %d)", p.OrgNivel, p.Key.String(), int(p.Key.Level()))
	}
	return nil
}

func (p Payload) Periodo() Periodo { return Periodo{Anio: p.Anio, Quincena: p.Quincena} }

// Record builds the row the store will insert, given the outcome the
// business rules decided on. ID and CreatedAt are left for the store.
func (p Payload) Record(resultado Resultado, mensaje string) Afectacion {
	return Afectacion{
		Folio:     p.Folio,
		Entidad:   p.Entidad,
		Anio:      p.Anio,
		Quincena:  p.Quincena,
		OrgNivel:  p.OrgNivel,
		Key:       p.Key,
		Accion:    p.Accion,
		Resultado: resultado,
		Mensaje:   mensaje,
		Usuario:   p.Usuario,
		AppName:   p.AppName,
		IP:        p.IP,
	}
}

// =============================================================================
// FILTER - Query shape shared by every store
// =============================================================================

// Filter selects audit rows. Zero-valued fields do not filter. Results are
// always ordered by CreatedAt descending.
type Filter struct {
	Entidad  string
	Anio     int
	Quincena int
	Usuario  string
	Accion   Accion
	Acciones []Accion

	// Unidad matches rows whose four org codes equal the key exactly.
	Unidad *organica.Key
	// Rama matches rows whose org0 and org1 equal the key's.
	Rama *organica.Key

	Resultado Resultado
	Limit     int
}

// Matches reports whether a satisfies every set field of f.
func (f Filter) Matches(a Afectacion) bool {
	if f.Entidad != "" && a.Entidad != f.Entidad {
		return false
	}
	if f.Anio != 0 && a.Anio != f.Anio {
		return false
	}
	if f.Quincena != 0 && a.Quincena != f.Quincena {
		return false
	}
	if f.Usuario != "" && a.Usuario != f.Usuario {
		return false
	}
	if f.Accion != "" && a.Accion != f.Accion {
		return false
	}
	if len(f.Acciones) > 0 && !containsAccion(f.Acciones, a.Accion) {
		return false
	}
	if f.Unidad != nil && a.Key != *f.Unidad {
		return false
	}
	if f.Rama != nil && (a.Org0 != f.Rama.Org0 || a.Org1 != f.Rama.Org1) {
		return false
	}
	if f.Resultado != "" && a.Resultado != f.Resultado {
		return false
	}
	return true
}

func containsAccion(list []Accion, a Accion) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
