package afectacion

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
)

// =============================================================================
// READ MODELS - Recomputed from the bitácora on every call
// =============================================================================

// Status of a unit in a period.
type Status string

const (
	StatusOK      Status = "OK"
	StatusError   Status = "ERROR"
	StatusPending Status = "PENDING"
)

// Estado is the latest accion/resultado of a unit in one period.
type Estado struct {
	Unidad       organica.Key       `json:"unidad"`
	Periodo      string             `json:"periodo"`
	Status       Status             `json:"status"`
	Accion       bitacora.Accion    `json:"accion,omitempty"`
	Resultado    bitacora.Resultado `json:"resultado,omitempty"`
	Mensaje      string             `json:"mensaje,omitempty"`
	Folio        string             `json:"folio,omitempty"`
	Usuario      string             `json:"usuario,omitempty"`
	CreatedAt    *time.Time         `json:"createdAt,omitempty"`
	SinHistorial bool               `json:"sinHistorial"`
}

// Ultima is the latest row of a unit irrespective of period.
type Ultima struct {
	Unidad       organica.Key         `json:"unidad"`
	Afectacion   *bitacora.Afectacion `json:"afectacion,omitempty"`
	SinHistorial bool                 `json:"sinHistorial"`
}

// Progreso summarises what a user registered in a period.
type Progreso struct {
	Usuario         string                  `json:"usuario"`
	Periodo         string                  `json:"periodo"`
	Total           int                     `json:"total"`
	OK              int                     `json:"ok"`
	Error           int                     `json:"error"`
	Unidades        int                     `json:"unidades"`
	PorAccion       map[bitacora.Accion]int `json:"porAccion"`
	UltimaActividad *time.Time              `json:"ultimaActividad,omitempty"`
	// TasaExito is OK/Total, four decimal places; zero without history.
	TasaExito    decimal.Decimal `json:"tasaExito"`
	SinHistorial bool            `json:"sinHistorial"`
}

// History is the audit read the tracker projects from.
type History interface {
	History(ctx context.Context, f bitacora.Filter) ([]bitacora.Afectacion, error)
}

// Tracker answers read-only queries. Empty history is an explicit result,
// never an error.
type Tracker struct {
	log History
}

func NewTracker(log History) *Tracker {
	return &Tracker{log: log}
}

func (t *Tracker) Estado(ctx context.Context, unidad organica.Key, q quincena.Quincena) (Estado, error) {
	if err := unidad.CheckFormat(); err != nil {
		return Estado{}, err
	}
	if err := checkPeriodo(q); err != nil {
		return Estado{}, err
	}
	rows, err := t.log.History(ctx, bitacora.Filter{
		Unidad:   &unidad,
		Anio:     q.Anio,
		Quincena: q.Numero,
		Limit:    1,
	})
	if err != nil {
		return Estado{}, err
	}
	e := Estado{Unidad: unidad, Periodo: q.String()}
	if len(rows) == 0 {
		e.Status = StatusPending
		e.SinHistorial = true
		return e, nil
	}
	r := rows[0]
	e.Status = StatusError
	if r.OK() {
		e.Status = StatusOK
	}
	e.Accion = r.Accion
	e.Resultado = r.Resultado
	e.Mensaje = r.Mensaje
	e.Folio = r.Folio
	e.Usuario = r.Usuario
	at := r.CreatedAt
	e.CreatedAt = &at
	return e, nil
}

func (t *Tracker) Ultima(ctx context.Context, unidad organica.Key) (Ultima, error) {
	if err := unidad.CheckFormat(); err != nil {
		return Ultima{}, err
	}
	rows, err := t.log.History(ctx, bitacora.Filter{Unidad: &unidad, Limit: 1})
	if err != nil {
		return Ultima{}, err
	}
	if len(rows) == 0 {
		return Ultima{Unidad: unidad, SinHistorial: true}, nil
	}
	return Ultima{Unidad: unidad, Afectacion: &rows[0]}, nil
}

func (t *Tracker) Progreso(ctx context.Context, usuario string, q quincena.Quincena) (Progreso, error) {
	// An empty usuario would disable the filter and sum every user.
	usuario = strings.TrimSpace(usuario)
	if usuario == "" {
		return Progreso{}, dErrors.New(dErrors.CodeValidation, "usuario is required")
	}
	if err := checkPeriodo(q); err != nil {
		return Progreso{}, err
	}
	rows, err := t.log.History(ctx, bitacora.Filter{Usuario: usuario, Anio: q.Anio, Quincena: q.Numero})
	if err != nil {
		return Progreso{}, err
	}
	p := Progreso{
		Usuario:   usuario,
		Periodo:   q.String(),
		PorAccion: make(map[bitacora.Accion]int),
		TasaExito: decimal.Zero,
	}
	if len(rows) == 0 {
		p.SinHistorial = true
		return p, nil
	}

	unidades := make(map[organica.Key]struct{})
	for _, r := range rows {
		p.Total++
		if r.OK() {
			p.OK++
		} else {
			p.Error++
		}
		p.PorAccion[r.Accion]++
		unidades[r.Key] = struct{}{}
	}
	p.Unidades = len(unidades)
	last := rows[0].CreatedAt
	p.UltimaActividad = &last
	p.TasaExito = decimal.NewFromInt(int64(p.OK)).Div(decimal.NewFromInt(int64(p.Total))).Round(4)
	return p, nil
}

// checkPeriodo rejects a quincena not built by quincena.New. A zero period
// would turn the period filter off.
func checkPeriodo(q quincena.Quincena) error {
	_, _, err := quincena.Bounds(q.Anio, q.Numero)
	return err
}
