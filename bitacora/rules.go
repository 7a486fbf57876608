package bitacora

import "fmt"

// =============================================================================
// PERIOD FOLD - Replays a branch history into its open period
// =============================================================================

// OpenPeriod folds a branch history (newest first, any resultado) into the
// currently open period. Only OK rows move the state machine:
//
//	CERRADO -(APLICAR)-> ABIERTO -(TERMINADO)-> CERRADO
//
// The newest successful APLICAR with no later successful TERMINADO for the
// same period is open.
func OpenPeriod(history []Afectacion) (Periodo, bool) {
	closed := make(map[Periodo]bool)
	for _, r := range history {
		if !r.OK() {
			continue
		}
		p := r.Periodo()
		switch r.Accion {
		case AccionTerminado:
			closed[p] = true
		case AccionAplicar:
			if !closed[p] {
				return p, true
			}
		}
	}
	return Periodo{}, false
}

// =============================================================================
// BUSINESS RULES - Evaluated by the privileged write, atomically with insert
// =============================================================================

// Mensajes recorded on rejected rows. They are audit data, not Go errors.
const (
	MsgUnidadInexistente = "La unidad orgánica %s no existe"
	MsgPeriodoAbierto    = "Ya existe un periodo abierto (%s) para la rama %s"
	MsgPeriodoNoAbierto  = "El periodo %s no está abierto para la rama %s"
	MsgRechazoAplicacion = "Afectación rechazada por la aplicación"
)

// Decision is the outcome the privileged write records.
type Decision struct {
	Resultado Resultado
	Mensaje   string
}

// EvaluateRules decides the row to record for p. branchHistory is the
// history of p's (org0, org1) branch, newest first. A failed rule produces
// an ERROR decision with a non-empty mensaje; it is never an error value.
func EvaluateRules(p Payload, unitExists bool, branchHistory []Afectacion) Decision {
	rama := p.Key.Branch().String()
	if !unitExists {
		return reject(MsgUnidadInexistente, p.Key.String())
	}

	open, isOpen := OpenPeriod(branchHistory)
	switch {
	case p.Accion == AccionAplicar:
		if isOpen {
			return reject(MsgPeriodoAbierto, open, rama)
		}
	case !isOpen || open != p.Periodo():
		return reject(MsgPeriodoNoAbierto, p.Periodo(), rama)
	}

	d := Decision{Resultado: p.Resultado, Mensaje: p.Mensaje}
	if d.Resultado == "" {
		d.Resultado = ResultadoOK
	}
	if d.Resultado == ResultadoError && d.Mensaje == "" {
		d.Mensaje = MsgRechazoAplicacion
	}
	return d
}

func reject(format string, args ...any) Decision {
	return Decision{Resultado: ResultadoError, Mensaje: fmt.Sprintf(format, args...)}
}
