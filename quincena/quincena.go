/*
Package quincena models the fiscal half-month and the per-branch period
state machine.

PURPOSE:
  A year has 24 quincenas. Quincena 2m-1 covers days 1-15 of month m and
  quincena 2m covers day 16 to the last day of month m, so the 24 periods of
  any year partition it with no gaps and no overlaps.

  Which quincena is currently open for a branch (org0, org1) is not stored
  anywhere: it is replayed from the bitácora by Calendar.

KEY CONCEPTS:
  - Quincena: value type (Anio, Numero, FechaInicio, FechaFin)
  - Bounds:   pure calculation of a quincena's first and last day
  - Calendar: ResolveOpenPeriod / Estado over the audit history

STATE MACHINE (per branch):
  CERRADO -(APLICAR)-> ABIERTO -(TERMINADO)-> CERRADO

SEE ALSO:
  - bitacora/rules.go: OpenPeriod, the fold Calendar runs
*/
package quincena

import (
	"fmt"
	"time"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
)

const (
	PerYear = 24
	MinYear = 2000
	MaxYear = 2100
)

// Quincena is one fiscal half-month. FechaInicio and FechaFin are midnight
// UTC of the first and last day, both inclusive.
type Quincena struct {
	Anio        int       `json:"anio"`
	Numero      int       `json:"quincena"`
	FechaInicio time.Time `json:"fechaInicio"`
	FechaFin    time.Time `json:"fechaFin"`
}

// Bounds returns the first and last day of quincena numero in anio.
func Bounds(anio, numero int) (time.Time, time.Time, error) {
	if anio < MinYear || anio > MaxYear {
		return time.Time{}, time.Time{}, dErrors.Newf(dErrors.CodeValidation,
			"anio %d out of range [%d, %d]", anio, MinYear, MaxYear)
	}
	if numero < 1 || numero > PerYear {
		return time.Time{}, time.Time{}, dErrors.Newf(dErrors.CodeValidation,
			"quincena %d out of range [1, %d]", numero, PerYear)
	}
	month := time.Month((numero + 1) / 2)
	if numero%2 == 1 {
		return day(anio, month, 1), day(anio, month, 15), nil
	}
	// Day 0 of the next month is the last day of this one.
	return day(anio, month, 16), day(anio, month+1, 0), nil
}

// New builds a quincena with its bounds filled in.
func New(anio, numero int) (Quincena, error) {
	inicio, fin, err := Bounds(anio, numero)
	if err != nil {
		return Quincena{}, err
	}
	return Quincena{Anio: anio, Numero: numero, FechaInicio: inicio, FechaFin: fin}, nil
}

// MustNew is New for constants known to be valid.
func MustNew(anio, numero int) Quincena {
	q, err := New(anio, numero)
	if err != nil {
		panic(err)
	}
	return q
}

// For returns the quincena containing date. The date's calendar day is read
// in its own location.
func For(date time.Time) Quincena {
	numero := int(date.Month())*2 - 1
	if date.Day() > 15 {
		numero++
	}
	return MustNew(date.Year(), numero)
}

// FromPeriodo converts a stored (anio, quincena) pair.
func FromPeriodo(p bitacora.Periodo) (Quincena, error) { return New(p.Anio, p.Quincena) }

func (q Quincena) Periodo() bitacora.Periodo {
	return bitacora.Periodo{Anio: q.Anio, Quincena: q.Numero}
}

func (q Quincena) Next() Quincena {
	if q.Numero == PerYear {
		return MustNew(q.Anio+1, 1)
	}
	return MustNew(q.Anio, q.Numero+1)
}

func (q Quincena) Previous() Quincena {
	if q.Numero == 1 {
		return MustNew(q.Anio-1, PerYear)
	}
	return MustNew(q.Anio, q.Numero-1)
}

// Contains reports whether date's calendar day falls within q.
func (q Quincena) Contains(date time.Time) bool {
	d := day(date.Year(), date.Month(), date.Day())
	return !d.Before(q.FechaInicio) && !d.After(q.FechaFin)
}

// Ended reports whether q's last day is strictly before now's day.
func (q Quincena) Ended(now time.Time) bool {
	return day(now.Year(), now.Month(), now.Day()).After(q.FechaFin)
}

func (q Quincena) String() string { return fmt.Sprintf("%d-Q%02d", q.Anio, q.Numero) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
