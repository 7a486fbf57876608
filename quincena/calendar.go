package quincena

import (
	"context"
	"sort"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
)

// EstadoPeriodo is the branch state in the period state machine.
type EstadoPeriodo string

const (
	Abierto EstadoPeriodo = "ABIERTO"
	Cerrado EstadoPeriodo = "CERRADO"
)

// History is the audit read Calendar needs. *bitacora.AuditLog satisfies it.
type History interface {
	History(ctx context.Context, f bitacora.Filter) ([]bitacora.Afectacion, error)
}

// Calendar resolves period state by replaying the branch history on every
// call. Nothing is cached.
type Calendar struct {
	log History
}

func NewCalendar(log History) *Calendar {
	return &Calendar{log: log}
}

// periodFilter selects the rows that move the state machine.
func periodFilter(rama *organica.Key) bitacora.Filter {
	return bitacora.Filter{
		Rama:      rama,
		Acciones:  []bitacora.Accion{bitacora.AccionAplicar, bitacora.AccionTerminado},
		Resultado: bitacora.ResultadoOK,
	}
}

// ResolveOpenPeriod returns the open quincena of branch (org0, org1), or a
// NO_OPEN_PERIOD error.
func (c *Calendar) ResolveOpenPeriod(ctx context.Context, org0, org1 string) (Quincena, error) {
	rama := organica.NewKey(org0, org1)
	if err := rama.CheckFormat(); err != nil {
		return Quincena{}, err
	}
	rows, err := c.log.History(ctx, periodFilter(&rama))
	if err != nil {
		return Quincena{}, err
	}
	p, ok := bitacora.OpenPeriod(rows)
	if !ok {
		return Quincena{}, dErrors.Newf(dErrors.CodeNoOpenPeriod, "no open period for branch %s", rama.String())
	}
	return FromPeriodo(p)
}

// Estado reports ABIERTO or CERRADO for the branch.
func (c *Calendar) Estado(ctx context.Context, org0, org1 string) (EstadoPeriodo, error) {
	_, err := c.ResolveOpenPeriod(ctx, org0, org1)
	switch {
	case err == nil:
		return Abierto, nil
	case dErrors.HasCode(err, dErrors.CodeNoOpenPeriod):
		return Cerrado, nil
	default:
		return "", err
	}
}

// RamaAbierta is a branch with its open quincena.
type RamaAbierta struct {
	Rama     organica.Key `json:"rama"`
	Quincena Quincena     `json:"quincena"`
}

// OpenBranches returns every branch that currently has an open period,
// ordered by branch key.
func (c *Calendar) OpenBranches(ctx context.Context) ([]RamaAbierta, error) {
	rows, err := c.log.History(ctx, periodFilter(nil))
	if err != nil {
		return nil, err
	}
	byRama := make(map[organica.Key][]bitacora.Afectacion)
	for _, r := range rows {
		rama := r.Key.Branch()
		byRama[rama] = append(byRama[rama], r)
	}

	var out []RamaAbierta
	for rama, history := range byRama {
		p, ok := bitacora.OpenPeriod(history)
		if !ok {
			continue
		}
		q, err := FromPeriodo(p)
		if err != nil {
			return nil, err
		}
		out = append(out, RamaAbierta{Rama: rama, Quincena: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rama.String() < out[j].Rama.String() })
	return out, nil
}
