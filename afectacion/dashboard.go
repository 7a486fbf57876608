package afectacion

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
)

// DefaultConcurrency bounds the Tablero fan-out when none is configured.
const DefaultConcurrency = 8

var hundred = decimal.NewFromInt(100)

// Tablero aggregates unit states for one period.
type Tablero struct {
	Periodo  string         `json:"periodo"`
	Total    int            `json:"total"`
	Conteos  map[Status]int `json:"conteos"`
	Unidades []Estado       `json:"unidades"`
	// Avance is the percentage of units in OK, two decimal places.
	Avance decimal.Decimal `json:"avance"`
}

type Dashboard struct {
	tracker     *Tracker
	concurrency int
	metrics     *Metrics
}

func NewDashboard(tracker *Tracker, concurrency int, metrics *Metrics) *Dashboard {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dashboard{tracker: tracker, concurrency: concurrency, metrics: metrics}
}

// Tablero fans out Tracker.Estado over units. Units without history count as
// PENDING. Unidades follows the input order. Any store failure aborts the
// whole board.
func (d *Dashboard) Tablero(ctx context.Context, unidades []organica.Key, q quincena.Quincena) (Tablero, error) {
	if err := checkPeriodo(q); err != nil {
		return Tablero{}, err
	}
	for _, u := range unidades {
		if err := u.CheckFormat(); err != nil {
			return Tablero{}, err
		}
	}

	estados := make([]Estado, len(unidades))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, u := range unidades {
		g.Go(func() error {
			e, err := d.tracker.Estado(gctx, u, q)
			if err != nil {
				return err
			}
			estados[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Tablero{}, err
	}

	t := Tablero{
		Periodo:  q.String(),
		Total:    len(estados),
		Conteos:  map[Status]int{StatusOK: 0, StatusPending: 0, StatusError: 0},
		Unidades: estados,
		Avance:   decimal.Zero,
	}
	for _, e := range estados {
		t.Conteos[e.Status]++
	}
	if t.Total > 0 {
		t.Avance = decimal.NewFromInt(int64(t.Conteos[StatusOK])).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(t.Total))).
			Round(2)
	}
	for s, n := range t.Conteos {
		d.metrics.AddTablero(s, n)
	}
	return t, nil
}
