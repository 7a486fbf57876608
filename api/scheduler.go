/*
scheduler.go - Stale open-period monitor

PURPOSE:
  Periodically lists the branches that still have an open quincena whose
  last day is already in the past, i.e. an APLICAR nobody closed with
  TERMINADO. Each one is reported as a warning event and the total is
  exported as a gauge. The monitor only observes; it never writes to the
  audit log.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Checks once immediately on Start
  - Stop waits for an in-flight check to finish

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the monitor is active (default: true)

USAGE:
  monitor := NewPeriodMonitor(handler.Calendar, events, metrics)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - quincena/calendar.go: OpenBranches
  - afectacion/metrics.go: afectaciones_stale_open_periods
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/afectaciones-engine/afectacion"
	"github.com/warp/afectaciones-engine/quincena"
)

// PeriodMonitor reports branches whose open quincena has already ended.
type PeriodMonitor struct {
	Calendar      *quincena.Calendar
	Events        afectacion.EventSink
	Metrics       *afectacion.Metrics
	CheckInterval time.Duration
	Enabled       bool
	// Now is the clock used to decide whether a quincena ended.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodMonitor creates a new monitor.
func NewPeriodMonitor(cal *quincena.Calendar, events afectacion.EventSink, metrics *afectacion.Metrics) *PeriodMonitor {
	if events == nil {
		events = afectacion.NopSink{}
	}
	return &PeriodMonitor{
		Calendar:      cal,
		Events:        events,
		Metrics:       metrics,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the monitor.
func (m *PeriodMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled || m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run(m.ticker, m.stop)
}

// Stop stops the monitor.
func (m *PeriodMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.wg.Wait()
		m.ticker = nil
	}
}

func (m *PeriodMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	m.Check(ctx)

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-stop:
			return
		}
	}
}

// Check runs one pass and returns the stale branches it found.
func (m *PeriodMonitor) Check(ctx context.Context) ([]quincena.RamaAbierta, error) {
	ramas, err := m.Calendar.OpenBranches(ctx)
	if err != nil {
		m.Events.Emit(ctx, afectacion.Event{
			Name:     afectacion.EventStaleOpenPeriod,
			Severity: afectacion.SeverityError,
			Err:      err,
		})
		return nil, err
	}

	now := m.Now()
	var stale []quincena.RamaAbierta
	for _, r := range ramas {
		if !r.Quincena.Ended(now) {
			continue
		}
		stale = append(stale, r)
		m.Events.Emit(ctx, afectacion.Event{
			Name:     afectacion.EventStaleOpenPeriod,
			Severity: afectacion.SeverityWarn,
			Fields: map[string]any{
				"rama":    r.Rama.String(),
				"periodo": r.Quincena.String(),
				"fin":     r.Quincena.FechaFin.Format(time.DateOnly),
			},
		})
	}
	m.Metrics.SetStaleOpenPeriods(len(stale))
	return stale, nil
}
