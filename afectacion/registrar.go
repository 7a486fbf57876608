/*
Package afectacion registers affectations and derives read models from the
bitácora.

PURPOSE:
  Registrar is the only path that appends to the audit log. It validates the
  request and the org chain, invokes the privileged write ONCE, then reads
  the outcome back from the log. The write's own return value is never
  trusted: only the audit row decides success.

REGISTRATION FLOW:
  1. Normalize + schema-validate the payload       -> VALIDATION
  2. Hierarchy.ValidateChain (before any write)     -> INVALID_HIERARCHY
  3. APLICAR while the branch has an open period    -> PERIOD_CONFLICT
  4. Assign a folio, privileged write (no retry)    -> TRANSPORT
  5. Verify: read the row back by folio             -> CONSISTENCY
     (transport failures on this read are retried)
  6. Row resultado != OK                            -> REGISTRATION_FAILED
  7. Success {afectacionId, folio, message}

NOT IDEMPOTENT:
  Two identical requests produce two rows with two folios. Callers that
  need at-most-once semantics must supply their own folio; a reused folio is
  rejected by the store as a CONFLICT.

SEE ALSO:
  - tracker.go:   Estado / Ultima / Progreso projections
  - dashboard.go: Tablero fan-out
  - bitacora/rules.go: the rules the privileged write evaluates
*/
package afectacion

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
)

var tracer = otel.Tracer("afectaciones-engine/afectacion")

// MsgNoRecord is the CONSISTENCY message when the written row cannot be read back.
const MsgNoRecord = "No record found in audit log"

// =============================================================================
// TYPES
// =============================================================================

// Solicitud is a registration request: the privileged write's parameters.
// Folio may be left empty.
type Solicitud = bitacora.Payload

// Resultado is a confirmed registration.
type Resultado struct {
	Success      bool   `json:"success"`
	AfectacionID int64  `json:"afectacionId"`
	Folio        string `json:"folio"`
	Message      string `json:"message"`
}

// Options tune the registrar. Zero values take defaults.
type Options struct {
	// Timeout applies only when the caller's context has no deadline.
	Timeout time.Duration
	// VerifyAttempts bounds verification reads, first attempt included.
	VerifyAttempts int
	// VerifyBackoff is the base delay between verification reads; it grows
	// linearly with the attempt number.
	VerifyBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{Timeout: 5 * time.Second, VerifyAttempts: 3, VerifyBackoff: 50 * time.Millisecond}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.VerifyAttempts <= 0 {
		o.VerifyAttempts = d.VerifyAttempts
	}
	if o.VerifyBackoff <= 0 {
		o.VerifyBackoff = d.VerifyBackoff
	}
	return o
}

// =============================================================================
// REGISTRAR
// =============================================================================

type Registrar struct {
	hierarchy *organica.Hierarchy
	calendar  *quincena.Calendar
	log       *bitacora.AuditLog
	events    EventSink
	metrics   *Metrics
	opts      Options
}

// NewRegistrar wires a registrar. events and metrics may be nil.
func NewRegistrar(h *organica.Hierarchy, log *bitacora.AuditLog, events EventSink, metrics *Metrics, opts Options) *Registrar {
	if events == nil {
		events = NopSink{}
	}
	return &Registrar{
		hierarchy: h,
		calendar:  quincena.NewCalendar(log),
		log:       log,
		events:    events,
		metrics:   metrics,
		opts:      opts.withDefaults(),
	}
}

// Registrar registers one affectation. See the package comment for the flow.
func (r *Registrar) Registrar(ctx context.Context, s Solicitud) (*Resultado, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	s.Normalize()
	ctx, span := tracer.Start(ctx, "afectacion.Registrar", trace.WithAttributes(
		attribute.String("afectacion.entidad", s.Entidad),
		attribute.String("afectacion.accion", string(s.Accion)),
		attribute.String("afectacion.periodo", s.Periodo().String()),
		attribute.String("afectacion.unidad", s.Key.String()),
	))
	defer span.End()

	start := time.Now()
	res, err := r.registrar(ctx, s)

	outcome := "OK"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(
			attribute.String("afectacion.folio", res.Folio),
			attribute.Int64("afectacion.id", res.AfectacionID),
		)
	}
	r.metrics.ObserveRegistration(outcome, string(s.Accion), time.Since(start))
	return res, err
}

func (r *Registrar) registrar(ctx context.Context, s Solicitud) (*Resultado, error) {
	fields := requestFields(s)

	if err := s.Validate(); err != nil {
		r.events.Emit(ctx, Event{Name: EventValidationFailed, Severity: SeverityInfo, Fields: fields, Err: err})
		return nil, err
	}
	if err := r.hierarchy.Scoped().ValidateChain(ctx, s.Key); err != nil {
		r.events.Emit(ctx, Event{Name: EventValidationFailed, Severity: SeverityInfo, Fields: fields, Err: err})
		return nil, err
	}
	if err := r.checkPeriod(ctx, s); err != nil {
		r.events.Emit(ctx, Event{Name: EventPeriodConflict, Severity: SeverityInfo, Fields: fields, Err: err})
		return nil, err
	}

	if s.Folio == "" {
		s.Folio = bitacora.NewFolio()
	}
	fields["folio"] = s.Folio

	// Exactly one write attempt. A failed write is never retried here.
	h, err := r.log.Append(ctx, s)
	if err != nil {
		r.events.Emit(ctx, Event{Name: EventWriteFailed, Severity: SeverityError, Fields: fields, Err: err})
		return nil, err
	}

	row, err := r.verify(ctx, h, fields)
	if err != nil {
		r.events.Emit(ctx, Event{Name: EventInconsistent, Severity: SeverityError, Fields: fields, Err: err})
		return nil, err
	}

	fields["afectacionId"] = row.AfectacionID
	if !row.OK() {
		fields["mensaje"] = row.Mensaje
		r.events.Emit(ctx, Event{Name: EventRejected, Severity: SeverityWarn, Fields: fields})
		return nil, dErrors.New(dErrors.CodeRegistrationFailed, row.Mensaje)
	}

	r.events.Emit(ctx, Event{Name: EventRegistered, Severity: SeverityInfo, Fields: fields})
	msg := row.Mensaje
	if msg == "" {
		msg = "Afectación registrada con folio " + row.Folio
	}
	return &Resultado{Success: true, AfectacionID: row.AfectacionID, Folio: row.Folio, Message: msg}, nil
}

// checkPeriod rejects APLICAR while the branch already has an open period.
func (r *Registrar) checkPeriod(ctx context.Context, s Solicitud) error {
	if s.Accion != bitacora.AccionAplicar {
		return nil
	}
	open, err := r.calendar.ResolveOpenPeriod(ctx, s.Org0, s.Org1)
	switch {
	case err == nil:
		return dErrors.Newf(dErrors.CodePeriodConflict,
			"period %s is already open for branch %s", open, s.Key.Branch())
	case dErrors.HasCode(err, dErrors.CodeNoOpenPeriod):
		return nil
	default:
		return err
	}
}

// verify reads the row written under h. Transport failures are retried
// within the context deadline. Any other outcome without a row is a
// CONSISTENCY error.
func (r *Registrar) verify(ctx context.Context, h bitacora.WriteHandle, fields map[string]any) (*bitacora.Afectacion, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.VerifyAttempts; attempt++ {
		row, err := r.log.FindByHandle(ctx, h)
		if err == nil && row != nil {
			return row, nil
		}
		if err == nil || ctx.Err() != nil || !dErrors.IsRetryable(err) {
			lastErr = err
			break
		}
		lastErr = err
		if attempt == r.opts.VerifyAttempts {
			break
		}

		r.metrics.IncVerifyRetry()
		r.events.Emit(ctx, Event{Name: EventVerifyRetry, Severity: SeverityWarn, Fields: withAttempt(fields, attempt), Err: err})
		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeConsistency, MsgNoRecord)
		case <-time.After(r.opts.VerifyBackoff * time.Duration(attempt)):
		}
	}
	if lastErr == nil {
		return nil, dErrors.New(dErrors.CodeConsistency, MsgNoRecord)
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeConsistency, MsgNoRecord)
}

func requestFields(s Solicitud) map[string]any {
	return map[string]any{
		"entidad":  s.Entidad,
		"anio":     s.Anio,
		"quincena": s.Quincena,
		"unidad":   s.Key.String(),
		"orgNivel": s.OrgNivel,
		"accion":   string(s.Accion),
		"usuario":  s.Usuario,
		"appName":  s.AppName,
		"ip":       s.IP,
	}
}

func withAttempt(fields map[string]any, attempt int) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["attempt"] = strconv.Itoa(attempt)
	return out
}
