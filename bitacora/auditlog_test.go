package bitacora_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/afectaciones-engine/bitacora"
	dErrors "github.com/warp/afectaciones-engine/domainerrors"
)

// sliceLog is a minimal writer+store over a slice.
type sliceLog struct {
	rows    []bitacora.Afectacion
	failErr error
}

func (s *sliceLog) RegistrarAfectacionOrg(_ context.Context, p bitacora.Payload) error {
	if s.failErr != nil {
		return s.failErr
	}
	r := p.Record(bitacora.ResultadoOK, p.Mensaje)
	r.AfectacionID = int64(len(s.rows) + 1)
	r.CreatedAt = time.Unix(int64(len(s.rows)), 0)
	s.rows = append(s.rows, r)
	return nil
}

func (s *sliceLog) FindByFolio(_ context.Context, folio string) (*bitacora.Afectacion, error) {
	for i := range s.rows {
		if s.rows[i].Folio == folio {
			r := s.rows[i]
			return &r, nil
		}
	}
	return nil, bitacora.ErrNotFound
}

func (s *sliceLog) Query(_ context.Context, f bitacora.Filter) ([]bitacora.Afectacion, error) {
	var out []bitacora.Afectacion
	for _, r := range s.rows {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func TestAuditLog_AppendAssignsFolio(t *testing.T) {
	ctx := context.Background()
	s := &sliceLog{}
	log := bitacora.NewAuditLog(s, s)

	h, err := log.Append(ctx, payload(bitacora.AccionAplicar, 2025, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, h.Folio)

	got, err := log.FindByHandle(ctx, h)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, h.Folio, got.Folio)
}

func TestAuditLog_AppendTwice_TwoRows(t *testing.T) {
	// GIVEN: Identical payloads
	// WHEN: Appended twice
	// THEN: Two distinct rows exist, the log is not idempotent

	ctx := context.Background()
	s := &sliceLog{}
	log := bitacora.NewAuditLog(s, s)

	h1, err := log.Append(ctx, payload("VALIDAR", 2025, 3))
	require.NoError(t, err)
	h2, err := log.Append(ctx, payload("VALIDAR", 2025, 3))
	require.NoError(t, err)

	assert.NotEqual(t, h1.Folio, h2.Folio)
	assert.Len(t, s.rows, 2)
}

func TestAuditLog_FindLatest_NewestMatch(t *testing.T) {
	ctx := context.Background()
	s := &sliceLog{}
	log := bitacora.NewAuditLog(s, s)

	_, _ = log.Append(ctx, payload("VALIDAR", 2025, 3))
	h2, _ := log.Append(ctx, payload("VALIDAR", 2025, 3))
	_, _ = log.Append(ctx, payload("VALIDAR", 2025, 4))

	got, err := log.FindLatest(ctx, "AFI", 2025, 3, "jperez", "VALIDAR")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, h2.Folio, got.Folio)

	none, err := log.FindLatest(ctx, "AFI", 2025, 9, "jperez", "VALIDAR")
	require.NoError(t, err)
	assert.Nil(t, none, "no match is not an error")
}

func TestAuditLog_AppendFailure_IsTransport(t *testing.T) {
	s := &sliceLog{failErr: errors.New("connection reset")}
	log := bitacora.NewAuditLog(s, s)

	h, err := log.Append(context.Background(), payload(bitacora.AccionAplicar, 2025, 3))

	assert.NotEmpty(t, h.Folio)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransport))
}
