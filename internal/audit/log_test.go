package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceWriter struct {
	entries []*models.AuditLogEntry
	err     error
}

func (w *sliceWriter) AppendAudit(_ context.Context, e *models.AuditLogEntry) error {
	if w.err != nil {
		return w.err
	}
	e.ID = int64(len(w.entries) + 1)
	w.entries = append(w.entries, e)
	return nil
}

func TestRecord(t *testing.T) {
	l := NewLogger()
	w := &sliceWriter{}
	id := uuid.New()
	ctx := WithRequestID(context.Background(), "req-123")

	entry, err := l.Record(ctx, w, Entry{
		IncidentID:  &id,
		Action:      models.ActionAutoVerified,
		PerformedBy: models.SystemActor,
		Details:     "score=2.000",
	})
	require.NoError(t, err)
	require.Len(t, w.entries, 1)
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, "req-123", entry.RequestID)
	assert.Equal(t, models.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, &id, entry.IncidentID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecord_RequiresActionAndActor(t *testing.T) {
	l := NewLogger()
	w := &sliceWriter{}

	_, err := l.Record(context.Background(), w, Entry{PerformedBy: models.SystemActor})
	assert.Error(t, err)
	_, err = l.Record(context.Background(), w, Entry{Action: models.ActionAutoResolved})
	assert.Error(t, err)
	assert.Empty(t, w.entries)
}

func TestRecord_WriterError(t *testing.T) {
	w := &sliceWriter{err: errors.New("connection reset")}
	_, err := NewLogger().Record(context.Background(), w, Entry{
		Action:      models.ActionDeviceBanned,
		PerformedBy: models.SystemActor,
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "DEVICE_BANNED")
	assert.ErrorIs(t, err, w.err)
}

func TestDetails_Deterministic(t *testing.T) {
	fields := map[string]any{
		"score":     2.0,
		"devices":   []string{"aaa", "bbb"},
		"threshold": 1.8,
		"reason":    "duplicate report",
	}
	got := Details(fields)
	assert.Equal(t, `devices=[aaa,bbb] reason="duplicate report" score=2.000 threshold=1.800`, got)
	assert.Equal(t, got, Details(fields))
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "", RequestIDFromContext(WithRequestID(context.Background(), "  ")))
}
