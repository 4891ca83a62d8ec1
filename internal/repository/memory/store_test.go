package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func incident(lat, lon float64, at time.Time) *models.Incident {
	return &models.Incident{
		ID:                 uuid.New(),
		Type:               "flood",
		Latitude:           lat,
		Longitude:          lon,
		Severity:           2,
		Status:             models.StatusUnverified,
		DeviceHash:         "device-" + uuid.NewString(),
		LastCorroboratedAt: at,
		Timestamp:          at,
	}
}

func seed(t *testing.T, s *Store, incs ...*models.Incident) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		for _, inc := range incs {
			if err := tx.CreateIncident(ctx, inc); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFindNearby_FiltersAndIsIdempotent(t *testing.T) {
	s := NewStore()
	near := incident(10.0, 10.0, t0)
	far := incident(10.01, 10.0, t0)
	old := incident(10.0, 10.0, t0.Add(-time.Hour))
	resolved := incident(10.0, 10.0, t0)
	resolved.Status = models.StatusResolved
	fire := incident(10.0, 10.0, t0)
	fire.Type = "fire"
	seed(t, s, near, far, old, resolved, fire)

	q := models.NearbyQuery{
		Type:         "flood",
		Latitude:     10.0,
		Longitude:    10.0,
		RadiusMeters: 200,
		Since:        t0.Add(-30 * time.Minute),
	}
	first, err := s.FindNearby(context.Background(), q)
	require.NoError(t, err)
	second, err := s.FindNearby(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, near.ID, first[0].ID)
	assert.Equal(t, first, second)
}

func TestWithinTx_RollbackDiscardsChanges(t *testing.T) {
	s := NewStore()
	inc := incident(10.0, 10.0, t0)
	seed(t, s, inc)

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		if _, err := tx.UpdateStatus(ctx, inc.ID, models.StatusVerified); err != nil {
			return err
		}
		if _, err := tx.GetOrCreateDevice(ctx, "device-1", t0, 1.0); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &models.AuditLogEntry{Action: models.ActionAutoVerified, PerformedBy: models.SystemActor}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, got.Status)
	_, ok := s.Device("device-1")
	assert.False(t, ok)
	assert.Empty(t, s.Audit())
}

func TestWithinTx_CanceledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, service.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestAdjustTrust_Clamps(t *testing.T) {
	s := NewStore()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		if _, err := tx.GetOrCreateDevice(ctx, "device-1", t0, 1.0); err != nil {
			return err
		}
		rec, err := tx.AdjustTrust(ctx, "device-1", 10, 0, 5)
		require.NoError(t, err)
		assert.Equal(t, 5.0, rec.TrustScore)

		rec, err = tx.AdjustTrust(ctx, "device-1", -10, 0, 5)
		require.NoError(t, err)
		assert.Equal(t, 0.0, rec.TrustScore)

		_, err = tx.AdjustTrust(ctx, "unknown", 1, 0, 5)
		assert.ErrorIs(t, err, models.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAudit_IDsIncreaseAndFilterByIncident(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := uuid.New()
	other := uuid.New()

	for _, incID := range []*uuid.UUID{&id, &other, &id, nil} {
		require.NoError(t, s.AppendAudit(ctx, &models.AuditLogEntry{
			IncidentID:  incID,
			Action:      models.ActionTrustAdjusted,
			PerformedBy: models.SystemActor,
		}))
	}

	entries, err := s.ListAudit(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].ID, entries[1].ID)
	assert.Len(t, s.Audit(), 4)
}

func TestListStaleVerified(t *testing.T) {
	s := NewStore()
	stale := incident(10.0, 10.0, t0.Add(-3*time.Hour))
	stale.Status = models.StatusVerified
	fresh := incident(11.0, 10.0, t0)
	fresh.Status = models.StatusVerified
	unverified := incident(12.0, 10.0, t0.Add(-3*time.Hour))
	seed(t, s, stale, fresh, unverified)

	ids, err := s.ListStaleVerified(context.Background(), t0.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, ids)
}
