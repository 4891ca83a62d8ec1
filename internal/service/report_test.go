package service_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/category"
	"github.com/shenikar/crowd_report_trust/internal/config"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/repository/memory"
	"github.com/shenikar/crowd_report_trust/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devA = "alpha-device-0001"
	devB = "bravo-device-0002"
	devC = "charlie-device-03"
	devD = "delta-device-0004"
)

// ~150 м к северу от (10, 10)
const latNorth150m = 10.00135

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:           config.StoreDriverMemory,
		StoreTimeout:          time.Second,
		SpatialRadiusMeters:   200,
		TemporalWindowMinutes: 30,
		VerificationThreshold: 1.8,
		DescriptionMaxLength:  2000,
		TrustScoreCeiling:     5.0,
		TrustScoreFloor:       0.0,
		TrustAdjustmentDelta:  0.1,
		BanOnFloor:            true,
		ResolutionTTLMinutes:  120,
		SweepBatchSize:        100,
	}
}

type testEnv struct {
	svc   service.ReportService
	store *memory.Store
	clock *testClock
}

func newTestEnv(t *testing.T, cfg *config.Config, store service.Store, mem *memory.Store) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := &testClock{t: t0}
	svc := service.NewReportService(store, nil, nil, logger, cfg, category.Default())
	service.SetClock(svc, clock.Now)
	return &testEnv{svc: svc, store: mem, clock: clock}
}

func newMemoryEnv(t *testing.T) *testEnv {
	mem := memory.NewStore()
	return newTestEnv(t, testConfig(), mem, mem)
}

func flood(lat, lon float64) models.IncidentCreate {
	return models.IncidentCreate{
		Type:        "flood",
		Description: "water on the street",
		Latitude:    lat,
		Longitude:   lon,
		Severity:    3,
	}
}

func countActions(entries []*models.AuditLogEntry, action models.AuditAction, outcome models.Outcome) int {
	n := 0
	for _, e := range entries {
		if e.Action == action && e.Outcome == outcome {
			n++
		}
	}
	return n
}

func trustOf(t *testing.T, store *memory.Store, hash string) float64 {
	t.Helper()
	dev, ok := store.Device(hash)
	require.True(t, ok, "device %s must exist", hash)
	return dev.TrustScore
}

func TestSubmitReport_NoCorroborationStaysUnverified(t *testing.T) {
	points := []struct{ lat, lon float64 }{
		{0, 0}, {-90, 0}, {90, 180}, {-45.5, -180}, {10, 10},
	}
	for severity := models.MinSeverity; severity <= models.MaxSeverity; severity++ {
		for _, p := range points {
			t.Run(fmt.Sprintf("severity=%d/lat=%v/lon=%v", severity, p.lat, p.lon), func(t *testing.T) {
				env := newMemoryEnv(t)
				in := flood(p.lat, p.lon)
				in.Severity = severity

				view, err := env.svc.SubmitReport(context.Background(), in, devA)
				require.NoError(t, err)
				assert.Equal(t, models.StatusUnverified, view.Status)
				assert.Equal(t, severity, view.Severity)
				assert.Equal(t, t0, view.Timestamp)
				assert.NotEqual(t, uuid.Nil, view.ID)
				assert.Equal(t, 1, env.store.IncidentCount())
			})
		}
	}
}

func TestSubmitReport_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(in *models.IncidentCreate)
		device string
		field  string
	}{
		{name: "severity too low", modify: func(in *models.IncidentCreate) { in.Severity = 0 }, device: devA, field: "severity"},
		{name: "severity too high", modify: func(in *models.IncidentCreate) { in.Severity = 6 }, device: devA, field: "severity"},
		{name: "latitude out of range", modify: func(in *models.IncidentCreate) { in.Latitude = 90.5 }, device: devA, field: "location"},
		{name: "longitude out of range", modify: func(in *models.IncidentCreate) { in.Longitude = -180.1 }, device: devA, field: "location"},
		{name: "empty device hash", modify: func(*models.IncidentCreate) {}, device: "   ", field: "device_hash"},
		{name: "unknown type", modify: func(in *models.IncidentCreate) { in.Type = "alien_invasion" }, device: devA, field: "type"},
		{name: "description too long", modify: func(in *models.IncidentCreate) { in.Description = strings.Repeat("ж", 2001) }, device: devA, field: "description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMemoryEnv(t)
			in := flood(10, 10)
			tt.modify(&in)

			view, err := env.svc.SubmitReport(context.Background(), in, tt.device)
			require.Error(t, err)
			assert.Nil(t, view)
			assert.ErrorIs(t, err, service.ErrValidation)

			var verr *service.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			assert.Zero(t, env.store.IncidentCount())
			assert.Empty(t, env.store.Audit())
		})
	}
}

func TestSubmitReport_DescriptionLimitFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DescriptionMaxLength = 5000
	mem := memory.NewStore()
	env := newTestEnv(t, cfg, mem, mem)

	in := flood(10, 10)
	in.Description = strings.Repeat("ж", 3000)
	view, err := env.svc.SubmitReport(context.Background(), in, devA)
	require.NoError(t, err)
	assert.Equal(t, in.Description, view.Description)

	in.Description = strings.Repeat("ж", 5001)
	_, err = env.svc.SubmitReport(context.Background(), in, devB)
	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
}

func TestSubmitReport_TypeIsNormalized(t *testing.T) {
	env := newMemoryEnv(t)
	in := flood(10, 10)
	in.Type = "  Flood "

	view, err := env.svc.SubmitReport(context.Background(), in, devA)
	require.NoError(t, err)
	assert.Equal(t, "flood", view.Type)
}

func TestSubmitReport_TwoDevicesVerify(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)
	require.Equal(t, models.StatusUnverified, first.Status)

	env.clock.Advance(20 * time.Minute)
	second, err := env.svc.SubmitReport(ctx, flood(latNorth150m, 10.0), devB)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "response is the representative incident")
	assert.Equal(t, models.StatusVerified, second.Status)

	stored, err := env.svc.GetIncident(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)

	entries, err := env.svc.ListAudit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.ActionAutoVerified, models.OutcomeSuccess))
	assert.Equal(t, 2, countActions(entries, models.ActionTrustAdjusted, models.OutcomeSuccess))

	for _, e := range entries {
		if e.Action == models.ActionAutoVerified {
			assert.Equal(t, models.SystemActor, e.PerformedBy)
			assert.Contains(t, e.Details, "score=2.000")
			assert.Contains(t, e.Details, "threshold=1.800")
		}
	}

	assert.InDelta(t, 1.1, trustOf(t, env.store, devA), 1e-9)
	assert.InDelta(t, 1.1, trustOf(t, env.store, devB), 1e-9)
}

func TestSubmitReport_SameDeviceTwiceIsNotCorroboration(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	second, err := env.svc.SubmitReport(ctx, flood(10.0005, 10.0), devA)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, second.Status)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := env.svc.GetIncident(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, stored.Status)

	entries, err := env.svc.ListAudit(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.ActionDuplicateReport, models.OutcomeSuccess))
	assert.Zero(t, countActions(env.store.Audit(), models.ActionAutoVerified, models.OutcomeSuccess))
	assert.InDelta(t, 0.9, trustOf(t, env.store, devA), 1e-9)
}

func TestSubmitReport_ContributingDevicesAreDistinct(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.svc.SubmitReport(ctx, flood(10.0002, 10.0), devA)
	require.NoError(t, err)

	// A после дубля 0.9, B 1.0: 1.9 >= 1.8, а A считается один раз
	env.clock.Advance(time.Minute)
	view, err := env.svc.SubmitReport(ctx, flood(10.0004, 10.0), devB)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, view.Status)
	assert.Equal(t, first.ID, view.ID)

	entries, err := env.svc.ListAudit(ctx, first.ID)
	require.NoError(t, err)
	var details string
	for _, e := range entries {
		if e.Action == models.ActionAutoVerified {
			details = e.Details
		}
	}
	require.NotEmpty(t, details)
	assert.Contains(t, details, "score=1.900")
	assert.Contains(t, details, "devices=["+models.ShortHash(devB)+","+models.ShortHash(devA)+"]")
}

func TestSubmitReport_BannedDeviceSuppressed(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	_, err := env.svc.SubmitReport(ctx, flood(40.0, 40.0), devA)
	require.NoError(t, err)
	require.NoError(t, env.svc.BanDevice(ctx, devA, "operator-7", "spam"))

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devB)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	view, err := env.svc.SubmitReport(ctx, flood(10.0001, 10.0), devA)
	require.ErrorIs(t, err, service.ErrDeviceBanned)
	assert.Nil(t, view)

	stored, err := env.svc.GetIncident(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, stored.Status)
	assert.Equal(t, 2, env.store.IncidentCount(), "suppressed report is not persisted")

	all := env.store.Audit()
	assert.Equal(t, 1, countActions(all, models.ActionReportSuppressed, models.OutcomeSuccess))
	assert.Equal(t, 1, countActions(all, models.ActionDeviceBanned, models.OutcomeSuccess))
}

func TestSubmitReport_BannedCorroboratorDoesNotCount(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)
	require.NoError(t, env.svc.BanDevice(ctx, devA, "operator-7", ""))

	env.clock.Advance(time.Minute)
	view, err := env.svc.SubmitReport(ctx, flood(10.0001, 10.0), devB)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, view.Status)
	assert.NotEqual(t, first.ID, view.ID)
	assert.Zero(t, countActions(env.store.Audit(), models.ActionAutoVerified, models.OutcomeSuccess))
}

func TestSubmitReport_PendingThenVerifiedByThirdDevice(t *testing.T) {
	cfg := testConfig()
	cfg.VerificationThreshold = 2.5
	mem := memory.NewStore()
	env := newTestEnv(t, cfg, mem, mem)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	second, err := env.svc.SubmitReport(ctx, flood(10.0003, 10.0), devB)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, second.Status)
	assert.NotEqual(t, first.ID, second.ID)

	env.clock.Advance(time.Minute)
	third, err := env.svc.SubmitReport(ctx, flood(10.0006, 10.0), devC)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID, "member resolves to cluster root")
	assert.Equal(t, models.StatusVerified, third.Status)

	entries, err := env.svc.ListAudit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.ActionCorroborated, models.OutcomeSuccess))
	assert.Equal(t, 1, countActions(entries, models.ActionAutoVerified, models.OutcomeSuccess))
	for _, h := range []string{devA, devB, devC} {
		assert.InDelta(t, 1.1, trustOf(t, env.store, h), 1e-9, h)
	}
}

func TestSubmitReport_CorroboratesVerifiedIncident(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.svc.SubmitReport(ctx, flood(10.0001, 10.0), devB)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	view, err := env.svc.SubmitReport(ctx, flood(10.0002, 10.0), devC)
	require.NoError(t, err)
	assert.Equal(t, first.ID, view.ID)
	assert.Equal(t, models.StatusVerified, view.Status)

	entries, err := env.svc.ListAudit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.ActionAutoVerified, models.OutcomeSuccess))
	assert.Equal(t, 1, countActions(entries, models.ActionCorroborated, models.OutcomeSuccess))
	assert.InDelta(t, 1.1, trustOf(t, env.store, devC), 1e-9)
}

func TestSubmitReport_OtherCategoryDoesNotCorroborate(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	_, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)

	in := flood(10.0, 10.0)
	in.Type = "fire"
	view, err := env.svc.SubmitReport(ctx, in, devB)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnverified, view.Status)
}

func TestSubmitReport_OutsideWindowIsFresh(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)

	env.clock.Advance(31 * time.Minute)
	view, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devB)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, view.ID)
	assert.Equal(t, models.StatusUnverified, view.Status)
}

func TestSubmitReport_RepeatedDuplicatesBanAtFloor(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	_, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)

	// 1.0 / 0.1: бан ровно на десятом повторе
	const penalties = 10
	for i := 1; i <= penalties; i++ {
		env.clock.Advance(time.Minute)
		_, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
		require.NoError(t, err, "duplicate %d", i)

		dev, ok := env.store.Device(devA)
		require.True(t, ok)
		assert.GreaterOrEqual(t, dev.TrustScore, 0.0)
		assert.Equal(t, i == penalties, dev.IsBanned, "duplicate %d", i)
	}

	dev, ok := env.store.Device(devA)
	require.True(t, ok)
	assert.Equal(t, 0.0, dev.TrustScore)
	assert.Equal(t, 1, countActions(env.store.Audit(), models.ActionDeviceBanned, models.OutcomeSuccess))

	env.clock.Advance(time.Minute)
	_, err = env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.ErrorIs(t, err, service.ErrDeviceBanned)
}

func TestSubmitReport_ConcurrentReportsVerifyOnce(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), fmt.Sprintf("device-%02d-concurrent", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all := env.store.Audit()
	assert.Equal(t, 1, countActions(all, models.ActionAutoVerified, models.OutcomeSuccess))
	assert.Equal(t, n, env.store.IncidentCount())
}

func TestRunResolutionSweep(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.svc.SubmitReport(ctx, flood(10.0001, 10.0), devB)
	require.NoError(t, err)

	// еще не устарел
	env.clock.Advance(60 * time.Minute)
	res, err := env.svc.RunResolutionSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Resolved)

	env.clock.Advance(61 * time.Minute)
	res, err = env.svc.RunResolutionSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Resolved)
	assert.Zero(t, res.Failed)

	stored, err := env.svc.GetIncident(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, stored.Status)

	entries, err := env.svc.ListAudit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.ActionAutoResolved, models.OutcomeSuccess))

	res, err = env.svc.RunResolutionSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	entries, err = env.svc.ListAudit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.ActionAutoResolved, models.OutcomeSuccess))

	// закрытый кластер больше не подтверждается
	view, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devC)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, view.ID)
	assert.Equal(t, models.StatusUnverified, view.Status)
}

func TestRunResolutionSweep_CorroborationExtendsLife(t *testing.T) {
	env := newMemoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitReport(ctx, flood(10.0, 10.0), devA)
	require.NoError(t, err)
	_, err = env.svc.SubmitReport(ctx, flood(10.0001, 10.0), devB)
	require.NoError(t, err)

	env.clock.Advance(25 * time.Minute)
	_, err = env.svc.SubmitReport(ctx, flood(10.0002, 10.0), devC)
	require.NoError(t, err)

	env.clock.Advance(100 * time.Minute)
	res, err := env.svc.RunResolutionSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Resolved)

	stored, err := env.svc.GetIncident(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)
}

func TestRunResolutionSweep_Batches(t *testing.T) {
	cfg := testConfig()
	cfg.SweepBatchSize = 2
	mem := memory.NewStore()
	env := newTestEnv(t, cfg, mem, mem)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		lat := float64(i)
		_, err := env.svc.SubmitReport(ctx, flood(lat, 20.0), fmt.Sprintf("first-%d-device", i))
		require.NoError(t, err)
		_, err = env.svc.SubmitReport(ctx, flood(lat, 20.0), fmt.Sprintf("second-%d-device", i))
		require.NoError(t, err)
	}

	env.clock.Advance(3 * time.Hour)
	res, err := env.svc.RunResolutionSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, 5, res.Resolved)
	assert.Equal(t, 5, countActions(mem.Audit(), models.ActionAutoResolved, models.OutcomeSuccess))
}

func TestGetIncident_NotFound(t *testing.T) {
	env := newMemoryEnv(t)
	_, err := env.svc.GetIncident(context.Background(), uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}
