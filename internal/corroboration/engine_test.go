package corroboration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/category"
	"github.com/shenikar/crowd_report_trust/internal/geo"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	incidents []*models.Incident
	devices   map[string]*models.DeviceTrustRecord
	err       error
}

func (f *fakeSource) GetIncident(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	for _, inc := range f.incidents {
		if inc.ID == id {
			return inc, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeSource) FindNearby(_ context.Context, q models.NearbyQuery) ([]*models.Incident, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Incident
	for _, inc := range f.incidents {
		if inc.Type != q.Type || inc.Timestamp.Before(q.Since) {
			continue
		}
		if geo.DistanceMeters(q.Latitude, q.Longitude, inc.Latitude, inc.Longitude) > q.RadiusMeters {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func (f *fakeSource) GetDevices(_ context.Context, hashes []string) (map[string]*models.DeviceTrustRecord, error) {
	out := make(map[string]*models.DeviceTrustRecord)
	for _, h := range hashes {
		if d, ok := f.devices[h]; ok {
			out[h] = d
		}
	}
	return out, nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *Engine {
	return NewEngine(category.Default(), Params{
		RadiusMeters: 200,
		Window:       30 * time.Minute,
		Threshold:    1.8,
	})
}

func device(hash string, score float64) *models.DeviceTrustRecord {
	return &models.DeviceTrustRecord{DeviceHash: hash, TrustScore: score}
}

func report(device string, lat, lon float64, at time.Time) *models.Incident {
	return &models.Incident{
		ID:         uuid.New(),
		Type:       "flood",
		Latitude:   lat,
		Longitude:  lon,
		Severity:   3,
		Status:     models.StatusUnverified,
		DeviceHash: device,
		Timestamp:  at,
	}
}

func TestEvaluate_FreshWithoutCandidates(t *testing.T) {
	src := &fakeSource{}
	d, err := newEngine().Evaluate(context.Background(), src, report("a", 10, 10, t0), device("a", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, d.Outcome)
	assert.False(t, d.HasRepresentative())
	assert.Equal(t, 1.0, d.Score)
}

func TestEvaluate_BannedReporterSuppressed(t *testing.T) {
	existing := report("b", 10, 10, t0)
	src := &fakeSource{incidents: []*models.Incident{existing}, devices: map[string]*models.DeviceTrustRecord{"b": device("b", 5)}}
	banned := device("a", 5)
	banned.IsBanned = true

	d, err := newEngine().Evaluate(context.Background(), src, report("a", 10, 10, t0.Add(time.Minute)), banned)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, d.Outcome)
	assert.Empty(t, d.ContributingDevices)
}

func TestEvaluate_TwoDevicesVerify(t *testing.T) {
	a := report("a", 10.0, 10.0, t0)
	src := &fakeSource{incidents: []*models.Incident{a}, devices: map[string]*models.DeviceTrustRecord{"a": device("a", 1)}}
	// ~111 м к северу, через 20 минут
	b := report("b", 10.001, 10.0, t0.Add(20*time.Minute))

	d, err := newEngine().Evaluate(context.Background(), src, b, device("b", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerify, d.Outcome)
	assert.Equal(t, a.ID, d.RepresentativeID)
	assert.InDelta(t, 2.0, d.Score, 1e-9)
	assert.Equal(t, []string{"b", "a"}, d.ContributingDevices)
	assert.Equal(t, []uuid.UUID{a.ID}, d.MatchedIncidentIDs)
}

func TestEvaluate_SameDeviceIsDuplicate(t *testing.T) {
	a := report("a", 10, 10, t0)
	src := &fakeSource{incidents: []*models.Incident{a}, devices: map[string]*models.DeviceTrustRecord{"a": device("a", 1)}}

	d, err := newEngine().Evaluate(context.Background(), src, report("a", 10, 10, t0.Add(5*time.Minute)), device("a", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, d.Outcome)
	assert.Equal(t, a.ID, d.RepresentativeID)
	assert.Equal(t, models.StatusUnverified, d.RepresentativeStatus)
}

func TestEvaluate_DeviceCountedOnce(t *testing.T) {
	// b отправил два отчета: засчитывается только один
	a := report("a", 10, 10, t0)
	b1 := report("b", 10, 10, t0.Add(time.Minute))
	b2 := report("b", 10, 10, t0.Add(2*time.Minute))
	src := &fakeSource{
		incidents: []*models.Incident{a, b1, b2},
		devices:   map[string]*models.DeviceTrustRecord{"a": device("a", 0.2), "b": device("b", 0.5)},
	}

	d, err := newEngine().Evaluate(context.Background(), src, report("c", 10, 10, t0.Add(3*time.Minute)), device("c", 0.9))
	require.NoError(t, err)
	assert.InDelta(t, 1.6, d.Score, 1e-9)
	assert.Equal(t, OutcomePending, d.Outcome)
	assert.Len(t, d.MatchedIncidentIDs, 2)
	assert.ElementsMatch(t, []string{"c", "a", "b"}, d.ContributingDevices)
	seen := map[string]bool{}
	for _, h := range d.ContributingDevices {
		assert.False(t, seen[h], "device %s counted twice", h)
		seen[h] = true
	}
}

func TestEvaluate_BannedCorroboratorIgnored(t *testing.T) {
	a := report("a", 10, 10, t0)
	bannedA := device("a", 5)
	bannedA.IsBanned = true
	src := &fakeSource{incidents: []*models.Incident{a}, devices: map[string]*models.DeviceTrustRecord{"a": bannedA}}

	d, err := newEngine().Evaluate(context.Background(), src, report("b", 10, 10, t0.Add(time.Minute)), device("b", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, d.Outcome)
	assert.Equal(t, 1.0, d.Score)
}

func TestEvaluate_TieBreakTemporalThenSpatial(t *testing.T) {
	far := report("a", 10.0010, 10, t0.Add(10*time.Minute))
	near := report("b", 10.0002, 10, t0.Add(10*time.Minute))
	older := report("c", 10, 10, t0)
	src := &fakeSource{
		incidents: []*models.Incident{older, far, near},
		devices: map[string]*models.DeviceTrustRecord{
			"a": device("a", 1), "b": device("b", 1), "c": device("c", 1),
		},
	}

	d, err := newEngine().Evaluate(context.Background(), src, report("d", 10, 10, t0.Add(12*time.Minute)), device("d", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerify, d.Outcome)
	assert.Equal(t, near.ID, d.RepresentativeID)
	assert.Equal(t, []uuid.UUID{near.ID, far.ID, older.ID}, d.MatchedIncidentIDs)
}

func TestEvaluate_MemberResolvesToRoot(t *testing.T) {
	root := report("a", 10, 10, t0)
	root.Status = models.StatusVerified
	member := report("b", 10, 10, t0.Add(25*time.Minute))
	rootID := root.ID
	member.ClusterID = &rootID
	src := &fakeSource{
		incidents: []*models.Incident{root, member},
		devices:   map[string]*models.DeviceTrustRecord{"a": device("a", 1), "b": device("b", 1)},
	}

	// root уже вне окна, но кластер найден через участника
	d, err := newEngine().Evaluate(context.Background(), src, report("c", 10, 10, t0.Add(50*time.Minute)), device("c", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorroborate, d.Outcome)
	assert.Equal(t, root.ID, d.RepresentativeID)
	assert.Equal(t, []uuid.UUID{member.ID}, d.MatchedIncidentIDs)
}

func TestEvaluate_ResolvedClusterIgnored(t *testing.T) {
	root := report("a", 10, 10, t0)
	root.Status = models.StatusResolved
	member := report("b", 10, 10, t0.Add(time.Minute))
	rootID := root.ID
	member.ClusterID = &rootID
	src := &fakeSource{
		incidents: []*models.Incident{root, member},
		devices:   map[string]*models.DeviceTrustRecord{"a": device("a", 1), "b": device("b", 1)},
	}

	d, err := newEngine().Evaluate(context.Background(), src, report("c", 10, 10, t0.Add(2*time.Minute)), device("c", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, d.Outcome)
}

func TestEvaluate_OutsideWindowOrRadius(t *testing.T) {
	old := report("a", 10, 10, t0)
	distant := report("b", 10.01, 10, t0.Add(40*time.Minute))
	src := &fakeSource{
		incidents: []*models.Incident{old, distant},
		devices:   map[string]*models.DeviceTrustRecord{"a": device("a", 1), "b": device("b", 1)},
	}

	d, err := newEngine().Evaluate(context.Background(), src, report("c", 10, 10, t0.Add(45*time.Minute)), device("c", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, d.Outcome)
}

func TestEvaluate_CategoryOverride(t *testing.T) {
	catalog, err := category.New([]category.Category{{Name: "flood", SpatialRadiusMeters: 2000}})
	require.NoError(t, err)
	e := NewEngine(catalog, Params{RadiusMeters: 200, Window: 30 * time.Minute, Threshold: 1.8})
	assert.Equal(t, 2000.0, e.ParamsFor("flood").RadiusMeters)

	a := report("a", 10.01, 10, t0)
	src := &fakeSource{incidents: []*models.Incident{a}, devices: map[string]*models.DeviceTrustRecord{"a": device("a", 1)}}
	d, err := e.Evaluate(context.Background(), src, report("b", 10, 10, t0.Add(time.Minute)), device("b", 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerify, d.Outcome)
}

func TestEvaluate_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	_, err := newEngine().Evaluate(context.Background(), src, report("a", 10, 10, t0), device("a", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, src.err)
}
