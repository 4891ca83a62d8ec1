// Package memory - хранилище в памяти процесса для STORE_DRIVER=memory и тестов.
// Транзакции выполняются по одной под мьютексом и работают с копией данных,
// которая подменяет исходные данные только при коммите.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/geo"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/service"
)

var (
	_ service.Store = (*Store)(nil)
	_ service.Tx    = (*Tx)(nil)
)

type state struct {
	incidents map[uuid.UUID]*models.Incident
	devices   map[string]*models.DeviceTrustRecord
	audit     []*models.AuditLogEntry
	nextAudit int64
}

func (st *state) clone() *state {
	c := &state{
		incidents: make(map[uuid.UUID]*models.Incident, len(st.incidents)),
		devices:   make(map[string]*models.DeviceTrustRecord, len(st.devices)),
		audit:     make([]*models.AuditLogEntry, len(st.audit), len(st.audit)+8),
		nextAudit: st.nextAudit,
	}
	for id, inc := range st.incidents {
		c.incidents[id] = copyIncident(inc)
	}
	for h, d := range st.devices {
		dc := *d
		c.devices[h] = &dc
	}
	copy(c.audit, st.audit)
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: &state{
		incidents: make(map[uuid.UUID]*models.Incident),
		devices:   make(map[string]*models.DeviceTrustRecord),
		nextAudit: 1,
	}}
}

// WithinTx выполняет fn над копией состояния и применяет ее, если fn вернул nil
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return getIncident(s.st, id)
}

func (s *Store) FindNearby(ctx context.Context, q models.NearbyQuery) ([]*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return findNearby(s.st, q), nil
}

// ListStaleVerified - самые старые по last_corroborated_at первыми
func (s *Store) ListStaleVerified(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*models.Incident
	for _, inc := range s.st.incidents {
		if inc.Status == models.StatusVerified && inc.LastCorroboratedAt.Before(cutoff) {
			stale = append(stale, inc)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].LastCorroboratedAt.Equal(stale[j].LastCorroboratedAt) {
			return stale[i].LastCorroboratedAt.Before(stale[j].LastCorroboratedAt)
		}
		return stale[i].ID.String() < stale[j].ID.String()
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, len(stale))
	for i, inc := range stale {
		ids[i] = inc.ID
	}
	return ids, nil
}

func (s *Store) ListAudit(ctx context.Context, incidentID uuid.UUID) ([]*models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.AuditLogEntry, 0)
	for _, e := range s.st.audit {
		if e.IncidentID != nil && *e.IncidentID == incidentID {
			ec := *e
			out = append(out, &ec)
		}
	}
	return out, nil
}

// AppendAudit пишет запись вне транзакции
func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	appendAudit(s.st, entry)
	return nil
}

// Audit возвращает копию всего журнала, включая записи без инцидента
func (s *Store) Audit() []*models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditLogEntry, len(s.st.audit))
	for i, e := range s.st.audit {
		ec := *e
		out[i] = &ec
	}
	return out
}

// Device возвращает запись устройства, если она есть
func (s *Store) Device(hash string) (*models.DeviceTrustRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.devices[hash]
	if !ok {
		return nil, false
	}
	dc := *d
	return &dc, true
}

// IncidentCount - число сохраненных инцидентов
func (s *Store) IncidentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.incidents)
}

// Tx работает с копией состояния; вне WithinTx не используется
type Tx struct {
	st *state
}

// LockCells ничего не делает: транзакции уже выполняются по одной
func (t *Tx) LockCells(ctx context.Context, _ []int64) error {
	return ctx.Err()
}

func (t *Tx) CreateIncident(ctx context.Context, incident *models.Incident) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st.incidents[incident.ID] = copyIncident(incident)
	return nil
}

func (t *Tx) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getIncident(t.st, id)
}

func (t *Tx) GetIncidentForUpdate(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	return t.GetIncident(ctx, id)
}

func (t *Tx) FindNearby(ctx context.Context, q models.NearbyQuery) ([]*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return findNearby(t.st, q), nil
}

func (t *Tx) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, ok := t.st.incidents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	inc.Status = status
	return copyIncident(inc), nil
}

func (t *Tx) TouchCorroborated(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inc, ok := t.st.incidents[id]
	if !ok {
		return models.ErrNotFound
	}
	if at.After(inc.LastCorroboratedAt) {
		inc.LastCorroboratedAt = at
	}
	return nil
}

func (t *Tx) GetDevices(ctx context.Context, hashes []string) (map[string]*models.DeviceTrustRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]*models.DeviceTrustRecord, len(hashes))
	for _, h := range hashes {
		if d, ok := t.st.devices[h]; ok {
			dc := *d
			out[h] = &dc
		}
	}
	return out, nil
}

func (t *Tx) GetOrCreateDevice(ctx context.Context, hash string, seenAt time.Time, initialScore float64) (*models.DeviceTrustRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := t.st.devices[hash]
	if !ok {
		d = &models.DeviceTrustRecord{DeviceHash: hash, TrustScore: initialScore, LastSeen: seenAt}
		t.st.devices[hash] = d
	}
	if seenAt.After(d.LastSeen) {
		d.LastSeen = seenAt
	}
	dc := *d
	return &dc, nil
}

func (t *Tx) GetDeviceForUpdate(ctx context.Context, hash string) (*models.DeviceTrustRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := t.st.devices[hash]
	if !ok {
		return nil, models.ErrNotFound
	}
	dc := *d
	return &dc, nil
}

func (t *Tx) SaveDevice(ctx context.Context, record *models.DeviceTrustRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.devices[record.DeviceHash]; !ok {
		return models.ErrNotFound
	}
	rc := *record
	t.st.devices[record.DeviceHash] = &rc
	return nil
}

func (t *Tx) AdjustTrust(ctx context.Context, hash string, delta, floor, ceiling float64) (*models.DeviceTrustRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := t.st.devices[hash]
	if !ok {
		return nil, models.ErrNotFound
	}
	score := d.TrustScore + delta
	if score < floor {
		score = floor
	}
	if score > ceiling {
		score = ceiling
	}
	d.TrustScore = score
	dc := *d
	return &dc, nil
}

func (t *Tx) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	appendAudit(t.st, entry)
	return nil
}

func appendAudit(st *state, entry *models.AuditLogEntry) {
	entry.ID = st.nextAudit
	st.nextAudit++
	ec := *entry
	st.audit = append(st.audit, &ec)
}

func getIncident(st *state, id uuid.UUID) (*models.Incident, error) {
	inc, ok := st.incidents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyIncident(inc), nil
}

func findNearby(st *state, q models.NearbyQuery) []*models.Incident {
	var out []*models.Incident
	for _, inc := range st.incidents {
		if inc.Type != q.Type || inc.Status == models.StatusResolved || inc.Timestamp.Before(q.Since) {
			continue
		}
		if geo.DistanceMeters(q.Latitude, q.Longitude, inc.Latitude, inc.Longitude) > q.RadiusMeters {
			continue
		}
		out = append(out, copyIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func copyIncident(inc *models.Incident) *models.Incident {
	c := *inc
	if inc.ClusterID != nil {
		id := *inc.ClusterID
		c.ClusterID = &id
	}
	return &c
}
