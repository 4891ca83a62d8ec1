package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/service"
)

var (
	_ service.Store = (*PostgresStore)(nil)
	_ service.Tx    = (*pgTx)(nil)
)

// querier - общее у пула и транзакции
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const incidentColumns = `
	id,
	type,
	description,
	ST_Y(location::geometry) AS latitude,
	ST_X(location::geometry) AS longitude,
	severity,
	status,
	device_hash,
	cluster_id,
	last_corroborated_at,
	created_at`

const deviceColumns = `device_hash, is_banned, trust_score, last_seen`

// PostgresStore - хранилище инцидентов, устройств и журнала в PostgreSQL + PostGIS
type PostgresStore struct {
	queries
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

// WithinTx выполняет fn в транзакции READ COMMITTED
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	// после Commit откат ничего не делает
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{queries: queries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapErr(err))
	}
	return nil
}

// ListStaleVerified возвращает Verified инциденты, которые не подтверждались с cutoff
func (s *PostgresStore) ListStaleVerified(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM incidents
		WHERE status = 'Verified' AND last_corroborated_at < $1
		ORDER BY last_corroborated_at, id
		LIMIT $2;
	`
	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale incidents: %w", mapErr(err))
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale incident id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in ListStaleVerified: %w", mapErr(err))
	}
	return ids, nil
}

// ListAudit возвращает записи журнала по инциденту в порядке добавления
func (s *PostgresStore) ListAudit(ctx context.Context, incidentID uuid.UUID) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT
			id,
			incident_id,
			COALESCE(device_hash, ''),
			action,
			performed_by,
			outcome,
			details,
			COALESCE(request_id, ''),
			created_at
		FROM audit_logs
		WHERE incident_id = $1
		ORDER BY id;
	`
	rows, err := s.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapErr(err))
	}
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		e := &models.AuditLogEntry{}
		if err := rows.Scan(
			&e.ID,
			&e.IncidentID,
			&e.DeviceHash,
			&e.Action,
			&e.PerformedBy,
			&e.Outcome,
			&e.Details,
			&e.RequestID,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in ListAudit: %w", mapErr(err))
	}
	return entries, nil
}

// pgTx - операции внутри транзакции
type pgTx struct {
	queries
}

// LockCells берет advisory-блокировки ячеек в переданном (отсортированном) порядке
func (t *pgTx) LockCells(ctx context.Context, keys []int64) error {
	for _, key := range keys {
		if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1);`, key); err != nil {
			return fmt.Errorf("failed to acquire cell lock: %w", mapErr(err))
		}
	}
	return nil
}

// CreateIncident создает новую запись об инциденте в бд
func (t *pgTx) CreateIncident(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (id, type, description, location, severity, status, device_hash, cluster_id, last_corroborated_at, created_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, $8, $9, $10, $11);
	`
	_, err := t.q.Exec(ctx, query,
		incident.ID,
		incident.Type,
		incident.Description,
		incident.Longitude,
		incident.Latitude,
		incident.Severity,
		incident.Status,
		incident.DeviceHash,
		incident.ClusterID,
		incident.LastCorroboratedAt,
		incident.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", mapErr(err))
	}
	return nil
}

// GetIncidentForUpdate читает инцидент и блокирует строку до конца транзакции
func (t *pgTx) GetIncidentForUpdate(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 FOR UPDATE;`
	incident, err := scanIncident(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock incident %s: %w", id, mapErr(err))
	}
	return incident, nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	query := `UPDATE incidents SET status = $2 WHERE id = $1 RETURNING ` + incidentColumns + `;`
	incident, err := scanIncident(t.q.QueryRow(ctx, query, id, status))
	if err != nil {
		return nil, fmt.Errorf("failed to update incident status: %w", mapErr(err))
	}
	return incident, nil
}

func (t *pgTx) TouchCorroborated(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE incidents SET
			last_corroborated_at = GREATEST(last_corroborated_at, $2)
		WHERE id = $1;
	`
	cmdTag, err := t.q.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch incident: %w", mapErr(err))
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetDevices(ctx context.Context, hashes []string) (map[string]*models.DeviceTrustRecord, error) {
	out := make(map[string]*models.DeviceTrustRecord, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	query := `SELECT ` + deviceColumns + ` FROM device_registry WHERE device_hash = ANY($1);`
	rows, err := t.q.Query(ctx, query, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", mapErr(err))
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		out[rec.DeviceHash] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in GetDevices: %w", mapErr(err))
	}
	return out, nil
}

// GetOrCreateDevice регистрирует устройство или обновляет last_seen
func (t *pgTx) GetOrCreateDevice(ctx context.Context, hash string, seenAt time.Time, initialScore float64) (*models.DeviceTrustRecord, error) {
	query := `
		INSERT INTO device_registry (device_hash, is_banned, trust_score, last_seen)
		VALUES ($1, FALSE, $2, $3)
		ON CONFLICT (device_hash) DO UPDATE SET
			last_seen = GREATEST(device_registry.last_seen, EXCLUDED.last_seen)
		RETURNING ` + deviceColumns + `;
	`
	rec, err := scanDevice(t.q.QueryRow(ctx, query, hash, initialScore, seenAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", mapErr(err))
	}
	return rec, nil
}

func (t *pgTx) GetDeviceForUpdate(ctx context.Context, hash string) (*models.DeviceTrustRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_registry WHERE device_hash = $1 FOR UPDATE;`
	rec, err := scanDevice(t.q.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, fmt.Errorf("failed to lock device: %w", mapErr(err))
	}
	return rec, nil
}

func (t *pgTx) SaveDevice(ctx context.Context, record *models.DeviceTrustRecord) error {
	query := `
		UPDATE device_registry SET
			is_banned = $2,
			trust_score = $3,
			last_seen = $4
		WHERE device_hash = $1;
	`
	cmdTag, err := t.q.Exec(ctx, query, record.DeviceHash, record.IsBanned, record.TrustScore, record.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to save device: %w", mapErr(err))
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", models.ShortHash(record.DeviceHash), models.ErrNotFound)
	}
	return nil
}

// AdjustTrust меняет доверие одним UPDATE, параллельные корректировки не теряются
func (t *pgTx) AdjustTrust(ctx context.Context, hash string, delta, floor, ceiling float64) (*models.DeviceTrustRecord, error) {
	query := `
		UPDATE device_registry SET
			trust_score = LEAST($3::double precision, GREATEST($2::double precision, trust_score + $4))
		WHERE device_hash = $1
		RETURNING ` + deviceColumns + `;
	`
	rec, err := scanDevice(t.q.QueryRow(ctx, query, hash, floor, ceiling, delta))
	if err != nil {
		return nil, fmt.Errorf("failed to adjust trust: %w", mapErr(err))
	}
	return rec, nil
}

// queries - чтение и журнал, общие для пула и транзакции
type queries struct {
	q querier
}

// GetIncident возвращает инцидент по его UUID
func (r *queries) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`
	incident, err := scanIncident(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get incident by id: %w", mapErr(err))
	}
	return incident, nil
}

// FindNearby находит незакрытые инциденты категории в радиусе от точки начиная с since
func (r *queries) FindNearby(ctx context.Context, q models.NearbyQuery) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE
			type = $1
			AND status <> 'Resolved'
			AND created_at >= $4
			AND ST_DWithin(
				location,
				ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
				$5
			)
		ORDER BY created_at, id;
	`
	rows, err := r.q.Query(ctx, query, q.Type, q.Longitude, q.Latitude, q.Since, q.RadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby incidents: %w", mapErr(err))
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row in FindNearby: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in FindNearby: %w", mapErr(err))
	}
	return incidents, nil
}

// AppendAudit добавляет запись журнала и заполняет ее id
func (r *queries) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (incident_id, device_hash, action, performed_by, outcome, details, request_id, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING id;
	`
	err := r.q.QueryRow(ctx, query,
		entry.IncidentID,
		entry.DeviceHash,
		entry.Action,
		entry.PerformedBy,
		entry.Outcome,
		entry.Details,
		entry.RequestID,
		entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapErr(err))
	}
	return nil
}

func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.Type,
		&incident.Description,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Severity,
		&incident.Status,
		&incident.DeviceHash,
		&incident.ClusterID,
		&incident.LastCorroboratedAt,
		&incident.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

func scanDevice(row pgx.Row) (*models.DeviceTrustRecord, error) {
	rec := &models.DeviceTrustRecord{}
	if err := row.Scan(&rec.DeviceHash, &rec.IsBanned, &rec.TrustScore, &rec.LastSeen); err != nil {
		return nil, err
	}
	return rec, nil
}

// mapErr переводит ошибки драйвера в ошибки сервиса
func mapErr(err error) error {
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return models.ErrNotFound
	case errors.As(err, &connectErr), pgconn.Timeout(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err)
	}
	return err
}
