package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/trust"
)

// Tx - операции хранилища внутри одной транзакции.
// Все изменения одного решения (статус, доверие, журнал) идут через один Tx.
type Tx interface {
	// LockCells берет advisory-блокировки пространственных ячеек до конца транзакции
	LockCells(ctx context.Context, keys []int64) error
	CreateIncident(ctx context.Context, incident *models.Incident) error
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	GetIncidentForUpdate(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	FindNearby(ctx context.Context, q models.NearbyQuery) ([]*models.Incident, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error)
	// TouchCorroborated сдвигает last_corroborated_at вперед (назад не двигает)
	TouchCorroborated(ctx context.Context, id uuid.UUID, at time.Time) error
	GetDevices(ctx context.Context, hashes []string) (map[string]*models.DeviceTrustRecord, error)
	trust.Store
}

// Store - контракт хранилища, который нужен движку
type Store interface {
	// WithinTx выполняет fn в транзакции: commit, если fn вернул nil, иначе rollback
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	FindNearby(ctx context.Context, q models.NearbyQuery) ([]*models.Incident, error)
	// ListStaleVerified возвращает Verified инциденты без подтверждений с cutoff
	ListStaleVerified(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListAudit(ctx context.Context, incidentID uuid.UUID) ([]*models.AuditLogEntry, error)
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
}

// IncidentCache - кэш чтения инцидентов. Промах - (nil, nil).
type IncidentCache interface {
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncident(ctx context.Context, incident *models.Incident) error
	InvalidateIncident(ctx context.Context, id uuid.UUID) error
}

// NopCache используется без Redis
type NopCache struct{}

func (NopCache) GetIncident(context.Context, uuid.UUID) (*models.Incident, error) { return nil, nil }
func (NopCache) SetIncident(context.Context, *models.Incident) error              { return nil }
func (NopCache) InvalidateIncident(context.Context, uuid.UUID) error              { return nil }
