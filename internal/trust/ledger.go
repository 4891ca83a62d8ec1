// Package trust реализует реестр доверия к устройствам: начальное значение,
// ограниченные корректировки и бан при достижении нижней границы.
package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/shenikar/crowd_report_trust/internal/models"
)

// Store - операции над записями устройств, выполняемые в транзакции
type Store interface {
	GetOrCreateDevice(ctx context.Context, hash string, seenAt time.Time, initialScore float64) (*models.DeviceTrustRecord, error)
	GetDeviceForUpdate(ctx context.Context, hash string) (*models.DeviceTrustRecord, error)
	SaveDevice(ctx context.Context, record *models.DeviceTrustRecord) error
	// AdjustTrust атомарно прибавляет delta и ограничивает результат [floor, ceiling]
	AdjustTrust(ctx context.Context, hash string, delta, floor, ceiling float64) (*models.DeviceTrustRecord, error)
	audit.Writer
}

// scoreEpsilon поглощает накопленную ошибку сложения шагов Delta
const scoreEpsilon = 1e-9

// DecisionError - ошибка автоматического решения реестра вместе с записью
// журнала, которую не удалось зафиксировать
type DecisionError struct {
	Entry audit.Entry
	Err   error
}

func (e *DecisionError) Error() string { return e.Err.Error() }

func (e *DecisionError) Unwrap() error { return e.Err }

// Policy - параметры правил доверия
type Policy struct {
	Floor      float64
	Ceiling    float64
	Delta      float64
	BanOnFloor bool
}

func (p Policy) Validate() error {
	if p.Floor < 0 {
		return errors.New("trust floor must not be negative")
	}
	if p.Floor >= p.Ceiling {
		return fmt.Errorf("trust floor %.2f must be below ceiling %.2f", p.Floor, p.Ceiling)
	}
	if p.Delta <= 0 {
		return errors.New("trust adjustment delta must be positive")
	}
	return nil
}

// Ledger применяет Policy к записям устройств
type Ledger struct {
	policy Policy
	audit  *audit.Logger
}

func NewLedger(policy Policy, auditLogger *audit.Logger) *Ledger {
	return &Ledger{policy: policy, audit: auditLogger}
}

// Policy возвращает текущие правила
func (l *Ledger) Policy() Policy { return l.policy }

// Clamp ограничивает score границами политики
func (l *Ledger) Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return l.policy.Floor
	}
	return math.Min(l.policy.Ceiling, math.Max(l.policy.Floor, score))
}

// snap прижимает score к границе, если он отличается от нее меньше чем на scoreEpsilon
func (l *Ledger) snap(score float64) float64 {
	switch {
	case math.Abs(score-l.policy.Floor) < scoreEpsilon:
		return l.policy.Floor
	case math.Abs(score-l.policy.Ceiling) < scoreEpsilon:
		return l.policy.Ceiling
	}
	return score
}

// GetOrCreate возвращает запись устройства, создавая ее при первом появлении.
// last_seen обновляется всегда.
func (l *Ledger) GetOrCreate(ctx context.Context, s Store, hash string, seenAt time.Time) (*models.DeviceTrustRecord, error) {
	rec, err := s.GetOrCreateDevice(ctx, hash, seenAt, l.Clamp(models.DefaultTrustScore))
	if err != nil {
		return nil, fmt.Errorf("trust: could not get device: %w", err)
	}
	return rec, nil
}

// Adjustment - результат корректировки доверия
type Adjustment struct {
	Record *models.DeviceTrustRecord
	Banned bool
}

// Reward повышает доверие на Delta
func (l *Ledger) Reward(ctx context.Context, s Store, hash string, incidentID *uuid.UUID, reason string) (*Adjustment, error) {
	return l.AdjustScore(ctx, s, hash, l.policy.Delta, incidentID, reason)
}

// Penalize понижает доверие на Delta
func (l *Ledger) Penalize(ctx context.Context, s Store, hash string, incidentID *uuid.UUID, reason string) (*Adjustment, error) {
	return l.AdjustScore(ctx, s, hash, -l.policy.Delta, incidentID, reason)
}

// AdjustScore применяет ограниченную корректировку и записывает TRUST_ADJUSTED.
// Если доверие достигло нижней границы и включен BanOnFloor, устройство банится
// в той же транзакции.
func (l *Ledger) AdjustScore(ctx context.Context, s Store, hash string, delta float64, incidentID *uuid.UUID, reason string) (*Adjustment, error) {
	entry := audit.Entry{
		IncidentID:  incidentID,
		DeviceHash:  hash,
		Action:      models.ActionTrustAdjusted,
		PerformedBy: models.SystemActor,
	}

	rec, err := s.AdjustTrust(ctx, hash, delta, l.policy.Floor, l.policy.Ceiling)
	if err != nil {
		return nil, &DecisionError{Entry: entry, Err: fmt.Errorf("trust: could not adjust score: %w", err)}
	}
	if snapped := l.snap(rec.TrustScore); snapped != rec.TrustScore {
		rec.TrustScore = snapped
		if err := s.SaveDevice(ctx, rec); err != nil {
			return nil, &DecisionError{Entry: entry, Err: fmt.Errorf("trust: could not save device: %w", err)}
		}
	}
	adj := &Adjustment{Record: rec}

	entry.Details = audit.Details(map[string]any{
		"delta":  delta,
		"score":  rec.TrustScore,
		"reason": reason,
	})
	if _, err := l.audit.Record(ctx, s, entry); err != nil {
		return nil, &DecisionError{Entry: entry, Err: err}
	}

	if l.policy.BanOnFloor && !rec.IsBanned && rec.TrustScore <= l.policy.Floor {
		banned, err := l.Ban(ctx, s, hash, incidentID, models.SystemActor, "trust score reached floor")
		if err != nil {
			return nil, &DecisionError{
				Entry: audit.Entry{
					IncidentID:  incidentID,
					DeviceHash:  hash,
					Action:      models.ActionDeviceBanned,
					PerformedBy: models.SystemActor,
					Details: audit.Details(map[string]any{
						"device": models.ShortHash(hash),
						"score":  rec.TrustScore,
						"reason": "trust score reached floor",
					}),
				},
				Err: err,
			}
		}
		adj.Record = banned
		adj.Banned = true
	}
	return adj, nil
}

// Ban помечает устройство забаненным навсегда и записывает DEVICE_BANNED.
// Повторный бан ничего не меняет и не пишется в журнал.
func (l *Ledger) Ban(ctx context.Context, s Store, hash string, incidentID *uuid.UUID, performedBy, reason string) (*models.DeviceTrustRecord, error) {
	rec, err := s.GetDeviceForUpdate(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("trust: could not lock device: %w", err)
	}
	if rec.IsBanned {
		return rec, nil
	}
	rec.IsBanned = true
	if err := s.SaveDevice(ctx, rec); err != nil {
		return nil, fmt.Errorf("trust: could not save device: %w", err)
	}

	if _, err := l.audit.Record(ctx, s, audit.Entry{
		IncidentID:  incidentID,
		DeviceHash:  hash,
		Action:      models.ActionDeviceBanned,
		PerformedBy: performedBy,
		Details: audit.Details(map[string]any{
			"device": models.ShortHash(hash),
			"score":  rec.TrustScore,
			"reason": reason,
		}),
	}); err != nil {
		return nil, err
	}
	return rec, nil
}
