package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/shenikar/crowd_report_trust/internal/lifecycle"
	"github.com/shenikar/crowd_report_trust/internal/metrics"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/webhook"
	"github.com/sirupsen/logrus"
)

const maxReasonLength = 500

// GetIncident возвращает инцидент, сначала из кэша
func (s *reportService) GetIncident(ctx context.Context, id uuid.UUID) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "report",
		"method":      "GetIncident",
		"incident_id": id,
	})

	cached, err := s.cache.GetIncident(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident from cache")
	}
	if cached != nil {
		log.Debug("Incident served from cache")
		return cached.View(), nil
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	inc, err := s.store.GetIncident(tctx, id)
	if err != nil {
		err = classify(err)
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).Error("Failed to get incident")
		}
		return nil, err
	}

	if err := s.cache.SetIncident(ctx, inc); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return inc.View(), nil
}

// OverrideStatus меняет статус инцидента вручную по правилам жизненного цикла
func (s *reportService) OverrideStatus(ctx context.Context, id uuid.UUID, req OverrideRequest) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "report",
		"method":       "OverrideStatus",
		"incident_id":  id,
		"status":       req.Status,
		"performed_by": req.PerformedBy,
		"request_id":   audit.RequestIDFromContext(ctx),
	})
	log.Info("Attempting to override incident status")

	if !req.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", req.Status))
	}
	if err := lifecycle.ValidateActor(lifecycle.TriggerAdmin, req.PerformedBy); err != nil {
		return nil, invalid("performed_by", err.Error())
	}
	reason := strings.TrimSpace(req.Reason)
	if len([]rune(reason)) > maxReasonLength {
		return nil, invalid("reason", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}

	entry := audit.Entry{
		IncidentID:  &id,
		Action:      models.ActionAdminOverride,
		PerformedBy: req.PerformedBy,
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		updated  *models.Incident
		from     models.Status
		banEvent bool
		adjusted bool
	)
	err := s.store.WithinTx(tctx, func(ctx context.Context, tx Tx) error {
		banEvent, adjusted = false, false
		inc, err := tx.GetIncidentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = inc.Status
		entry.DeviceHash = inc.DeviceHash
		entry.Details = audit.Details(map[string]any{
			"from":     string(from),
			"to":       string(req.Status),
			"reason":   reason,
			"penalize": req.PenalizeReporter,
		})

		dismissal := from == models.StatusUnverified && req.Status == models.StatusResolved
		if req.PenalizeReporter && !dismissal {
			return invalid("penalize_reporter", "applies only when dismissing an unverified incident")
		}
		if err := lifecycle.Transition(from, req.Status, lifecycle.TriggerAdmin); err != nil {
			return err
		}
		updated, err = tx.UpdateStatus(ctx, id, req.Status)
		if err != nil {
			return err
		}
		if req.Status == models.StatusVerified {
			now := s.now()
			if err := tx.TouchCorroborated(ctx, id, now); err != nil {
				return err
			}
			updated.LastCorroboratedAt = maxTime(updated.LastCorroboratedAt, now)
		}
		if _, err := s.audit.Record(ctx, tx, entry); err != nil {
			return err
		}

		if req.PenalizeReporter {
			adj, err := s.ledger.Penalize(ctx, tx, inc.DeviceHash, &id, "report dismissed by operator")
			if err != nil {
				return err
			}
			adjusted = true
			banEvent = adj.Banned
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrInvalidTransition) {
			log.WithError(err).Error("Rejected invalid status transition")
		} else {
			log.WithError(err).Error("Failed to override incident status")
		}
		if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrNotFound) {
			for _, e := range failedDecisions(err, &entry) {
				s.recordFailure(ctx, log, e, err)
			}
		}
		return nil, err
	}

	now := s.now()
	events := []webhook.DecisionEvent{{
		Action:      models.ActionAdminOverride,
		IncidentID:  &id,
		Status:      req.Status,
		PerformedBy: req.PerformedBy,
		Timestamp:   now,
	}}
	if banEvent {
		events = append(events, webhook.DecisionEvent{
			Action:      models.ActionDeviceBanned,
			IncidentID:  &id,
			PerformedBy: models.SystemActor,
			Timestamp:   now,
		})
		metrics.ObserveBan()
	}
	if adjusted {
		metrics.ObserveTrustAdjustment(-s.cfg.TrustAdjustmentDelta)
	}
	s.invalidate(ctx, log, id)
	s.publish(ctx, log, events)
	metrics.ObserveTransition(string(from), string(req.Status), string(lifecycle.TriggerAdmin))

	log.WithField("from", from).Info("Incident status overridden")
	return updated.View(), nil
}

// BanDevice банит устройство вручную. Повторный бан ничего не меняет.
func (s *reportService) BanDevice(ctx context.Context, deviceHash, performedBy, reason string) error {
	deviceHash = strings.TrimSpace(deviceHash)
	log := s.logger.WithFields(logrus.Fields{
		"service":      "report",
		"method":       "BanDevice",
		"device":       models.ShortHash(deviceHash),
		"performed_by": performedBy,
		"request_id":   audit.RequestIDFromContext(ctx),
	})
	log.Info("Attempting to ban device")

	if deviceHash == "" {
		return invalid("device_hash", "is required")
	}
	if err := lifecycle.ValidateActor(lifecycle.TriggerAdmin, performedBy); err != nil {
		return invalid("performed_by", err.Error())
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "banned by operator"
	}
	if len([]rune(reason)) > maxReasonLength {
		return invalid("reason", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	newlyBanned := false
	err := s.store.WithinTx(tctx, func(ctx context.Context, tx Tx) error {
		newlyBanned = false
		before, err := tx.GetDevices(ctx, []string{deviceHash})
		if err != nil {
			return err
		}
		prev, ok := before[deviceHash]
		if !ok {
			return ErrNotFound
		}
		if _, err := s.ledger.Ban(ctx, tx, deviceHash, nil, performedBy, reason); err != nil {
			return err
		}
		newlyBanned = !prev.IsBanned
		return nil
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			log.Warn("Device not found")
			return err
		}
		log.WithError(err).Error("Failed to ban device")
		s.recordFailure(ctx, log, audit.Entry{
			DeviceHash:  deviceHash,
			Action:      models.ActionDeviceBanned,
			PerformedBy: performedBy,
			Details:     audit.Details(map[string]any{"device": models.ShortHash(deviceHash), "reason": reason}),
		}, err)
		return err
	}

	if !newlyBanned {
		log.Info("Device already banned")
		return nil
	}
	metrics.ObserveBan()
	s.publish(ctx, log, []webhook.DecisionEvent{{
		Action:      models.ActionDeviceBanned,
		PerformedBy: performedBy,
		Timestamp:   s.now(),
	}})
	log.Info("Device banned")
	return nil
}

// ListAudit возвращает журнал по инциденту в порядке записи
func (s *reportService) ListAudit(ctx context.Context, incidentID uuid.UUID) ([]*models.AuditLogEntry, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.store.ListAudit(tctx, incidentID)
	if err != nil {
		err = classify(err)
		s.logger.WithFields(logrus.Fields{
			"service":     "report",
			"method":      "ListAudit",
			"incident_id": incidentID,
		}).WithError(err).Error("Failed to list audit entries")
		return nil, err
	}
	return entries, nil
}
