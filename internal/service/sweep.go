package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/shenikar/crowd_report_trust/internal/lifecycle"
	"github.com/shenikar/crowd_report_trust/internal/metrics"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/webhook"
	"github.com/sirupsen/logrus"
)

// RunResolutionSweep закрывает Verified инциденты без новых подтверждений дольше TTL.
// Каждый инцидент закрывается в своей транзакции.
func (s *reportService) RunResolutionSweep(ctx context.Context) (*SweepResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":    "report",
		"method":     "RunResolutionSweep",
		"request_id": audit.RequestIDFromContext(ctx),
	})
	now := s.now()
	cutoff := now.Add(-s.cfg.ResolutionTTL())
	log.WithField("cutoff", cutoff).Info("Starting resolution sweep")

	result := &SweepResult{}
	seen := make(map[uuid.UUID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return result, classify(err)
		}

		lctx, cancel := s.withTimeout(ctx)
		ids, err := s.store.ListStaleVerified(lctx, cutoff, s.cfg.SweepBatchSize)
		cancel()
		if err != nil {
			err = classify(err)
			log.WithError(err).Error("Failed to list stale incidents")
			return result, fmt.Errorf("service: could not list stale incidents: %w", err)
		}

		progress := false
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			progress = true
			result.Scanned++

			resolved, err := s.resolveOne(ctx, log, id, cutoff)
			switch {
			case err != nil:
				result.Failed++
			case resolved:
				result.Resolved++
			default:
				result.Skipped++
			}
		}
		// неудачные инциденты остаются в выборке, повторно их не берем
		if !progress || len(ids) < s.cfg.SweepBatchSize {
			break
		}
	}

	log.WithFields(logrus.Fields{
		"scanned":  result.Scanned,
		"resolved": result.Resolved,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("Resolution sweep finished")
	return result, nil
}

// resolveOne перепроверяет инцидент под блокировкой строки и закрывает его.
// false без ошибки - инцидент изменился после выборки.
func (s *reportService) resolveOne(ctx context.Context, log *logrus.Entry, id uuid.UUID, cutoff time.Time) (bool, error) {
	log = log.WithField("incident_id", id)
	entry := audit.Entry{
		IncidentID:  &id,
		Action:      models.ActionAutoResolved,
		PerformedBy: models.SystemActor,
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var resolved *models.Incident
	err := s.store.WithinTx(tctx, func(ctx context.Context, tx Tx) error {
		resolved = nil
		inc, err := tx.GetIncidentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inc.Status != models.StatusVerified || !inc.LastCorroboratedAt.Before(cutoff) {
			return nil
		}
		if err := lifecycle.Transition(inc.Status, models.StatusResolved, lifecycle.TriggerSweep); err != nil {
			return err
		}
		updated, err := tx.UpdateStatus(ctx, id, models.StatusResolved)
		if err != nil {
			return err
		}
		entry.Details = audit.Details(map[string]any{
			"last_corroborated_at": inc.LastCorroboratedAt.UTC().Format(time.RFC3339),
			"ttl_minutes":          s.cfg.ResolutionTTLMinutes,
		})
		if _, err := s.audit.Record(ctx, tx, entry); err != nil {
			return err
		}
		resolved = updated
		return nil
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			log.Warn("Stale incident disappeared before resolution")
			return false, nil
		}
		log.WithError(err).Error("Failed to resolve incident")
		s.recordFailure(ctx, log, entry, err)
		return false, err
	}
	if resolved == nil {
		log.Debug("Incident no longer stale, skipping")
		return false, nil
	}

	s.invalidate(ctx, log, id)
	s.publish(ctx, log, []webhook.DecisionEvent{{
		Action:      models.ActionAutoResolved,
		IncidentID:  &id,
		Status:      models.StatusResolved,
		PerformedBy: models.SystemActor,
		Timestamp:   s.now(),
	}})
	metrics.ObserveTransition(string(models.StatusVerified), string(models.StatusResolved), string(lifecycle.TriggerSweep))
	log.Info("Incident resolved by sweep")
	return true, nil
}
