package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/shenikar/crowd_report_trust/internal/category"
	"github.com/shenikar/crowd_report_trust/internal/corroboration"
	"github.com/shenikar/crowd_report_trust/internal/geo"
	"github.com/shenikar/crowd_report_trust/internal/lifecycle"
	"github.com/shenikar/crowd_report_trust/internal/metrics"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/trust"
	"github.com/shenikar/crowd_report_trust/internal/webhook"
	"github.com/sirupsen/logrus"
)

const maxDeviceHashLength = 256

// submission накапливает результат транзакции; сбрасывается при каждом запуске fn
type submission struct {
	decision   corroboration.Decision
	view       *models.Incident
	attempted  *audit.Entry
	events     []webhook.DecisionEvent
	invalidate []uuid.UUID
	transition bool
	adjusts    []float64
	bans       int
}

// SubmitReport валидирует отчет, оценивает его и применяет решение одной транзакцией
func (s *reportService) SubmitReport(ctx context.Context, in models.IncidentCreate, deviceHash string) (*models.IncidentView, error) {
	started := time.Now()
	deviceHash = strings.TrimSpace(deviceHash)
	log := s.logger.WithFields(logrus.Fields{
		"service":    "report",
		"method":     "SubmitReport",
		"type":       in.Type,
		"device":     models.ShortHash(deviceHash),
		"request_id": audit.RequestIDFromContext(ctx),
	})
	log.Info("Attempting to submit a new report")

	inc, err := s.newIncident(in, deviceHash)
	if err != nil {
		log.WithError(err).Warn("Report rejected by validation")
		metrics.ObserveReport("invalid", started)
		return nil, err
	}
	params := s.engine.ParamsFor(inc.Type)

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sub submission
	err = s.store.WithinTx(tctx, func(ctx context.Context, tx Tx) error {
		sub = submission{}
		return s.applyReport(ctx, tx, inc, params, &sub)
	})
	if err != nil {
		err = classify(err)
		log.WithError(err).Error("Failed to apply report")
		for _, e := range failedDecisions(err, sub.attempted) {
			s.recordFailure(ctx, log, e, err)
		}
		metrics.ObserveReport("error", started)
		return nil, fmt.Errorf("service: could not submit report: %w", err)
	}

	s.afterCommit(ctx, log, &sub)
	metrics.ObserveReport(string(sub.decision.Outcome), started)

	if sub.decision.Outcome == corroboration.OutcomeSuppressed {
		log.Warn("Report from banned device suppressed")
		return nil, ErrDeviceBanned
	}

	log.WithFields(logrus.Fields{
		"incident_id": sub.view.ID,
		"outcome":     sub.decision.Outcome,
		"score":       sub.decision.Score,
		"status":      sub.view.Status,
	}).Info("Report submitted successfully")
	return sub.view.View(), nil
}

// newIncident проверяет входные данные и строит инцидент. Время задается сервером.
func (s *reportService) newIncident(in models.IncidentCreate, deviceHash string) (*models.Incident, error) {
	if deviceHash == "" {
		return nil, invalid("device_hash", "is required")
	}
	if len(deviceHash) > maxDeviceHashLength {
		return nil, invalid("device_hash", fmt.Sprintf("must be at most %d bytes", maxDeviceHashLength))
	}
	cat, ok := s.catalog.Lookup(in.Type)
	if !ok {
		return nil, invalid("type", fmt.Sprintf("unknown category %q", category.Normalize(in.Type)))
	}
	description := strings.TrimSpace(in.Description)
	if !utf8.ValidString(description) {
		return nil, invalid("description", "must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(description); n > s.cfg.DescriptionMaxLength {
		return nil, invalid("description", fmt.Sprintf("must be at most %d characters", s.cfg.DescriptionMaxLength))
	}
	if !geo.ValidCoordinates(in.Latitude, in.Longitude) {
		return nil, invalid("location", "latitude must be in [-90,90] and longitude in [-180,180]")
	}
	if in.Severity < models.MinSeverity || in.Severity > models.MaxSeverity {
		return nil, invalid("severity", fmt.Sprintf("must be in [%d,%d]", models.MinSeverity, models.MaxSeverity))
	}

	now := s.now()
	return &models.Incident{
		ID:                 uuid.New(),
		Type:               cat.Name,
		Description:        description,
		Latitude:           in.Latitude,
		Longitude:          in.Longitude,
		Severity:           in.Severity,
		Status:             models.StatusUnverified,
		DeviceHash:         deviceHash,
		LastCorroboratedAt: now,
		Timestamp:          now,
	}, nil
}

func (s *reportService) applyReport(ctx context.Context, tx Tx, inc *models.Incident, params corroboration.Params, sub *submission) error {
	if err := tx.LockCells(ctx, geo.LockKeys(inc.Type, inc.Latitude, inc.Longitude, params.RadiusMeters)); err != nil {
		return fmt.Errorf("could not lock cells: %w", err)
	}

	reporter, err := s.ledger.GetOrCreate(ctx, tx, inc.DeviceHash, inc.Timestamp)
	if err != nil {
		return err
	}

	decision, err := s.engine.Evaluate(ctx, tx, inc, reporter)
	if err != nil {
		return err
	}
	sub.decision = decision

	if decision.Outcome == corroboration.OutcomeSuppressed {
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			DeviceHash:  inc.DeviceHash,
			Action:      models.ActionReportSuppressed,
			PerformedBy: models.SystemActor,
			Details: audit.Details(map[string]any{
				"device": models.ShortHash(inc.DeviceHash),
				"type":   inc.Type,
				"reason": "device is banned",
			}),
		})
		return err
	}

	if decision.HasRepresentative() {
		rid := decision.RepresentativeID
		inc.ClusterID = &rid
	}
	if err := tx.CreateIncident(ctx, inc); err != nil {
		return fmt.Errorf("could not create incident: %w", err)
	}
	sub.view = inc

	switch decision.Outcome {
	case corroboration.OutcomeFresh:
		return nil
	case corroboration.OutcomeDuplicate:
		return s.applyDuplicate(ctx, tx, inc, decision, sub)
	case corroboration.OutcomePending:
		sub.attempted = &audit.Entry{
			IncidentID:  &decision.RepresentativeID,
			DeviceHash:  inc.DeviceHash,
			Action:      models.ActionCorroborated,
			PerformedBy: models.SystemActor,
			Details:     decisionDetails(inc, decision),
		}
		_, err := s.audit.Record(ctx, tx, *sub.attempted)
		return err
	case corroboration.OutcomeVerify:
		return s.applyVerify(ctx, tx, inc, decision, sub)
	case corroboration.OutcomeCorroborate:
		return s.applyCorroborate(ctx, tx, inc, decision, sub)
	}
	return fmt.Errorf("unexpected evaluation outcome %q", decision.Outcome)
}

func (s *reportService) applyDuplicate(ctx context.Context, tx Tx, inc *models.Incident, d corroboration.Decision, sub *submission) error {
	sub.attempted = &audit.Entry{
		IncidentID:  &inc.ID,
		DeviceHash:  inc.DeviceHash,
		Action:      models.ActionDuplicateReport,
		PerformedBy: models.SystemActor,
		Details: audit.Details(map[string]any{
			"cluster": d.RepresentativeID.String(),
			"device":  models.ShortHash(inc.DeviceHash),
		}),
	}
	if _, err := s.audit.Record(ctx, tx, *sub.attempted); err != nil {
		return err
	}
	adj, err := s.ledger.Penalize(ctx, tx, inc.DeviceHash, &inc.ID, "duplicate report")
	if err != nil {
		return err
	}
	s.trackAdjustment(sub, adj, -s.cfg.TrustAdjustmentDelta, &inc.ID)
	return nil
}

func (s *reportService) applyVerify(ctx context.Context, tx Tx, inc *models.Incident, d corroboration.Decision, sub *submission) error {
	repID := d.RepresentativeID
	sub.attempted = &audit.Entry{
		IncidentID:  &repID,
		Action:      models.ActionAutoVerified,
		PerformedBy: models.SystemActor,
		Details:     decisionDetails(inc, d),
	}

	rep, err := tx.GetIncidentForUpdate(ctx, repID)
	if err != nil {
		return fmt.Errorf("could not lock representative: %w", err)
	}
	if rep.Status == models.StatusVerified {
		// уже подтвержден параллельным решением
		return s.applyCorroborate(ctx, tx, inc, d, sub)
	}
	if err := lifecycle.Transition(rep.Status, models.StatusVerified, lifecycle.TriggerCorroboration); err != nil {
		return err
	}
	updated, err := tx.UpdateStatus(ctx, repID, models.StatusVerified)
	if err != nil {
		return fmt.Errorf("could not update status: %w", err)
	}
	if err := tx.TouchCorroborated(ctx, repID, inc.Timestamp); err != nil {
		return fmt.Errorf("could not touch representative: %w", err)
	}
	updated.LastCorroboratedAt = maxTime(updated.LastCorroboratedAt, inc.Timestamp)

	if _, err := s.audit.Record(ctx, tx, *sub.attempted); err != nil {
		return err
	}
	sub.transition = true
	sub.invalidate = append(sub.invalidate, repID)
	sub.events = append(sub.events, webhook.DecisionEvent{
		Action:      models.ActionAutoVerified,
		IncidentID:  &repID,
		Status:      models.StatusVerified,
		Score:       d.Score,
		PerformedBy: models.SystemActor,
		Timestamp:   inc.Timestamp,
	})

	for _, hash := range d.ContributingDevices {
		adj, err := s.ledger.Reward(ctx, tx, hash, &repID, "incident verified by independent devices")
		if err != nil {
			return err
		}
		s.trackAdjustment(sub, adj, s.cfg.TrustAdjustmentDelta, &repID)
	}
	sub.view = updated
	return nil
}

func (s *reportService) applyCorroborate(ctx context.Context, tx Tx, inc *models.Incident, d corroboration.Decision, sub *submission) error {
	repID := d.RepresentativeID
	if err := tx.TouchCorroborated(ctx, repID, inc.Timestamp); err != nil {
		return fmt.Errorf("could not touch representative: %w", err)
	}
	sub.attempted = &audit.Entry{
		IncidentID:  &repID,
		DeviceHash:  inc.DeviceHash,
		Action:      models.ActionCorroborated,
		PerformedBy: models.SystemActor,
		Details:     decisionDetails(inc, d),
	}
	if _, err := s.audit.Record(ctx, tx, *sub.attempted); err != nil {
		return err
	}
	adj, err := s.ledger.Reward(ctx, tx, inc.DeviceHash, &repID, "report corroborated verified incident")
	if err != nil {
		return err
	}
	s.trackAdjustment(sub, adj, s.cfg.TrustAdjustmentDelta, &repID)

	rep, err := tx.GetIncident(ctx, repID)
	if err != nil {
		return fmt.Errorf("could not load representative: %w", err)
	}
	sub.invalidate = append(sub.invalidate, repID)
	sub.view = rep
	return nil
}

func (s *reportService) trackAdjustment(sub *submission, adj *trust.Adjustment, delta float64, incidentID *uuid.UUID) {
	sub.adjusts = append(sub.adjusts, delta)
	if !adj.Banned {
		return
	}
	sub.bans++
	sub.events = append(sub.events, webhook.DecisionEvent{
		Action:      models.ActionDeviceBanned,
		IncidentID:  incidentID,
		PerformedBy: models.SystemActor,
		Timestamp:   s.now(),
	})
}

// afterCommit: кэш, события и метрики только для зафиксированных решений
func (s *reportService) afterCommit(ctx context.Context, log *logrus.Entry, sub *submission) {
	s.invalidate(ctx, log, sub.invalidate...)
	s.publish(ctx, log, sub.events)
	if sub.transition {
		metrics.ObserveTransition(string(models.StatusUnverified), string(models.StatusVerified), string(lifecycle.TriggerCorroboration))
	}
	for _, d := range sub.adjusts {
		metrics.ObserveTrustAdjustment(d)
	}
	for i := 0; i < sub.bans; i++ {
		metrics.ObserveBan()
	}
}

func decisionDetails(inc *models.Incident, d corroboration.Decision) string {
	devices := make([]string, len(d.ContributingDevices))
	for i, h := range d.ContributingDevices {
		devices[i] = models.ShortHash(h)
	}
	return audit.Details(map[string]any{
		"devices":   devices,
		"matched":   d.MatchedIncidentIDs,
		"report":    inc.ID.String(),
		"score":     d.Score,
		"threshold": d.Threshold,
		"severity":  inc.Severity,
	})
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
