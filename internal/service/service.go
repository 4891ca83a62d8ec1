package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/shenikar/crowd_report_trust/internal/category"
	"github.com/shenikar/crowd_report_trust/internal/config"
	"github.com/shenikar/crowd_report_trust/internal/corroboration"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/trust"
	"github.com/shenikar/crowd_report_trust/internal/webhook"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

// ReportService - точка входа транспортного слоя в движок доверия
type ReportService interface {
	SubmitReport(ctx context.Context, in models.IncidentCreate, deviceHash string) (*models.IncidentView, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.IncidentView, error)
	RunResolutionSweep(ctx context.Context) (*SweepResult, error)
	OverrideStatus(ctx context.Context, id uuid.UUID, req OverrideRequest) (*models.IncidentView, error)
	BanDevice(ctx context.Context, deviceHash, performedBy, reason string) error
	ListAudit(ctx context.Context, incidentID uuid.UUID) ([]*models.AuditLogEntry, error)
}

// SweepResult - итог одного прохода Resolution Sweep
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// OverrideRequest - ручная смена статуса оператором
type OverrideRequest struct {
	Status           models.Status
	PerformedBy      string
	Reason           string
	PenalizeReporter bool
}

type reportService struct {
	store     Store
	cache     IncidentCache
	publisher webhook.Publisher
	logger    *logrus.Logger
	cfg       *config.Config
	catalog   *category.Catalog
	engine    *corroboration.Engine
	ledger    *trust.Ledger
	audit     *audit.Logger
	now       func() time.Time
}

func NewReportService(
	store Store,
	cache IncidentCache,
	publisher webhook.Publisher,
	logger *logrus.Logger,
	cfg *config.Config,
	catalog *category.Catalog,
) ReportService {
	if cache == nil {
		cache = NopCache{}
	}
	if publisher == nil {
		publisher = webhook.NopPublisher{}
	}
	auditLogger := audit.NewLogger()
	return &reportService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		catalog:   catalog,
		engine: corroboration.NewEngine(catalog, corroboration.Params{
			RadiusMeters: cfg.SpatialRadiusMeters,
			Window:       cfg.TemporalWindow(),
			Threshold:    cfg.VerificationThreshold,
		}),
		ledger: trust.NewLedger(trust.Policy{
			Floor:      cfg.TrustScoreFloor,
			Ceiling:    cfg.TrustScoreCeiling,
			Delta:      cfg.TrustAdjustmentDelta,
			BanOnFloor: cfg.BanOnFloor,
		}, auditLogger),
		audit: auditLogger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// withTimeout ограничивает время работы с хранилищем
func (s *reportService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// recordFailure пишет запись о неудавшемся решении вне откатившейся транзакции
func (s *reportService) recordFailure(ctx context.Context, log *logrus.Entry, e audit.Entry, cause error) {
	ctx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	e.Outcome = models.OutcomeFailure
	if e.Details == "" {
		e.Details = audit.Details(map[string]any{"error": cause.Error()})
	} else {
		e.Details += " " + audit.Details(map[string]any{"error": cause.Error()})
	}
	if _, err := s.audit.Record(ctx, s.store, e); err != nil {
		log.WithError(err).Error("Failed to record failed decision in audit log")
	}
}

// failedDecisions возвращает записи для журнала неудач: основное решение и,
// если сбой случился внутри реестра доверия, его собственное решение
func failedDecisions(err error, primary *audit.Entry) []audit.Entry {
	var out []audit.Entry
	if primary != nil {
		out = append(out, *primary)
	}
	var de *trust.DecisionError
	if errors.As(err, &de) && (primary == nil || de.Entry.Action != primary.Action) {
		out = append(out, de.Entry)
	}
	return out
}

// publish отправляет события после коммита; ошибки только логируются
func (s *reportService) publish(ctx context.Context, log *logrus.Entry, events []webhook.DecisionEvent) {
	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.WithError(err).WithField("action", ev.Action).Warn("Failed to publish decision event")
		}
	}
}

func (s *reportService) invalidate(ctx context.Context, log *logrus.Entry, ids ...uuid.UUID) {
	for _, id := range ids {
		if err := s.cache.InvalidateIncident(ctx, id); err != nil {
			log.WithError(err).WithField("incident_id", id).Warn("Failed to invalidate incident cache")
		}
	}
}
