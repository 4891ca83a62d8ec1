package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/shenikar/crowd_report_trust/internal/config"
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/service"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	reportService service.ReportService
	logger        *logrus.Logger
	validate      *validator.Validate
	cfg           *config.Config
	limiter       *DeviceRateLimiter
}

func NewHandler(reportService service.ReportService, logger *logrus.Logger, cfg *config.Config) *Handler {
	return &Handler{
		reportService: reportService,
		logger:        logger,
		validate:      validator.New(),
		cfg:           cfg,
		limiter:       NewDeviceRateLimiter(cfg.DeviceRatePerMinute, cfg.DeviceRateBurst),
	}
}

func (h *Handler) log(c *gin.Context, method string) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"handler":    "v1",
		"method":     method,
		"request_id": audit.RequestIDFromContext(c.Request.Context()),
	})
}

// @Summary Submit an incident report
// @Description Submit a crowd report. The device fingerprint is taken from the X-Device-Hash header. Returns the representative incident when the report corroborates an existing one. Requires API key.
// @Tags Reports
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-Device-Hash header string true "Opaque device fingerprint"
// @Param report body SubmitReportRequest true "Incident report"
// @Success 201 {object} IncidentResponse
// @Success 202 {object} AcceptedResponse "Report accepted without details"
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Device is banned"
// @Failure 429 {object} map[string]string "Rate limit exceeded"
// @Failure 503 {object} map[string]string "Store unavailable, retry later"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /reports [post]
func (h *Handler) submitReport(c *gin.Context) {
	var input SubmitReportRequest
	log := h.log(c, "submitReport")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceHash := c.GetHeader(deviceHashHeader)
	view, err := h.reportService.SubmitReport(c.Request.Context(), DTOToIncidentCreate(input), deviceHash)
	if err != nil {
		if errors.Is(err, service.ErrDeviceBanned) {
			if h.cfg.HideBans {
				c.JSON(http.StatusAccepted, AcceptedResponse{Status: "accepted"})
				return
			}
			c.JSON(http.StatusForbidden, gin.H{"error": "device is banned"})
			return
		}
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ViewToIncidentResponse(view))
}

// @Summary Get incident by ID
// @Description Get a single incident by its ID. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.log(c, "getIncident").WithField("id", id)

	view, err := h.reportService.GetIncident(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ViewToIncidentResponse(view))
}

// @Summary Override incident status
// @Description Move an incident along the lifecycle manually. Unverified to Resolved with penalize_reporter lowers the reporter trust. Requires operator token.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Param override body OverrideStatusRequest true "New status"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Transition not allowed"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /admin/incidents/{id}/status [post]
func (h *Handler) overrideStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.log(c, "overrideStatus").WithField("id", id)

	var input OverrideStatusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.reportService.OverrideStatus(c.Request.Context(), id, service.OverrideRequest{
		Status:           models.Status(input.Status),
		PerformedBy:      operatorFromContext(c),
		Reason:           input.Reason,
		PenalizeReporter: input.PenalizeReporter,
	})
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ViewToIncidentResponse(view))
}

// @Summary Ban a device
// @Description Ban a device permanently. Repeating the ban has no effect. Requires operator token.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param hash path string true "Device hash"
// @Param ban body BanDeviceRequest false "Ban reason"
// @Success 204 "No Content"
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Device not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /admin/devices/{hash}/ban [post]
func (h *Handler) banDevice(c *gin.Context) {
	log := h.log(c, "banDevice")

	var input BanDeviceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			log.WithError(err).Warn("Failed to bind JSON")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash := strings.TrimSpace(c.Param("hash"))
	if err := h.reportService.BanDevice(c.Request.Context(), hash, operatorFromContext(c), input.Reason); err != nil {
		h.respondError(c, log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Get incident audit log
// @Description Get every decision recorded for the incident in order. Requires operator token.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {array} AuditEntryResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /admin/incidents/{id}/audit [get]
func (h *Handler) listAudit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.log(c, "listAudit").WithField("id", id)

	entries, err := h.reportService.ListAudit(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, AuditEntriesToResponses(entries))
}

// @Summary Run resolution sweep
// @Description Resolve verified incidents without new reports for longer than the resolution TTL. Requires operator token.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SweepResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 503 {object} map[string]string "Store unavailable, retry later"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /admin/sweep [post]
func (h *Handler) runSweep(c *gin.Context) {
	log := h.log(c, "runSweep")

	res, err := h.reportService.RunResolutionSweep(c.Request.Context())
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, SweepResultToResponse(res))
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError переводит ошибки сервиса в HTTP-ответы
func (h *Handler) respondError(c *gin.Context, log *logrus.Entry, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		log.WithError(err).Warn("Request rejected by validation")
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, service.ErrValidation):
		log.WithError(err).Warn("Request rejected by validation")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		log.WithError(err).Warn("Resource not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		log.WithError(err).Error("Invalid status transition")
		c.JSON(http.StatusConflict, gin.H{"error": "transition not allowed"})
	case errors.Is(err, service.ErrStoreUnavailable):
		log.WithError(err).Error("Store unavailable")
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
