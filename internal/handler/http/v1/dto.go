package v1

import (
	"time"

	"github.com/google/uuid"
)

// SubmitReportRequest DTO для отправки отчета об инциденте
// @Description DTO для отправки отчета об инциденте. Отпечаток устройства передается в заголовке X-Device-Hash.
type SubmitReportRequest struct {
	Type        string   `json:"type" validate:"required,max=64"`
	Description string   `json:"description,omitempty"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
	Severity    int      `json:"severity" validate:"required,min=1,max=5"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Severity    int       `json:"severity"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// AcceptedResponse - ответ без подробностей решения
// @Description Ответ без подробностей решения
type AcceptedResponse struct {
	Status string `json:"status"`
}

// OverrideStatusRequest DTO для ручной смены статуса
// @Description DTO для ручной смены статуса оператором
type OverrideStatusRequest struct {
	Status           string `json:"status" validate:"required,oneof=Unverified Verified Resolved"`
	Reason           string `json:"reason,omitempty" validate:"max=500"`
	PenalizeReporter bool   `json:"penalize_reporter,omitempty"`
}

// BanDeviceRequest DTO для бана устройства
// @Description DTO для бана устройства
type BanDeviceRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// AuditEntryResponse DTO записи журнала решений
// @Description DTO записи журнала решений
type AuditEntryResponse struct {
	ID          int64      `json:"id"`
	IncidentID  *uuid.UUID `json:"incident_id,omitempty"`
	Action      string     `json:"action"`
	PerformedBy string     `json:"performed_by"`
	Outcome     string     `json:"outcome"`
	Details     string     `json:"details"`
	RequestID   string     `json:"request_id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// SweepResponse DTO итога Resolution Sweep
// @Description DTO итога Resolution Sweep
type SweepResponse struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
