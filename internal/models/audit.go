package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction - тип решения, зафиксированного в журнале
type AuditAction string

const (
	ActionAutoVerified     AuditAction = "AUTO_VERIFIED"
	ActionAutoResolved     AuditAction = "AUTO_RESOLVED"
	ActionCorroborated     AuditAction = "CORROBORATED"
	ActionDuplicateReport  AuditAction = "DUPLICATE_REPORT"
	ActionTrustAdjusted    AuditAction = "TRUST_ADJUSTED"
	ActionDeviceBanned     AuditAction = "DEVICE_BANNED"
	ActionReportSuppressed AuditAction = "REPORT_SUPPRESSED"
	ActionAdminOverride    AuditAction = "ADMIN_OVERRIDE"
)

// Outcome - результат решения
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SystemActor - исполнитель автоматических решений
const SystemActor = "SYSTEM"

// AuditLogEntry - неизменяемая запись журнала решений
type AuditLogEntry struct {
	ID          int64       `json:"id"`
	IncidentID  *uuid.UUID  `json:"incident_id,omitempty"`
	DeviceHash  string      `json:"-"`
	Action      AuditAction `json:"action"`
	PerformedBy string      `json:"performed_by"`
	Outcome     Outcome     `json:"outcome"`
	Details     string      `json:"details"`
	RequestID   string      `json:"request_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
