// Package audit ведет append-only журнал решений по инцидентам и устройствам.
// Запись делается через тот же Writer (транзакцию), что и изменение статуса,
// поэтому решение и его запись фиксируются вместе.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/models"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID прикрепляет id запроса к контексту для записей журнала
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext достает id запроса из контекста
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Writer - хранилище записей журнала
type Writer interface {
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
}

// Entry - входные данные одной записи
type Entry struct {
	IncidentID  *uuid.UUID
	DeviceHash  string
	Action      models.AuditAction
	PerformedBy string
	Outcome     models.Outcome
	Details     string
}

// Logger создает записи журнала
type Logger struct {
	now func() time.Time
}

func NewLogger() *Logger {
	return &Logger{now: func() time.Time { return time.Now().UTC() }}
}

// Record добавляет запись через w и возвращает ее с присвоенным id
func (l *Logger) Record(ctx context.Context, w Writer, e Entry) (*models.AuditLogEntry, error) {
	if e.Action == "" {
		return nil, errors.New("audit action is required")
	}
	performedBy := strings.TrimSpace(e.PerformedBy)
	if performedBy == "" {
		return nil, errors.New("audit performed_by is required")
	}
	outcome := e.Outcome
	if outcome == "" {
		outcome = models.OutcomeSuccess
	}

	entry := &models.AuditLogEntry{
		IncidentID:  e.IncidentID,
		DeviceHash:  e.DeviceHash,
		Action:      e.Action,
		PerformedBy: performedBy,
		Outcome:     outcome,
		Details:     e.Details,
		RequestID:   RequestIDFromContext(ctx),
		Timestamp:   l.now(),
	}
	if err := w.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: could not append %s: %w", e.Action, err)
	}
	return entry, nil
}

// Details форматирует входные данные решения как "k=v" с сортировкой по ключу,
// чтобы одинаковые решения давали одинаковый текст
func Details(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(fields[k])))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("%.3f", val)
	case []string:
		return "[" + strings.Join(val, ",") + "]"
	case []uuid.UUID:
		s := make([]string, len(val))
		for i, id := range val {
			s[i] = id.String()
		}
		return "[" + strings.Join(s, ",") + "]"
	case string:
		if strings.ContainsAny(val, " \t") {
			return fmt.Sprintf("%q", val)
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}
