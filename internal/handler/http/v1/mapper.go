package v1

import (
	"github.com/shenikar/crowd_report_trust/internal/models"
	"github.com/shenikar/crowd_report_trust/internal/service"
)

// DTOToIncidentCreate преобразует DTO отчета во входные данные сервиса
func DTOToIncidentCreate(dto SubmitReportRequest) models.IncidentCreate {
	in := models.IncidentCreate{
		Type:        dto.Type,
		Description: dto.Description,
		Severity:    dto.Severity,
	}
	if dto.Latitude != nil {
		in.Latitude = *dto.Latitude
	}
	if dto.Longitude != nil {
		in.Longitude = *dto.Longitude
	}
	return in
}

// ViewToIncidentResponse преобразует публичное представление в DTO для ответа
func ViewToIncidentResponse(view *models.IncidentView) *IncidentResponse {
	return &IncidentResponse{
		ID:          view.ID,
		Type:        view.Type,
		Description: view.Description,
		Latitude:    view.Latitude,
		Longitude:   view.Longitude,
		Severity:    view.Severity,
		Status:      string(view.Status),
		Timestamp:   view.Timestamp,
	}
}

// AuditEntriesToResponses преобразует записи журнала в DTO, без device_hash
func AuditEntriesToResponses(entries []*models.AuditLogEntry) []*AuditEntryResponse {
	responses := make([]*AuditEntryResponse, len(entries))
	for i, e := range entries {
		responses[i] = &AuditEntryResponse{
			ID:          e.ID,
			IncidentID:  e.IncidentID,
			Action:      string(e.Action),
			PerformedBy: e.PerformedBy,
			Outcome:     string(e.Outcome),
			Details:     e.Details,
			RequestID:   e.RequestID,
			Timestamp:   e.Timestamp,
		}
	}
	return responses
}

func SweepResultToResponse(res *service.SweepResult) *SweepResponse {
	return &SweepResponse{
		Scanned:  res.Scanned,
		Resolved: res.Resolved,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
	}
}
