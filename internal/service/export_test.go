package service

import "time"

// SetClock подменяет часы сервиса в тестах
func SetClock(svc ReportService, now func() time.Time) {
	svc.(*reportService).now = now
}
