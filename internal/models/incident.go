package models

import (
	"time"

	"github.com/google/uuid"
)

// Status - состояние инцидента в жизненном цикле
type Status string

const (
	StatusUnverified Status = "Unverified"
	StatusVerified   Status = "Verified"
	StatusResolved   Status = "Resolved"
)

// Valid проверяет, что статус входит в граф состояний
func (s Status) Valid() bool {
	switch s {
	case StatusUnverified, StatusVerified, StatusResolved:
		return true
	}
	return false
}

// Границы допустимой серьезности
const (
	MinSeverity = 1
	MaxSeverity = 5
)

type Incident struct {
	ID                 uuid.UUID  `json:"id"`
	Type               string     `json:"type"`
	Description        string     `json:"description"`
	Latitude           float64    `json:"latitude"`
	Longitude          float64    `json:"longitude"`
	Severity           int        `json:"severity"`
	Status             Status     `json:"status"`
	DeviceHash         string     `json:"device_hash"`
	ClusterID          *uuid.UUID `json:"cluster_id,omitempty"`
	LastCorroboratedAt time.Time  `json:"last_corroborated_at"`
	Timestamp          time.Time  `json:"timestamp"`
}

// RootID возвращает id представителя кластера, к которому относится инцидент
func (i *Incident) RootID() uuid.UUID {
	if i.ClusterID != nil {
		return *i.ClusterID
	}
	return i.ID
}

// IncidentCreate - входные данные отчета от транспортного слоя.
// device_hash передается отдельно и не берется из тела запроса.
type IncidentCreate struct {
	Type        string
	Description string
	Latitude    float64
	Longitude   float64
	Severity    int
}

// IncidentView - публичное представление инцидента, без device_hash
type IncidentView struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Severity    int       `json:"severity"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// View строит публичное представление инцидента
func (i *Incident) View() *IncidentView {
	return &IncidentView{
		ID:          i.ID,
		Type:        i.Type,
		Description: i.Description,
		Latitude:    i.Latitude,
		Longitude:   i.Longitude,
		Severity:    i.Severity,
		Status:      i.Status,
		Timestamp:   i.Timestamp,
	}
}

// NearbyQuery - параметры поиска инцидентов рядом с точкой
type NearbyQuery struct {
	Type         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Since        time.Time
}
