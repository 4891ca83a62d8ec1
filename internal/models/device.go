package models

import "time"

// DefaultTrustScore - начальное доверие к устройству при первом появлении
const DefaultTrustScore = 1.0

// DeviceTrustRecord хранит репутацию устройства по его отпечатку
type DeviceTrustRecord struct {
	DeviceHash string    `json:"device_hash"`
	IsBanned   bool      `json:"is_banned"`
	TrustScore float64   `json:"trust_score"`
	LastSeen   time.Time `json:"last_seen"`
}

// ShortHash возвращает короткий префикс отпечатка для логов
func ShortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
