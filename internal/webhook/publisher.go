package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/crowd_report_trust/internal/models"
)

const (
	decisionQueueKey = "decision_events"
)

// DecisionEvent - решение движка для внешних интеграций. device_hash не передается.
type DecisionEvent struct {
	Action      models.AuditAction `json:"action"`
	IncidentID  *uuid.UUID         `json:"incident_id,omitempty"`
	Status      models.Status      `json:"status,omitempty"`
	Score       float64            `json:"score,omitempty"`
	PerformedBy string             `json:"performed_by"`
	Timestamp   time.Time          `json:"timestamp"`
}

//go:generate mockgen -source=publisher.go -destination=mocks/mock_publisher.go -package=mocks

// Publisher - интерфейс для публикации событий решений
type Publisher interface {
	Publish(ctx context.Context, event DecisionEvent) error
}

// RedisPublisher - реализация Publisher, использующая Redis
type RedisPublisher struct {
	redisClient *redis.Client
}

// NewRedisPublisher создает новый RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		redisClient: client,
	}
}

// Publish публикует событие в очередь Redis
func (p *RedisPublisher) Publish(ctx context.Context, event DecisionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal decision event: %w", err)
	}

	// LPUSH в голову списка, воркер забирает с хвоста через BRPOP
	if err := p.redisClient.LPush(ctx, decisionQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish decision event to Redis: %w", err)
	}
	return nil
}

// NopPublisher отбрасывает события, когда Redis не настроен
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DecisionEvent) error { return nil }
