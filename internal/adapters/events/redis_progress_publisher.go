package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/clinicalcoding/internal/domain/entities"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
)

// publisher is the subset of the redis client used for progress events
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisProgressPublisher implements ProgressPublisher using Redis Pub/Sub
type RedisProgressPublisher struct {
	client publisher
}

// NewRedisProgressPublisher creates a progress publisher over a redis client
func NewRedisProgressPublisher(client publisher) providers.ProgressPublisher {
	return &RedisProgressPublisher{client: client}
}

// PublishProgress publishes the event to the report's channel
func (p *RedisProgressPublisher) PublishProgress(ctx context.Context, event *entities.ReportProgressEvent) error {
	if event == nil {
		return fmt.Errorf("progress event is required")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	channel := providers.GetReportChannel(event.ReportID)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	observability.LoggerFromContext(ctx).Debug().
		Str("channel", channel).
		Str("event_id", event.ID).
		Int64("receivers", receivers).
		Msg("published progress event")
	return nil
}

// NoopProgressPublisher drops every event. Used when Redis is disabled.
type NoopProgressPublisher struct{}

// PublishProgress implements ProgressPublisher
func (NoopProgressPublisher) PublishProgress(context.Context, *entities.ReportProgressEvent) error {
	return nil
}
