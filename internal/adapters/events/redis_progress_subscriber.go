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

const subscriberBuffer = 100

// RedisProgressSubscriber streams progress events for one report at a time
type RedisProgressSubscriber struct {
	client *redis.Client
}

// NewRedisProgressSubscriber creates a subscriber over a redis client
func NewRedisProgressSubscriber(client *redis.Client) *RedisProgressSubscriber {
	return &RedisProgressSubscriber{client: client}
}

// Subscribe returns a channel of progress events for reportID. The channel is
// closed when ctx is cancelled or the subscription drops.
func (s *RedisProgressSubscriber) Subscribe(ctx context.Context, reportID string) (<-chan *entities.ReportProgressEvent, error) {
	channel := providers.GetReportChannel(reportID)
	pubsub := s.client.Subscribe(ctx, channel)

	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan *entities.ReportProgressEvent, subscriberBuffer)
	go s.receive(ctx, channel, pubsub, out)
	return out, nil
}

func (s *RedisProgressSubscriber) receive(ctx context.Context, channel string, pubsub *redis.PubSub, out chan<- *entities.ReportProgressEvent) {
	logger := observability.LoggerFromContext(ctx)
	defer close(out)
	defer func() {
		if err := pubsub.Close(); err != nil {
			logger.Warn().Err(err).Str("channel", channel).Msg("failed to close subscription")
		}
	}()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			event, err := decodeProgressEvent(msg.Payload)
			if err != nil {
				logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed progress event")
				continue
			}

			select {
			case out <- event:
			default:
				logger.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber full, skipping event")
			}
		}
	}
}

func decodeProgressEvent(payload string) (*entities.ReportProgressEvent, error) {
	var event entities.ReportProgressEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress event: %w", err)
	}
	if event.ReportID == "" {
		return nil, fmt.Errorf("progress event has no report_id")
	}
	return &event, nil
}
