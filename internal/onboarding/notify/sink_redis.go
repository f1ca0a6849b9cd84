package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"onboarding/internal/onboarding/models"
)

const (
	sessionChannelPrefix = "session_updates:"
	featureChannel       = "feature_completed"
	onboardingChannel    = "onboarding:events"
)

// Channel maps an event to its Redis pub/sub channel.
func Channel(event models.Event) string {
	switch event.Type {
	case models.EventFeatureCompleted:
		return featureChannel
	case models.EventOnboardingCompleted:
		return onboardingChannel
	default:
		return sessionChannelPrefix + event.SessionID
	}
}

// RedisSink publishes events as JSON on Redis pub/sub.
type RedisSink struct {
	client redis.UniversalClient
}

func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, Channel(event), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
