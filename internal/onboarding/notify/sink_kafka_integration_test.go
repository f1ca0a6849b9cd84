//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"onboarding/internal/onboarding/models"
	"onboarding/pkg/testutil/containers"
)

type KafkaSinkIntegrationSuite struct {
	suite.Suite
	broker *containers.RedpandaContainer
}

func TestKafkaSinkIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkIntegrationSuite))
}

func (s *KafkaSinkIntegrationSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSinkIntegrationSuite) TestPublishedEventIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "onboarding.events.it"

	sink, err := DialKafka(ctx, s.broker.Brokers, topic, true)
	s.Require().NoError(err)
	defer sink.Close()

	// Creating an existing topic is not an error.
	again, err := DialKafka(ctx, s.broker.Brokers, topic, true)
	s.Require().NoError(err)
	again.Close()

	event := models.Event{Type: models.EventOnboardingCompleted, SessionID: "sess-kafka", Timestamp: time.Now().UTC()}
	s.Require().NoError(sink.Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())

	var got []models.Event
	fetches.EachRecord(func(r *kgo.Record) {
		var e models.Event
		s.Require().NoError(json.Unmarshal(r.Value, &e))
		s.Equal("sess-kafka", string(r.Key))
		got = append(got, e)
	})
	s.Require().Len(got, 1)
	s.Equal(models.EventOnboardingCompleted, got[0].Type)
}
