package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dmsync-backend/internal/messaging/domain"
	"dmsync-backend/pkg/logger"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// WebhookHandler ingests a decoded webhook delivery.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload domain.WebhookPayload) *domain.PushResult
}

// Service relays webhook deliveries through a Pub/Sub topic so the HTTP
// endpoint can acknowledge the upstream immediately.
type Service struct {
	pubsubClient *pubsub.Client
	handler      WebhookHandler
	topicName    string
	subName      string
	logger       zerolog.Logger
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, handler WebhookHandler) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return NewServiceWithClient(client, topicName, handler), nil
}

func NewServiceWithClient(client *pubsub.Client, topicName string, handler WebhookHandler) *Service {
	return &Service{
		pubsubClient: client,
		handler:      handler,
		topicName:    topicName,
		subName:      topicName + "-sub", // Convention: topic-sub
		logger:       logger.Component("pubsub"),
	}
}

// Publish queues a raw webhook body for the subscriber.
func (s *Service) Publish(ctx context.Context, body []byte) error {
	result := s.pubsubClient.Topic(s.topicName).Publish(ctx, &pubsub.Message{Data: body})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish webhook: %w", err)
	}
	return nil
}

// Start receives messages until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Str("topic", s.topicName).Str("subscription", s.subName).Msg("starting webhook subscriber")

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("subscriber not started")
		return
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("error receiving messages")
	}
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Info().Str("subscription", s.subName).Msg("created subscription")
	return sub, nil
}

// handleMessage never asks for redelivery. Ingestion is idempotent and the
// reconciliation sync picks up anything dropped here.
func (s *Service) handleMessage(ctx context.Context, data []byte) {
	var payload domain.WebhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("dropping undecodable webhook message")
		return
	}

	result := s.handler.HandleWebhook(ctx, payload)
	event := s.logger.Info()
	if len(result.Errors) > 0 {
		event = s.logger.Warn().Strs("errors", result.Errors)
	}
	event.Int("processed", result.Processed).
		Int("inserted", result.Inserted).
		Int("dropped", result.Dropped).
		Msg("webhook message handled")
}
