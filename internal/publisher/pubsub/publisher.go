// Package pubsub implements a Google Cloud Pub/Sub publisher for saved
// judgment notifications.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// Config selects the project and default topic. PUBSUB_EMULATOR_HOST is
// honored by the client library.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher publishes JSON payloads, keeping one batching publisher per topic.
type Publisher struct {
	client *pubsub.Client
	owned  bool
	logger *zap.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var _ crawler.Publisher = (*Publisher)(nil)

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// Open creates a client with Application Default Credentials and checks that
// the configured topic exists.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client, logger)
	p.owned = true
	if err := p.checkTopic(ctx, fullTopicName(cfg.ProjectID, cfg.Topic)); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			p.logger.Warn("Failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, err
	}
	return p, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *pubsub.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:     client,
		logger:     logger.Named("pubsub"),
		publishers: make(map[string]*pubsub.Publisher),
	}
}

func (p *Publisher) checkTopic(ctx context.Context, name string) error {
	topic, err := p.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		return fmt.Errorf("get pubsub topic %q: %w", name, err)
	}
	if topic.GetState() != pubsubpb.Topic_ACTIVE && topic.GetState() != pubsubpb.Topic_STATE_UNSPECIFIED {
		return fmt.Errorf("pubsub topic %q is not active", name)
	}
	return nil
}

// Publish marshals payload to JSON, publishes it to topic and waits for the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if runID := crawler.RunIDFrom(ctx); runID != uuid.Nil {
		msg.Attributes["run_id"] = runID.String()
	}

	id, err := p.publisher(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub
}

// Close flushes pending messages and, when the client was created by Open,
// closes it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, pub := range p.publishers {
		pub.Stop()
	}
	p.publishers = make(map[string]*pubsub.Publisher)
	p.mu.Unlock()
	if !p.owned {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
