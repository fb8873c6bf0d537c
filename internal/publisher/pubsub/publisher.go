// Package pubsub publishes contributor batches to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// Config names the project and default topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher wraps a Pub/Sub client and keeps one topic publisher per topic.
type Publisher struct {
	client    *pubsub.Client
	projectID string
	logger    *zap.Logger
	// propagator overrides the global text map propagator when set.
	propagator propagation.TextMapPropagator

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// Open dials Pub/Sub with Application Default Credentials and checks that the
// default topic exists.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client, cfg.ProjectID, logger)
	if cfg.Topic != "" {
		if err := p.CheckTopic(ctx, cfg.Topic); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				p.logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
			}
			return nil, err
		}
	}
	return p, nil
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithPropagator injects trace context with prop instead of the global propagator.
func WithPropagator(prop propagation.TextMapPropagator) Option {
	return func(p *Publisher) { p.propagator = prop }
}

// New wraps an existing client. Close releases it.
func New(client *pubsub.Client, projectID string, logger *zap.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		client:     client,
		projectID:  projectID,
		logger:     logger.Named("pubsub"),
		publishers: make(map[string]*pubsub.Publisher),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckTopic fails when the topic is missing or not active.
func (p *Publisher) CheckTopic(ctx context.Context, topic string) error {
	t, err := p.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: p.topicName(topic)})
	if err != nil {
		return fmt.Errorf("get pubsub topic %q: %w", topic, err)
	}
	switch t.GetState() {
	case pubsubpb.Topic_ACTIVE, pubsubpb.Topic_STATE_UNSPECIFIED:
		return nil
	default:
		return fmt.Errorf("pubsub topic %q is %s", topic, t.GetState())
	}
}

// Publish marshals payload to JSON and waits for the server to acknowledge it.
// The caller's trace context travels in the message attributes; contributor
// batches also carry run, keyword and entity attributes.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if b, ok := payload.(crawler.ContributorBatch); ok {
		msg.Attributes["run_id"] = b.RunID
		msg.Attributes["keyword"] = b.Keyword
		msg.Attributes["entity"] = b.Entity
	}
	p.textMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))
	id, err := p.publisher(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, pub := range p.publishers {
		pub.Stop()
	}
	p.publishers = map[string]*pubsub.Publisher{}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(p.topicName(topic))
		p.publishers[topic] = pub
	}
	return pub
}

func (p *Publisher) textMapPropagator() propagation.TextMapPropagator {
	if p.propagator != nil {
		return p.propagator
	}
	return otel.GetTextMapPropagator()
}

func (p *Publisher) topicName(topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", p.projectID, topic)
}
