package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-iot-events/pkg/servicemanager"
	"github.com/illmade-knight/go-iot-events/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ErrClientClosed is returned when publishing through a closed client.
var ErrClientClosed = errors.New("publisher client is closed")

// Publisher is the contract the CLI depends on. GooglePublisherClient is the
// production implementation.
type Publisher interface {
	Publish(ctx context.Context, data any, attributes map[string]string) (string, error)
	PublishJSON(ctx context.Context, v any, attributes map[string]string) (string, error)
	PublishBatch(ctx context.Context, messages []types.OutgoingMessage) ([]string, error)
	TopicPath() string
	Close() error
}

// PublisherConfig holds configuration for the Google Pub/Sub publisher client.
type PublisherConfig struct {
	ProjectID string
	TopicID   string
	// CredentialsFile is a service account key. Empty means application default credentials.
	CredentialsFile string
	ClientOptions   []option.ClientOption
	// TopicLabels are applied only when the topic is created by this client.
	TopicLabels map[string]string
	// CreateTopic controls whether a missing topic is created on first publish.
	CreateTopic     bool
	PublishSettings pubsub.PublishSettings
}

// GetDefaultPublishSettings returns the batching thresholds used by the tool.
// A short delay threshold keeps single-message CLI invocations fast.
func GetDefaultPublishSettings() pubsub.PublishSettings {
	settings := pubsub.DefaultPublishSettings
	settings.DelayThreshold = 10 * time.Millisecond
	settings.Timeout = 60 * time.Second
	return settings
}

// NewPublisherConfig returns a config with topic creation enabled and the default publish settings.
func NewPublisherConfig(projectID, topicID string) *PublisherConfig {
	return &PublisherConfig{
		ProjectID:       projectID,
		TopicID:         topicID,
		CreateTopic:     true,
		PublishSettings: GetDefaultPublishSettings(),
	}
}

// Validate checks the required fields.
func (c *PublisherConfig) Validate() error {
	if c.ProjectID == "" {
		return errors.New("project ID is required for Pub/Sub publisher")
	}
	if c.TopicID == "" {
		return errors.New("topic ID is required for Pub/Sub publisher")
	}
	return nil
}

// withPublishDefaults fills any zero threshold from the defaults.
func withPublishDefaults(s pubsub.PublishSettings) pubsub.PublishSettings {
	d := GetDefaultPublishSettings()
	if s.DelayThreshold <= 0 {
		s.DelayThreshold = d.DelayThreshold
	}
	if s.CountThreshold <= 0 {
		s.CountThreshold = d.CountThreshold
	}
	if s.ByteThreshold <= 0 {
		s.ByteThreshold = d.ByteThreshold
	}
	if s.NumGoroutines <= 0 {
		s.NumGoroutines = d.NumGoroutines
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// GooglePublisherClient publishes messages to a single Google Cloud Pub/Sub topic.
// The topic is resolved lazily: the first publish verifies it exists and
// creates it if allowed.
type GooglePublisherClient struct {
	client       *pubsub.Client
	ownsClient   bool
	topicManager *servicemanager.TopicManager
	cfg          PublisherConfig
	topicPath    string
	logger       zerolog.Logger

	mu     sync.Mutex
	topic  *pubsub.Topic
	closed bool
}

// NewGooglePublisherClient creates a Pub/Sub client from the config and wraps it.
// No RPC is made until the first publish.
func NewGooglePublisherClient(ctx context.Context, cfg *PublisherConfig, logger zerolog.Logger) (*GooglePublisherClient, error) {
	if cfg == nil {
		return nil, errors.New("publisher config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{}, cfg.ClientOptions...)
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	p, err := newGooglePublisherClient(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.ownsClient = true
	return p, nil
}

// NewGooglePublisherClientWithClient wraps an existing *pubsub.Client.
// The injected client is not closed by Close.
func NewGooglePublisherClientWithClient(client *pubsub.Client, cfg *PublisherConfig, logger zerolog.Logger) (*GooglePublisherClient, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for publisher")
	}
	if cfg == nil {
		return nil, errors.New("publisher config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newGooglePublisherClient(client, cfg, logger)
}

func newGooglePublisherClient(client *pubsub.Client, cfg *PublisherConfig, logger zerolog.Logger) (*GooglePublisherClient, error) {
	manager, err := servicemanager.NewTopicManager(servicemanager.NewPubSubClientAdapter(client), logger)
	if err != nil {
		return nil, err
	}

	resolved := *cfg
	resolved.PublishSettings = withPublishDefaults(cfg.PublishSettings)
	topicPath := servicemanager.TopicPath(cfg.ProjectID, cfg.TopicID)

	logger.Debug().Str("topic", topicPath).Msg("GooglePublisherClient initialized")
	return &GooglePublisherClient{
		client:       client,
		topicManager: manager,
		cfg:          resolved,
		topicPath:    topicPath,
		logger:       logger.With().Str("component", "GooglePublisherClient").Str("topic", topicPath).Logger(),
	}, nil
}

// TopicPath returns the fully qualified topic name.
func (p *GooglePublisherClient) TopicPath() string {
	return p.topicPath
}

// resolveTopic returns the topic handle, running get-or-create on first use.
// A failed resolution is retried by the next caller.
func (p *GooglePublisherClient) resolveTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClientClosed
	}
	if p.topic != nil {
		return p.topic, nil
	}

	_, err := p.topicManager.EnsureTopic(ctx, servicemanager.TopicSpec{
		Name:            p.cfg.TopicID,
		Labels:          p.cfg.TopicLabels,
		CreateIfMissing: p.cfg.CreateTopic,
	})
	if err != nil {
		return nil, err
	}

	topic := p.client.Topic(p.cfg.TopicID)
	topic.PublishSettings = p.cfg.PublishSettings
	p.topic = topic
	return topic, nil
}

// EncodeData converts message data to bytes. []byte and json.RawMessage are
// used as-is, strings are sent as UTF-8 and anything else is JSON encoded.
func EncodeData(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, errors.New("message data cannot be nil")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported message data of type %T: %w", data, err)
		}
		return b, nil
	}
}

// Publish sends a single message and blocks until the server returns its ID.
func (p *GooglePublisherClient) Publish(ctx context.Context, data any, attributes map[string]string) (string, error) {
	payload, err := EncodeData(data)
	if err != nil {
		return "", err
	}
	return p.publishBytes(ctx, payload, attributes)
}

// PublishJSON JSON-encodes v and publishes it.
func (p *GooglePublisherClient) PublishJSON(ctx context.Context, v any, attributes map[string]string) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON message: %w", err)
	}
	return p.publishBytes(ctx, payload, attributes)
}

func (p *GooglePublisherClient) publishBytes(ctx context.Context, payload []byte, attributes map[string]string) (string, error) {
	topic, err := p.resolveTopic(ctx)
	if err != nil {
		return "", err
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to publish message")
		return "", fmt.Errorf("failed to publish message to %s: %w", p.topicPath, err)
	}

	p.logger.Info().Str("message_id", msgID).Msg("Published message")
	return msgID, nil
}

// PublishBatch publishes every message and then waits on each result in order.
// All data is encoded up front so an unencodable element sends nothing.
// On a publish failure the IDs confirmed before it are returned with the error.
func (p *GooglePublisherClient) PublishBatch(ctx context.Context, messages []types.OutgoingMessage) ([]string, error) {
	if len(messages) == 0 {
		return []string{}, nil
	}

	encoded := make([]*pubsub.Message, len(messages))
	for i, msg := range messages {
		payload, err := EncodeData(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		encoded[i] = &pubsub.Message{Data: payload, Attributes: msg.Attributes}
	}

	topic, err := p.resolveTopic(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*pubsub.PublishResult, len(encoded))
	for i, msg := range encoded {
		results[i] = topic.Publish(ctx, msg)
	}

	ids := make([]string, 0, len(results))
	for i, res := range results {
		msgID, err := res.Get(ctx)
		if err != nil {
			p.logger.Error().Err(err).Int("index", i).Msg("Failed to publish message in batch")
			return ids, fmt.Errorf("failed to publish message %d of %d to %s: %w", i+1, len(results), p.topicPath, err)
		}
		p.logger.Debug().Str("message_id", msgID).Int("index", i).Msg("Published message")
		ids = append(ids, msgID)
	}

	p.logger.Info().Int("count", len(ids)).Msg("Published batch")
	return ids, nil
}

// Close flushes outstanding messages and releases the client if this
// publisher created it. Calling Close more than once is a no-op.
func (p *GooglePublisherClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.topic != nil {
		p.topic.Stop()
		p.logger.Debug().Msg("Pub/Sub topic stopped and flushed.")
	}
	if p.ownsClient {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub client: %w", err)
		}
		p.logger.Debug().Msg("Pub/Sub client closed.")
	}
	return nil
}
