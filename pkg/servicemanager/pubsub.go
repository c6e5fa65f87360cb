package servicemanager

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTopicNotFound is returned by EnsureTopic when the topic is missing and
// creation is disabled.
var ErrTopicNotFound = errors.New("pubsub topic does not exist")

// TopicSpec describes the topic a publisher writes to.
type TopicSpec struct {
	Name            string
	Labels          map[string]string
	CreateIfMissing bool
}

// TopicManager handles get-or-create of Pub/Sub topics.
type TopicManager struct {
	client PSClient // Use the interface for testability
	logger zerolog.Logger
}

// NewTopicManager creates a new TopicManager.
func NewTopicManager(client PSClient, logger zerolog.Logger) (*TopicManager, error) {
	if client == nil {
		return nil, fmt.Errorf("PubSub client (PSClient interface) cannot be nil")
	}
	return &TopicManager{
		client: client,
		logger: logger.With().Str("component", "TopicManager").Logger(),
	}, nil
}

// TopicPath returns the fully qualified resource name of a topic.
func TopicPath(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// EnsureTopic verifies that the topic exists and creates it when it does not.
// It reports whether the topic was created by this call. Losing a creation
// race to another publisher is not an error.
func (m *TopicManager) EnsureTopic(ctx context.Context, spec TopicSpec) (bool, error) {
	if spec.Name == "" {
		return false, errors.New("topic name cannot be empty")
	}

	topic := m.client.Topic(spec.Name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check existence of topic '%s': %w", spec.Name, err)
	}
	if exists {
		m.logger.Info().Str("topic", topic.String()).Msg("Topic exists")
		return false, nil
	}

	if !spec.CreateIfMissing {
		return false, fmt.Errorf("%w: %s", ErrTopicNotFound, topic.String())
	}

	m.logger.Warn().Str("topic", topic.String()).Msg("Topic not found. Creating it...")
	var created PSTopic
	if len(spec.Labels) > 0 {
		created, err = m.client.CreateTopicWithConfig(ctx, spec.Name, &pubsub.TopicConfig{
			Labels: spec.Labels,
		})
	} else {
		created, err = m.client.CreateTopic(ctx, spec.Name)
	}
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			m.logger.Info().Str("topic_id", spec.Name).Msg("Topic was created concurrently, using it")
			return false, nil
		}
		m.logger.Error().Err(err).Str("topic_id", spec.Name).Msg("Failed to create topic")
		return false, fmt.Errorf("failed to create topic '%s': %w", spec.Name, err)
	}

	m.logger.Info().Str("topic", created.String()).Msg("Topic created successfully")
	return true, nil
}
