package servicemanager

import (
	"context"

	"cloud.google.com/go/pubsub"
)

// --- Adapters for the real Pub/Sub client ---

type psTopicAdapter struct{ topic *pubsub.Topic }

func (a *psTopicAdapter) ID() string                               { return a.topic.ID() }
func (a *psTopicAdapter) String() string                           { return a.topic.String() }
func (a *psTopicAdapter) Exists(ctx context.Context) (bool, error) { return a.topic.Exists(ctx) }

type psClientAdapter struct{ client *pubsub.Client }

func (a *psClientAdapter) Topic(id string) PSTopic { return &psTopicAdapter{topic: a.client.Topic(id)} }
func (a *psClientAdapter) CreateTopic(ctx context.Context, topicID string) (PSTopic, error) {
	t, err := a.client.CreateTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	return &psTopicAdapter{topic: t}, nil
}
func (a *psClientAdapter) CreateTopicWithConfig(ctx context.Context, topicID string, config *pubsub.TopicConfig) (PSTopic, error) {
	t, err := a.client.CreateTopicWithConfig(ctx, topicID, config)
	if err != nil {
		return nil, err
	}
	return &psTopicAdapter{topic: t}, nil
}

// NewPubSubClientAdapter wraps a concrete *pubsub.Client to satisfy the PSClient interface.
// The adapter does not own the client; closing it remains the caller's job.
func NewPubSubClientAdapter(client *pubsub.Client) PSClient {
	if client == nil {
		return nil
	}
	return &psClientAdapter{client: client}
}
