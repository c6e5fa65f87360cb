package servicemanager

import (
	"context"

	"cloud.google.com/go/pubsub"
)

// --- Pub/Sub Client Abstraction Interfaces ---
// These interfaces decouple topic management from the concrete Google Cloud
// Pub/Sub client so the get-or-create logic can be unit tested with mocks.

// PSTopic defines the interface for a single Pub/Sub topic.
type PSTopic interface {
	ID() string
	String() string
	Exists(ctx context.Context) (bool, error)
}

// PSClient defines the subset of the Pub/Sub client used to manage topics.
type PSClient interface {
	Topic(id string) PSTopic
	CreateTopic(ctx context.Context, topicID string) (PSTopic, error)
	CreateTopicWithConfig(ctx context.Context, topicID string, config *pubsub.TopicConfig) (PSTopic, error)
}
