package emulators

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

const (
	testPubsubEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testPubsubEmulatorPort  = "8085"
)

// PubsubConfig describes the Pub/Sub emulator container and the resources
// provisioned in it before the test runs.
type PubsubConfig struct {
	GCImageContainer
	// TopicSubs maps topic IDs to a subscription ID created on that topic.
	// An empty subscription ID creates only the topic.
	TopicSubs map[string]string
}

// GetDefaultPubsubConfig returns a config for the gcloud Pub/Sub emulator image
// that exports PUBSUB_EMULATOR_HOST for the calling test.
func GetDefaultPubsubConfig(projectID string, topicSubs map[string]string) PubsubConfig {
	return PubsubConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testPubsubEmulatorImage,
				EmulatorHTTPPort: testPubsubEmulatorPort,
			},
			ProjectID:       projectID,
			SetEnvVariables: true,
		},
		TopicSubs: topicSubs,
	}
}

// SetupPubsubEmulator starts the emulator, pre-creates the configured topics and
// subscriptions and registers container teardown with t.Cleanup.
func SetupPubsubEmulator(t *testing.T, ctx context.Context, cfg PubsubConfig) EmulatorConnection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)},
		Cmd:          []string{"gcloud", "beta", "emulators", "pubsub", "start", fmt.Sprintf("--project=%s", cfg.ProjectID), fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorHTTPPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorHTTPPort)),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to terminate Pub/Sub emulator container")
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(cfg.EmulatorHTTPPort))
	require.NoError(t, err)
	emulatorHost := fmt.Sprintf("%s:%s", host, port.Port())

	t.Logf("Pub/Sub emulator container started, listening on: %s", emulatorHost)
	if cfg.SetEnvVariables {
		t.Setenv("PUBSUB_EMULATOR_HOST", emulatorHost)
	}
	clientOptions := []option.ClientOption{option.WithEndpoint(emulatorHost), option.WithoutAuthentication()}

	provisionPubsub(t, ctx, cfg.ProjectID, clientOptions, cfg.TopicSubs)
	return EmulatorConnection{Host: emulatorHost, ClientOptions: clientOptions}
}

// provisionPubsub creates each missing topic and, when an ID is given, a
// subscription on it.
func provisionPubsub(t *testing.T, ctx context.Context, projectID string, opts []option.ClientOption, topicSubs map[string]string) {
	t.Helper()
	admin, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)
	defer admin.Close()

	for topicID, subID := range topicSubs {
		topic := admin.Topic(topicID)
		if ok, err := topic.Exists(ctx); assert.NoError(t, err) && !ok {
			topic, err = admin.CreateTopic(ctx, topicID)
			require.NoError(t, err, "create topic %s", topicID)
		}
		if subID == "" {
			continue
		}
		if ok, err := admin.Subscription(subID).Exists(ctx); assert.NoError(t, err) && !ok {
			_, err = admin.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
			require.NoError(t, err, "create subscription %s on %s", subID, topicID)
		}
	}
}
