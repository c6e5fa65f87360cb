package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-iot-events/pkg/messagepipeline"
	"github.com/illmade-knight/go-iot-events/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// --- Mocks ---

// MockPublisher is a mock implementation of the messagepipeline.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, data any, attributes map[string]string) (string, error) {
	args := m.Called(ctx, data, attributes)
	return args.String(0), args.Error(1)
}
func (m *MockPublisher) PublishJSON(ctx context.Context, v any, attributes map[string]string) (string, error) {
	args := m.Called(ctx, v, attributes)
	return args.String(0), args.Error(1)
}
func (m *MockPublisher) PublishBatch(ctx context.Context, messages []types.OutgoingMessage) ([]string, error) {
	args := m.Called(ctx, messages)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockPublisher) TopicPath() string {
	args := m.Called()
	return args.String(0)
}
func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// recordingFactory returns the mock publisher and remembers the config it was given.
type recordingFactory struct {
	publisher *MockPublisher
	err       error
	calls     int
	cfg       *messagepipeline.PublisherConfig
}

func (f *recordingFactory) build(_ context.Context, cfg *messagepipeline.PublisherConfig, _ zerolog.Logger) (messagepipeline.Publisher, error) {
	f.calls++
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.publisher, nil
}

// --- Helpers ---

// clearEnv unsets the variables the command reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envProjectID, envTopic, envCredentials, envLogLevel} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func runCommand(t *testing.T, factory publisherFactory, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	// A missing dotenv file is ignored; point at one that cannot exist.
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")}, args...)
	code := run(context.Background(), args, &stdout, &stderr, factory)
	return code, stdout.String(), stderr.String()
}

func newSuccessfulFactory() *recordingFactory {
	pub := new(MockPublisher)
	pub.On("TopicPath").Return("projects/p1/topics/events").Maybe()
	pub.On("Close").Return(nil)
	return &recordingFactory{publisher: pub}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// --- Test Cases ---

func TestRun_UsageErrorBeforeNetwork(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"no event source", []string{"--project-id", "p1", "--topic", "events"}},
		{"session id only", []string{"--session-id", "sess_1", "--project-id", "p1", "--topic", "events"}},
		{"prompt only", []string{"--prompt", "hi", "--project-id", "p1", "--topic", "events"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			factory := newSuccessfulFactory()

			code, stdout, stderr := runCommand(t, factory.build, tc.args...)
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "--session-id and --prompt are required when not using --from-file")
			assert.Contains(t, stderr, "Usage:")
			assert.Zero(t, factory.calls, "no publisher may be created for a usage error")
		})
	}
}

func TestRun_UnknownFlagIsUsageError(t *testing.T) {
	clearEnv(t)
	factory := newSuccessfulFactory()
	code, _, stderr := runCommand(t, factory.build, "--bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown flag")
	assert.Zero(t, factory.calls)
}

func TestRun_PublishesRequiredFieldsOnly(t *testing.T) {
	clearEnv(t)
	factory := newSuccessfulFactory()
	factory.publisher.On("PublishJSON", mock.Anything,
		map[string]any{"session_id": "sess_1", "prompt": "Hello, world!"},
		map[string]string{"session_id": "sess_1"},
	).Return("msg-42", nil).Once()

	code, stdout, stderr := runCommand(t, factory.build,
		"--session-id", "sess_1", "--prompt", "Hello, world!",
		"--project-id", "p1", "--topic", "events",
	)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "✓ Event published successfully!")
	assert.Contains(t, stdout, "Message ID: msg-42")

	require.Equal(t, 1, factory.calls)
	assert.Equal(t, "p1", factory.cfg.ProjectID)
	assert.Equal(t, "events", factory.cfg.TopicID)
	assert.True(t, factory.cfg.CreateTopic)
	factory.publisher.AssertExpectations(t)
}

func TestRun_PublishesExplicitOptionalFields(t *testing.T) {
	clearEnv(t)
	factory := newSuccessfulFactory()
	factory.publisher.On("PublishJSON", mock.Anything,
		map[string]any{
			"session_id":      "sess_1",
			"prompt":          "Describe this image",
			"request_id":      "req_1",
			"speaking_rate":   1.2,
			"language":        "es",
			"image_base64":    "iVBORw0KGgo=",
			"trace_id":        "trace_456",
			"conversation_id": "conv_789",
		},
		map[string]string{
			"session_id":      "sess_1",
			"request_id":      "req_1",
			"trace_id":        "trace_456",
			"conversation_id": "conv_789",
		},
	).Return("msg-1", nil).Once()

	code, _, stderr := runCommand(t, factory.build,
		"--session-id", "sess_1", "--prompt", "Describe this image",
		"--request-id", "req_1", "--speaking-rate", "1.2", "--language", "es",
		"--image-base64", "iVBORw0KGgo=", "--trace-id", "trace_456", "--conversation-id", "conv_789",
		"--project-id", "p1", "--topic", "events",
	)
	require.Equal(t, 0, code, stderr)
	factory.publisher.AssertExpectations(t)
}

func TestRun_FromFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "event.json", `{"session_id": "file_sess", "prompt": "from file", "language": "fr", "image_base64": null}`)

	factory := newSuccessfulFactory()
	factory.publisher.On("PublishJSON", mock.Anything,
		map[string]any{"session_id": "file_sess", "prompt": "from file", "language": "fr"},
		map[string]string{"session_id": "file_sess"},
	).Return("msg-file", nil).Once()

	// Event flags are ignored when --from-file is given.
	code, stdout, stderr := runCommand(t, factory.build,
		"--from-file", path, "--session-id", "ignored", "--trace-id", "ignored",
		"--project-id", "p1", "--topic", "events",
	)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Message ID: msg-file")
	factory.publisher.AssertExpectations(t)
}

func TestRun_FromFileMissingRequiredField(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		missing string
	}{
		{"missing session_id", `{"prompt": "hi"}`, "session_id"},
		{"missing prompt", `{"session_id": "sess_1"}`, "prompt"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			factory := newSuccessfulFactory()
			path := writeFile(t, "event.json", tc.content)

			code, stdout, stderr := runCommand(t, factory.build, "--from-file", path, "--project-id", "p1", "--topic", "events")
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "✗ Error:")
			assert.Contains(t, stderr, tc.missing)
			assert.Zero(t, factory.calls)
		})
	}
}

func TestRun_FromFileRejectsNonStringOrEmptySessionID(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"empty string", `{"session_id": "", "prompt": "hi"}`},
		{"number", `{"session_id": 123, "prompt": "hi"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			factory := newSuccessfulFactory()
			path := writeFile(t, "event.json", tc.content)

			code, stdout, stderr := runCommand(t, factory.build, "--from-file", path, "--project-id", "p1", "--topic", "events")
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "session_id")
			assert.Zero(t, factory.calls)
		})
	}
}

func TestRun_NonFiniteSpeakingRate(t *testing.T) {
	for _, rate := range []string{"NaN", "Inf", "-Inf"} {
		t.Run(rate, func(t *testing.T) {
			clearEnv(t)
			factory := newSuccessfulFactory()

			code, stdout, stderr := runCommand(t, factory.build, "--session-id", "s", "--prompt", "p", "--speaking-rate", rate, "--project-id", "p1", "--topic", "events")
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "speaking_rate must be a finite number")
			assert.Zero(t, factory.calls, "no publisher may be created for an unpublishable event")
		})
	}
}

func TestRun_FromFileMalformed(t *testing.T) {
	clearEnv(t)
	factory := newSuccessfulFactory()
	path := writeFile(t, "event.json", `{not json`)

	code, _, stderr := runCommand(t, factory.build, "--from-file", path, "--project-id", "p1", "--topic", "events")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "failed to decode event JSON")
	assert.Zero(t, factory.calls)
}

func TestRun_MissingConfiguration(t *testing.T) {
	t.Run("missing project", func(t *testing.T) {
		clearEnv(t)
		factory := newSuccessfulFactory()
		code, _, stderr := runCommand(t, factory.build, "--session-id", "s", "--prompt", "p", "--topic", "events")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "GOOGLE_CLOUD_PROJECT must be set")
		assert.Zero(t, factory.calls)
	})

	t.Run("missing topic", func(t *testing.T) {
		clearEnv(t)
		factory := newSuccessfulFactory()
		code, _, stderr := runCommand(t, factory.build, "--session-id", "s", "--prompt", "p", "--project-id", "p1")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "PUBSUB_TOPIC must be set")
		assert.Zero(t, factory.calls)
	})
}

func TestRun_ConfigPrecedence(t *testing.T) {
	clearEnv(t)
	configPath := writeFile(t, "publisher.yaml", `
project_id: yaml-project
topic: yaml-topic
credentials: /yaml/key.json
create_topic: false
topic_labels:
  team: voice
publish:
  count_threshold: 7
`)
	t.Setenv(envProjectID, "env-project")
	t.Setenv(envCredentials, "/env/key.json")

	factory := newSuccessfulFactory()
	factory.publisher.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return("msg-1", nil).Once()

	code, _, stderr := runCommand(t, factory.build,
		"--session-id", "s", "--prompt", "p",
		"--config", configPath, "--credentials", "/flag/key.json",
	)
	require.Equal(t, 0, code, stderr)

	cfg := factory.cfg
	require.NotNil(t, cfg)
	assert.Equal(t, "env-project", cfg.ProjectID, "environment overrides config file")
	assert.Equal(t, "yaml-topic", cfg.TopicID, "config file is the fallback")
	assert.Equal(t, "/flag/key.json", cfg.CredentialsFile, "flag overrides environment")
	assert.False(t, cfg.CreateTopic)
	assert.Equal(t, map[string]string{"team": "voice"}, cfg.TopicLabels)
	assert.Equal(t, 7, cfg.PublishSettings.CountThreshold)
	assert.Equal(t, messagepipeline.GetDefaultPublishSettings().DelayThreshold, cfg.PublishSettings.DelayThreshold)
}

func TestRun_EnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, "test.env", "GOOGLE_CLOUD_PROJECT=dotenv-project\nPUBSUB_TOPIC=dotenv-topic\n")
	// Real environment wins over the dotenv file.
	t.Setenv(envTopic, "env-topic")

	factory := newSuccessfulFactory()
	factory.publisher.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return("msg-1", nil).Once()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--env-file", envFile, "--session-id", "s", "--prompt", "p", "--no-create-topic"}, &stdout, &stderr, factory.build)
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "dotenv-project", factory.cfg.ProjectID)
	assert.Equal(t, "env-topic", factory.cfg.TopicID)
	assert.False(t, factory.cfg.CreateTopic)
}

func TestNewLogger_RFC3339Timestamps(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf)
	logger.Info().Msg("hello")

	assert.Regexp(t, `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`, buf.String())
	assert.Contains(t, buf.String(), "app=")
	assert.Contains(t, buf.String(), "publish-event")
}

func TestRun_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	factory := newSuccessfulFactory()
	code, _, stderr := runCommand(t, factory.build, "--session-id", "s", "--prompt", "p", "--log-level", "chatty")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid log level")
	assert.Zero(t, factory.calls)
}

func TestRun_PublishFailure(t *testing.T) {
	clearEnv(t)
	factory := newSuccessfulFactory()
	factory.publisher.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("deadline exceeded")).Once()

	code, stdout, stderr := runCommand(t, factory.build, "--session-id", "s", "--prompt", "p", "--project-id", "p1", "--topic", "events")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "✗ Error: deadline exceeded")
	factory.publisher.AssertCalled(t, "Close")
}

func TestRun_PublisherCreationFailure(t *testing.T) {
	clearEnv(t)
	factory := &recordingFactory{err: errors.New("no credentials")}

	code, _, stderr := runCommand(t, factory.build, "--session-id", "s", "--prompt", "p", "--project-id", "p1", "--topic", "events")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "failed to create publisher: no credentials")
}

func TestRun_EndToEndWithPstest(t *testing.T) {
	clearEnv(t)
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	factory := func(ctx context.Context, cfg *messagepipeline.PublisherConfig, logger zerolog.Logger) (messagepipeline.Publisher, error) {
		cfg.ClientOptions = []option.ClientOption{
			option.WithEndpoint(srv.Addr),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithoutAuthentication(),
		}
		return newGooglePublisher(ctx, cfg, logger)
	}

	code, stdout, stderr := runCommand(t, factory,
		"--session-id", "sess_1", "--prompt", "hello", "--trace-id", "trace_1",
		"--project-id", "p1", "--topic", "events",
	)
	require.Equal(t, 0, code, stderr)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, stdout, "Message ID: "+msgs[0].ID)
	assert.JSONEq(t, `{"session_id":"sess_1","prompt":"hello","trace_id":"trace_1"}`, string(msgs[0].Data))
	assert.Equal(t, map[string]string{"session_id": "sess_1", "trace_id": "trace_1"}, msgs[0].Attributes)
}
