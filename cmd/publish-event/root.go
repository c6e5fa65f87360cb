package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-iot-events/pkg/event"
	"github.com/illmade-knight/go-iot-events/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	envProjectID   = "GOOGLE_CLOUD_PROJECT"
	envTopic       = "PUBSUB_TOPIC"
	envCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	envLogLevel    = "LOG_LEVEL"
)

// publisherFactory builds the publisher once the event and config are known.
type publisherFactory func(ctx context.Context, cfg *messagepipeline.PublisherConfig, logger zerolog.Logger) (messagepipeline.Publisher, error)

func newGooglePublisher(ctx context.Context, cfg *messagepipeline.PublisherConfig, logger zerolog.Logger) (messagepipeline.Publisher, error) {
	return messagepipeline.NewGooglePublisherClient(ctx, cfg, logger)
}

// usageError marks failures caused by how the command was invoked.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type options struct {
	sessionID      string
	prompt         string
	requestID      string
	speakingRate   float64
	language       string
	imageBase64    string
	traceID        string
	conversationID string
	fromFile       string

	projectID     string
	topic         string
	credentials   string
	configPath    string
	envFile       string
	logLevel      string
	noCreateTopic bool
}

type app struct {
	opts       options
	stdout     io.Writer
	logger     zerolog.Logger
	newPublish publisherFactory
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Str("app", "publish-event").Logger()
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, factory publisherFactory) int {
	a := &app{
		stdout:     stdout,
		logger:     newLogger(stderr),
		newPublish: factory,
	}
	cmd := a.command()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var uErr *usageError
	if errors.As(err, &uErr) {
		fmt.Fprintf(stderr, "Error: %v\n\n%s", uErr, cmd.UsageString())
		return 1
	}
	a.logger.Error().Err(err).Msg("Failed to publish event")
	fmt.Fprintf(stderr, "✗ Error: %v\n", err)
	return 1
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish-event",
		Short: "Publish events to Google Pub/Sub",
		Long: `publish-event formats a conversational event (session, prompt and optional
speech, language, image and tracing fields) and publishes it as JSON to a
Google Cloud Pub/Sub topic, creating the topic if it does not exist.`,
		Example: `  publish-event --session-id sess_123 --prompt "Hello, world!"
  publish-event --session-id sess_123 --prompt "Describe this image" --speaking-rate 1.2 --language en --image-base64 "iVBORw0KGgo..." --trace-id trace_456
  publish-event --from-file event.json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.publish(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := cmd.Flags()
	f.StringVar(&a.opts.sessionID, "session-id", "", "Unique identifier for the user session (required if not using --from-file)")
	f.StringVar(&a.opts.prompt, "prompt", "", "Text prompt or instruction (required if not using --from-file)")
	f.StringVar(&a.opts.requestID, "request-id", "", "Optional unique identifier for the request")
	f.Float64Var(&a.opts.speakingRate, "speaking-rate", 0, "Optional float for TTS rate tuning (e.g. 1.2)")
	f.StringVar(&a.opts.language, "language", "", "Optional language code (e.g. 'en', 'es')")
	f.StringVar(&a.opts.imageBase64, "image-base64", "", "Optional base64-encoded image (if multimodal)")
	f.StringVar(&a.opts.traceID, "trace-id", "", "Optional trace ID for observability")
	f.StringVar(&a.opts.conversationID, "conversation-id", "", "Optional conversation ID for context tracking")
	f.StringVar(&a.opts.fromFile, "from-file", "", "Load event data from JSON file (overrides the event flags)")

	f.StringVar(&a.opts.projectID, "project-id", "", "Google Cloud project ID (overrides "+envProjectID+")")
	f.StringVar(&a.opts.topic, "topic", "", "Pub/Sub topic name (overrides "+envTopic+")")
	f.StringVar(&a.opts.credentials, "credentials", "", "Path to credentials JSON (overrides "+envCredentials+")")
	f.StringVar(&a.opts.configPath, "config", "", "Optional YAML config file with project, topic and publish settings")
	f.StringVar(&a.opts.envFile, "env-file", ".env", "Dotenv file to load before reading the environment (ignored if missing)")
	f.StringVar(&a.opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from "+envLogLevel+" or info)")
	f.BoolVar(&a.opts.noCreateTopic, "no-create-topic", false, "Fail instead of creating the topic when it does not exist")
	return cmd
}

// publish is the command body: validate invocation, build the event, resolve
// the config, then publish and print the message ID.
func (a *app) publish(cmd *cobra.Command) error {
	// Invocation problems are reported before anything touches the network.
	if a.opts.fromFile == "" && (a.opts.sessionID == "" || a.opts.prompt == "") {
		return &usageError{err: errors.New("--session-id and --prompt are required when not using --from-file")}
	}

	if err := a.loadEnvFile(); err != nil {
		return err
	}
	if err := a.configureLogger(); err != nil {
		return &usageError{err: err}
	}

	e, err := a.buildEvent(cmd)
	if err != nil {
		return err
	}

	cfg, err := a.publisherConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	publisher, err := a.newPublish(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Error closing publisher")
		}
	}()

	msgID, err := publisher.PublishJSON(ctx, e.Payload(), e.Attributes())
	if err != nil {
		return err
	}
	a.logger.Info().Str("message_id", msgID).Str("topic", publisher.TopicPath()).Msg("Successfully published event")

	fmt.Fprintln(a.stdout, "✓ Event published successfully!")
	fmt.Fprintf(a.stdout, "  Message ID: %s\n", msgID)
	return nil
}

// loadEnvFile loads the dotenv file without overriding variables that are
// already set. A missing file is not an error.
func (a *app) loadEnvFile() error {
	if a.opts.envFile == "" {
		return nil
	}
	err := godotenv.Load(a.opts.envFile)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file '%s': %w", a.opts.envFile, err)
}

func (a *app) configureLogger() error {
	levelName := firstNonEmpty(a.opts.logLevel, os.Getenv(envLogLevel), zerolog.InfoLevel.String())
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", levelName, err)
	}
	a.logger = a.logger.Level(level)
	return nil
}

// buildEvent reads the event from --from-file when given, otherwise from the
// flags. Optional flags are included only when explicitly set.
func (a *app) buildEvent(cmd *cobra.Command) (*event.Event, error) {
	if a.opts.fromFile != "" {
		a.logger.Debug().Str("path", a.opts.fromFile).Msg("Loading event from file")
		return event.LoadFromFile(a.opts.fromFile)
	}

	e := &event.Event{
		SessionID: a.opts.sessionID,
		Prompt:    a.opts.prompt,
	}
	flags := cmd.Flags()
	if flags.Changed("request-id") {
		e.RequestID = &a.opts.requestID
	}
	if flags.Changed("speaking-rate") {
		e.SpeakingRate = &a.opts.speakingRate
	}
	if flags.Changed("language") {
		e.Language = &a.opts.language
	}
	if flags.Changed("image-base64") {
		e.ImageBase64 = &a.opts.imageBase64
	}
	if flags.Changed("trace-id") {
		e.TraceID = &a.opts.traceID
	}
	if flags.Changed("conversation-id") {
		e.ConversationID = &a.opts.conversationID
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
