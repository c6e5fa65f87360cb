// Command publish-event publishes a single conversational event to a Google
// Cloud Pub/Sub topic.
//
// Examples:
//
//	# Publish a simple event
//	publish-event --session-id sess_123 --prompt "Hello, world!"
//
//	# Publish with all fields
//	publish-event --session-id sess_123 --prompt "Describe this image" \
//	  --request-id req_123 --speaking-rate 1.2 --language en \
//	  --image-base64 "iVBORw0KGgoAAAANS..." --trace-id trace_456 --conversation-id conv_789
//
//	# Publish from a JSON file
//	publish-event --from-file event.json
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newGooglePublisher)
	stop()
	os.Exit(code)
}
