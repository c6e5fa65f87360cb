package types

// OutgoingMessage is a single message queued for publishing.
type OutgoingMessage struct {
	// Data is the message body. A []byte or json.RawMessage is sent as-is,
	// a string is sent as its UTF-8 bytes and any other value is JSON encoded.
	Data any
	// Attributes are optional key/value pairs attached to the message so that
	// subscribers can filter without decoding the body.
	Attributes map[string]string
}

