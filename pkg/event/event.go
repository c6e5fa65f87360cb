// Package event models the conversational event published by publish-event:
// the JSON payload, the message attributes derived from it, and loading an
// event from a JSON file.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Payload keys.
const (
	KeySessionID      = "session_id"
	KeyPrompt         = "prompt"
	KeyRequestID      = "request_id"
	KeySpeakingRate   = "speaking_rate"
	KeyLanguage       = "language"
	KeyImageBase64    = "image_base64"
	KeyTraceID        = "trace_id"
	KeyConversationID = "conversation_id"
)

var (
	// ErrMissingField is returned when a required field is absent or empty.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is returned when a field holds a value that cannot be published.
	ErrInvalidField = errors.New("invalid field")
)

// Event is a single user turn to be forwarded to the processing pipeline.
// Optional fields are pointers: nil means the caller did not supply the value
// and it is left out of the payload entirely.
type Event struct {
	SessionID string
	Prompt    string

	RequestID      *string
	SpeakingRate   *float64
	Language       *string
	ImageBase64    *string
	TraceID        *string
	ConversationID *string
}

// Validate checks that the required fields are present and that the
// speaking rate, when set, is a finite number JSON can carry.
func (e *Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, KeySessionID)
	}
	if e.Prompt == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, KeyPrompt)
	}
	if e.SpeakingRate != nil && (math.IsNaN(*e.SpeakingRate) || math.IsInf(*e.SpeakingRate, 0)) {
		return fmt.Errorf("%w: %s must be a finite number, got %v", ErrInvalidField, KeySpeakingRate, *e.SpeakingRate)
	}
	return nil
}

// Payload builds the message body. It always holds session_id and prompt and
// holds an optional key only when that field was supplied.
func (e *Event) Payload() map[string]any {
	payload := map[string]any{
		KeySessionID: e.SessionID,
		KeyPrompt:    e.Prompt,
	}
	if e.RequestID != nil {
		payload[KeyRequestID] = *e.RequestID
	}
	if e.SpeakingRate != nil {
		payload[KeySpeakingRate] = *e.SpeakingRate
	}
	if e.Language != nil {
		payload[KeyLanguage] = *e.Language
	}
	if e.ImageBase64 != nil {
		payload[KeyImageBase64] = *e.ImageBase64
	}
	if e.TraceID != nil {
		payload[KeyTraceID] = *e.TraceID
	}
	if e.ConversationID != nil {
		payload[KeyConversationID] = *e.ConversationID
	}
	return payload
}

// Attributes builds the message attributes used for subscription filtering.
// Empty identifiers are not attached.
func (e *Event) Attributes() map[string]string {
	attrs := map[string]string{
		KeySessionID: e.SessionID,
	}
	setIfPresent(attrs, KeyRequestID, e.RequestID)
	setIfPresent(attrs, KeyTraceID, e.TraceID)
	setIfPresent(attrs, KeyConversationID, e.ConversationID)
	return attrs
}

func setIfPresent(attrs map[string]string, key string, value *string) {
	if value != nil && *value != "" {
		attrs[key] = *value
	}
}

// fileEvent mirrors the on-disk JSON. A JSON null decodes to a nil pointer,
// so null-valued optional keys behave as if they were absent.
type fileEvent struct {
	SessionID      *string  `json:"session_id"`
	Prompt         *string  `json:"prompt"`
	RequestID      *string  `json:"request_id"`
	SpeakingRate   *float64 `json:"speaking_rate"`
	Language       *string  `json:"language"`
	ImageBase64    *string  `json:"image_base64"`
	TraceID        *string  `json:"trace_id"`
	ConversationID *string  `json:"conversation_id"`
}

// Decode parses a JSON document into an Event and validates it.
// Keys that are not part of the event are ignored.
func Decode(data []byte) (*Event, error) {
	var fe fileEvent
	if err := json.Unmarshal(data, &fe); err != nil {
		return nil, fmt.Errorf("failed to decode event JSON: %w", err)
	}
	if fe.SessionID == nil {
		return nil, fmt.Errorf("%w: JSON must contain '%s'", ErrMissingField, KeySessionID)
	}
	if fe.Prompt == nil {
		return nil, fmt.Errorf("%w: JSON must contain '%s'", ErrMissingField, KeyPrompt)
	}

	e := &Event{
		SessionID:      *fe.SessionID,
		Prompt:         *fe.Prompt,
		RequestID:      fe.RequestID,
		SpeakingRate:   fe.SpeakingRate,
		Language:       fe.Language,
		ImageBase64:    fe.ImageBase64,
		TraceID:        fe.TraceID,
		ConversationID: fe.ConversationID,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadFromFile reads and decodes an event from a JSON file.
func LoadFromFile(path string) (*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file '%s': %w", path, err)
	}
	e, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("invalid event file '%s': %w", path, err)
	}
	return e, nil
}
