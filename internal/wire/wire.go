// Package wire defines the JSON request/response shapes of the public
// service façade's three HTTP operations and validates inbound event
// payloads against a compiled JSON schema before they reach the
// identification pipeline.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"profilerd/internal/model"
)

// eventSchemaJSON is the frozen JSON Schema for a single KeystrokeEvent.
// Kept inline rather than as a file on disk so the service binary has no
// runtime dependency on a docs/ tree.
const eventSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["key", "timestamp", "type"],
	"properties": {
		"key": {"type": "string", "minLength": 1},
		"timestamp": {"type": "integer"},
		"type": {"type": "string", "enum": ["keydown", "keyup"]}
	},
	"additionalProperties": true
}`

const eventSchemaURL = "profilerd://keystroke-event-v1.schema.json"

var (
	compileOnce sync.Once
	eventSchema *jsonschema.Schema
	compileErr  error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(eventSchemaURL, bytes.NewReader([]byte(eventSchemaJSON))); err != nil {
			compileErr = fmt.Errorf("wire: add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(eventSchemaURL)
		if err != nil {
			compileErr = fmt.Errorf("wire: compile schema: %w", err)
			return
		}
		eventSchema = schema
	})
	return eventSchema, compileErr
}

// ValidateEvents checks raw (not-yet-unmarshaled) event JSON against the
// frozen KeystrokeEvent schema. Called at the HTTP boundary before decoding
// into []model.KeystrokeEvent so malformed client payloads are rejected with
// a schema error message rather than a generic unmarshal failure.
func ValidateEvents(rawEvents []json.RawMessage) error {
	schema, err := compiledEventSchema()
	if err != nil {
		return err
	}

	for i, raw := range rawEvents {
		var instance any
		if err := json.Unmarshal(raw, &instance); err != nil {
			return fmt.Errorf("wire: event %d: invalid JSON: %w", i, err)
		}
		if err := schema.Validate(instance); err != nil {
			return fmt.Errorf("wire: event %d failed schema validation: %w", i, err)
		}
	}
	return nil
}

// SessionRequest is the body of POST /api/profiler/session.
type SessionRequest struct {
	Platform  string                 `json:"platform"`
	Events    []model.KeystrokeEvent `json:"events"`
	SessionID string                 `json:"sessionId,omitempty"`
}

// SessionResponse is the 200 response body of POST /api/profiler/session.
type SessionResponse struct {
	Message string `json:"message"`
}

// IdentifyRequest is the body of POST /api/profiler/identify.
type IdentifyRequest struct {
	Platform  string                 `json:"platform"`
	Events    []model.KeystrokeEvent `json:"events"`
	SessionID string                 `json:"sessionId,omitempty"`
}

// IdentifyResponse is the 200 response body of POST /api/profiler/identify.
type IdentifyResponse struct {
	User       string  `json:"user"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
	Status     string  `json:"status"`
	SessionID  string  `json:"sessionId"`
}

// TrainResponse is the 200 response body of POST /api/profiler/train.
type TrainResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Status values for IdentifyResponse.Status.
const (
	StatusAuthenticated = "Authenticated"
	StatusContinue      = "Continue"
	StatusError         = "Error"
)

// RawSessionRequest mirrors SessionRequest but keeps the events array as raw
// JSON messages so callers can run ValidateEvents before committing to a
// concrete []model.KeystrokeEvent decode.
type RawSessionRequest struct {
	Platform  string            `json:"platform"`
	Events    []json.RawMessage `json:"events"`
	SessionID string            `json:"sessionId,omitempty"`
}

// RawIdentifyRequest is RawSessionRequest's counterpart for the identify
// endpoint.
type RawIdentifyRequest struct {
	Platform  string            `json:"platform"`
	Events    []json.RawMessage `json:"events"`
	SessionID string            `json:"sessionId,omitempty"`
}
