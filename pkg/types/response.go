package types //nolint:revive // package name is intentional

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Envelope is the uniform wire shape returned by every endpoint:
//
//	{ "success": bool, "data": any, "message": string, "error": string, "code": number }
//
// Any field may be absent.
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    *int            `json:"code,omitempty"`
}

// Failed reports whether the envelope explicitly signals failure.
// A missing success field is not a failure.
func (e *Envelope) Failed() bool {
	return e.Success != nil && !*e.Success
}

// ServerMessage returns the human-readable message carried by the envelope,
// preferring message over error.
func (e *Envelope) ServerMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// ParseEnvelope decodes body as an envelope. ok is false when the body is
// empty or not a JSON object.
func ParseEnvelope(body []byte) (env Envelope, ok bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

// Unwrap returns the payload a successful call resolves to. Bodies that
// carry a success field or a data field resolve to data; any other body
// resolves to itself.
func Unwrap(body []byte, env Envelope, isEnvelope bool) json.RawMessage {
	if isEnvelope && (env.Success != nil || len(env.Data) > 0) {
		return env.Data
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	return json.RawMessage(trimmed)
}
