// Package protocol defines the JSON messages exchanged between the UI client
// and the bridge, and the error taxonomy surfaced to the client.
//
// Client requests come in two shapes:
//
//	{"operation": "analyze_conic", "payload": {...}}
//	{"mode": "conic", ...payload fields inline}
//
// The first is preferred; the second is accepted from older clients. An older
// client also spelled "operation" as "op".
//
// Every request yields exactly one response, either the backend's JSON output
// verbatim or
//
//	{"status": "error", "message": "..."}
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Message fields
const (
	FieldOperation = "operation"
	FieldOp        = "op"
	FieldMode      = "mode"
	FieldPayload   = "payload"
)

// Event names
const (
	EventConnected = "connected"
)

// Status values
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is a decoded client request.
type Request struct {
	Operation string
	Payload   json.RawMessage
	// Legacy is true for the {"mode": ...} shape.
	Legacy bool
}

// Event is a server-initiated notification.
type Event struct {
	Event string `json:"event"`
}

// StatusResponse is the shape of error and status replies.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var (
	connectedEvent = mustMarshal(Event{Event: EventConnected})
	errNotObject   = errors.New("request must be a JSON object")
)

// ConnectedEvent is sent once, right after a connection is upgraded.
func ConnectedEvent() []byte {
	return append([]byte(nil), connectedEvent...)
}

// DecodeRequest decodes one client message. The input is never modified.
func DecodeRequest(data []byte) (Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Request{}, InvalidEnvelope(err)
		}
		return Request{}, InvalidEnvelope(errNotObject)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Request{}, InvalidEnvelope(err)
	}

	if raw, ok := fields[FieldOperation]; ok {
		return decodeOperation(fields, raw)
	}
	if raw, ok := fields[FieldOp]; ok {
		return decodeOperation(fields, raw)
	}
	if raw, ok := fields[FieldMode]; ok {
		return decodeMode(fields, raw)
	}
	return Request{}, MissingField(FieldOperation)
}

func decodeOperation(fields map[string]json.RawMessage, raw json.RawMessage) (Request, error) {
	op, ok := decodeName(raw)
	if !ok {
		return Request{}, MissingField(FieldOperation)
	}
	payload, ok := fields[FieldPayload]
	if !ok {
		return Request{}, MissingField(FieldPayload)
	}
	return Request{Operation: op, Payload: append(json.RawMessage(nil), payload...)}, nil
}

func decodeMode(fields map[string]json.RawMessage, raw json.RawMessage) (Request, error) {
	mode, ok := decodeName(raw)
	if !ok {
		return Request{}, MissingField(FieldOperation)
	}

	rest := make(map[string]json.RawMessage, len(fields)-1)
	for k, v := range fields {
		if k != FieldMode {
			rest[k] = v
		}
	}
	payload, err := json.Marshal(rest)
	if err != nil {
		return Request{}, EncodingFailure(err)
	}
	return Request{Operation: mode, Payload: payload, Legacy: true}, nil
}

// decodeName accepts only a non-empty JSON string.
func decodeName(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || name == "" {
		return "", false
	}
	return name, true
}

// ErrorResponse renders err as a {"status":"error"} reply.
func ErrorResponse(err error) []byte {
	return mustMarshal(StatusResponse{Status: StatusError, Message: err.Error()})
}

// OKResponse renders a {"status":"ok"} reply.
func OKResponse(message string) []byte {
	return mustMarshal(StatusResponse{Status: StatusOK, Message: message})
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
