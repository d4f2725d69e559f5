// ABOUTME: Validating decoder that resolves a raw JSON envelope to a concrete message variant.
// ABOUTME: Disambiguates shared response envelopes by response_kind or by field presence.

package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnknownRequestID is used in error replies when the request id cannot be recovered.
const UnknownRequestID = "unknown"

var (
	// ErrUnknownMessageType indicates a missing or unrecognized message_type.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrAmbiguousResponse indicates a response envelope matching no known shape.
	ErrAmbiguousResponse = errors.New("ambiguous response shape")
)

// DecodeError describes why an envelope could not be decoded.
type DecodeError struct {
	MessageType Type
	Reason      string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.MessageType == "" {
		return fmt.Sprintf("decoding message: %s", e.Reason)
	}
	return fmt.Sprintf("decoding %s message: %s", e.MessageType, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses data into the concrete variant named by its message_type.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON object", Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Reason: "envelope is null", Err: ErrUnknownMessageType}
	}

	var msgType Type
	if raw, ok := fields["message_type"]; ok {
		if err := json.Unmarshal(raw, &msgType); err != nil {
			return nil, &DecodeError{Reason: "message_type is not a string", Err: err}
		}
	}

	var (
		msg Message
		err error
	)
	switch msgType {
	case TypeToolInvocation:
		msg, err = decodeInto(data, &ToolInvocationRequest{
			Priority:       DefaultPriority,
			TimeoutSeconds: DefaultTimeoutSeconds,
		})
	case TypeContextFetch:
		msg, err = decodeInto(data, &ContextFetchRequest{Scope: ScopeAgent})
	case TypeStateUpdate:
		msg, err = decodeInto(data, &StateUpdateRequest{
			Scope:         ScopeAgent,
			MergeStrategy: MergeReplace,
		})
	case TypeResponse:
		msg, err = decodeResponse(data, fields)
	case TypeError:
		msg, err = decodeInto(data, &ErrorResponse{})
	case TypeHeartbeat:
		msg, err = decodeInto(data, &Heartbeat{Status: StatusActive})
	default:
		return nil, &DecodeError{
			MessageType: msgType,
			Reason:      fmt.Sprintf("unknown message_type %q", msgType),
			Err:         ErrUnknownMessageType,
		}
	}
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			return nil, decErr
		}
		return nil, &DecodeError{MessageType: msgType, Reason: err.Error(), Err: err}
	}
	return msg, nil
}

// DecodeMap decodes an envelope that has already been parsed into a map.
func DecodeMap(m map[string]any) (Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &DecodeError{Reason: "envelope is not JSON-encodable", Err: err}
	}
	return Decode(data)
}

// Encode serializes m including its discriminant fields.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encoding nil message")
	}
	return json.Marshal(m)
}

// RequestIDOf extracts request_id from a raw envelope, falling back to
// UnknownRequestID when the payload cannot be read.
func RequestIDOf(data []byte) string {
	var probe struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.RequestID == "" {
		return UnknownRequestID
	}
	return probe.RequestID
}

// ResolveResponseKind picks the response variant for an envelope. An explicit
// response_kind wins; otherwise field presence decides in this order: result or
// execution_time_seconds, then context_data, then updated_keys.
func ResolveResponseKind(fields map[string]json.RawMessage) (ResponseKind, error) {
	if raw, ok := fields["response_kind"]; ok {
		var kind ResponseKind
		if err := json.Unmarshal(raw, &kind); err != nil {
			return "", fmt.Errorf("response_kind is not a string: %w", err)
		}
		switch kind {
		case ResponseToolInvocation, ResponseContextFetch, ResponseStateUpdate:
			return kind, nil
		default:
			return "", fmt.Errorf("%w: unknown response_kind %q", ErrAmbiguousResponse, kind)
		}
	}

	_, hasResult := fields["result"]
	_, hasExecTime := fields["execution_time_seconds"]
	_, hasContextData := fields["context_data"]
	_, hasUpdatedKeys := fields["updated_keys"]

	switch {
	case hasResult || hasExecTime:
		return ResponseToolInvocation, nil
	case hasContextData:
		return ResponseContextFetch, nil
	case hasUpdatedKeys:
		return ResponseStateUpdate, nil
	default:
		return "", ErrAmbiguousResponse
	}
}

func decodeResponse(data []byte, fields map[string]json.RawMessage) (Message, error) {
	kind, err := ResolveResponseKind(fields)
	if err != nil {
		return nil, &DecodeError{MessageType: TypeResponse, Reason: err.Error(), Err: err}
	}
	switch kind {
	case ResponseToolInvocation:
		return decodeInto(data, &ToolInvocationResponse{})
	case ResponseContextFetch:
		return decodeInto(data, &ContextFetchResponse{})
	default:
		return decodeInto(data, &StateUpdateResponse{})
	}
}

type validator interface {
	validate() error
}

// decodeInto unmarshals onto a pre-filled target so that absent fields keep
// their defaults, then runs the variant's validation.
func decodeInto[M Message](data []byte, target M) (Message, error) {
	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}
	if v, ok := any(target).(validator); ok {
		if err := v.validate(); err != nil {
			return nil, &DecodeError{MessageType: target.Type(), Reason: err.Error(), Err: err}
		}
	}
	return target, nil
}
