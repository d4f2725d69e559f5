// Package message defines the wire schema shared by the MCP server and its clients.
//
// # Overview
//
// Every message is a JSON object carrying message_type, request_id, and
// timestamp plus variant-specific fields. Requests have their own tags
// (tool_invocation, context_fetch, state_update); the three response shapes
// share the single "response" tag.
//
// # Decoding
//
//	msg, err := message.Decode(data)
//	switch m := msg.(type) {
//	case *message.ToolInvocationRequest:
//	    ...
//	}
//
// Response envelopes are resolved by their response_kind field when present,
// otherwise by field presence: result or execution_time_seconds selects a tool
// response, then context_data, then updated_keys. Anything else fails with
// ErrAmbiguousResponse. Unknown message types fail with ErrUnknownMessageType.
//
// # Payloads
//
// Arguments, results, and context data use Value, a tagged JSON value that
// keeps number literals intact across round-trips.
package message
