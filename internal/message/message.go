// ABOUTME: Typed message variants exchanged between agents and the MCP server.
// ABOUTME: Defines the envelope header, enums, and per-variant JSON encoding.

package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type is the wire discriminant carried in the message_type field.
type Type string

const (
	TypeToolInvocation Type = "tool_invocation"
	TypeContextFetch   Type = "context_fetch"
	TypeStateUpdate    Type = "state_update"
	TypeResponse       Type = "response"
	TypeError          Type = "error"
	TypeHeartbeat      Type = "heartbeat"
)

// ResponseKind is the secondary discriminant emitted on response envelopes.
type ResponseKind string

const (
	ResponseToolInvocation ResponseKind = "tool_invocation"
	ResponseContextFetch   ResponseKind = "context_fetch"
	ResponseStateUpdate    ResponseKind = "state_update"
)

// Scope selects which context namespace a fetch or update targets.
type Scope string

const (
	ScopeAgent   Scope = "agent"
	ScopeSession Scope = "session"
	ScopeGlobal  Scope = "global"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAgent, ScopeSession, ScopeGlobal:
		return true
	}
	return false
}

// MergeStrategy decides how an update combines with an existing value.
type MergeStrategy string

const (
	MergeReplace MergeStrategy = "replace"
	MergeDeep    MergeStrategy = "merge"
	MergeAppend  MergeStrategy = "append"
)

// Valid reports whether m is a known strategy.
func (m MergeStrategy) Valid() bool {
	switch m {
	case MergeReplace, MergeDeep, MergeAppend:
		return true
	}
	return false
}

// AgentStatus is the self-reported state carried by heartbeats.
type AgentStatus string

const (
	StatusActive AgentStatus = "active"
	StatusIdle   AgentStatus = "idle"
	StatusBusy   AgentStatus = "busy"
)

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusBusy:
		return true
	}
	return false
}

// Error codes used in ErrorResponse.
const (
	CodeProcessingError = "PROCESSING_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
)

// Defaults applied when a request omits the field.
const (
	DefaultPriority       = 5
	DefaultTimeoutSeconds = 30.0
)

// Message is implemented by every variant.
type Message interface {
	// Type returns the wire discriminant.
	Type() Type
	// ID returns the request id the message belongs to.
	ID() string

	header() *Header
}

// Header carries the fields shared by every variant.
type Header struct {
	RequestID string    `json:"request_id"`
	Timestamp Timestamp `json:"timestamp"`
}

// NewHeader returns a header stamped with the current time.
func NewHeader(requestID string) Header {
	return Header{RequestID: requestID, Timestamp: Now()}
}

// ID returns the request id.
func (h *Header) ID() string { return h.RequestID }

func (h *Header) header() *Header { return h }

// ToolInvocationRequest asks the server to run a registered tool.
type ToolInvocationRequest struct {
	Header
	AgentID        string           `json:"agent_id"`
	ToolName       string           `json:"tool_name"`
	Arguments      map[string]Value `json:"arguments"`
	Context        map[string]Value `json:"context"`
	Priority       int              `json:"priority"`
	TimeoutSeconds float64          `json:"timeout_seconds"`
}

func (*ToolInvocationRequest) Type() Type { return TypeToolInvocation }

// Timeout converts TimeoutSeconds into a duration.
func (m *ToolInvocationRequest) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

func (m *ToolInvocationRequest) MarshalJSON() ([]byte, error) {
	type plain ToolInvocationRequest
	return marshalTagged(TypeToolInvocation, "", (*plain)(m))
}

func (m *ToolInvocationRequest) validate() error {
	if m.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if m.Priority < 1 || m.Priority > 10 {
		return fmt.Errorf("priority %d out of range [1, 10]", m.Priority)
	}
	if m.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}

// ToolInvocationResponse reports the outcome of a tool invocation.
type ToolInvocationResponse struct {
	Header
	Success              bool             `json:"success"`
	Result               Value            `json:"result"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	ExecutionTimeSeconds float64          `json:"execution_time_seconds"`
	Metadata             map[string]Value `json:"metadata"`
}

func (*ToolInvocationResponse) Type() Type { return TypeResponse }

func (m *ToolInvocationResponse) MarshalJSON() ([]byte, error) {
	type plain ToolInvocationResponse
	return marshalTagged(TypeResponse, ResponseToolInvocation, (*plain)(m))
}

// ContextFetchRequest asks for the values of a set of keys in one scope.
type ContextFetchRequest struct {
	Header
	AgentID     string   `json:"agent_id"`
	ContextKeys []string `json:"context_keys"`
	Scope       Scope    `json:"scope"`
}

func (*ContextFetchRequest) Type() Type { return TypeContextFetch }

func (m *ContextFetchRequest) MarshalJSON() ([]byte, error) {
	type plain ContextFetchRequest
	return marshalTagged(TypeContextFetch, "", (*plain)(m))
}

func (m *ContextFetchRequest) validate() error {
	if !m.Scope.Valid() {
		return fmt.Errorf("invalid scope %q", m.Scope)
	}
	return nil
}

// ContextFetchResponse returns the keys that were found and those that were not.
type ContextFetchResponse struct {
	Header
	Success     bool             `json:"success"`
	ContextData map[string]Value `json:"context_data"`
	MissingKeys []string         `json:"missing_keys"`
}

func (*ContextFetchResponse) Type() Type { return TypeResponse }

func (m *ContextFetchResponse) MarshalJSON() ([]byte, error) {
	type plain ContextFetchResponse
	return marshalTagged(TypeResponse, ResponseContextFetch, (*plain)(m))
}

// StateUpdateRequest writes values into one scope using a merge strategy.
type StateUpdateRequest struct {
	Header
	AgentID       string           `json:"agent_id"`
	StateUpdates  map[string]Value `json:"state_updates"`
	Scope         Scope            `json:"scope"`
	MergeStrategy MergeStrategy    `json:"merge_strategy"`
}

func (*StateUpdateRequest) Type() Type { return TypeStateUpdate }

func (m *StateUpdateRequest) MarshalJSON() ([]byte, error) {
	type plain StateUpdateRequest
	return marshalTagged(TypeStateUpdate, "", (*plain)(m))
}

func (m *StateUpdateRequest) validate() error {
	if !m.Scope.Valid() {
		return fmt.Errorf("invalid scope %q", m.Scope)
	}
	if !m.MergeStrategy.Valid() {
		return fmt.Errorf("invalid merge_strategy %q", m.MergeStrategy)
	}
	return nil
}

// StateUpdateResponse lists the keys written by a state update.
type StateUpdateResponse struct {
	Header
	Success      bool     `json:"success"`
	UpdatedKeys  []string `json:"updated_keys"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

func (*StateUpdateResponse) Type() Type { return TypeResponse }

func (m *StateUpdateResponse) MarshalJSON() ([]byte, error) {
	type plain StateUpdateResponse
	if m.UpdatedKeys == nil {
		cp := *m
		cp.UpdatedKeys = []string{}
		return marshalTagged(TypeResponse, ResponseStateUpdate, (*plain)(&cp))
	}
	return marshalTagged(TypeResponse, ResponseStateUpdate, (*plain)(m))
}

// ErrorResponse reports a failure to process a message.
type ErrorResponse struct {
	Header
	ErrorCode    string           `json:"error_code"`
	ErrorMessage string           `json:"error_message"`
	Details      map[string]Value `json:"details,omitempty"`
}

func (*ErrorResponse) Type() Type { return TypeError }

func (m *ErrorResponse) MarshalJSON() ([]byte, error) {
	type plain ErrorResponse
	return marshalTagged(TypeError, "", (*plain)(m))
}

// Error lets an ErrorResponse travel as a Go error.
func (m *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", m.ErrorCode, m.ErrorMessage)
}

// NewErrorResponse builds a PROCESSING_ERROR reply for the given request id.
func NewErrorResponse(requestID string, err error) *ErrorResponse {
	if requestID == "" {
		requestID = UnknownRequestID
	}
	return &ErrorResponse{
		Header:       NewHeader(requestID),
		ErrorCode:    CodeProcessingError,
		ErrorMessage: err.Error(),
	}
}

// Heartbeat reports liveness and load from an agent.
type Heartbeat struct {
	Header
	AgentID     string             `json:"agent_id"`
	Status      AgentStatus        `json:"status"`
	LoadMetrics map[string]float64 `json:"load_metrics,omitempty"`
}

func (*Heartbeat) Type() Type { return TypeHeartbeat }

func (m *Heartbeat) MarshalJSON() ([]byte, error) {
	type plain Heartbeat
	return marshalTagged(TypeHeartbeat, "", (*plain)(m))
}

func (m *Heartbeat) validate() error {
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	return nil
}

// IsRequest reports whether m is one of the three request variants.
func IsRequest(m Message) bool {
	switch m.Type() {
	case TypeToolInvocation, TypeContextFetch, TypeStateUpdate:
		return true
	}
	return false
}

// IsReply reports whether m answers an earlier request.
func IsReply(m Message) bool {
	t := m.Type()
	return t == TypeResponse || t == TypeError
}

// marshalTagged encodes v and adds the discriminant fields.
func marshalTagged(t Type, kind ResponseKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["message_type"] = json.RawMessage(`"` + string(t) + `"`)
	if kind != "" {
		fields["response_kind"] = json.RawMessage(`"` + string(kind) + `"`)
	}
	return json.Marshal(fields)
}

// Timestamp is a UTC instant encoded as ISO-8601 with microsecond precision.
type Timestamp struct {
	time.Time
}

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// naive layouts are accepted on decode for peers that omit the zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Now returns the current time truncated to microseconds.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// NewTimestamp normalizes t to UTC at microsecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*t = Timestamp{}
		return nil
	}
	s = strings.Trim(s, `"`)
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = NewTimestamp(parsed)
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = NewTimestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
