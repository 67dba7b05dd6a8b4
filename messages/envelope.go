package messages

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reserved control types used by the bridge protocol itself. They live in
// the "__" namespace; application message types must not use that prefix.
const (
	// PeerReadyType is announced by the UI-side endpoint as soon as it is
	// constructed, proving that its listener is attached.
	PeerReadyType = "__peer_ready__"
	// HandshakeCompleteType is sent by the host after it has seen the peer's
	// readiness announcement. Its payload carries the host state version.
	HandshakeCompleteType = "__handshake_complete__"
	// AckType acknowledges receipt of a message that did not expect a response.
	AckType = "__ack__"
	// ResponseType carries the reply half of a correlated request.
	ResponseType = "__response__"
	// ErrorType is the catch-all error message type.
	ErrorType = "__error__"

	controlPrefix = "__"
)

// StateVersionKey is the payload key under which the host surfaces its state
// version counter in handshake-complete envelopes.
const StateVersionKey = "stateVersion"

// Envelope is the message unit exchanged in both directions over the bridge.
// It wraps an optional payload with the metadata needed for correlation and
// acknowledgment. The timestamp is informational only and carries no ordering
// guarantee.
type Envelope struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Timestamp       time.Time      `json:"timestamp"`
	Payload         map[string]any `json:"payload,omitempty"`
	ExpectsResponse bool           `json:"expectsResponse,omitempty"`
	IsResponse      bool           `json:"isResponse,omitempty"`
	ResponseToID    string         `json:"responseToId,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// New creates an envelope of the given type with a fresh unique ID and the
// current timestamp. The payload may be nil.
func New(msgType string, payload map[string]any) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewResponse creates a response envelope correlated to the request envelope
// with the given ID.
func NewResponse(responseToID string, payload map[string]any) *Envelope {
	env := New(ResponseType, payload)
	env.IsResponse = true
	env.ResponseToID = responseToID
	return env
}

// NewErrorResponse creates a failure response correlated to the request
// envelope with the given ID.
func NewErrorResponse(responseToID string, errMsg string) *Envelope {
	env := NewResponse(responseToID, nil)
	env.Error = errMsg
	return env
}

// NewHandshakeComplete creates a handshake-complete envelope carrying the
// host state version.
func NewHandshakeComplete(stateVersion uint64) *Envelope {
	return New(HandshakeCompleteType, map[string]any{StateVersionKey: stateVersion})
}

// NewAck creates an acknowledgment for the envelope with the given ID.
func NewAck(responseToID string, payload map[string]any) *Envelope {
	env := New(AckType, payload)
	env.ResponseToID = responseToID
	return env
}

// IsControlType reports whether msgType belongs to the reserved protocol
// namespace.
func IsControlType(msgType string) bool {
	return strings.HasPrefix(msgType, controlPrefix)
}

// NormalizePayload collapses a nil payload to an empty map so handlers can
// always treat the payload as a plain keyed mapping.
func NormalizePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

// Clone returns a shallow copy of the envelope with its own payload map, so
// in-process transports can hand it to the far side without sharing mutable
// state.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
