package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned by operations on a disposed endpoint and used
	// to reject requests that were still pending at disposal time.
	ErrDisposed = errors.New("channel disposed")

	// ErrHandshakeTimeout is returned by Initialize when the peer never
	// announces readiness within the handshake budget. The channel stays
	// unusable afterwards; recreating it is a caller-level decision.
	ErrHandshakeTimeout = errors.New("handshake timeout waiting for peer readiness")

	// ErrRequestTimeout rejects a request whose response did not arrive
	// within the per-request budget. Other in-flight requests are unaffected.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("channel already initialized")
)

// unknownErrorMsg is the fallback error string for handler panics that do
// not carry an error value.
const unknownErrorMsg = "Unknown error"

// RemoteError is the failure reported by the remote handler of a correlated
// request, reconstructed from the error field of its response envelope.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote handler error: %s", e.Msg)
}
