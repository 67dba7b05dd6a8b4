package transport

import (
	"context"
	"errors"

	"github.com/mbenedict/bridge/messages"
)

// ErrTransportClosed is returned by Send after the transport has been closed.
var ErrTransportClosed = errors.New("transport closed")

// ErrListenerBound is returned by Listen when a listener is already attached.
var ErrListenerBound = errors.New("listener already bound")

// ErrSendFault is the transient failure injected by PairSide.FailNext.
var ErrSendFault = errors.New("transport send fault")

// ErrSendBufferFull is returned by Send when a transport's outbound buffer
// is at capacity.
var ErrSendBufferFull = errors.New("transport send buffer full")

// Listener receives inbound envelopes. It is invoked from the transport's
// delivery goroutine; implementations must not block indefinitely.
type Listener func(env *messages.Envelope)

// Transport carries envelopes between the two endpoint processes. Send may
// buffer internally and may reject; the bridge assumes nothing about how the
// envelope is physically carried. Exactly one listener can be attached at a
// time; the returned cancel func detaches it and is safe to call more than
// once.
type Transport interface {
	Send(ctx context.Context, env *messages.Envelope) error
	Listen(fn Listener) (cancel func(), err error)
}

// Closer is implemented by transports that hold releasable resources.
type Closer interface {
	Close() error
}
