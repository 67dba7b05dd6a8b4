package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mbenedict/bridge/messages"
	"github.com/mbenedict/bridge/transport"
)

// HandshakeState is the host-side view of the startup protocol.
type HandshakeState int32

const (
	// HandshakeNotStarted is the state before Initialize is called.
	HandshakeNotStarted HandshakeState = iota
	// HandshakeAwaitingPeer means the host is listening for the peer's
	// readiness announcement.
	HandshakeAwaitingPeer
	// HandshakeComplete means application traffic is flowing. Terminal.
	HandshakeComplete
	// HandshakeTimedOut means the peer never announced readiness in time.
	// The channel is unusable; recreating it is the caller's decision.
	HandshakeTimedOut
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeNotStarted:
		return "not started"
	case HandshakeAwaitingPeer:
		return "awaiting peer readiness"
	case HandshakeComplete:
		return "complete"
	case HandshakeTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Host is the extension-host side of the bridge. It starts passive: no
// application traffic leaves until the peer has provably attached its
// listener, because the peer environment controls its own startup race and
// anything sent earlier would be lost. Outbound messages created before then
// are queued and flushed, in order, when the handshake completes.
type Host struct {
	*endpoint

	// guarded by endpoint.mu
	state       HandshakeState
	initialized bool
	queue       []*messages.Envelope
	hsTimer     *time.Timer

	readyCh    chan struct{} // closed on handshake completion
	timedOutCh chan struct{} // closed on handshake timeout

	stateVersion atomic.Uint64
}

// NewHost creates the host-side endpoint over the given transport. The
// transport listener is not attached until Initialize.
func NewHost(tr transport.Transport, opts ...Option) *Host {
	s := buildSettings(opts)
	return &Host{
		endpoint:   newEndpoint(tr, s),
		state:      HandshakeNotStarted,
		readyCh:    make(chan struct{}),
		timedOutCh: make(chan struct{}),
	}
}

// State returns the current handshake state.
func (h *Host) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Initialize attaches the transport listener, arms the handshake timer, and
// blocks until the peer announces readiness, the timer fires, the context is
// cancelled, or the host is disposed. A timeout is surfaced here rather than
// retried: recreating the peer surface is a caller-level decision.
func (h *Host) Initialize(ctx context.Context) error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return ErrDisposed
	}
	if h.initialized {
		h.mu.Unlock()
		return ErrAlreadyInitialized
	}
	h.initialized = true
	h.state = HandshakeAwaitingPeer
	h.mu.Unlock()

	cancel, err := h.tr.Listen(h.handleInbound)
	if err != nil {
		return fmt.Errorf("attach transport listener: %w", err)
	}
	h.mu.Lock()
	h.cancelListen = cancel
	h.hsTimer = time.AfterFunc(h.cfg.HandshakeTimeout, h.onHandshakeTimeout)
	h.mu.Unlock()

	h.log.Debug("awaiting peer readiness", "timeout", h.cfg.HandshakeTimeout)

	select {
	case <-h.readyCh:
		return nil
	case <-h.timedOutCh:
		return fmt.Errorf("initialize: no peer readiness within %s: %w",
			h.cfg.HandshakeTimeout, ErrHandshakeTimeout)
	case <-h.done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onHandshakeTimeout moves the state machine to timed-out unless the peer
// won the race.
func (h *Host) onHandshakeTimeout() {
	h.mu.Lock()
	if h.state != HandshakeAwaitingPeer {
		h.mu.Unlock()
		return
	}
	h.state = HandshakeTimedOut
	h.mu.Unlock()
	h.log.Warn("handshake timed out", "timeout", h.cfg.HandshakeTimeout)
	close(h.timedOutCh)
}

// completeHandshake runs the awaiting→complete transition: stop the timer,
// flush the queue in enqueue order through the retrying send path, tell the
// peer the handshake is done, then release Initialize. Peer-ready envelopes
// seen in any other state are ignored.
func (h *Host) completeHandshake() {
	h.mu.Lock()
	if h.state != HandshakeAwaitingPeer {
		h.mu.Unlock()
		h.log.Debug("peer ready ignored", "state", h.state.String())
		return
	}
	h.state = HandshakeComplete
	if h.hsTimer != nil {
		h.hsTimer.Stop()
		h.hsTimer = nil
	}
	queued := h.queue
	h.queue = nil
	h.mu.Unlock()

	h.log.Info("handshake complete", "queued", len(queued))

	for _, env := range queued {
		if err := h.sendWithRetry(h.baseCtx, env); err != nil {
			h.log.Error("queued send failed", "type", env.Type, "id", env.ID, "err", err)
			if env.ExpectsResponse {
				h.failPending(env.ID, err)
			}
		}
	}

	complete := messages.NewHandshakeComplete(h.stateVersion.Load())
	if err := h.sendWithRetry(h.baseCtx, complete); err != nil {
		h.log.Error("handshake-complete send failed", "err", err)
	}

	close(h.readyCh)
}

// SendMessage sends a fire-and-forget message. Before the handshake
// completes the envelope is queued and the call returns nil, meaning
// accepted for delivery, not delivered. After completion the send goes
// through the retry policy and its final failure is returned.
func (h *Host) SendMessage(msgType string, payload map[string]any) error {
	env := messages.New(msgType, payload)
	return h.sendOrQueue(context.Background(), env)
}

// sendOrQueue applies the outbound queue contract to one envelope.
func (h *Host) sendOrQueue(ctx context.Context, env *messages.Envelope) error {
	h.mu.Lock()
	switch {
	case h.disposed:
		h.mu.Unlock()
		return ErrDisposed
	case h.state == HandshakeTimedOut:
		h.mu.Unlock()
		return fmt.Errorf("send %q: %w", env.Type, ErrHandshakeTimeout)
	case h.state != HandshakeComplete:
		h.queue = append(h.queue, env)
		h.mu.Unlock()
		h.log.Debug("queued until handshake", "type", env.Type, "id", env.ID)
		return nil
	}
	h.mu.Unlock()
	return h.sendWithRetry(ctx, env)
}

// Request sends a correlated request and waits for its response using the
// configured default timeout.
func (h *Host) Request(ctx context.Context, msgType string, payload map[string]any) (map[string]any, error) {
	return h.RequestTimeout(ctx, msgType, payload, h.cfg.MessageTimeout)
}

// RequestTimeout is Request with an explicit per-request timeout. The
// request may be issued before the handshake completes; its envelope is then
// queued but the timeout is armed immediately.
func (h *Host) RequestTimeout(ctx context.Context, msgType string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	env := messages.New(msgType, payload)
	env.ExpectsResponse = true

	p, err := h.newPending(env.ID, timeout)
	if err != nil {
		return nil, err
	}
	if err := h.sendOrQueue(ctx, env); err != nil {
		h.failPending(env.ID, err)
	}
	return h.awaitResponse(ctx, p)
}

// StateVersion returns the host's monotonically increasing state counter.
func (h *Host) StateVersion() uint64 {
	return h.stateVersion.Load()
}

// IncrementStateVersion bumps the state counter after a state-changing
// operation and, once the handshake is complete, re-announces it to the peer
// so missed updates are detectable. The announcement is best effort.
func (h *Host) IncrementStateVersion() uint64 {
	v := h.stateVersion.Add(1)
	h.mu.Lock()
	announce := h.state == HandshakeComplete && !h.disposed
	h.mu.Unlock()
	if announce {
		env := messages.NewHandshakeComplete(v)
		go func() {
			if err := h.sendWithRetry(h.baseCtx, env); err != nil {
				h.log.Warn("state version announce failed", "version", v, "err", err)
			}
		}()
	}
	return v
}

// handleInbound is the host's single transport listener.
func (h *Host) handleInbound(env *messages.Envelope) {
	if h.isDisposed() {
		return
	}
	switch {
	case env.Type == messages.PeerReadyType:
		h.completeHandshake()
	case env.IsResponse || env.Type == messages.ResponseType:
		h.handleResponse(env)
	case env.Type == messages.AckType:
		h.log.Debug("ack received", "responseToId", env.ResponseToID)
	case env.Type == messages.ErrorType:
		h.log.Warn("peer error", "payload", env.Payload)
	case messages.IsControlType(env.Type):
		h.log.Debug("control message ignored", "type", env.Type)
	default:
		h.dispatchApp(env)
	}
}

// Dispose tears the host down: handshake timer cancelled, queue cleared
// unsent, every pending request rejected, listener detached. Idempotent, and
// sends issued afterwards fail with ErrDisposed instead of panicking, since
// teardown is expected to race with in-flight UI events.
func (h *Host) Dispose() {
	h.mu.Lock()
	hsTimer := h.hsTimer
	h.hsTimer = nil
	h.queue = nil
	h.mu.Unlock()
	if hsTimer != nil {
		hsTimer.Stop()
	}
	h.endpoint.dispose()
}
