package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbenedict/bridge/messages"
	"github.com/mbenedict/bridge/transport"
)

// Peer is the UI-side endpoint. It has no handshake state of its own: it is
// ready the moment it is constructed, and NewPeer announces that readiness
// to the host immediately. Construct one per UI surface and pass it down
// explicitly; there is no process-wide instance.
type Peer struct {
	*endpoint

	hostVersion atomic.Uint64
	readyOnce   sync.Once
	readyCh     chan struct{} // closed on first handshake-complete
}

// NewPeer creates the UI-side endpoint, attaches its transport listener, and
// announces readiness through the retrying send path. A readiness
// announcement that cannot be delivered fails construction; the host would
// otherwise wait out its handshake budget for nothing.
func NewPeer(tr transport.Transport, opts ...Option) (*Peer, error) {
	s := buildSettings(opts)
	p := &Peer{
		endpoint: newEndpoint(tr, s),
		readyCh:  make(chan struct{}),
	}

	cancel, err := tr.Listen(p.handleInbound)
	if err != nil {
		return nil, fmt.Errorf("attach transport listener: %w", err)
	}
	p.mu.Lock()
	p.cancelListen = cancel
	p.mu.Unlock()

	ready := messages.New(messages.PeerReadyType, nil)
	if err := p.sendWithRetry(p.baseCtx, ready); err != nil {
		p.dispose()
		return nil, fmt.Errorf("announce readiness: %w", err)
	}
	p.log.Debug("peer readiness announced", "id", ready.ID)
	return p, nil
}

// WaitReady blocks until the host confirms the handshake or the context is
// cancelled. Using the peer before then is allowed; this is a convenience
// for callers that want to render only after the host is known to listen.
func (p *Peer) WaitReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-p.done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HostStateVersion returns the most recent state version announced by the
// host. A jump of more than one between observations means updates were
// missed.
func (p *Peer) HostStateVersion() uint64 {
	return p.hostVersion.Load()
}

// SendMessage sends a fire-and-forget message through the retry policy.
func (p *Peer) SendMessage(msgType string, payload map[string]any) error {
	if p.isDisposed() {
		return ErrDisposed
	}
	env := messages.New(msgType, payload)
	return p.sendWithRetry(context.Background(), env)
}

// Request sends a correlated request and waits for its response using the
// configured default timeout.
func (p *Peer) Request(ctx context.Context, msgType string, payload map[string]any) (map[string]any, error) {
	return p.RequestTimeout(ctx, msgType, payload, p.cfg.MessageTimeout)
}

// RequestTimeout is Request with an explicit per-request timeout.
func (p *Peer) RequestTimeout(ctx context.Context, msgType string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	env := messages.New(msgType, payload)
	env.ExpectsResponse = true

	pr, err := p.newPending(env.ID, timeout)
	if err != nil {
		return nil, err
	}
	if err := p.sendWithRetry(ctx, env); err != nil {
		p.failPending(env.ID, err)
	}
	return p.awaitResponse(ctx, pr)
}

// handleInbound is the peer's single transport listener.
func (p *Peer) handleInbound(env *messages.Envelope) {
	if p.isDisposed() {
		return
	}
	switch {
	case env.Type == messages.HandshakeCompleteType:
		p.recordHostVersion(env)
	case env.IsResponse || env.Type == messages.ResponseType:
		p.handleResponse(env)
	case env.Type == messages.AckType:
		p.log.Debug("ack received", "responseToId", env.ResponseToID)
	case env.Type == messages.ErrorType:
		p.log.Warn("host error", "payload", env.Payload)
	case messages.IsControlType(env.Type):
		p.log.Debug("control message ignored", "type", env.Type)
	default:
		p.dispatchApp(env)
	}
}

// recordHostVersion updates the last seen host state version. The first
// handshake-complete also releases WaitReady; later ones are pure version
// announcements.
func (p *Peer) recordHostVersion(env *messages.Envelope) {
	v := stateVersionFromPayload(env.Payload)
	for {
		prev := p.hostVersion.Load()
		if v <= prev {
			break // stale announcement, the counter never moves backwards
		}
		if p.hostVersion.CompareAndSwap(prev, v) {
			if prev != 0 && v > prev+1 {
				p.log.Warn("missed host state updates", "seen", prev, "current", v)
			}
			break
		}
	}
	p.readyOnce.Do(func() {
		p.log.Info("handshake confirmed by host", "stateVersion", v)
		close(p.readyCh)
	})
}

// Dispose tears the peer down. Idempotent.
func (p *Peer) Dispose() {
	p.dispose()
}

// stateVersionFromPayload extracts the version counter, tolerating the
// numeric type changes JSON transports introduce.
func stateVersionFromPayload(payload map[string]any) uint64 {
	raw, ok := payload[messages.StateVersionKey]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case float64:
		return uint64(v)
	case json.Number:
		n, _ := v.Int64()
		return uint64(n)
	default:
		return 0
	}
}
