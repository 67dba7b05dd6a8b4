package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/mbenedict/bridge/messages"
	"github.com/mbenedict/bridge/transport"
)

// requestResult settles one side of a pending request: a payload on success
// or an error on failure, never both.
type requestResult struct {
	payload map[string]any
	err     error
}

// pendingRequest tracks one in-flight correlated request. Exactly one of a
// matching response, the timer, or disposal settles it, and the settling
// path is whichever removes the entry from the pending table first.
type pendingRequest struct {
	id    string
	ch    chan requestResult // buffered, capacity 1
	timer *time.Timer
}

// endpoint is the machinery shared by both sides of the bridge: the
// pending-request table, the retry-wrapped send path, the dispatcher, and
// disposal. Host and Peer build their send discipline on top of it.
type endpoint struct {
	tr  transport.Transport
	reg *messages.Registry
	cfg Config
	log Logger

	mu           sync.Mutex
	pending      map[string]*pendingRequest
	disposed     bool
	cancelListen func()

	done      chan struct{}
	baseCtx   context.Context
	cancelCtx context.CancelFunc
}

func newEndpoint(tr transport.Transport, s *settings) *endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	return &endpoint{
		tr:        tr,
		reg:       messages.NewRegistry(),
		cfg:       s.cfg,
		log:       s.log,
		pending:   make(map[string]*pendingRequest),
		done:      make(chan struct{}),
		baseCtx:   ctx,
		cancelCtx: cancel,
	}
}

// On registers exactly one handler for a message type. Duplicate or reserved
// registrations fail immediately so misconfiguration is caught at startup.
func (e *endpoint) On(msgType string, h messages.Handler) error {
	return e.reg.Register(msgType, h)
}

func (e *endpoint) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// sendWithRetry attempts a transport send up to cfg.MaxRetries times,
// pausing cfg.RetryDelay between attempts. The last error is returned when
// every attempt fails. Disposal and context cancellation abort the pauses.
func (e *endpoint) sendWithRetry(ctx context.Context, env *messages.Envelope) error {
	b := &backoff.Backoff{Min: e.cfg.RetryDelay, Max: e.cfg.RetryDelay, Factor: 1}
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.tr.Send(ctx, env); err == nil {
			if attempt > 1 {
				e.log.Debug("send succeeded after retry", "type", env.Type, "attempt", attempt)
			}
			return nil
		} else {
			lastErr = err
			e.log.Debug("send attempt failed", "type", env.Type, "attempt", attempt, "err", err)
		}
		if attempt == e.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-e.done:
			return ErrDisposed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("send %q after %d attempts: %w", env.Type, e.cfg.MaxRetries, lastErr)
}

// newPending inserts a pending-request entry and arms its timer. The timer
// is armed inside the critical section, before the entry is published, so a
// concurrent dispose either rejects the insert or sees a stoppable timer.
func (e *endpoint) newPending(id string, timeout time.Duration) (*pendingRequest, error) {
	p := &pendingRequest{
		id: id,
		ch: make(chan requestResult, 1),
	}
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil, ErrDisposed
	}
	p.timer = time.AfterFunc(timeout, func() {
		e.failPending(id, fmt.Errorf("no response within %s: %w", timeout, ErrRequestTimeout))
	})
	e.pending[id] = p
	e.mu.Unlock()
	return p, nil
}

// takePending removes and returns the entry for id, or nil if no such
// request is pending. The caller that takes the entry owns its settlement.
func (e *endpoint) takePending(id string) *pendingRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	return p
}

// failPending settles the pending request id with err, if it is still pending.
func (e *endpoint) failPending(id string, err error) {
	p := e.takePending(id)
	if p == nil {
		return
	}
	p.timer.Stop()
	p.ch <- requestResult{err: err}
}

// awaitResponse blocks until the pending request settles or the caller's
// context is cancelled.
func (e *endpoint) awaitResponse(ctx context.Context, p *pendingRequest) (map[string]any, error) {
	select {
	case res := <-p.ch:
		return res.payload, res.err
	case <-ctx.Done():
		if taken := e.takePending(p.id); taken != nil {
			taken.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// handleResponse correlates a response envelope to its pending request.
// Responses to unknown or already-settled IDs are dropped.
func (e *endpoint) handleResponse(env *messages.Envelope) {
	p := e.takePending(env.ResponseToID)
	if p == nil {
		e.log.Debug("dropping unmatched response", "responseToId", env.ResponseToID)
		return
	}
	p.timer.Stop()
	if env.Error != "" {
		p.ch <- requestResult{err: &RemoteError{Msg: env.Error}}
		return
	}
	p.ch <- requestResult{payload: messages.NormalizePayload(env.Payload)}
}

// dispatchApp routes an inbound application envelope to its registered
// handler on a fresh goroutine, so a slow handler never blocks processing of
// other inbound messages. A message with no registered handler is still
// acknowledged; the sender cannot tell the difference from a handled no-op.
func (e *endpoint) dispatchApp(env *messages.Envelope) {
	handler, ok := e.reg.Lookup(env.Type)
	if !ok {
		e.log.Debug("no handler registered", "type", env.Type)
		go e.acknowledge(env)
		return
	}
	go e.invoke(env, handler)
}

// invoke runs one handler and produces the receiver-side half of the
// request/response contract: a response envelope when one was expected, an
// acknowledgment otherwise. Handler failures never cross message boundaries.
func (e *endpoint) invoke(env *messages.Envelope, handler messages.Handler) {
	payload := messages.NormalizePayload(env.Payload)
	result, err := safeInvoke(e.baseCtx, handler, payload)

	if env.ExpectsResponse {
		var resp *messages.Envelope
		if err != nil {
			resp = messages.NewErrorResponse(env.ID, err.Error())
		} else {
			resp = messages.NewResponse(env.ID, resultPayload(result))
		}
		if serr := e.sendWithRetry(e.baseCtx, resp); serr != nil {
			e.log.Error("response send failed", "type", env.Type, "responseToId", env.ID, "err", serr)
		}
		return
	}

	if err != nil {
		e.log.Error("handler failed", "type", env.Type, "id", env.ID, "err", err)
		return
	}
	e.acknowledge(env)
}

// acknowledge sends the lightweight receipt for a message that does not
// expect a response.
func (e *endpoint) acknowledge(env *messages.Envelope) {
	ack := messages.NewAck(env.ID, nil)
	if err := e.sendWithRetry(e.baseCtx, ack); err != nil {
		e.log.Debug("ack send failed", "responseToId", env.ID, "err", err)
	}
}

// safeInvoke runs a handler, converting panics into errors. Panic values
// that are not errors collapse to a fixed fallback string.
func safeInvoke(ctx context.Context, h messages.Handler, payload map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
			} else {
				err = fmt.Errorf("%s", unknownErrorMsg)
			}
		}
	}()
	return h(ctx, payload)
}

// resultPayload shapes a handler's return value into an envelope payload.
func resultPayload(result any) map[string]any {
	switch v := result.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	default:
		return map[string]any{"result": v}
	}
}

// dispose tears the shared core down: rejects every pending request, cancels
// the handler context, and detaches the transport listener. Idempotent.
func (e *endpoint) dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	pend := e.pending
	e.pending = make(map[string]*pendingRequest)
	cancelListen := e.cancelListen
	e.cancelListen = nil
	e.mu.Unlock()

	close(e.done)
	e.cancelCtx()
	for _, p := range pend {
		p.timer.Stop()
		p.ch <- requestResult{err: ErrDisposed}
	}
	if cancelListen != nil {
		cancelListen()
	}
}
