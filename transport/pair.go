package transport

import (
	"context"
	"sync"

	"github.com/mbenedict/bridge/messages"
)

// pairBuffer is the inbound buffer size for each side of an in-memory pair.
const pairBuffer = 256

// PairSide is one end of an in-memory transport pair. It models the host's
// postMessage primitive: asynchronous, ordered, with an optionally absent
// listener on the far side.
type PairSide struct {
	peer *PairSide

	inbox chan *messages.Envelope

	mu           sync.Mutex
	listening    bool
	closed       bool
	dropNoListen bool
	failNext     int
}

// Pair returns two linked in-memory transports. An envelope sent on one side
// is delivered, in send order, to the listener attached on the other side.
// Envelopes sent before the far side attaches a listener are buffered unless
// DropUnlistened is enabled there.
func Pair() (*PairSide, *PairSide) {
	a := &PairSide{inbox: make(chan *messages.Envelope, pairBuffer)}
	b := &PairSide{inbox: make(chan *messages.Envelope, pairBuffer)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send hands a copy of the envelope to the far side. It fails after Close,
// when a fault has been injected with FailNext, or when the far side's inbox
// is full.
func (p *PairSide) Send(_ context.Context, env *messages.Envelope) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrTransportClosed
	}
	if p.failNext > 0 {
		p.failNext--
		p.mu.Unlock()
		return ErrSendFault
	}
	p.mu.Unlock()

	peer := p.peer
	peer.mu.Lock()
	drop := !peer.listening && peer.dropNoListen
	peer.mu.Unlock()
	if drop {
		// A not-yet-attached listener loses the message on the floor,
		// exactly the race the handshake exists to prevent.
		return nil
	}

	select {
	case peer.inbox <- env.Clone():
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Listen attaches the side's single listener and starts delivery of any
// buffered envelopes. The returned cancel func detaches it.
func (p *PairSide) Listen(fn Listener) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listening {
		return nil, ErrListenerBound
	}
	p.listening = true
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			case env, ok := <-p.inbox:
				if !ok {
					return
				}
				fn(env)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			p.mu.Lock()
			p.listening = false
			p.mu.Unlock()
		})
	}
	return cancel, nil
}

// DropUnlistened controls whether envelopes arriving while no listener is
// attached are discarded instead of buffered.
func (p *PairSide) DropUnlistened(drop bool) {
	p.mu.Lock()
	p.dropNoListen = drop
	p.mu.Unlock()
}

// FailNext makes the next n Send calls fail with ErrSendFault.
func (p *PairSide) FailNext(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

// Close marks the side closed. Subsequent Sends fail with ErrTransportClosed.
func (p *PairSide) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
