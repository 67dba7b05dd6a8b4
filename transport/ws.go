package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbenedict/bridge/messages"
)

// WSOption configures a websocket transport.
type WSOption func(*wsConfig)

type wsConfig struct {
	tlsConfig        *tls.Config
	handshakeTimeout time.Duration
	compression      bool
	sendBuffer       int
	pingInterval     time.Duration
	pingTimeout      time.Duration
}

// WithTLSConfig sets the TLS configuration used when dialing a wss:// URL.
func WithTLSConfig(cfg *tls.Config) WSOption {
	return func(c *wsConfig) { c.tlsConfig = cfg }
}

// WithHandshakeTimeout bounds the websocket opening handshake when dialing.
func WithHandshakeTimeout(d time.Duration) WSOption {
	return func(c *wsConfig) { c.handshakeTimeout = d }
}

// WithCompression enables or disables websocket compression.
func WithCompression(enabled bool) WSOption {
	return func(c *wsConfig) { c.compression = enabled }
}

// WithSendBuffer sets the outbound buffer size in envelopes.
func WithSendBuffer(n int) WSOption {
	return func(c *wsConfig) { c.sendBuffer = n }
}

// WithPing enables periodic ping control frames with the given interval and
// pong timeout to keep the connection alive.
func WithPing(interval, timeout time.Duration) WSOption {
	return func(c *wsConfig) {
		c.pingInterval = interval
		c.pingTimeout = timeout
	}
}

// WS is a Transport carried over a websocket connection. Envelopes travel as
// JSON text messages.
type WS struct {
	conn *websocket.Conn

	sendCh    chan []byte
	inbox     chan *messages.Envelope
	closeOnce sync.Once

	mu        sync.Mutex
	listening bool
	closed    bool

	pingInterval time.Duration
	pingTimeout  time.Duration
}

func defaultWSConfig() *wsConfig {
	return &wsConfig{
		handshakeTimeout: 10 * time.Second,
		compression:      true,
		sendBuffer:       128,
	}
}

// DialWS connects to a websocket endpoint and returns the transport for it.
func DialWS(ctx context.Context, url string, opts ...WSOption) (*WS, error) {
	cfg := defaultWSConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout:  cfg.handshakeTimeout,
		EnableCompression: cfg.compression,
		TLSClientConfig:   cfg.tlsConfig,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWS(conn, cfg), nil
}

// UpgradeWS upgrades an inbound HTTP request to a websocket transport.
func UpgradeWS(w http.ResponseWriter, r *http.Request, opts ...WSOption) (*WS, error) {
	cfg := defaultWSConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	upgrader := websocket.Upgrader{EnableCompression: cfg.compression}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWS(conn, cfg), nil
}

func newWS(conn *websocket.Conn, cfg *wsConfig) *WS {
	t := &WS{
		conn:         conn,
		sendCh:       make(chan []byte, cfg.sendBuffer),
		inbox:        make(chan *messages.Envelope, cfg.sendBuffer),
		pingInterval: cfg.pingInterval,
		pingTimeout:  cfg.pingTimeout,
	}
	go t.writePump()
	go t.readPump()
	return t
}

// Send queues an envelope for transmission. It fails fast with
// ErrSendBufferFull when the outbound buffer is at capacity and with
// ErrTransportClosed after Close.
func (t *WS) Send(_ context.Context, env *messages.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	// The closed check and the channel send share the mutex with Close so a
	// racing Close cannot leave us writing to a closed channel.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.sendCh <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Listen attaches the single inbound listener. Envelopes read off the wire
// before Listen are buffered and delivered in order once it attaches.
func (t *WS) Listen(fn Listener) (func(), error) {
	t.mu.Lock()
	if t.listening {
		t.mu.Unlock()
		return nil, ErrListenerBound
	}
	t.listening = true
	t.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case env, ok := <-t.inbox:
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
			t.mu.Lock()
			t.listening = false
			t.mu.Unlock()
		})
	}
	return cancel, nil
}

// Close shuts the connection down. Safe to call more than once.
func (t *WS) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.sendCh)
		t.mu.Unlock()
	})
	return nil
}

// writePump drains the send channel onto the connection, interleaving ping
// control frames when configured.
func (t *WS) writePump() {
	if t.pingInterval > 0 {
		pingTimeout := t.pingTimeout
		if pingTimeout == 0 {
			pingTimeout = 5 * time.Second
		}
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-t.sendCh:
				if !ok {
					_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{})
					_ = t.conn.Close()
					return
				}
				if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				deadline := time.Now().Add(pingTimeout)
				_ = t.conn.WriteControl(websocket.PingMessage, nil, deadline)
			}
		}
	}
	for msg := range t.sendCh {
		if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = t.conn.Close()
}

// readPump reads envelopes off the wire into the inbox until the connection
// drops. Non-text frames and unparsable payloads are skipped.
func (t *WS) readPump() {
	defer close(t.inbox)
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if !isNormalDisconnect(err) {
				// The bridge's retry policy owns recovery; nothing to do here.
				_ = err
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env messages.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		t.inbox <- &env
	}
}

// isNormalDisconnect reports whether an error represents an ordinary
// websocket teardown rather than a fault worth surfacing.
func isNormalDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne *net.OpError
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "unexpected EOF")
}
