package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbenedict/bridge/messages"
)

// wsTestServer upgrades one connection and hands its transport to the test.
func wsTestServer(t *testing.T) (*httptest.Server, <-chan *WS) {
	t.Helper()
	serverSide := make(chan *WS, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := UpgradeWS(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(srv.Close)
	return srv, serverSide
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func TestWS(t *testing.T) {
	t.Run("round trips envelopes both ways", func(t *testing.T) {
		srv, serverSide := wsTestServer(t)

		client, err := DialWS(context.Background(), wsURL(srv))
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		defer client.Close()
		server := <-serverSide
		defer server.Close()

		fromClient := make(chan *messages.Envelope, 1)
		if _, err := server.Listen(func(env *messages.Envelope) { fromClient <- env }); err != nil {
			t.Fatalf("server listen failed: %v", err)
		}
		fromServer := make(chan *messages.Envelope, 1)
		if _, err := client.Listen(func(env *messages.Envelope) { fromServer <- env }); err != nil {
			t.Fatalf("client listen failed: %v", err)
		}

		sent := messages.New("wizard.step", map[string]any{"order": 1})
		sent.ExpectsResponse = true
		if err := client.Send(context.Background(), sent); err != nil {
			t.Fatalf("client send failed: %v", err)
		}

		select {
		case got := <-fromClient:
			if got.ID != sent.ID || got.Type != sent.Type {
				t.Fatalf("envelope mangled in transit: %+v", got)
			}
			if !got.ExpectsResponse {
				t.Error("expectsResponse flag lost in transit")
			}
			// JSON numbers arrive as float64.
			if got.Payload["order"] != float64(1) {
				t.Errorf("unexpected payload: %v", got.Payload)
			}
			if err := server.Send(context.Background(), messages.NewResponse(got.ID, nil)); err != nil {
				t.Fatalf("server send failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("server never received the envelope")
		}

		select {
		case got := <-fromServer:
			if !got.IsResponse || got.ResponseToID != sent.ID {
				t.Fatalf("response mangled in transit: %+v", got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client never received the response")
		}
	})

	t.Run("buffers inbound envelopes until a listener attaches", func(t *testing.T) {
		srv, serverSide := wsTestServer(t)

		client, err := DialWS(context.Background(), wsURL(srv))
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		defer client.Close()
		server := <-serverSide
		defer server.Close()

		if err := server.Send(context.Background(), messages.New("early.bird", nil)); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		// Attach after the envelope is already on the wire.
		time.Sleep(50 * time.Millisecond)
		got := make(chan *messages.Envelope, 1)
		if _, err := client.Listen(func(env *messages.Envelope) { got <- env }); err != nil {
			t.Fatalf("listen failed: %v", err)
		}
		select {
		case env := <-got:
			if env.Type != "early.bird" {
				t.Fatalf("unexpected envelope: %s", env.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("buffered envelope never delivered")
		}
	})

	t.Run("sends fail after close", func(t *testing.T) {
		srv, serverSide := wsTestServer(t)

		client, err := DialWS(context.Background(), wsURL(srv))
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		<-serverSide

		_ = client.Close()
		_ = client.Close() // close is idempotent
		if err := client.Send(context.Background(), messages.New("x", nil)); err == nil {
			t.Fatal("expected send after close to fail")
		}
	})

	t.Run("second listener is rejected", func(t *testing.T) {
		srv, serverSide := wsTestServer(t)

		client, err := DialWS(context.Background(), wsURL(srv))
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		defer client.Close()
		<-serverSide

		if _, err := client.Listen(func(*messages.Envelope) {}); err != nil {
			t.Fatalf("first listen failed: %v", err)
		}
		if _, err := client.Listen(func(*messages.Envelope) {}); err == nil {
			t.Fatal("expected second listen to fail")
		}
	})
}
