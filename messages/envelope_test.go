package messages

import (
	"encoding/json"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("assigns unique ids", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			env := New("wizard.step", nil)
			if env.ID == "" {
				t.Fatal("envelope ID must not be empty")
			}
			if seen[env.ID] {
				t.Fatalf("duplicate envelope ID %q", env.ID)
			}
			seen[env.ID] = true
		}
	})

	t.Run("sets type and timestamp", func(t *testing.T) {
		env := New("wizard.step", map[string]any{"order": 1})
		if env.Type != "wizard.step" {
			t.Errorf("expected type wizard.step, got %q", env.Type)
		}
		if env.Timestamp.IsZero() {
			t.Error("expected a timestamp")
		}
		if env.Payload["order"] != 1 {
			t.Errorf("unexpected payload: %v", env.Payload)
		}
	})
}

func TestNewResponse(t *testing.T) {
	t.Run("correlates to the request", func(t *testing.T) {
		req := New("project.scaffold", nil)
		resp := NewResponse(req.ID, map[string]any{"status": "ok"})
		if !resp.IsResponse {
			t.Error("response envelope must set isResponse")
		}
		if resp.ResponseToID != req.ID {
			t.Errorf("responseToId %q, want %q", resp.ResponseToID, req.ID)
		}
		if resp.Type != ResponseType {
			t.Errorf("expected type %q, got %q", ResponseType, resp.Type)
		}
	})

	t.Run("error response carries the message", func(t *testing.T) {
		resp := NewErrorResponse("some-id", "boom")
		if resp.Error != "boom" {
			t.Errorf("expected error string, got %q", resp.Error)
		}
		if !resp.IsResponse {
			t.Error("error response must still be a response")
		}
	})
}

func TestIsControlType(t *testing.T) {
	controls := []string{PeerReadyType, HandshakeCompleteType, AckType, ResponseType, ErrorType}
	for _, ct := range controls {
		if !IsControlType(ct) {
			t.Errorf("%q should be a control type", ct)
		}
	}
	for _, app := range []string{"wizard.step", "project.scaffold", "test-message"} {
		if IsControlType(app) {
			t.Errorf("%q should not be a control type", app)
		}
	}
}

func TestNormalizePayload(t *testing.T) {
	if got := NormalizePayload(nil); got == nil || len(got) != 0 {
		t.Fatalf("nil payload should normalize to an empty map, got %v", got)
	}
	in := map[string]any{"k": "v"}
	if got := NormalizePayload(in); len(got) != 1 || got["k"] != "v" {
		t.Fatalf("non-nil payload should pass through, got %v", got)
	}
}

func TestClone(t *testing.T) {
	env := New("wizard.step", map[string]any{"order": 1})
	cp := env.Clone()
	cp.Payload["order"] = 2
	if env.Payload["order"] != 1 {
		t.Fatal("clone must not share payload state with the original")
	}
}

func TestNewHandshakeComplete(t *testing.T) {
	env := NewHandshakeComplete(3)
	if env.Type != HandshakeCompleteType {
		t.Fatalf("expected type %q, got %q", HandshakeCompleteType, env.Type)
	}
	if env.Payload[StateVersionKey] != uint64(3) {
		t.Fatalf("expected %q key carrying 3, got %v", StateVersionKey, env.Payload)
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Payload[StateVersionKey] != float64(3) {
		t.Fatalf("expected state version 3 on the wire, got %v", decoded.Payload)
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := New("wizard.step", map[string]any{"order": 1})
	env.ExpectsResponse = true

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"id", "type", "timestamp", "payload", "expectsResponse"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire format missing %q: %s", key, b)
		}
	}
	if _, ok := m["responseToId"]; ok {
		t.Error("responseToId should be omitted on requests")
	}
}
