package messages

import (
	"context"
	"errors"
	"testing"
)

func noop(ctx context.Context, payload map[string]any) (any, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	t.Run("registers and looks up a handler", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register("wizard.step", noop); err != nil {
			t.Fatalf("register failed: %v", err)
		}
		if _, ok := r.Lookup("wizard.step"); !ok {
			t.Fatal("registered handler not found")
		}
		if _, ok := r.Lookup("other.type"); ok {
			t.Fatal("lookup of unregistered type should miss")
		}
	})

	t.Run("duplicate registration fails loudly", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register("wizard.step", noop); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		err := r.Register("wizard.step", noop)
		if !errors.Is(err, ErrDuplicateHandler) {
			t.Fatalf("expected ErrDuplicateHandler, got %v", err)
		}
		// The original handler must survive the failed attempt.
		if _, ok := r.Lookup("wizard.step"); !ok {
			t.Fatal("original handler was lost")
		}
	})

	t.Run("reserved types are rejected", func(t *testing.T) {
		r := NewRegistry()
		for _, ct := range []string{PeerReadyType, AckType, ResponseType} {
			if err := r.Register(ct, noop); !errors.Is(err, ErrReservedType) {
				t.Errorf("registering %q: expected ErrReservedType, got %v", ct, err)
			}
		}
	})

	t.Run("nil handler is rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register("wizard.step", nil); err == nil {
			t.Fatal("expected nil handler registration to fail")
		}
	})
}

func TestTyped(t *testing.T) {
	type stepMsg struct {
		Step  string `json:"step"`
		Order int    `json:"order"`
	}

	t.Run("decodes the payload into the message type", func(t *testing.T) {
		h := Typed(func(ctx context.Context, msg *stepMsg) (any, error) {
			return msg.Step, nil
		})
		result, err := h(context.Background(), map[string]any{"step": "backend", "order": 2})
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if result != "backend" {
			t.Fatalf("expected decoded step, got %v", result)
		}
	})

	t.Run("empty payload decodes to zero values", func(t *testing.T) {
		h := Typed(func(ctx context.Context, msg *stepMsg) (any, error) {
			return msg.Order, nil
		})
		result, err := h(context.Background(), map[string]any{})
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if result != 0 {
			t.Fatalf("expected zero order, got %v", result)
		}
	})
}
