package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateHandler is returned when a second handler is registered for a
// message type that already has one.
var ErrDuplicateHandler = errors.New("handler already registered")

// ErrReservedType is returned when application code tries to register a
// handler for a reserved control type.
var ErrReservedType = errors.New("reserved control type")

// Handler processes an inbound message payload and optionally produces a
// result. The payload is always a non-nil keyed mapping. The returned value
// becomes the payload of the response envelope when the sender expects one.
type Handler func(ctx context.Context, payload map[string]any) (any, error)

// Registry maps message types to exactly one handler each. Registering a
// second handler for the same type fails at registration time so that
// misconfiguration is caught at startup rather than at dispatch time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a message type. It returns ErrDuplicateHandler
// if the type already has a handler, and ErrReservedType if the type belongs
// to the protocol's control namespace.
func (r *Registry) Register(msgType string, h Handler) error {
	if IsControlType(msgType) {
		return fmt.Errorf("register %q: %w", msgType, ErrReservedType)
	}
	if h == nil {
		return fmt.Errorf("register %q: nil handler", msgType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[msgType]; exists {
		return fmt.Errorf("register %q: %w", msgType, ErrDuplicateHandler)
	}
	r.handlers[msgType] = h
	return nil
}

// Lookup returns the handler for a message type, if one is registered.
func (r *Registry) Lookup(msgType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[msgType]
	return h, ok
}

// Typed adapts a strongly typed handler into a Handler by re-marshalling the
// payload mapping into T.
func Typed[T any](h func(ctx context.Context, msg *T) (any, error)) Handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		msg := new(T)
		if err := json.Unmarshal(b, msg); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return h(ctx, msg)
	}
}
