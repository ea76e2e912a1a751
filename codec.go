package ges

import (
	"encoding/json"
	"fmt"
)

// EventCodec defines how a domain event type is encoded to and decoded from
// the opaque payload bytes stored on an Event. Each event type registers
// its codec in an EventTypeRegistry.
type EventCodec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// JSONCodec is a generic EventCodec for JSON-encoded event types.
func JSONCodec[T any]() EventCodec {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[T]) Decode(b []byte) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return v, nil
}

// NamedEventType is implemented by domain event types that want an explicit
// logical name instead of the reflected Go type name.
type NamedEventType interface {
	EventType() string
}

// TypeNameOf returns the canonical logical name for a domain event value.
// If v implements NamedEventType, that value is used; otherwise the
// reflected Go type name (e.g. "main.AccountOpened") is used.
func TypeNameOf(v any) string {
	if named, ok := v.(NamedEventType); ok {
		return named.EventType()
	}
	return fmt.Sprintf("%T", v)
}

// EventTypeRegistry maps a logical event type name to the codec used to
// encode/decode it. The engine dispatches through this registry so stores
// only ever need to persist bytes + a type name + a schema version; they
// never need compile-time knowledge of domain event types.
//
// EventTypeRegistry is safe for concurrent read access once built; it is
// expected to be populated once at startup, before any EventStream is
// constructed, and treated as immutable afterward.
type EventTypeRegistry struct {
	codecs map[string]EventCodec
}

// NewEventTypeRegistry builds a registry from the given type-name -> codec
// map.
func NewEventTypeRegistry(codecs map[string]EventCodec) *EventTypeRegistry {
	reg := &EventTypeRegistry{codecs: make(map[string]EventCodec, len(codecs))}
	for k, v := range codecs {
		reg.codecs[k] = v
	}
	return reg
}

// Register adds or replaces the codec for typeName.
func (r *EventTypeRegistry) Register(typeName string, codec EventCodec) {
	if r.codecs == nil {
		r.codecs = make(map[string]EventCodec)
	}
	r.codecs[typeName] = codec
}

// Encode dispatches to the codec registered for TypeNameOf(v).
func (r *EventTypeRegistry) Encode(v any) (payload []byte, typeName string, err error) {
	typeName = TypeNameOf(v)
	codec, ok := r.codecs[typeName]
	if !ok {
		return nil, "", fmt.Errorf("%w: no codec registered for event type %q", ErrSerialization, typeName)
	}
	payload, err = codec.Encode(v)
	if err != nil {
		return nil, "", fmt.Errorf("%w: encoding %q: %v", ErrSerialization, typeName, err)
	}
	return payload, typeName, nil
}

// Decode dispatches to the codec registered for typeName.
func (r *EventTypeRegistry) Decode(typeName string, payload []byte) (any, error) {
	codec, ok := r.codecs[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered for event type %q", ErrSerialization, typeName)
	}
	v, err := codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v", ErrSerialization, typeName, err)
	}
	return v, nil
}
