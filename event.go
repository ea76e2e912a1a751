package ges

import (
	"encoding/json"
	"time"
)

// ActionMetadata carries optional provenance about why an event was
// produced. All fields are optional; an ActionMetadata with every field
// empty is treated as absent by Event's JSON encoding.
type ActionMetadata struct {
	CorrelationId      string     `json:"CorrelationId,omitempty"`
	CausationId        string     `json:"CausationId,omitempty"`
	OriginatedFromUser string     `json:"OriginatedFromUser,omitempty"`
	EventOccuredAt     *time.Time `json:"EventOccuredAt,omitempty"`
	IdempotentKey      string     `json:"IdempotentKey,omitempty"`
}

// IsEmpty reports whether every field of a is its zero value.
func (a *ActionMetadata) IsEmpty() bool {
	return a == nil || (a.CorrelationId == "" && a.CausationId == "" &&
		a.OriginatedFromUser == "" && a.EventOccuredAt == nil && a.IdempotentKey == "")
}

// Event is the immutable, persisted record of a single occurrence in a
// stream. Payload is opaque UTF-8 bytes, typically JSON produced by the
// EventTypeRegistry codec for Type. Version is the event's zero-based
// position in its owning chunk sequence and must equal that index.
type Event struct {
	Payload           []byte
	Type              string
	Version           int
	SchemaVersion     int
	ExternalSequencer string
	Action            *ActionMetadata
	Metadata          Metadata
}

// eventWire is the bit-exact JSON shape from SPEC_FULL.md / spec.md §6.
type eventWire struct {
	Payload       string          `json:"payload"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	SchemaVersion int             `json:"schemaVersion,omitempty"`
	ExSeq         string          `json:"exseq,omitempty"`
	Action        *ActionMetadata `json:"action,omitempty"`
	Metadata      Metadata        `json:"metadata,omitempty"`
}

// MarshalJSON produces the bit-exact wire form: schemaVersion elided when 1,
// exseq elided when empty, action elided when nil or entirely empty,
// metadata elided when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Payload: string(e.Payload),
		Type:    e.Type,
		Version: e.Version,
		ExSeq:   e.ExternalSequencer,
	}
	if e.SchemaVersion != 1 {
		w.SchemaVersion = e.SchemaVersion
	}
	if !e.Action.IsEmpty() {
		w.Action = e.Action
	}
	if len(e.Metadata) > 0 {
		w.Metadata = e.Metadata
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire form. A missing schemaVersion defaults to 1.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Payload = []byte(w.Payload)
	e.Type = w.Type
	e.Version = w.Version
	e.SchemaVersion = w.SchemaVersion
	if e.SchemaVersion == 0 {
		e.SchemaVersion = 1
	}
	e.ExternalSequencer = w.ExSeq
	e.Action = w.Action
	e.Metadata = w.Metadata
	return nil
}
