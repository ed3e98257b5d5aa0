// Package message defines the wire envelope exchanged between execution
// contexts and the payload it carries.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is stamped on every outbound envelope.
const ProtocolVersion = "1.0.0"

// Kind is the envelope kind.
type Kind string

const (
	KindEvent    Kind = "event"
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Message is the envelope moved over channels. SyncID correlates a request
// with its response; CorrelationID is an opaque tracing tag propagated
// unchanged across hops.
type Message struct {
	Kind          Kind     `json:"kind"`
	ID            string   `json:"id"`
	Timestamp     int64    `json:"timestamp"`
	Payload       *Payload `json:"payload"`
	CorrelationID string   `json:"correlationId,omitempty"`
	SyncID        string   `json:"syncId,omitempty"`
	Version       string   `json:"version,omitempty"`
}

// NewID returns a fresh envelope identifier.
func NewID() string {
	return uuid.New().String()
}

func newMessage(kind Kind, p *Payload) *Message {
	return &Message{
		Kind:      kind,
		ID:        NewID(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   p,
		Version:   ProtocolVersion,
	}
}

// NewEvent wraps p in an event envelope.
func NewEvent(p *Payload) *Message {
	return newMessage(KindEvent, p)
}

// NewRequest wraps p in a request envelope correlated by syncID.
func NewRequest(p *Payload, syncID string) *Message {
	m := newMessage(KindRequest, p)
	m.SyncID = syncID
	return m
}

// NewResponse wraps the outcome payload p in a response to req.
func NewResponse(req *Message, p *Payload) *Message {
	m := newMessage(KindResponse, p)
	m.SyncID = req.SyncID
	m.CorrelationID = req.CorrelationID
	return m
}

// Validate checks that m is exactly one well-formed envelope.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("message: nil envelope")
	}
	switch m.Kind {
	case KindEvent:
	case KindRequest, KindResponse:
		if m.SyncID == "" {
			return fmt.Errorf("message: %s without syncId", m.Kind)
		}
	default:
		return fmt.Errorf("message: unknown kind %q", m.Kind)
	}
	if m.Payload == nil {
		return fmt.Errorf("message: %s without payload", m.Kind)
	}
	return m.Payload.Validate()
}

// Forwarded returns a copy suitable for re-emission on another hop: a new id
// and timestamp, the same payload and correlation tag, and no hop-specific
// sync id.
func (m *Message) Forwarded() *Message {
	out := newMessage(m.Kind, m.Payload)
	out.CorrelationID = m.CorrelationID
	return out
}
