// Package channel hides how envelopes move between execution contexts.
//
// A Channel is a bidirectional pipe with an identity and a tri-state
// lifecycle. Base implements the lifecycle, listener fan-out and inbound
// envelope validation; transports embed it and only move bytes.
package channel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/semver"
)

const logPrefix = "channel:channel"

// State is the channel lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener receives every accepted inbound envelope together with the
// channel it arrived on.
type Listener func(msg *message.Message, from Channel)

// Channel is the transport contract the dispatcher routes over.
type Channel interface {
	ID() string
	State() State
	// Send delivers msg to the remote side. On a channel that is not
	// connected it logs a warning and does nothing.
	Send(msg *message.Message)
	// Subscribe registers fn for inbound envelopes and returns a function
	// that removes it.
	Subscribe(fn Listener) (unsubscribe func())
	// OnDisconnect registers fn to run once when the channel disconnects.
	OnDisconnect(fn func(reason string))
	// Disconnect releases the transport. Calling it again has no effect.
	Disconnect(reason string)
}

// Base implements the transport-independent half of Channel.
type Base struct {
	id    string
	codec commsutil.Codec
	self  Channel

	mu           sync.Mutex
	state        State
	listeners    map[int]Listener
	nextListener int
	onDisconnect []func(reason string)
}

// NewBase creates a Base in the connecting state. self is the outer channel
// handed to listeners.
func NewBase(id string, codec commsutil.Codec, self Channel) *Base {
	if codec == nil {
		codec = commsutil.JSONCodec{}
	}
	return &Base{
		id:        id,
		codec:     codec,
		self:      self,
		state:     StateConnecting,
		listeners: make(map[int]Listener),
	}
}

// ID returns the channel identity.
func (b *Base) ID() string { return b.id }

// Codec returns the wire codec.
func (b *Base) Codec() commsutil.Codec { return b.codec }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// MarkConnected moves a connecting channel to connected. A disconnected
// channel stays disconnected.
func (b *Base) MarkConnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateConnecting {
		b.state = StateConnected
	}
}

// MarkDisconnected moves the channel to disconnected and runs the disconnect
// hooks. It reports whether this call performed the transition.
func (b *Base) MarkDisconnected(reason string) bool {
	b.mu.Lock()
	if b.state == StateDisconnected {
		b.mu.Unlock()
		return false
	}
	b.state = StateDisconnected
	hooks := b.onDisconnect
	b.onDisconnect = nil
	b.listeners = make(map[int]Listener)
	b.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - channel %s disconnected: %s", logPrefix, b.id, reason))
	for _, fn := range hooks {
		fn(reason)
	}
	return true
}

// Subscribe registers a listener.
func (b *Base) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// OnDisconnect registers a hook. On an already disconnected channel it runs
// immediately.
func (b *Base) OnDisconnect(fn func(reason string)) {
	b.mu.Lock()
	if b.state == StateDisconnected {
		b.mu.Unlock()
		fn("already disconnected")
		return
	}
	b.onDisconnect = append(b.onDisconnect, fn)
	b.mu.Unlock()
}

// CanSend reports whether delivery may be attempted, logging a warning when
// it may not.
func (b *Base) CanSend(msg *message.Message) bool {
	if st := b.State(); st != StateConnected {
		slog.Warn(fmt.Sprintf("%s - dropping %s %s on %s channel %s", logPrefix, msg.Kind, msg.ID, st, b.id))
		return false
	}
	return true
}

// Encode serializes an outbound envelope.
func (b *Base) Encode(msg *message.Message) ([]byte, error) {
	return b.codec.Marshal(msg)
}

// Deliver decodes raw inbound bytes and fans the envelope out to listeners.
// Anything that is not exactly one valid, version-compatible envelope is
// dropped.
func (b *Base) Deliver(data []byte) {
	var msg message.Message
	if err := b.codec.Unmarshal(data, &msg); err != nil {
		slog.Debug(fmt.Sprintf("%s - channel %s dropped undecodable payload: %v", logPrefix, b.id, err))
		return
	}
	b.DeliverMessage(&msg)
}

// DeliverMessage fans out an already decoded envelope after validation.
func (b *Base) DeliverMessage(msg *message.Message) {
	if err := msg.Validate(); err != nil {
		slog.Debug(fmt.Sprintf("%s - channel %s dropped invalid envelope: %v", logPrefix, b.id, err))
		return
	}
	if !semver.Supported(msg.Version) {
		slog.Debug(fmt.Sprintf("%s - channel %s dropped envelope with protocol %s", logPrefix, b.id, msg.Version))
		return
	}

	b.mu.Lock()
	if b.state == StateDisconnected {
		b.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(msg, b.self)
	}
}
