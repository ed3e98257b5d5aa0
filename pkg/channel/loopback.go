package channel

import (
	"fmt"
	"log/slog"

	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/message"
)

// Loopback is one end of an in-process channel pair. Messages are encoded and
// decoded on every hop so the two ends never share envelope memory.
type Loopback struct {
	*Base
	peer *Loopback
}

// Pair returns two connected loopback ends. Delivery is synchronous, which
// preserves send order.
func Pair(idA, idB string) (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.Base = NewBase(idA, commsutil.JSONCodec{}, a)
	b.Base = NewBase(idB, commsutil.JSONCodec{}, b)
	a.peer = b
	b.peer = a
	a.MarkConnected()
	b.MarkConnected()
	return a, b
}

// Send delivers msg to the peer end.
func (l *Loopback) Send(msg *message.Message) {
	if !l.CanSend(msg) {
		return
	}
	data, err := l.Encode(msg)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - loopback %s failed to encode %s: %v", logPrefix, l.ID(), msg.ID, err))
		return
	}
	l.peer.Deliver(data)
}

// Disconnect closes both ends.
func (l *Loopback) Disconnect(reason string) {
	if l.MarkDisconnected(reason) {
		l.peer.Disconnect("peer disconnected: " + reason)
	}
}
