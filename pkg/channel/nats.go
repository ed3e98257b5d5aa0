package channel

import (
	"fmt"
	"log/slog"

	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/message"
	comms "github.com/nats-io/nats.go"
)

// NATSParams configures a NATSChannel. The two subjects form the pipe: this
// side publishes on Publish and listens on Subscribe, the peer the reverse.
type NATSParams struct {
	ID        string
	Conn      *comms.Conn
	Publish   string
	Subscribe string
	Codec     commsutil.Codec
	// OwnsConn closes Conn when the channel disconnects.
	OwnsConn bool
}

// NATSChannel carries envelopes over a pair of COMMS subjects.
type NATSChannel struct {
	*Base
	nc       *comms.Conn
	pubSubj  string
	sub      *comms.Subscription
	ownsConn bool
}

// NewNATSChannel subscribes to the inbound subject and returns a connected
// channel.
func NewNATSChannel(p NATSParams) (*NATSChannel, error) {
	if p.Conn == nil {
		return nil, fmt.Errorf("%s - nats channel %s requires a connection", logPrefix, p.ID)
	}
	if p.Publish == "" || p.Subscribe == "" {
		return nil, fmt.Errorf("%s - nats channel %s requires publish and subscribe subjects", logPrefix, p.ID)
	}
	id := p.ID
	if id == "" {
		id = p.Publish + "<>" + p.Subscribe
	}

	c := &NATSChannel{nc: p.Conn, pubSubj: p.Publish, ownsConn: p.OwnsConn}
	c.Base = NewBase(id, p.Codec, c)

	sub, err := p.Conn.Subscribe(p.Subscribe, func(m *comms.Msg) {
		c.Deliver(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, p.Subscribe, err)
	}
	c.sub = sub
	c.MarkConnected()

	slog.Info(fmt.Sprintf("%s - nats channel %s: publish=%s subscribe=%s codec=%s",
		logPrefix, id, p.Publish, p.Subscribe, c.Codec().Name()))
	return c, nil
}

// Send publishes msg on the outbound subject.
func (c *NATSChannel) Send(msg *message.Message) {
	if !c.CanSend(msg) {
		return
	}
	data, err := c.Encode(msg)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - nats channel %s failed to encode %s: %v", logPrefix, c.ID(), msg.ID, err))
		return
	}
	if err := c.nc.Publish(c.pubSubj, data); err != nil {
		slog.Error(fmt.Sprintf("%s - nats channel %s failed to publish %s: %v", logPrefix, c.ID(), msg.ID, err))
	}
}

// Disconnect drops the subscription and, when owned, the connection.
func (c *NATSChannel) Disconnect(reason string) {
	if !c.MarkDisconnected(reason) {
		return
	}
	if err := c.sub.Unsubscribe(); err != nil && err != comms.ErrConnectionClosed {
		slog.Warn(fmt.Sprintf("%s - nats channel %s unsubscribe: %v", logPrefix, c.ID(), err))
	}
	if c.ownsConn {
		c.nc.Close()
	}
}
