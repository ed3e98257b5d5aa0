package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/message"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
)

// Upgrader is shared by servers accepting channel connections.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketChannel carries envelopes over one websocket connection. JSON
// travels in text frames, other codecs in binary frames.
type WebSocketChannel struct {
	*Base
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	start   sync.Once
}

// NewWebSocketChannel wraps an established connection. The read and
// keepalive loops start with the first Subscribe, so frames sent right after
// the upgrade wait in the socket until someone listens.
func NewWebSocketChannel(id string, conn *websocket.Conn, codec commsutil.Codec) *WebSocketChannel {
	c := &WebSocketChannel{conn: conn, done: make(chan struct{})}
	c.Base = NewBase(id, codec, c)
	c.MarkConnected()
	return c
}

// Subscribe registers a listener and starts reading on first use.
func (c *WebSocketChannel) Subscribe(fn Listener) func() {
	unsubscribe := c.Base.Subscribe(fn)
	c.start.Do(func() {
		go c.readLoop()
		go c.pingLoop()
	})
	return unsubscribe
}

// DialWebSocket connects to url and returns the client side channel.
func DialWebSocket(ctx context.Context, url, id string, codec commsutil.Codec) (*WebSocketChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to dial %s: %w", logPrefix, url, err)
	}
	return NewWebSocketChannel(id, conn, codec), nil
}

// Accept upgrades an HTTP request and returns the server side channel.
func Accept(w http.ResponseWriter, r *http.Request, id string, codec commsutil.Codec) (*WebSocketChannel, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - websocket upgrade failed: %w", logPrefix, err)
	}
	return NewWebSocketChannel(id, conn, codec), nil
}

func (c *WebSocketChannel) frameType() int {
	if c.Codec().Name() == "json" {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// Send writes msg as one frame.
func (c *WebSocketChannel) Send(msg *message.Message) {
	if !c.CanSend(msg) {
		return
	}
	data, err := c.Encode(msg)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - websocket %s failed to encode %s: %v", logPrefix, c.ID(), msg.ID, err))
		return
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err = c.conn.WriteMessage(c.frameType(), data)
	c.writeMu.Unlock()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - websocket %s write failed: %v", logPrefix, c.ID(), err))
		c.Disconnect("write failed: " + err.Error())
	}
}

// Disconnect sends a close frame and releases the connection.
func (c *WebSocketChannel) Disconnect(reason string) {
	if !c.MarkDisconnected(reason) {
		return
	}
	close(c.done)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.conn.Close()
}

func (c *WebSocketChannel) readLoop() {
	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn(fmt.Sprintf("%s - websocket %s read error: %v", logPrefix, c.ID(), err))
			}
			c.Disconnect("connection closed")
			return
		}
		c.Deliver(data)
	}
}

func (c *WebSocketChannel) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.Disconnect("ping failed: " + err.Error())
				return
			}
		}
	}
}
