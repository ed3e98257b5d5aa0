// Package commsutil provides COMMS connection helpers, wire codecs and subject
// naming shared by the NATS channel, the bridge server and the CLI.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// ConnectOptions tunes the COMMS connection. Zero values use defaults.
type ConnectOptions struct {
	Name          string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	// OnClosed runs once the connection is closed for good, by Close or after
	// reconnects are exhausted. Short drops that reconnect do not trigger it.
	OnClosed func(err error)
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.Name == "" {
		o.Name = "rtbus"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 60
	}
	return o
}

// Connect creates a COMMS connection to the given URL.
func Connect(url string, opts ConnectOptions) (*comms.Conn, error) {
	opts = opts.withDefaults()
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, opts.Name))

	nc, err := comms.Connect(url,
		comms.Name(opts.Name),
		comms.Timeout(opts.Timeout),
		comms.ReconnectWait(opts.ReconnectWait),
		comms.MaxReconnects(opts.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(closedHandler(opts.OnClosed)),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// NotifyClosed installs fn as the closed handler of a connection created
// elsewhere, replacing any previous one.
func NotifyClosed(nc *comms.Conn, fn func(err error)) {
	nc.SetClosedHandler(closedHandler(fn))
}

func closedHandler(fn func(err error)) comms.ConnHandler {
	return func(nc *comms.Conn) {
		slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		if fn != nil {
			fn(nc.LastError())
		}
	}
}
