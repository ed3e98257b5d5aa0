// rtctl is an external automation client: it attaches to a bridge over COMMS
// or a websocket, sends one request or event and prints the outcome as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/dispatcher"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

type options struct {
	url         string
	wsURL       string
	inbox       string
	id          string
	codec       string
	timeout     time.Duration
	dest        string
	kind        string
	action      string
	params      string
	invoke      string
	args        string
	query       string
	objects     []string
	event       bool
	correlation string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("rtctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.url, "url", "nats://127.0.0.1:4222", "COMMS server URL")
	fs.StringVar(&o.wsURL, "ws", "", "bridge websocket URL (ws://host:port/ws); replaces COMMS when set")
	fs.StringVar(&o.inbox, "inbox", "rt.background", "bridge inbox subject")
	fs.StringVar(&o.id, "id", "", "client id (default: rtctl-<random>)")
	fs.StringVar(&o.codec, "codec", "json", "wire codec: json or cbor")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "request timeout")
	fs.StringVarP(&o.dest, "dest", "d", "browser=0", "destination address, e.g. tab=7 or window=0")
	fs.StringVarP(&o.kind, "kind", "k", "", "payload kind: query, command, config or record (default from action)")
	fs.StringVarP(&o.action, "action", "a", "", "action name, e.g. query_property")
	fs.StringVarP(&o.params, "params", "p", "", "action params as JSON")
	fs.StringVarP(&o.invoke, "invoke", "i", "", "shorthand for --action invoke with this command name")
	fs.StringVar(&o.args, "args", "", "JSON array of command arguments for --invoke")
	fs.StringVarP(&o.query, "query", "q", "", "target queryInfo as YAML or JSON")
	fs.StringArrayVar(&o.objects, "object", nil, "explicit target object address (repeatable)")
	fs.BoolVar(&o.event, "event", false, "send as an event and do not wait for an outcome")
	fs.StringVar(&o.correlation, "correlation", "", "correlation id propagated to every hop")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.id == "" {
		o.id = "rtctl-" + uuid.New().String()[:8]
	}
	return o, nil
}

// buildPayload turns the flags into a request payload.
func buildPayload(o *options) (*message.Payload, error) {
	dest, err := rtid.Parse(o.dest)
	if err != nil {
		return nil, fmt.Errorf("--dest: %w", err)
	}

	action := o.action
	var params any
	if o.invoke != "" {
		if action != "" && action != message.ActionInvoke {
			return nil, fmt.Errorf("--invoke conflicts with --action %s", action)
		}
		action = message.ActionInvoke
		ip := message.InvokeParams{Name: o.invoke}
		if o.args != "" {
			if err := json.Unmarshal([]byte(o.args), &ip.Args); err != nil {
				return nil, fmt.Errorf("--args must be a JSON array: %w", err)
			}
		}
		params = ip
	} else if o.params != "" {
		params = json.RawMessage(o.params)
		if !json.Valid(params.(json.RawMessage)) {
			return nil, fmt.Errorf("--params is not valid JSON")
		}
	}
	if action == "" {
		return nil, fmt.Errorf("--action or --invoke is required")
	}

	kind := message.PayloadKind(strings.ToLower(o.kind))
	if kind == "" {
		kind = defaultKind(action)
	}
	p, err := message.NewPayload(kind, dest, action, params)
	if err != nil {
		return nil, err
	}

	if o.query != "" || len(o.objects) > 0 {
		desc := &message.TargetDescription{}
		if o.query != "" {
			var q message.QueryInfo
			if err := yaml.Unmarshal([]byte(o.query), &q); err != nil {
				return nil, fmt.Errorf("--query: %w", err)
			}
			desc.QueryInfo = &q
		}
		for _, s := range o.objects {
			obj, err := rtid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("--object: %w", err)
			}
			desc.Objects = append(desc.Objects, obj)
		}
		p.TargetDescription = desc
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func defaultKind(action string) message.PayloadKind {
	switch action {
	case message.ActionInvoke:
		return message.PayloadCommand
	case message.ActionConfigGet, message.ActionConfigSet:
		return message.PayloadConfig
	default:
		return message.PayloadQuery
	}
}

func run(args []string, stdout io.Writer) error {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	p, err := buildPayload(o)
	if err != nil {
		return err
	}
	codec, err := commsutil.CodecByName(o.codec)
	if err != nil {
		return err
	}

	ctx := dispatcher.WithCorrelationID(context.Background(), o.correlation)
	ch, bridge, closeFn, err := open(ctx, o, codec)
	if err != nil {
		return err
	}
	defer closeFn()

	d, err := dispatcher.New(dispatcher.Params{Name: o.id, Router: dispatcher.ExternalRouter{}, Timeout: o.timeout})
	if err != nil {
		return err
	}
	defer d.Close()
	d.AddRoutingChannel(rtid.ContextBackground, bridge, ch)

	if o.event {
		return d.SendEvent(ctx, p)
	}
	res, err := d.SendRequest(ctx, p, o.timeout)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return res.Err()
}

// open attaches to the bridge and returns the channel, the address to route
// through it and a cleanup function.
func open(ctx context.Context, o *options, codec commsutil.Codec) (channel.Channel, rtid.RTID, func(), error) {
	if o.wsURL != "" {
		sep := "?"
		if strings.Contains(o.wsURL, "?") {
			sep = "&"
		}
		url := fmt.Sprintf("%s%sid=%s&codec=%s", o.wsURL, sep, o.id, codec.Name())
		ch, err := channel.DialWebSocket(ctx, url, "bridge", codec)
		if err != nil {
			return nil, rtid.RTID{}, nil, err
		}
		return ch, rtid.New(), func() { ch.Disconnect("done") }, nil
	}

	nc, err := commsutil.Connect(o.url, commsutil.ConnectOptions{Name: o.id})
	if err != nil {
		return nil, rtid.RTID{}, nil, err
	}
	resp, err := commsutil.Attach(nc, o.inbox, commsutil.AttachRequest{ClientID: o.id, Codec: codec.Name()}, o.timeout)
	if err != nil {
		nc.Close()
		return nil, rtid.RTID{}, nil, err
	}
	ch, err := channel.NewNATSChannel(channel.NATSParams{
		ID:        "bridge",
		Conn:      nc,
		Publish:   resp.Publish,
		Subscribe: resp.Subscribe,
		Codec:     codec,
		OwnsConn:  true,
	})
	if err != nil {
		nc.Close()
		return nil, rtid.RTID{}, nil, err
	}
	return ch, resp.Bridge, func() {
		if err := nc.Publish(commsutil.BuildDetachSubject(o.inbox), []byte(o.id)); err == nil {
			nc.Flush()
		}
		ch.Disconnect("done")
	}, nil
}
