package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/events"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

const testPrefix = "dispatcher:dispatcher_test"

// funcHandler is a Handler backed by a function.
type funcHandler struct {
	addr rtid.RTID
	fn   func(ctx context.Context, p *message.Payload) (*message.Payload, error)
}

func (h *funcHandler) Address() rtid.RTID { return h.addr }

func (h *funcHandler) Handle(ctx context.Context, p *message.Payload) (*message.Payload, error) {
	return h.fn(ctx, p)
}

func respondWith(result any) func(context.Context, *message.Payload) (*message.Payload, error) {
	return func(_ context.Context, p *message.Payload) (*message.Payload, error) {
		return p.Respond(result)
	}
}

// spyChannel records outbound messages and never answers.
type spyChannel struct {
	*channel.Base
	mu   sync.Mutex
	sent []*message.Message
}

func newSpyChannel(id string) *spyChannel {
	s := &spyChannel{}
	s.Base = channel.NewBase(id, nil, s)
	s.MarkConnected()
	return s
}

func (s *spyChannel) Send(msg *message.Message) {
	if !s.CanSend(msg) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
}

func (s *spyChannel) Disconnect(reason string) {
	s.MarkDisconnected(reason)
}

func (s *spyChannel) Sent() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.Message(nil), s.sent...)
}

type recorder struct {
	mu       sync.Mutex
	routes   []*events.RouteChangedEvent
	requests []*events.RequestCompletedEvent
}

func (r *recorder) publisher() events.Publisher {
	return events.NewCallbackPublisher(
		func(_ context.Context, e *events.RouteChangedEvent) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.routes = append(r.routes, e)
			return nil
		},
		func(_ context.Context, e *events.RequestCompletedEvent) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.requests = append(r.requests, e)
			return nil
		},
	)
}

func (r *recorder) Requests() []*events.RequestCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.RequestCompletedEvent(nil), r.requests...)
}

func (r *recorder) Routes() []*events.RouteChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.RouteChangedEvent(nil), r.routes...)
}

func newDispatcher(t *testing.T, name string, router Router, pub events.Publisher) *Dispatcher {
	t.Helper()
	d, err := New(Params{Name: name, Router: router, Publisher: pub})
	if err != nil {
		t.Fatalf("%s - new dispatcher: %v", testPrefix, err)
	}
	return d
}

func newPayload(t *testing.T, kind message.PayloadKind, dest rtid.RTID, action string, params any) *message.Payload {
	t.Helper()
	p, err := message.NewPayload(kind, dest, action, params)
	if err != nil {
		t.Fatalf("%s - payload: %v", testPrefix, err)
	}
	return p
}

// topology is an external client, a background and the content script of
// tab 7 frame 0, connected by loopback pairs.
type topology struct {
	external   *Dispatcher
	background *Dispatcher
	content    *Dispatcher
	bgEvents   *recorder
	ctEvents   *recorder
}

func newTopology(t *testing.T) *topology {
	t.Helper()
	top := &topology{bgEvents: &recorder{}, ctEvents: &recorder{}}
	top.external = newDispatcher(t, "external", ExternalRouter{}, nil)
	top.background = newDispatcher(t, "background", BackgroundRouter{}, top.bgEvents.publisher())
	top.content = newDispatcher(t, "content", ContentRouter{Self: rtid.Frame(7, 0)}, top.ctEvents.publisher())

	extSide, bgExtSide := channel.Pair("ext>bg", "bg>ext")
	top.external.AddRoutingChannel(rtid.ContextBackground, rtid.New(), extSide)
	top.background.AddRoutingChannel(rtid.ContextExternal, rtid.External("cli"), bgExtSide)

	bgTabSide, tabSide := channel.Pair("bg>t7", "t7>bg")
	top.background.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), bgTabSide)
	top.content.AddRoutingChannel(rtid.ContextBackground, rtid.New(), tabSide)
	return top
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s - condition not met in time", testPrefix)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
