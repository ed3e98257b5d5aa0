package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/events"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

func TestNew_RequiresRouter(t *testing.T) {
	if _, err := New(Params{Name: "x"}); err == nil {
		t.Errorf("%s - expected error without router", testPrefix)
	}
	d := newDispatcher(t, "x", BackgroundRouter{}, nil)
	if d.Timeout() != DefaultTimeout {
		t.Errorf("%s - default timeout = %s, want %s", testPrefix, d.Timeout(), DefaultTimeout)
	}
}

func TestSendRequest_NoRoute(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)

	started := time.Now()
	_, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Frame(3, 0), message.ActionQueryProperty, message.PropertyParams{Name: "url"}), time.Second)
	if !errors.Is(err, message.ErrNoRoute) {
		t.Fatalf("%s - expected NO_ROUTE, got %v", testPrefix, err)
	}
	if time.Since(started) > 100*time.Millisecond {
		t.Errorf("%s - NO_ROUTE should not wait for the timeout", testPrefix)
	}
	if d.Pending() != 0 {
		t.Errorf("%s - pending table should be empty, got %d", testPrefix, d.Pending())
	}
}

func TestSendRequest_UnresolvableDestination(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	_, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.New(), message.ActionQueryProperty, nil), 0)
	if !errors.Is(err, message.ErrNoRoute) {
		t.Errorf("%s - expected NO_ROUTE for an address without context, got %v", testPrefix, err)
	}
}

func TestSendRequest_TimesOutAndCleansUp(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(t, "bg", BackgroundRouter{}, rec.publisher())
	spy := newSpyChannel("void")
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), spy)

	started := time.Now()
	_, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Frame(7, 0), message.ActionQueryProperty, message.PropertyParams{Name: "title"}), 100*time.Millisecond)
	elapsed := time.Since(started)

	if !errors.Is(err, message.ErrTimeout) {
		t.Fatalf("%s - expected TIMEOUT, got %v", testPrefix, err)
	}
	if elapsed < 90*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("%s - timed out after %s, want about 100ms", testPrefix, elapsed)
	}
	if d.Pending() != 0 {
		t.Errorf("%s - pending table should be empty, got %d", testPrefix, d.Pending())
	}
	if len(spy.Sent()) != 1 {
		t.Fatalf("%s - expected one outbound request, got %d", testPrefix, len(spy.Sent()))
	}

	// A late response for the expired id is a harmless no-op.
	req := spy.Sent()[0]
	late, _ := req.Payload.Respond("late")
	d.OnMessage(message.NewResponse(req, late), spy)
	if d.Pending() != 0 {
		t.Errorf("%s - late response changed the pending table", testPrefix)
	}

	waitUntil(t, func() bool { return len(rec.Requests()) == 1 })
	reqs := rec.Requests()
	if len(reqs) != 1 || reqs[0].ErrorCode != message.CodeTimeout || reqs[0].SyncID != req.SyncID {
		t.Errorf("%s - expected one TIMEOUT request event, got %+v", testPrefix, reqs)
	}
}

func TestSendRequest_ContextCancel(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), newSpyChannel("void"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := d.SendRequest(ctx, newPayload(t, message.PayloadQuery, rtid.Frame(7, 0), message.ActionQueryProperty, nil), 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("%s - expected context.Canceled, got %v", testPrefix, err)
	}
	if d.Pending() != 0 {
		t.Errorf("%s - pending table should be empty after cancel", testPrefix)
	}
}

func TestSendRequest_LoopbackResult(t *testing.T) {
	a := newDispatcher(t, "a", ExternalRouter{}, nil)
	b := newDispatcher(t, "b", BackgroundRouter{}, nil)
	chA, chB := channel.Pair("a", "b")
	a.AddRoutingChannel(rtid.ContextBackground, rtid.New(), chA)
	b.AddRoutingChannel(rtid.ContextExternal, rtid.External("a"), chB)
	b.AddHandler(&funcHandler{addr: rtid.Tab(7), fn: respondWith(map[string]int{"x": 1})})

	res, err := a.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Tab(7), message.ActionQueryProperty, message.PropertyParams{Name: "x"}), time.Second)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", testPrefix, err)
	}
	if res.Status != message.StatusOK {
		t.Errorf("%s - status = %s, want OK", testPrefix, res.Status)
	}
	var got struct{ X int }
	if err := res.DecodeResult(&got); err != nil || got.X != 1 {
		t.Errorf("%s - result = %s (%v), want {x:1}", testPrefix, res.Result, err)
	}
	if a.Pending() != 0 {
		t.Errorf("%s - pending table should be empty", testPrefix)
	}
}

func TestSendRequest_ConcurrentExactlyOnce(t *testing.T) {
	a := newDispatcher(t, "a", ExternalRouter{}, nil)
	b := newDispatcher(t, "b", BackgroundRouter{}, nil)
	chA, chB := channel.Pair("a", "b")
	a.AddRoutingChannel(rtid.ContextBackground, rtid.New(), chA)
	b.AddRoutingChannel(rtid.ContextExternal, rtid.External("a"), chB)
	b.AddHandler(&funcHandler{addr: rtid.Tab(7), fn: func(_ context.Context, p *message.Payload) (*message.Payload, error) {
		var params message.PropertyParams
		if err := decode(p, &params); err != nil {
			return nil, err
		}
		return p.Respond(params.Name)
	}})

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("prop-%d", i)
			res, err := a.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Tab(7), message.ActionQueryProperty, message.PropertyParams{Name: name}), 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			var got string
			if err := res.DecodeResult(&got); err != nil || got != name {
				errs <- fmt.Errorf("request %d got %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("%s - %v", testPrefix, err)
	}
	if a.Pending() != 0 {
		t.Errorf("%s - pending table should be empty, got %d", testPrefix, a.Pending())
	}
}

func TestOnMessage_UnknownResponseIsNoOp(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	spy := newSpyChannel("s")
	p := newPayload(t, message.PayloadQuery, rtid.Tab(1), message.ActionQueryProperty, nil)
	res, _ := p.Respond(1)

	d.OnMessage(message.NewResponse(&message.Message{SyncID: "never-sent"}, res), spy)
	d.OnMessage(message.NewResponse(&message.Message{SyncID: "never-sent"}, res), spy)

	if d.Pending() != 0 || len(spy.Sent()) != 0 {
		t.Errorf("%s - unknown response should have no effect", testPrefix)
	}
}

func TestLocalHandler_ShortCircuits(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	spy := newSpyChannel("s")
	d.AddRoutingChannel(rtid.ContextBackground, rtid.New(), spy)

	var events int
	d.AddHandler(&funcHandler{addr: rtid.Tab(7), fn: func(_ context.Context, p *message.Payload) (*message.Payload, error) {
		if p.Kind == message.PayloadRecord {
			events++
		}
		return p.Respond("local")
	}})

	res, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Tab(7).WithWindow(3), message.ActionQueryProperty, nil), 0)
	if err != nil || res.Status != message.StatusOK {
		t.Fatalf("%s - local request failed: %v %+v", testPrefix, err, res)
	}
	if err := d.SendEvent(context.Background(), newPayload(t, message.PayloadRecord, rtid.Tab(7), "recorded", nil)); err != nil {
		t.Fatalf("%s - local event failed: %v", testPrefix, err)
	}
	if events != 1 {
		t.Errorf("%s - local handler saw %d events, want 1", testPrefix, events)
	}
	if len(spy.Sent()) != 0 {
		t.Errorf("%s - local delivery touched a channel %d times", testPrefix, len(spy.Sent()))
	}
}

func TestLocalHandler_ErrorsBecomePayloads(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	d.AddHandler(&funcHandler{addr: rtid.Tab(1), fn: func(context.Context, *message.Payload) (*message.Payload, error) {
		return nil, errors.New("tab is gone")
	}})
	d.AddHandler(&funcHandler{addr: rtid.Tab(2), fn: func(context.Context, *message.Payload) (*message.Payload, error) {
		panic("boom")
	}})
	d.AddHandler(&funcHandler{addr: rtid.Tab(3), fn: func(context.Context, *message.Payload) (*message.Payload, error) {
		return nil, message.NewError(message.CodeAmbiguousMatch, "two tabs")
	}})

	tests := []struct {
		dest rtid.RTID
		code string
	}{
		{rtid.Tab(1), message.CodeHandlerError},
		{rtid.Tab(2), message.CodeHandlerError},
		{rtid.Tab(3), message.CodeAmbiguousMatch},
	}
	for _, tt := range tests {
		res, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadCommand, tt.dest, "click", nil), 0)
		if err != nil {
			t.Fatalf("%s - handler failure must not surface as a call error: %v", testPrefix, err)
		}
		if res.Status != message.StatusError || res.Error.Code != tt.code {
			t.Errorf("%s - %s: got %+v, want %s", testPrefix, tt.dest, res.Error, tt.code)
		}
	}
}

func TestRemoveHandler(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	h := &funcHandler{addr: rtid.Tab(1), fn: respondWith(nil)}
	d.AddHandler(h)
	d.AddHandler(h)
	if len(d.Handlers()) != 1 {
		t.Fatalf("%s - duplicate handler registered", testPrefix)
	}
	d.RemoveHandler(h)

	_, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Tab(1), message.ActionQueryProperty, nil), 0)
	if !errors.Is(err, message.ErrNoRoute) {
		t.Errorf("%s - expected NO_ROUTE after removal, got %v", testPrefix, err)
	}
}

func TestForwarding_RequestAcrossTwoHops(t *testing.T) {
	top := newTopology(t)
	top.content.AddHandler(&funcHandler{addr: rtid.Frame(7, 0), fn: respondWith("https://example.com")})

	ctx := WithCorrelationID(context.Background(), "trace-1")
	res, err := top.external.SendRequest(ctx, newPayload(t, message.PayloadQuery, rtid.Frame(7, 0), message.ActionQueryProperty, message.PropertyParams{Name: "url"}), time.Second)
	if err != nil {
		t.Fatalf("%s - forwarded request failed: %v", testPrefix, err)
	}
	var url string
	if err := res.DecodeResult(&url); err != nil || url != "https://example.com" {
		t.Errorf("%s - unexpected result %s", testPrefix, res.Result)
	}

	waitUntil(t, func() bool { return len(top.bgEvents.Requests()) == 1 && len(top.ctEvents.Requests()) == 1 })
	reqs := top.bgEvents.Requests()
	if len(reqs) != 1 || !reqs[0].Forwarded || reqs[0].CorrelationID != "trace-1" {
		t.Errorf("%s - background should record one forwarded request tagged trace-1, got %+v", testPrefix, reqs)
	}
	ct := top.ctEvents.Requests()
	if len(ct) != 1 || !ct[0].Local || ct[0].CorrelationID != "trace-1" {
		t.Errorf("%s - content should record one local request tagged trace-1, got %+v", testPrefix, ct)
	}
	if top.background.Pending() != 0 || top.external.Pending() != 0 {
		t.Errorf("%s - pending tables should be empty", testPrefix)
	}
}

func TestForwarding_NoRouteIsWrapped(t *testing.T) {
	top := newTopology(t)

	res, err := top.external.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Frame(9, 0), message.ActionQueryProperty, nil), time.Second)
	if err != nil {
		t.Fatalf("%s - a wrapped failure should arrive as a payload, got %v", testPrefix, err)
	}
	if !errors.Is(res.Err(), message.ErrNoRoute) {
		t.Errorf("%s - expected NO_ROUTE outcome, got %v", testPrefix, res.Err())
	}
}

func TestForwarding_EventReEmitted(t *testing.T) {
	top := newTopology(t)
	got := make(chan *message.Payload, 1)
	top.content.AddHandler(&funcHandler{addr: rtid.Frame(7, 0), fn: func(_ context.Context, p *message.Payload) (*message.Payload, error) {
		got <- p
		return nil, nil
	}})

	err := top.external.SendEvent(context.Background(), newPayload(t, message.PayloadRecord, rtid.Frame(7, 0), "recorded", nil))
	if err != nil {
		t.Fatalf("%s - send event: %v", testPrefix, err)
	}
	select {
	case p := <-got:
		if p.Action.Name != "recorded" {
			t.Errorf("%s - unexpected event %s", testPrefix, p.Action.Name)
		}
	case <-time.After(time.Second):
		t.Fatalf("%s - event never reached the content handler", testPrefix)
	}
}

func TestForwarding_MainWorldTransitsContent(t *testing.T) {
	top := newTopology(t)
	mainWorld := newDispatcher(t, "main-world", MainWorldRouter{}, nil)
	ctSide, mwSide := channel.Pair("t7f0>mw", "mw>t7f0")
	mwAddr := rtid.Frame(7, 0).WithContext(rtid.ContextMainWorld)
	top.content.AddRoutingChannel(rtid.ContextMainWorld, mwAddr, ctSide)
	mainWorld.AddRoutingChannel(rtid.ContextContent, rtid.Frame(7, 0), mwSide)
	mainWorld.AddHandler(&funcHandler{addr: mwAddr, fn: respondWith("page")})

	res, err := top.external.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, mwAddr, message.ActionQueryProperty, nil), time.Second)
	if err != nil || res.Err() != nil {
		t.Fatalf("%s - main-world request failed: %v / %v", testPrefix, err, res.Err())
	}
}

func TestRoutes_IdempotentAndRemovedOnDisconnect(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(t, "bg", BackgroundRouter{}, rec.publisher())
	a, _ := channel.Pair("port-7", "peer")

	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), a)
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), a)
	if routes := d.Routes(); len(routes) != 1 || routes[0].State != "connected" {
		t.Fatalf("%s - expected one connected route, got %+v", testPrefix, routes)
	}

	replacement := newSpyChannel("port-7")
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), replacement)
	if routes := d.Routes(); len(routes) != 1 {
		t.Fatalf("%s - replacement should overwrite, got %+v", testPrefix, routes)
	}

	// The replaced channel no longer owns the entry.
	a.Disconnect("closed")
	if len(d.Routes()) != 1 {
		t.Errorf("%s - disconnecting a replaced channel removed the live route", testPrefix)
	}

	replacement.Disconnect("tab closed")
	if len(d.Routes()) != 0 {
		t.Errorf("%s - disconnected channel should leave the routing table", testPrefix)
	}

	routeEvents := rec.Routes()
	if len(routeEvents) != 3 || routeEvents[2].Action != "removed" {
		t.Errorf("%s - expected add, add, remove events, got %d", testPrefix, len(routeEvents))
	}
}

func TestRemoveRoutingChannel(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	a, b := channel.Pair("a", "b")
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), a)
	d.RemoveRoutingChannel(rtid.ContextContent, rtid.Tab(7), a)
	d.RemoveRoutingChannel(rtid.ContextContent, rtid.Tab(7), a)

	if len(d.Routes()) != 0 {
		t.Fatalf("%s - route should be removed", testPrefix)
	}
	if a.State() != channel.StateConnected {
		t.Errorf("%s - removing a route must not disconnect the channel", testPrefix)
	}

	// Inbound traffic is no longer fed to the dispatcher.
	p := newPayload(t, message.PayloadQuery, rtid.Tab(7), message.ActionQueryProperty, nil)
	b.Send(message.NewRequest(p, "s1"))
	time.Sleep(20 * time.Millisecond)
	if d.Pending() != 0 {
		t.Errorf("%s - unexpected pending entries", testPrefix)
	}
}

func TestRoutes_PeerMustCoverDestination(t *testing.T) {
	d := newDispatcher(t, "bg", BackgroundRouter{}, nil)
	tab7 := newSpyChannel("t7")
	tab8 := newSpyChannel("t8")
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), tab7)
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(8), tab8)

	if err := d.SendEvent(context.Background(), newPayload(t, message.PayloadRecord, rtid.Frame(8, 2), "x", nil)); err != nil {
		t.Fatalf("%s - send event: %v", testPrefix, err)
	}
	if len(tab7.Sent()) != 0 || len(tab8.Sent()) != 1 {
		t.Errorf("%s - event should only go to tab 8, got %d/%d", testPrefix, len(tab7.Sent()), len(tab8.Sent()))
	}
}

func decode(p *message.Payload, v *message.PropertyParams) error {
	params, err := message.DecodeParams(p)
	if err != nil {
		return err
	}
	*v = params.(message.PropertyParams)
	return nil
}

func TestSendRequest_SlowPublisherDoesNotStretchTimeout(t *testing.T) {
	release := make(chan struct{})
	published := make(chan *events.RequestCompletedEvent, 1)
	slow := events.NewCallbackPublisher(nil, func(ctx context.Context, e *events.RequestCompletedEvent) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		published <- e
		return nil
	})
	d := newDispatcher(t, "bg", BackgroundRouter{}, slow)
	d.AddRoutingChannel(rtid.ContextContent, rtid.Tab(7), newSpyChannel("void"))

	started := time.Now()
	_, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Frame(7, 0), message.ActionQueryProperty, message.PropertyParams{Name: "title"}), 100*time.Millisecond)
	elapsed := time.Since(started)

	if !errors.Is(err, message.ErrTimeout) {
		t.Fatalf("%s - expected TIMEOUT, got %v", testPrefix, err)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("%s - a blocked publisher held the request for %s", testPrefix, elapsed)
	}

	close(release)
	select {
	case e := <-published:
		if e.ErrorCode != message.CodeTimeout {
			t.Errorf("%s - expected a TIMEOUT request event, got %+v", testPrefix, e)
		}
	case <-time.After(time.Second):
		t.Fatalf("%s - request event was never published", testPrefix)
	}
	d.Close()
}

func TestClose_WaitsForRequestEvents(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(t, "bg", BackgroundRouter{}, rec.publisher())
	if _, err := d.SendRequest(context.Background(), newPayload(t, message.PayloadQuery, rtid.Frame(7, 0), message.ActionQueryProperty, nil), 0); !errors.Is(err, message.ErrNoRoute) {
		t.Fatalf("%s - expected NO_ROUTE, got %v", testPrefix, err)
	}
	d.Close()
	if len(rec.Requests()) != 1 {
		t.Errorf("%s - Close returned before the request event was published", testPrefix)
	}
}
