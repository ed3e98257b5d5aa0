// Package dispatcher is the per-context message router. It resolves a
// destination either to a locally registered handler or to the routing
// channels selected by its Router, and correlates requests with responses.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/events"
	"github.com/morezero/rtbus/pkg/handler"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "dispatcher:dispatcher"

// DefaultTimeout bounds a remote request when neither the call nor the
// dispatcher sets a timeout.
const DefaultTimeout = 500 * time.Millisecond

// publishTimeout bounds one request-completed publish, which runs off the
// caller's path.
const publishTimeout = 2 * time.Second

const tracerName = "github.com/morezero/rtbus/pkg/dispatcher"

// Params configures a Dispatcher.
type Params struct {
	// Name identifies the dispatcher in logs and events.
	Name      string
	Router    Router
	Timeout   time.Duration
	Publisher events.Publisher
	Tracer    trace.Tracer
}

type pendingRequest struct {
	done chan *message.Payload
}

// Dispatcher is created once per execution context and owns its handler
// list, routing table and pending-request table.
type Dispatcher struct {
	name      string
	router    Router
	timeout   time.Duration
	publisher events.Publisher
	tracer    trace.Tracer

	mu       sync.Mutex
	handlers []handler.Handler
	routes   map[rtid.ContextType]map[routeKey]*route
	pending  map[string]*pendingRequest

	publishing sync.WaitGroup
}

// New creates a Dispatcher. Router is required.
func New(p Params) (*Dispatcher, error) {
	if p.Router == nil {
		return nil, fmt.Errorf("%s - dispatcher %q requires a router", logPrefix, p.Name)
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Publisher == nil {
		p.Publisher = &events.NoOpPublisher{}
	}
	if p.Tracer == nil {
		p.Tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		name:      p.Name,
		router:    p.Router,
		timeout:   p.Timeout,
		publisher: p.Publisher,
		tracer:    p.Tracer,
		routes:    make(map[rtid.ContextType]map[routeKey]*route),
		pending:   make(map[string]*pendingRequest),
	}, nil
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// Timeout returns the dispatcher default request timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// AddHandler registers a local handler. Registering the same handler twice
// has no effect.
func (d *Dispatcher) AddHandler(h handler.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.handlers {
		if existing == h {
			return
		}
	}
	d.handlers = append(d.handlers, h)
	slog.Debug(fmt.Sprintf("%s - %s: handler added at %s", logPrefix, d.name, h.Address()))
}

// RemoveHandler unregisters a local handler.
func (d *Dispatcher) RemoveHandler(h handler.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.handlers {
		if existing == h {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			slog.Debug(fmt.Sprintf("%s - %s: handler removed at %s", logPrefix, d.name, h.Address()))
			return
		}
	}
}

// Handlers returns a snapshot of the registered handlers.
func (d *Dispatcher) Handlers() []handler.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]handler.Handler(nil), d.handlers...)
}

func (d *Dispatcher) handlerFor(dest rtid.RTID) handler.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.handlers {
		if h.Address().Equal(dest) {
			return h
		}
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// SendRequest delivers p to its destination and waits for the outcome. A
// timeout of 0 uses the dispatcher default. An ERROR outcome is returned as a
// payload with a nil error; use Payload.Err to inspect it. The error return is
// reserved for NO_ROUTE, TIMEOUT and context cancellation.
func (d *Dispatcher) SendRequest(ctx context.Context, p *message.Payload, timeout time.Duration) (*message.Payload, error) {
	return d.request(ctx, p, timeout, nil)
}

func (d *Dispatcher) request(ctx context.Context, p *message.Payload, timeout time.Duration, exclude channel.Channel) (*message.Payload, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.SendRequest", trace.WithAttributes(
		attribute.String("rt.dispatcher", d.name),
		attribute.String("rt.payload.kind", string(p.Kind)),
		attribute.String("rt.action", p.Action.Name),
		attribute.String("rt.destination", p.Destination.String()),
	))
	defer span.End()

	started := time.Now()
	completed := &events.RequestCompletedEvent{
		Dispatcher:    d.name,
		CorrelationID: CorrelationID(ctx),
		PayloadKind:   string(p.Kind),
		Action:        p.Action.Name,
		Destination:   p.Destination.String(),
		Forwarded:     exclude != nil,
	}

	if h := d.handlerFor(p.Destination); h != nil {
		span.SetAttributes(attribute.Bool("rt.local", true))
		res := d.invoke(ctx, h, p)
		completed.Local = true
		d.complete(ctx, span, completed, started, res, nil)
		return res, nil
	}

	if timeout <= 0 {
		timeout = d.timeout
	}
	targets, err := d.targets(p.Destination, exclude)
	if err != nil {
		d.complete(ctx, span, completed, started, nil, err)
		return nil, err
	}

	syncID, entry := d.register()
	completed.SyncID = syncID
	msg := message.NewRequest(p, syncID)
	msg.CorrelationID = completed.CorrelationID
	for _, ch := range targets {
		ch.Send(msg)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res *message.Payload
	select {
	case res = <-entry.done:
	case <-timer.C:
		if res, err = d.expire(syncID, entry); err != nil {
			err = message.NewError(message.CodeTimeout, "%s %s to %s timed out after %s", p.Kind, p.Action.Name, p.Destination, timeout)
		}
	case <-ctx.Done():
		if res, err = d.expire(syncID, entry); err != nil {
			err = ctx.Err()
		}
	}
	d.complete(ctx, span, completed, started, res, err)
	return res, err
}

// register creates a pending entry under a fresh, unused sync id.
func (d *Dispatcher) register() (string, *pendingRequest) {
	entry := &pendingRequest{done: make(chan *message.Payload, 1)}
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		id := message.NewID()
		if _, taken := d.pending[id]; !taken {
			d.pending[id] = entry
			return id, entry
		}
	}
}

// expire removes the pending entry when it is still present. When a response
// already claimed it, the response is returned instead.
func (d *Dispatcher) expire(syncID string, entry *pendingRequest) (*message.Payload, error) {
	d.mu.Lock()
	_, ok := d.pending[syncID]
	if ok {
		delete(d.pending, syncID)
	}
	d.mu.Unlock()
	if ok {
		return nil, message.ErrTimeout
	}
	return <-entry.done, nil
}

// resolve completes the pending entry for syncID exactly once. Unknown ids are
// ignored.
func (d *Dispatcher) resolve(syncID string, p *message.Payload) bool {
	d.mu.Lock()
	entry, ok := d.pending[syncID]
	if ok {
		delete(d.pending, syncID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	entry.done <- p
	return true
}

// SendEvent delivers p without waiting for an outcome.
func (d *Dispatcher) SendEvent(ctx context.Context, p *message.Payload) error {
	if h := d.handlerFor(p.Destination); h != nil {
		res := d.invoke(ctx, h, p)
		if err := res.Err(); err != nil {
			slog.Warn(fmt.Sprintf("%s - %s: local event %s failed: %v", logPrefix, d.name, p.Action.Name, err))
		}
		return nil
	}

	targets, err := d.targets(p.Destination, nil)
	if err != nil {
		return err
	}
	msg := message.NewEvent(p)
	msg.CorrelationID = CorrelationID(ctx)
	for _, ch := range targets {
		ch.Send(msg)
	}
	return nil
}

// OnMessage is the inbound entry point for every subscribed channel.
func (d *Dispatcher) OnMessage(msg *message.Message, sender channel.Channel) {
	switch msg.Kind {
	case message.KindResponse:
		if !d.resolve(msg.SyncID, msg.Payload) {
			slog.Debug(fmt.Sprintf("%s - %s: ignoring response for unknown syncId %s", logPrefix, d.name, msg.SyncID))
		}
	case message.KindEvent:
		d.onEvent(msg, sender)
	case message.KindRequest:
		go d.serve(msg, sender)
	default:
		slog.Warn(fmt.Sprintf("%s - %s: dropping envelope of kind %q", logPrefix, d.name, msg.Kind))
	}
}

func (d *Dispatcher) onEvent(msg *message.Message, sender channel.Channel) {
	ctx := WithCorrelationID(context.Background(), msg.CorrelationID)
	if h := d.handlerFor(msg.Payload.Destination); h != nil {
		if err := d.invoke(ctx, h, msg.Payload).Err(); err != nil {
			slog.Warn(fmt.Sprintf("%s - %s: event %s failed: %v", logPrefix, d.name, msg.Payload.Action.Name, err))
		}
		return
	}

	targets, err := d.targets(msg.Payload.Destination, sender)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - %s: dropping event %s: %v", logPrefix, d.name, msg.ID, err))
		return
	}
	fwd := msg.Forwarded()
	for _, ch := range targets {
		ch.Send(fwd)
	}
}

// serve answers an inbound request, locally or by forwarding it, and always
// sends a response back to the sender.
func (d *Dispatcher) serve(req *message.Message, sender channel.Channel) {
	ctx := WithCorrelationID(context.Background(), req.CorrelationID)

	res, err := d.request(ctx, req.Payload, 0, sender)
	if err != nil {
		res = req.Payload.Fail(err)
	}
	sender.Send(message.NewResponse(req, res))
}

// invoke runs a local handler, converting errors and panics into an ERROR
// payload.
func (d *Dispatcher) invoke(ctx context.Context, h handler.Handler, p *message.Payload) (res *message.Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - %s: handler at %s panicked: %v", logPrefix, d.name, h.Address(), r))
			res = p.Fail(message.NewError(message.CodeHandlerError, "handler panicked: %v", r))
		}
	}()

	out, err := h.Handle(ctx, p)
	switch {
	case err != nil:
		return p.Fail(err)
	case out == nil:
		out, _ = p.Respond(nil)
		return out
	case out.Status == "":
		out = out.Clone()
		out.Status = message.StatusOK
		return out
	default:
		return out
	}
}

func (d *Dispatcher) complete(ctx context.Context, span trace.Span, event *events.RequestCompletedEvent, started time.Time, res *message.Payload, err error) {
	event.DurationMs = time.Since(started).Milliseconds()
	event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	outcome := err
	if outcome == nil && res != nil {
		outcome = res.Err()
	}
	if outcome != nil {
		event.Status = string(message.StatusError)
		event.ErrorCode = message.AsError(outcome).Code
		span.RecordError(outcome)
		span.SetStatus(codes.Error, event.ErrorCode)
	} else {
		event.Status = string(message.StatusOK)
	}

	pubCtx := context.WithoutCancel(ctx)
	d.publishing.Add(1)
	go func() {
		defer d.publishing.Done()
		ctx, cancel := context.WithTimeout(pubCtx, publishTimeout)
		defer cancel()
		if pubErr := d.publisher.PublishRequestCompleted(ctx, event); pubErr != nil {
			slog.Warn(fmt.Sprintf("%s - %s: failed to publish request event: %v", logPrefix, d.name, pubErr))
		}
	}()
}
