package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rtbus/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	RouteSubject   string
	RequestSubject string
}

// CommsPublisher publishes dispatcher events to COMMS subjects. Every event
// goes to the global subject and to a granular subject per dispatcher.
type CommsPublisher struct {
	nc             *comms.Conn
	routeSubject   string
	requestSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{
		nc:             nc,
		routeSubject:   commsutil.SubjectRouteEvents,
		requestSubject: commsutil.SubjectRequestLog,
	}
	if opts != nil {
		if opts.RouteSubject != "" {
			p.routeSubject = opts.RouteSubject
		}
		if opts.RequestSubject != "" {
			p.requestSubject = opts.RequestSubject
		}
	}
	return p
}

func (p *CommsPublisher) PublishRouteChanged(_ context.Context, event *RouteChangedEvent) error {
	return p.publish(p.routeSubject, event.Dispatcher, event)
}

func (p *CommsPublisher) PublishRequestCompleted(_ context.Context, event *RequestCompletedEvent) error {
	return p.publish(p.requestSubject, event.Dispatcher, event)
}

func (p *CommsPublisher) publish(base, dispatcher string, event any) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granular := commsutil.BuildEventSubject(base, dispatcher)
	for _, subject := range []string{granular, base} {
		if err := p.nc.Publish(subject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return err
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published event to %s", commsPublisherLogPrefix, granular))
	return nil
}
