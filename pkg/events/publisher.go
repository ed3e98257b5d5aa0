package events

import (
	"context"
	"errors"
)

// Publisher receives dispatcher lifecycle events.
type Publisher interface {
	PublishRouteChanged(ctx context.Context, event *RouteChangedEvent) error
	PublishRequestCompleted(ctx context.Context, event *RequestCompletedEvent) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

func (p *NoOpPublisher) PublishRouteChanged(_ context.Context, _ *RouteChangedEvent) error {
	return nil
}

func (p *NoOpPublisher) PublishRequestCompleted(_ context.Context, _ *RequestCompletedEvent) error {
	return nil
}

// CallbackPublisher hands events to callbacks (for testing). Nil callbacks
// ignore their event type.
type CallbackPublisher struct {
	onRoute   func(ctx context.Context, event *RouteChangedEvent) error
	onRequest func(ctx context.Context, event *RequestCompletedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(
	onRoute func(ctx context.Context, event *RouteChangedEvent) error,
	onRequest func(ctx context.Context, event *RequestCompletedEvent) error,
) *CallbackPublisher {
	return &CallbackPublisher{onRoute: onRoute, onRequest: onRequest}
}

func (p *CallbackPublisher) PublishRouteChanged(ctx context.Context, event *RouteChangedEvent) error {
	if p.onRoute == nil {
		return nil
	}
	return p.onRoute(ctx, event)
}

func (p *CallbackPublisher) PublishRequestCompleted(ctx context.Context, event *RequestCompletedEvent) error {
	if p.onRequest == nil {
		return nil
	}
	return p.onRequest(ctx, event)
}

// MultiPublisher fans each event out to every publisher and joins their
// errors.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishRouteChanged(ctx context.Context, event *RouteChangedEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishRouteChanged(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishRequestCompleted(ctx context.Context, event *RequestCompletedEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishRequestCompleted(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
