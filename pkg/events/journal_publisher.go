package events

import (
	"context"
	"fmt"
)

// RequestStore persists request outcomes. pkg/db's JournalRepository
// implements it.
type RequestStore interface {
	InsertRequest(ctx context.Context, event *RequestCompletedEvent) error
}

// JournalPublisher writes request outcomes to a RequestStore. Route changes
// are not journaled.
type JournalPublisher struct {
	store RequestStore
}

// NewJournalPublisher creates a new JournalPublisher.
func NewJournalPublisher(store RequestStore) *JournalPublisher {
	return &JournalPublisher{store: store}
}

func (p *JournalPublisher) PublishRouteChanged(_ context.Context, _ *RouteChangedEvent) error {
	return nil
}

func (p *JournalPublisher) PublishRequestCompleted(ctx context.Context, event *RequestCompletedEvent) error {
	if err := p.store.InsertRequest(ctx, event); err != nil {
		return fmt.Errorf("events:journal_publisher - failed to journal %s: %w", event.SyncID, err)
	}
	return nil
}
