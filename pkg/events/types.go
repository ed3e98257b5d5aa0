// Package events defines dispatcher lifecycle events and the publishers that
// carry them to COMMS subjects, the request journal or test callbacks.
package events

// RouteAction says how the routing table changed.
type RouteAction string

const (
	RouteAdded   RouteAction = "added"
	RouteRemoved RouteAction = "removed"
)

// RouteChangedEvent is emitted when a dispatcher adds or removes a routing
// channel.
type RouteChangedEvent struct {
	Dispatcher string      `json:"dispatcher"`
	Action     RouteAction `json:"action"`
	Context    string      `json:"context"`
	Peer       string      `json:"peer"`
	ChannelID  string      `json:"channelId"`
	Reason     string      `json:"reason,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// RequestCompletedEvent is emitted once per request a dispatcher finished,
// whether it was answered, failed or timed out.
type RequestCompletedEvent struct {
	Dispatcher    string `json:"dispatcher"`
	SyncID        string `json:"syncId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	PayloadKind   string `json:"payloadKind"`
	Action        string `json:"action"`
	Destination   string `json:"destination"`
	Status        string `json:"status"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Local         bool   `json:"local"`
	Forwarded     bool   `json:"forwarded"`
	DurationMs    int64  `json:"durationMs"`
	Timestamp     string `json:"timestamp"`
}
