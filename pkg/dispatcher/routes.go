package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/events"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

type routeKey struct {
	peer      string
	channelID string
}

type route struct {
	context     rtid.ContextType
	peer        rtid.RTID
	ch          channel.Channel
	unsubscribe func()
}

// Route is a snapshot of one routing-table entry.
type Route struct {
	Context   rtid.ContextType `json:"context"`
	Peer      rtid.RTID        `json:"peer"`
	ChannelID string           `json:"channelId"`
	State     string           `json:"state"`
}

// AddRoutingChannel registers ch as the way to reach peer in bucket ct and
// feeds its inbound messages into OnMessage. Registering the same channel
// again has no effect; a different channel with the same identity replaces
// the old entry. A channel that disconnects is removed.
func (d *Dispatcher) AddRoutingChannel(ct rtid.ContextType, peer rtid.RTID, ch channel.Channel) {
	key := routeKey{peer: peer.String(), channelID: ch.ID()}

	d.mu.Lock()
	if existing, ok := d.routes[ct][key]; ok && existing.ch == ch {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	r := &route{context: ct, peer: peer, ch: ch}
	r.unsubscribe = ch.Subscribe(d.OnMessage)

	d.mu.Lock()
	bucket, ok := d.routes[ct]
	if !ok {
		bucket = make(map[routeKey]*route)
		d.routes[ct] = bucket
	}
	replaced := bucket[key]
	bucket[key] = r
	d.mu.Unlock()

	if replaced != nil {
		slog.Warn(fmt.Sprintf("%s - %s: replacing %s route to %s on channel %s", logPrefix, d.name, ct, peer, ch.ID()))
		replaced.unsubscribe()
	}
	ch.OnDisconnect(func(reason string) {
		d.removeRoute(ct, key, ch, "channel disconnected: "+reason)
	})

	slog.Info(fmt.Sprintf("%s - %s: %s route to %s via %s", logPrefix, d.name, ct, peer, ch.ID()))
	d.publishRoute(events.RouteAdded, r, "")
}

// RemoveRoutingChannel drops the entry for (peer, ch) from bucket ct. The
// channel itself stays connected.
func (d *Dispatcher) RemoveRoutingChannel(ct rtid.ContextType, peer rtid.RTID, ch channel.Channel) {
	d.removeRoute(ct, routeKey{peer: peer.String(), channelID: ch.ID()}, nil, "removed")
}

// removeRoute deletes the entry under key. When only is set, the entry is
// removed only if it still belongs to that channel.
func (d *Dispatcher) removeRoute(ct rtid.ContextType, key routeKey, only channel.Channel, reason string) {
	d.mu.Lock()
	r, ok := d.routes[ct][key]
	if !ok || (only != nil && r.ch != only) {
		d.mu.Unlock()
		return
	}
	delete(d.routes[ct], key)
	if len(d.routes[ct]) == 0 {
		delete(d.routes, ct)
	}
	d.mu.Unlock()

	r.unsubscribe()
	slog.Info(fmt.Sprintf("%s - %s: removed %s route to %s via %s (%s)", logPrefix, d.name, ct, r.peer, r.ch.ID(), reason))
	d.publishRoute(events.RouteRemoved, r, reason)
}

// Routes returns a snapshot of the routing table ordered by context, peer
// and channel.
func (d *Dispatcher) Routes() []Route {
	d.mu.Lock()
	var entries []*route
	for _, bucket := range d.routes {
		for _, r := range bucket {
			entries = append(entries, r)
		}
	}
	d.mu.Unlock()

	out := make([]Route, 0, len(entries))
	for _, r := range entries {
		out = append(out, Route{Context: r.context, Peer: r.peer, ChannelID: r.ch.ID(), State: r.ch.State().String()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Context != out[j].Context {
			return out[i].Context < out[j].Context
		}
		if pi, pj := out[i].Peer.String(), out[j].Peer.String(); pi != pj {
			return pi < pj
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

// Close unsubscribes from every routing channel and empties the table.
// Channels are not disconnected. Close waits for pending request events.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	var all []*route
	for _, bucket := range d.routes {
		for _, r := range bucket {
			all = append(all, r)
		}
	}
	d.routes = make(map[rtid.ContextType]map[routeKey]*route)
	d.mu.Unlock()

	for _, r := range all {
		r.unsubscribe()
	}
	d.publishing.Wait()
}

// targets returns every connected routing channel that can reach dest,
// excluding the channel a message arrived on.
func (d *Dispatcher) targets(dest rtid.RTID, exclude channel.Channel) ([]channel.Channel, error) {
	ct, err := d.router.Route(dest)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	var out []channel.Channel
	for _, r := range d.routes[ct] {
		if r.ch == exclude || !r.peer.Covers(dest) {
			continue
		}
		out = append(out, r.ch)
	}
	d.mu.Unlock()

	if len(out) == 0 {
		return nil, message.NewError(message.CodeNoRoute, "no %s route to %s", ct, dest)
	}
	return out, nil
}

func (d *Dispatcher) publishRoute(action events.RouteAction, r *route, reason string) {
	err := d.publisher.PublishRouteChanged(context.Background(), &events.RouteChangedEvent{
		Dispatcher: d.name,
		Action:     action,
		Context:    string(r.context),
		Peer:       r.peer.String(),
		ChannelID:  r.ch.ID(),
		Reason:     reason,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s: failed to publish route event: %v", logPrefix, d.name, err))
	}
}
