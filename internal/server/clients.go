package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rtbus/pkg/channel"
	"github.com/morezero/rtbus/pkg/commsutil"
	"github.com/morezero/rtbus/pkg/rtid"
)

// subscribeAttach listens for attach and detach requests on the inbox.
func (s *Server) subscribeAttach() error {
	attachSubject := commsutil.BuildAttachSubject(s.inbox)
	attachSub, err := s.nc.Subscribe(attachSubject, s.handleAttach)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, attachSubject, err)
	}
	detachSubject := commsutil.BuildDetachSubject(s.inbox)
	detachSub, err := s.nc.Subscribe(detachSubject, func(msg *comms.Msg) {
		s.detachClient(strings.TrimSpace(string(msg.Data)), "detached")
	})
	if err != nil {
		attachSub.Unsubscribe()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, detachSubject, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, attachSub, detachSub)
	s.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - Subscribed to %s and %s", logPrefix, attachSubject, detachSubject))
	return nil
}

func (s *Server) handleAttach(msg *comms.Msg) {
	respond := func(resp commsutil.AttachResponse) {
		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - attach response encode: %v", logPrefix, err))
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn(fmt.Sprintf("%s - attach respond: %v", logPrefix, err))
		}
	}

	var req commsutil.AttachRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respond(commsutil.AttachResponse{Error: "failed to decode attach request"})
		return
	}
	if req.ClientID == "" {
		respond(commsutil.AttachResponse{Error: "clientId is required"})
		return
	}
	codecName := req.Codec
	if codecName == "" {
		codecName = s.codec.Name()
	}
	codec, err := commsutil.CodecByName(codecName)
	if err != nil {
		respond(commsutil.AttachResponse{Error: err.Error()})
		return
	}

	// Drop any previous attachment first so the subject has one subscriber.
	s.detachClient(req.ClientID, "reattached")

	publish, subscribe := commsutil.BuildClientSubjects(s.inbox, req.ClientID)
	ch, err := channel.NewNATSChannel(channel.NATSParams{
		ID:        "nats:" + req.ClientID,
		Conn:      s.nc,
		Publish:   publish,
		Subscribe: subscribe,
		Codec:     codec,
	})
	if err != nil {
		respond(commsutil.AttachResponse{Error: err.Error()})
		return
	}
	s.addClient(req.ClientID, ch)

	respond(commsutil.AttachResponse{
		Ok:        true,
		Publish:   subscribe,
		Subscribe: publish,
		Bridge:    s.bridgeAddress(),
	})
}

// bridgeAddress is the peer address a client registers this bridge under.
func (s *Server) bridgeAddress() rtid.RTID {
	if s.ct == rtid.ContextBackground {
		return rtid.New()
	}
	return s.self
}

// addClient registers ch as the route to the external client id.
func (s *Server) addClient(id string, ch channel.Channel) {
	s.mu.Lock()
	old := s.clients[id]
	s.clients[id] = ch
	s.mu.Unlock()
	if old != nil && old != ch {
		old.Disconnect("replaced")
	}

	ch.OnDisconnect(func(reason string) {
		s.mu.Lock()
		if s.clients[id] == ch {
			delete(s.clients, id)
		}
		s.mu.Unlock()
		slog.Info(fmt.Sprintf("%s - client %s left: %s", logPrefix, id, reason))
	})
	s.disp.AddRoutingChannel(rtid.ContextExternal, rtid.External(id), ch)
	slog.Info(fmt.Sprintf("%s - client %s attached over %s", logPrefix, id, ch.ID()))
}

func (s *Server) detachClient(id, reason string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	ch := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if ch != nil {
		ch.Disconnect(reason)
	}
}

// Clients returns the ids of attached external clients.
func (s *Server) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	return out
}

// handleWebSocket upgrades /ws?id=<client>[&codec=json|cbor] into a routing
// channel to an external client.
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		codec := s.codec
		if name := r.URL.Query().Get("codec"); name != "" {
			c, err := commsutil.CodecByName(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			codec = c
		}

		s.detachClient(id, "reattached")
		ch, err := channel.Accept(w, r, "ws:"+id, codec)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
			return
		}
		s.addClient(id, ch)
	}
}
