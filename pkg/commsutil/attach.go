package commsutil

import (
	"encoding/json"
	"fmt"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rtbus/pkg/rtid"
)

// AttachRequest asks a bridge for a dedicated subject pair.
type AttachRequest struct {
	ClientID string `json:"clientId"`
	Codec    string `json:"codec,omitempty"`
}

// AttachResponse tells the client which subjects to use. Publish and
// Subscribe are from the client's point of view.
type AttachResponse struct {
	Ok        bool      `json:"ok"`
	Publish   string    `json:"publish,omitempty"`
	Subscribe string    `json:"subscribe,omitempty"`
	Bridge    rtid.RTID `json:"bridge"`
	Error     string    `json:"error,omitempty"`
}

// BuildAttachSubject returns the request/reply subject a bridge listens on
// for attach requests.
func BuildAttachSubject(inbox string) string {
	return inbox + ".attach"
}

// BuildDetachSubject returns the subject a client publishes its id to when
// it leaves.
func BuildDetachSubject(inbox string) string {
	return inbox + ".detach"
}

// BuildClientSubjects returns the bridge-side (publish, subscribe) pair for
// an attached external client.
func BuildClientSubjects(inbox, clientID string) (publish, subscribe string) {
	return BuildInboxSubject(rtid.ContextExternal, rtid.External(clientID)), inbox + ".x." + sanitizeToken(clientID)
}

// Attach performs the attach handshake against the bridge inbox.
func Attach(nc *comms.Conn, inbox string, req AttachRequest, timeout time.Duration) (*AttachResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("commsutil:attach - encode: %w", err)
	}
	msg, err := nc.Request(BuildAttachSubject(inbox), data, timeout)
	if err != nil {
		return nil, fmt.Errorf("commsutil:attach - request to %s: %w", BuildAttachSubject(inbox), err)
	}
	var resp AttachResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("commsutil:attach - decode: %w", err)
	}
	if !resp.Ok {
		return &resp, fmt.Errorf("commsutil:attach - rejected: %s", resp.Error)
	}
	return &resp, nil
}
