package commsutil

import (
	"fmt"
	"strings"

	"github.com/morezero/rtbus/pkg/rtid"
)

// Default COMMS subjects.
const (
	SubjectPrefix      = "rt"
	SubjectRouteEvents = "rt.events.routes"
	SubjectRequestLog  = "rt.events.requests"
)

// BuildInboxSubject builds the subject a context listens on. The address is
// flattened so each coordinate becomes one subject token.
func BuildInboxSubject(ct rtid.ContextType, addr rtid.RTID) string {
	tokens := []string{SubjectPrefix, strings.ReplaceAll(string(ct), "-", "_")}
	if addr.ExternalID != "" {
		tokens = append(tokens, "x", sanitizeToken(addr.ExternalID))
	}
	if addr.TabID != rtid.Unknown {
		tokens = append(tokens, fmt.Sprintf("t%d", addr.TabID))
	}
	if addr.FrameID != rtid.Unknown {
		tokens = append(tokens, fmt.Sprintf("f%d", addr.FrameID))
	}
	return strings.Join(tokens, ".")
}

// BuildEventSubject builds a granular subject for dispatcher lifecycle events.
func BuildEventSubject(base, dispatcher string) string {
	return fmt.Sprintf("%s.%s", base, sanitizeToken(dispatcher))
}

func sanitizeToken(s string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(s)
}
