// Package rtid implements the address scheme that names any automation object
// (browser, window, tab, frame, element) regardless of which execution context owns it.
package rtid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Coordinate sentinels. Unknown always means "unspecified". The zero value is
// overloaded per field: Current for browserIndex, TopFrame for frameId and
// LastFocused for windowId/tabId when the caller asks for "the focused one".
const (
	Unknown     = -1
	Current     = 0
	TopFrame    = 0
	LastFocused = 0
)

// ContextType names the execution realm that owns an address.
type ContextType string

const (
	ContextNone       ContextType = ""
	ContextMainWorld  ContextType = "main-world"
	ContextContent    ContextType = "content"
	ContextBackground ContextType = "background"
	ContextExternal   ContextType = "external"
)

// Valid reports whether c is one of the four resolvable context types.
func (c ContextType) Valid() bool {
	switch c {
	case ContextMainWorld, ContextContent, ContextBackground, ContextExternal:
		return true
	}
	return false
}

// ParseContextType parses a context type name.
func ParseContextType(s string) (ContextType, error) {
	c := ContextType(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return ContextNone, fmt.Errorf("rtid: unknown context type %q", s)
	}
	return c, nil
}

// RTID addresses an automation object. It is a value type: derivation helpers
// return new values and never modify the receiver.
type RTID struct {
	Context      ContextType `json:"contextType,omitempty"`
	ExternalID   string      `json:"externalId,omitempty"`
	BrowserIndex int         `json:"browserIndex"`
	WindowID     int         `json:"windowId"`
	TabID        int         `json:"tabId"`
	FrameID      int         `json:"frameId"`
	ObjectID     int         `json:"objectId"`
}

// New returns an address with every coordinate set to Unknown.
func New() RTID {
	return RTID{
		BrowserIndex: Unknown,
		WindowID:     Unknown,
		TabID:        Unknown,
		FrameID:      Unknown,
		ObjectID:     Unknown,
	}
}

// Browser returns the address of the browser at index.
func Browser(index int) RTID {
	r := New()
	r.BrowserIndex = index
	return r
}

// Window returns the address of a window in the current browser.
func Window(windowID int) RTID {
	return Browser(Current).WithWindow(windowID)
}

// Tab returns the address of a tab in the current browser.
func Tab(tabID int) RTID {
	return Browser(Current).WithTab(tabID)
}

// Frame returns the address of the frame hosting content scripts in a tab.
func Frame(tabID, frameID int) RTID {
	return Tab(tabID).WithFrame(frameID)
}

// External returns the address of an external automation process.
func External(id string) RTID {
	r := New()
	r.ExternalID = id
	return r
}

// WithContext returns a copy with an explicit context type.
func (r RTID) WithContext(c ContextType) RTID {
	r.Context = c
	return r
}

// WithWindow returns a copy addressing the given window.
func (r RTID) WithWindow(windowID int) RTID {
	r.WindowID = windowID
	return r
}

// WithTab returns a copy addressing the given tab.
func (r RTID) WithTab(tabID int) RTID {
	r.TabID = tabID
	return r
}

// WithFrame returns a copy addressing the given frame.
func (r RTID) WithFrame(frameID int) RTID {
	r.FrameID = frameID
	return r
}

// WithObject returns a copy addressing an object inside the frame.
func (r RTID) WithObject(objectID int) RTID {
	r.ObjectID = objectID
	return r
}

// ContextType resolves which realm owns the address. The explicit field wins;
// otherwise the numeric coordinates decide. ContextNone means unresolvable.
func (r RTID) ContextType() ContextType {
	if r.Context != ContextNone {
		return r.Context
	}
	if r.ExternalID != "" {
		return ContextExternal
	}
	if r.FrameID != Unknown {
		if r.TabID == Unknown {
			return ContextNone
		}
		return ContextContent
	}
	if r.ObjectID != Unknown {
		return ContextNone
	}
	if r.TabID != Unknown || r.WindowID != Unknown || r.BrowserIndex != Unknown {
		return ContextBackground
	}
	return ContextNone
}

// Equal reports whether two addresses name the same object. WindowID only
// participates when TabID is Unknown: a tab may move between windows without
// changing identity.
func (r RTID) Equal(o RTID) bool {
	if r.ContextType() != o.ContextType() {
		return false
	}
	if r.ExternalID != o.ExternalID ||
		r.BrowserIndex != o.BrowserIndex ||
		r.TabID != o.TabID ||
		r.FrameID != o.FrameID ||
		r.ObjectID != o.ObjectID {
		return false
	}
	if r.TabID == Unknown && r.WindowID != o.WindowID {
		return false
	}
	return true
}

// Covers reports whether every specified coordinate of r equals the one in o.
// A routing peer covers the destinations it can deliver to.
func (r RTID) Covers(o RTID) bool {
	if r.ExternalID != "" && r.ExternalID != o.ExternalID {
		return false
	}
	pairs := [][2]int{
		{r.BrowserIndex, o.BrowserIndex},
		{r.TabID, o.TabID},
		{r.FrameID, o.FrameID},
		{r.ObjectID, o.ObjectID},
	}
	for _, p := range pairs {
		if p[0] != Unknown && p[0] != p[1] {
			return false
		}
	}
	if r.WindowID != Unknown && o.TabID == Unknown && r.WindowID != o.WindowID {
		return false
	}
	return true
}

// IsZero reports whether no coordinate is specified.
func (r RTID) IsZero() bool {
	return r.Context == ContextNone && r.ExternalID == "" &&
		r.BrowserIndex == Unknown && r.WindowID == Unknown && r.TabID == Unknown &&
		r.FrameID == Unknown && r.ObjectID == Unknown
}

// String renders the address as comma-separated key=value pairs, omitting
// Unknown coordinates. The result parses back with Parse.
func (r RTID) String() string {
	var parts []string
	if r.Context != ContextNone {
		parts = append(parts, "context="+string(r.Context))
	}
	if r.ExternalID != "" {
		parts = append(parts, "external="+r.ExternalID)
	}
	for _, f := range []struct {
		key string
		val int
	}{
		{"browser", r.BrowserIndex},
		{"window", r.WindowID},
		{"tab", r.TabID},
		{"frame", r.FrameID},
		{"object", r.ObjectID},
	} {
		if f.val != Unknown {
			parts = append(parts, f.key+"="+strconv.Itoa(f.val))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Parse reads the String form. Missing numeric keys are Unknown.
func Parse(s string) (RTID, error) {
	r := New()
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return r, nil
	}
	for _, part := range strings.Split(s, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return RTID{}, fmt.Errorf("rtid: malformed segment %q", part)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "context":
			c, err := ParseContextType(val)
			if err != nil {
				return RTID{}, err
			}
			r.Context = c
		case "external":
			r.ExternalID = val
		case "browser", "window", "tab", "frame", "object":
			n, err := strconv.Atoi(val)
			if err != nil {
				return RTID{}, fmt.Errorf("rtid: %s must be an integer: %w", key, err)
			}
			switch key {
			case "browser":
				r.BrowserIndex = n
			case "window":
				r.WindowID = n
			case "tab":
				r.TabID = n
			case "frame":
				r.FrameID = n
			case "object":
				r.ObjectID = n
			}
		default:
			return RTID{}, fmt.Errorf("rtid: unknown key %q", key)
		}
	}
	return r, nil
}

// UnmarshalJSON decodes an address, treating omitted coordinates as Unknown
// rather than zero.
func (r *RTID) UnmarshalJSON(data []byte) error {
	type plain RTID
	decoded := plain(New())
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = RTID(decoded)
	return nil
}
