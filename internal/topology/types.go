// Package topology loads the static routes a bridge process opens at startup.
package topology

import (
	"github.com/morezero/rtbus/pkg/rtid"
)

// RouteEntry is one route as written in the topology file.
type RouteEntry struct {
	// Name identifies the route; it must be unique within a file.
	Name string `yaml:"name" json:"name"`
	// Context is the routing bucket: background, content, main-world or external.
	Context string `yaml:"context" json:"context"`
	// Peer is the address the route reaches, in rtid text form.
	Peer string `yaml:"peer" json:"peer"`
	// Publish is the subject outgoing envelopes are sent to.
	Publish string `yaml:"publish" json:"publish"`
	// Subscribe is the subject incoming envelopes arrive on. Empty derives
	// "<inbox>.<name>".
	Subscribe string `yaml:"subscribe,omitempty" json:"subscribe,omitempty"`
	// Codec is json (default) or cbor.
	Codec string `yaml:"codec,omitempty" json:"codec,omitempty"`
}

// File is the root of a topology file.
type File struct {
	Name string `yaml:"name" json:"name"`
	// Self is this process's own address, used by the content router.
	Self   string       `yaml:"self,omitempty" json:"self,omitempty"`
	Routes []RouteEntry `yaml:"routes" json:"routes"`
}

// Route is a validated RouteEntry.
type Route struct {
	Name      string
	Context   rtid.ContextType
	Peer      rtid.RTID
	Publish   string
	Subscribe string
	Codec     string
}

// Topology is a validated File with parsed addresses.
type Topology struct {
	Name   string
	Self   rtid.RTID
	Routes []Route
	byName map[string]int
}

// Get returns the route with the given name.
func (t *Topology) Get(name string) (Route, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.Routes[i], true
}
