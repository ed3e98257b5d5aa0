package dispatcher

import (
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

// Router picks the routing-table bucket an outbound message to dest uses.
// Each execution context encodes its multi-hop rules here.
type Router interface {
	Route(dest rtid.RTID) (rtid.ContextType, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(dest rtid.RTID) (rtid.ContextType, error)

func (f RouterFunc) Route(dest rtid.RTID) (rtid.ContextType, error) { return f(dest) }

func unroutable(dest rtid.RTID) error {
	return message.NewError(message.CodeNoRoute, "cannot resolve a context for %s", dest)
}

// BackgroundRouter routes from the background context. Main-world traffic
// transits the content context of its frame.
type BackgroundRouter struct{}

func (BackgroundRouter) Route(dest rtid.RTID) (rtid.ContextType, error) {
	switch ct := dest.ContextType(); ct {
	case rtid.ContextNone:
		return ct, unroutable(dest)
	case rtid.ContextMainWorld:
		return rtid.ContextContent, nil
	default:
		return ct, nil
	}
}

// ContentRouter routes from the content context of one frame. It reaches the
// main world of its own frame directly and everything else via background.
type ContentRouter struct {
	Self rtid.RTID
}

func (r ContentRouter) Route(dest rtid.RTID) (rtid.ContextType, error) {
	ct := dest.ContextType()
	if ct == rtid.ContextNone {
		return ct, unroutable(dest)
	}
	if ct == rtid.ContextMainWorld && dest.TabID == r.Self.TabID && dest.FrameID == r.Self.FrameID {
		return rtid.ContextMainWorld, nil
	}
	return rtid.ContextBackground, nil
}

// MainWorldRouter routes from the main world. Its only peer is the content
// context of the same frame.
type MainWorldRouter struct{}

func (MainWorldRouter) Route(dest rtid.RTID) (rtid.ContextType, error) {
	if dest.ContextType() == rtid.ContextNone {
		return rtid.ContextNone, unroutable(dest)
	}
	return rtid.ContextContent, nil
}

// ExternalRouter routes from an external client, which only talks to
// background.
type ExternalRouter struct{}

func (ExternalRouter) Route(dest rtid.RTID) (rtid.ContextType, error) {
	if dest.ContextType() == rtid.ContextNone {
		return rtid.ContextNone, unroutable(dest)
	}
	return rtid.ContextBackground, nil
}

// RouterFor returns the router for a process running in context ct. self is
// only used by the content router.
func RouterFor(ct rtid.ContextType, self rtid.RTID) (Router, error) {
	switch ct {
	case rtid.ContextBackground:
		return BackgroundRouter{}, nil
	case rtid.ContextContent:
		return ContentRouter{Self: self}, nil
	case rtid.ContextMainWorld:
		return MainWorldRouter{}, nil
	case rtid.ContextExternal:
		return ExternalRouter{}, nil
	default:
		return nil, message.NewError(message.CodeInvalidArguments, "no router for context %q", ct)
	}
}
