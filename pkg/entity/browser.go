package entity

import (
	"context"
	"encoding/json"

	"github.com/morezero/rtbus/pkg/browser"
	"github.com/morezero/rtbus/pkg/handler"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/resolver"
	"github.com/morezero/rtbus/pkg/rtid"
)

// BrowserHandler is the root entity. Its objects are windows.
type BrowserHandler struct {
	*handler.Base
	facade   browser.Facade
	windows  *resolver.Resolver
	registry *Registry
}

func newBrowserHandler(f browser.Facade, reg *Registry) (*BrowserHandler, error) {
	h := &BrowserHandler{facade: f, registry: reg}
	h.windows = &resolver.Resolver{List: h.listWindows, Exact: h.exactWindow}

	base, err := handler.NewBase(handler.Params{
		Address: rtid.Browser(rtid.Current),
		Entity:  h,
		Commands: map[string]handler.CommandFunc{
			"listWindows": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				return f.Windows(ctx)
			},
			"listTabs": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				return f.Tabs(ctx, browser.AllWindows)
			},
			"refresh": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				return nil, reg.Refresh(ctx)
			},
		},
	})
	if err != nil {
		return nil, err
	}
	h.Base = base
	return h, nil
}

func (h *BrowserHandler) QueryProperty(ctx context.Context, name string) (any, error) {
	switch name {
	case "windowCount":
		windows, err := h.facade.Windows(ctx)
		return len(windows), err
	case "tabCount":
		tabs, err := h.facade.Tabs(ctx, browser.AllWindows)
		return len(tabs), err
	case "focusedWindow":
		w, err := h.facade.LastFocusedWindow(ctx)
		if err != nil {
			return nil, err
		}
		return rtid.Window(w.ID), nil
	case "windows":
		windows, err := h.facade.Windows(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]rtid.RTID, len(windows))
		for i, w := range windows {
			out[i] = rtid.Window(w.ID)
		}
		return out, nil
	default:
		return nil, message.NewError(message.CodeInvalidArguments, "browser has no property %q", name)
	}
}

func (h *BrowserHandler) QueryObjects(ctx context.Context, desc *message.TargetDescription) ([]rtid.RTID, error) {
	return resolveObjects(ctx, desc, h.windows)
}

func (h *BrowserHandler) listWindows(ctx context.Context, _ []message.Selector) ([]resolver.Candidate, error) {
	windows, err := h.facade.Windows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]resolver.Candidate, len(windows))
	for i, w := range windows {
		out[i] = windowCandidate(w)
	}
	return out, nil
}

func (h *BrowserHandler) exactWindow(ctx context.Context, q *message.QueryInfo) (resolver.Candidate, bool, error) {
	id, ok := exactID(q)
	if !ok {
		return resolver.Candidate{}, false, nil
	}
	if id == rtid.LastFocused {
		w, err := h.facade.LastFocusedWindow(ctx)
		if err != nil {
			return resolver.Candidate{}, false, err
		}
		return windowCandidate(w), true, nil
	}
	// Other ids fall through to the listing so a missing window is no match.
	return resolver.Candidate{}, false, nil
}
