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

// WindowHandler serves one window. Its objects are the window's tabs.
type WindowHandler struct {
	*handler.Base
	id     int
	facade browser.Facade
	tabs   *resolver.Resolver
}

func newWindowHandler(id int, f browser.Facade, reg *Registry) (*WindowHandler, error) {
	h := &WindowHandler{id: id, facade: f}
	h.tabs = &resolver.Resolver{List: h.listTabs, Exact: h.exactTab}

	base, err := handler.NewBase(handler.Params{
		Address: rtid.Window(id),
		Entity:  h,
		Commands: map[string]handler.CommandFunc{
			"openTab": func(ctx context.Context, args []json.RawMessage) (any, error) {
				url := "about:blank"
				if _, err := handler.OptionalArg(args, 0, &url); err != nil {
					return nil, err
				}
				t, err := f.OpenTab(ctx, id, url)
				if err != nil {
					return nil, err
				}
				if err := reg.Refresh(ctx); err != nil {
					return nil, err
				}
				return rtid.Tab(t.ID), nil
			},
			"activeTab": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				t, err := h.activeTab(ctx)
				if err != nil {
					return nil, err
				}
				return rtid.Tab(t.ID), nil
			},
		},
	})
	if err != nil {
		return nil, err
	}
	h.Base = base
	return h, nil
}

func (h *WindowHandler) window(ctx context.Context) (browser.Window, error) {
	windows, err := h.facade.Windows(ctx)
	if err != nil {
		return browser.Window{}, err
	}
	for _, w := range windows {
		if w.ID == h.id {
			return w, nil
		}
	}
	return browser.Window{}, message.NewError(message.CodeNoMatch, "window %d is gone", h.id)
}

func (h *WindowHandler) activeTab(ctx context.Context) (browser.Tab, error) {
	tabs, err := h.facade.Tabs(ctx, h.id)
	if err != nil {
		return browser.Tab{}, err
	}
	for _, t := range tabs {
		if t.Active {
			return t, nil
		}
	}
	return browser.Tab{}, message.NewError(message.CodeNoMatch, "window %d has no active tab", h.id)
}

func (h *WindowHandler) QueryProperty(ctx context.Context, name string) (any, error) {
	if name == "tabCount" {
		tabs, err := h.facade.Tabs(ctx, h.id)
		return len(tabs), err
	}
	w, err := h.window(ctx)
	if err != nil {
		return nil, err
	}
	return property(windowProperties(w), h.Address(), name)
}

func (h *WindowHandler) QueryObjects(ctx context.Context, desc *message.TargetDescription) ([]rtid.RTID, error) {
	return resolveObjects(ctx, desc, h.tabs)
}

func (h *WindowHandler) listTabs(ctx context.Context, _ []message.Selector) ([]resolver.Candidate, error) {
	tabs, err := h.facade.Tabs(ctx, h.id)
	if err != nil {
		return nil, err
	}
	out := make([]resolver.Candidate, len(tabs))
	for i, t := range tabs {
		out[i] = tabCandidate(t)
	}
	return out, nil
}

func (h *WindowHandler) exactTab(ctx context.Context, q *message.QueryInfo) (resolver.Candidate, bool, error) {
	id, ok := exactID(q)
	if !ok || id != rtid.LastFocused {
		return resolver.Candidate{}, false, nil
	}
	t, err := h.activeTab(ctx)
	if err != nil {
		return resolver.Candidate{}, false, err
	}
	return tabCandidate(t), true, nil
}
