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

// TabHandler serves one tab. Its only object here is the top frame; deeper
// frames and elements belong to the content context.
type TabHandler struct {
	*handler.Base
	id     int
	facade browser.Facade
	frames *resolver.Resolver
}

func newTabHandler(id int, f browser.Facade, reg *Registry) (*TabHandler, error) {
	h := &TabHandler{id: id, facade: f}
	h.frames = &resolver.Resolver{List: h.listFrames}

	base, err := handler.NewBase(handler.Params{
		Address: rtid.Tab(id),
		Entity:  h,
		Commands: map[string]handler.CommandFunc{
			"navigate": func(ctx context.Context, args []json.RawMessage) (any, error) {
				var url string
				if err := handler.Arg(args, 0, &url); err != nil {
					return nil, err
				}
				return nil, f.Navigate(ctx, id, url)
			},
			"activate": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				return nil, f.Activate(ctx, id)
			},
			"reload": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				return nil, f.Reload(ctx, id)
			},
			"close": func(ctx context.Context, _ []json.RawMessage) (any, error) {
				if err := f.CloseTab(ctx, id); err != nil {
					return nil, err
				}
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

func (h *TabHandler) QueryProperty(ctx context.Context, name string) (any, error) {
	t, err := h.facade.Tab(ctx, h.id)
	if err != nil {
		return nil, err
	}
	return property(tabProperties(t), h.Address(), name)
}

func (h *TabHandler) QueryObjects(ctx context.Context, desc *message.TargetDescription) ([]rtid.RTID, error) {
	return resolveObjects(ctx, desc, h.frames)
}

func (h *TabHandler) listFrames(ctx context.Context, _ []message.Selector) ([]resolver.Candidate, error) {
	t, err := h.facade.Tab(ctx, h.id)
	if err != nil {
		return nil, err
	}
	return []resolver.Candidate{{
		Address:    rtid.Frame(t.ID, rtid.TopFrame),
		Properties: map[string]any{"frameId": rtid.TopFrame, "url": t.URL, "top": true},
		CreatedAt:  t.CreatedAt,
	}}, nil
}
