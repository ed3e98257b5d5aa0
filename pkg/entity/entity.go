// Package entity exposes browser windows and tabs as protocol handlers
// backed by a browser.Facade.
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

func windowProperties(w browser.Window) map[string]any {
	return map[string]any{
		"id":        w.ID,
		"focused":   w.Focused,
		"incognito": w.Incognito,
		"type":      w.Type,
		"top":       w.Top,
		"left":      w.Left,
		"width":     w.Width,
		"height":    w.Height,
	}
}

func tabProperties(t browser.Tab) map[string]any {
	return map[string]any{
		"id":       t.ID,
		"windowId": t.WindowID,
		"index":    t.Index,
		"url":      t.URL,
		"title":    t.Title,
		"active":   t.Active,
		"status":   t.Status,
	}
}

func windowCandidate(w browser.Window) resolver.Candidate {
	return resolver.Candidate{
		Address:          rtid.Window(w.ID),
		Properties:       windowProperties(w),
		DeclarationIndex: w.ID,
		CreatedAt:        w.CreatedAt,
		Position:         resolver.Position{Top: float64(w.Top), Left: float64(w.Left)},
	}
}

func tabCandidate(t browser.Tab) resolver.Candidate {
	return resolver.Candidate{
		Address:          rtid.Tab(t.ID),
		Properties:       tabProperties(t),
		Text:             t.Title,
		DeclarationIndex: t.Index,
		CreatedAt:        t.CreatedAt,
		Position:         resolver.Position{Left: float64(t.Index)},
	}
}

// property reads name from props, failing with INVALID_ARGUMENTS.
func property(props map[string]any, owner rtid.RTID, name string) (any, error) {
	v, ok := props[name]
	if !ok {
		return nil, message.NewError(message.CodeInvalidArguments, "%s has no property %q", owner, name)
	}
	return v, nil
}

// exactID recognises a description that is a single `id` equality and
// returns the id. 0 means the last focused one.
func exactID(q *message.QueryInfo) (int, bool) {
	if q == nil || len(q.Primary) != 1 || len(q.Mandatory) > 0 || len(q.Assistive) > 0 || q.Ordinal != nil {
		return 0, false
	}
	sel := q.Primary[0]
	if sel.Name != "id" {
		return 0, false
	}
	if sel.Type != "" && sel.Type != message.SelectorProperty {
		return 0, false
	}
	if sel.Match != "" && sel.Match != message.MatchExact {
		return 0, false
	}
	switch v := sel.Value.(type) {
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

// resolveObjects answers query_object(s): explicit objects are filtered to
// those that exist, selector descriptions go through the resolver.
func resolveObjects(ctx context.Context, desc *message.TargetDescription, r *resolver.Resolver) ([]rtid.RTID, error) {
	if len(desc.Objects) == 0 {
		res, err := r.Resolve(ctx, desc.QueryInfo)
		if err != nil {
			return nil, err
		}
		return res.Addresses(), nil
	}

	listed, err := r.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]rtid.RTID, 0, len(desc.Objects))
	for _, want := range desc.Objects {
		for _, c := range listed {
			if c.Address.Equal(want) {
				out = append(out, c.Address)
				break
			}
		}
	}
	return out, nil
}

// alias answers for a LastFocused address by delegating to whichever
// handler is focused at call time.
type alias struct {
	address rtid.RTID
	target  func(ctx context.Context) (handler.Handler, error)
}

func (a *alias) Address() rtid.RTID { return a.address }

func (a *alias) Handle(ctx context.Context, p *message.Payload) (*message.Payload, error) {
	h, err := a.target(ctx)
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, p)
}
