package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/rtbus/pkg/browser"
	"github.com/morezero/rtbus/pkg/handler"
	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "entity:registry"

// Target receives the handlers; *dispatcher.Dispatcher satisfies it.
type Target interface {
	AddHandler(h handler.Handler)
	RemoveHandler(h handler.Handler)
}

// Registry keeps one handler per open window and tab registered with a
// target, plus the browser root and the last-focused aliases.
type Registry struct {
	facade browser.Facade
	target Target

	mu      sync.Mutex
	browser *BrowserHandler
	aliases []handler.Handler
	windows map[int]*WindowHandler
	tabs    map[int]*TabHandler
}

// NewRegistry registers the browser root and aliases and performs an initial
// Refresh.
func NewRegistry(ctx context.Context, f browser.Facade, target Target) (*Registry, error) {
	if f == nil || target == nil {
		return nil, fmt.Errorf("%s - facade and target are required", logPrefix)
	}
	r := &Registry{
		facade:  f,
		target:  target,
		windows: make(map[int]*WindowHandler),
		tabs:    make(map[int]*TabHandler),
	}

	b, err := newBrowserHandler(f, r)
	if err != nil {
		return nil, err
	}
	r.browser = b
	r.aliases = []handler.Handler{
		&alias{address: rtid.Window(rtid.LastFocused), target: r.focusedWindow},
		&alias{address: rtid.Tab(rtid.LastFocused), target: r.focusedTab},
	}

	target.AddHandler(b)
	for _, a := range r.aliases {
		target.AddHandler(a)
	}
	if err := r.Refresh(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Browser returns the root handler.
func (r *Registry) Browser() *BrowserHandler { return r.browser }

// Refresh reconciles registered handlers with the facade's windows and tabs.
func (r *Registry) Refresh(ctx context.Context) error {
	windows, err := r.facade.Windows(ctx)
	if err != nil {
		return fmt.Errorf("%s - listing windows: %w", logPrefix, err)
	}
	tabs, err := r.facade.Tabs(ctx, browser.AllWindows)
	if err != nil {
		return fmt.Errorf("%s - listing tabs: %w", logPrefix, err)
	}

	var added, removed []handler.Handler

	r.mu.Lock()
	seenWindows := make(map[int]bool, len(windows))
	for _, w := range windows {
		seenWindows[w.ID] = true
		if _, ok := r.windows[w.ID]; ok {
			continue
		}
		h, err := newWindowHandler(w.ID, r.facade, r)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.windows[w.ID] = h
		added = append(added, h)
	}
	for id, h := range r.windows {
		if !seenWindows[id] {
			delete(r.windows, id)
			removed = append(removed, h)
		}
	}

	seenTabs := make(map[int]bool, len(tabs))
	for _, t := range tabs {
		seenTabs[t.ID] = true
		if _, ok := r.tabs[t.ID]; ok {
			continue
		}
		h, err := newTabHandler(t.ID, r.facade, r)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.tabs[t.ID] = h
		added = append(added, h)
	}
	for id, h := range r.tabs {
		if !seenTabs[id] {
			delete(r.tabs, id)
			removed = append(removed, h)
		}
	}
	r.mu.Unlock()

	for _, h := range removed {
		r.target.RemoveHandler(h)
	}
	for _, h := range added {
		r.target.AddHandler(h)
	}
	if len(added)+len(removed) > 0 {
		slog.Info(fmt.Sprintf("%s - Refreshed: %d added, %d removed (%d windows, %d tabs)",
			logPrefix, len(added), len(removed), len(windows), len(tabs)))
	}
	return nil
}

// Addresses lists every registered window and tab address, windows first.
func (r *Registry) Addresses() []rtid.RTID {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowIDs := make([]int, 0, len(r.windows))
	for id := range r.windows {
		windowIDs = append(windowIDs, id)
	}
	tabIDs := make([]int, 0, len(r.tabs))
	for id := range r.tabs {
		tabIDs = append(tabIDs, id)
	}
	sort.Ints(windowIDs)
	sort.Ints(tabIDs)

	out := make([]rtid.RTID, 0, len(windowIDs)+len(tabIDs))
	for _, id := range windowIDs {
		out = append(out, rtid.Window(id))
	}
	for _, id := range tabIDs {
		out = append(out, rtid.Tab(id))
	}
	return out
}

// Close unregisters every handler.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []handler.Handler
	all = append(all, r.browser)
	all = append(all, r.aliases...)
	for id, h := range r.windows {
		all = append(all, h)
		delete(r.windows, id)
	}
	for id, h := range r.tabs {
		all = append(all, h)
		delete(r.tabs, id)
	}
	r.mu.Unlock()

	for _, h := range all {
		r.target.RemoveHandler(h)
	}
}

func (r *Registry) focusedWindow(ctx context.Context) (handler.Handler, error) {
	w, err := r.facade.LastFocusedWindow(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.windows[w.ID]; ok {
		return h, nil
	}
	return nil, message.NewError(message.CodeNoMatch, "focused window %d is not registered", w.ID)
}

func (r *Registry) focusedTab(ctx context.Context) (handler.Handler, error) {
	w, err := r.facade.LastFocusedWindow(ctx)
	if err != nil {
		return nil, err
	}
	tabs, err := r.facade.Tabs(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range tabs {
		if !t.Active {
			continue
		}
		r.mu.Lock()
		h, ok := r.tabs[t.ID]
		r.mu.Unlock()
		if ok {
			return h, nil
		}
	}
	return nil, message.NewError(message.CodeNoMatch, "window %d has no registered active tab", w.ID)
}
