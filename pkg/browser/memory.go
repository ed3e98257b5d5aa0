package browser

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/morezero/rtbus/pkg/message"
)

// MemoryFacade is an in-process browser model. It backs tests and runs the
// bridge when no real browser is configured.
type MemoryFacade struct {
	mu          sync.Mutex
	now         func() time.Time
	nextWindow  int
	nextTab     int
	windows     map[int]*Window
	tabs        map[int]*Tab
	lastFocused int
}

// NewMemoryFacade creates an empty browser.
func NewMemoryFacade() *MemoryFacade {
	return &MemoryFacade{
		now:     time.Now,
		windows: make(map[int]*Window),
		tabs:    make(map[int]*Tab),
	}
}

// AddWindow opens a window with one blank tab and focuses it.
func (m *MemoryFacade) AddWindow() Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextWindow++
	w := &Window{ID: m.nextWindow, Type: "normal", Width: 1280, Height: 720, CreatedAt: m.now()}
	m.windows[w.ID] = w
	m.focus(w.ID)
	m.openTab(w.ID, "about:blank")
	return *w
}

func (m *MemoryFacade) focus(windowID int) {
	for id, w := range m.windows {
		w.Focused = id == windowID
	}
	m.lastFocused = windowID
}

func (m *MemoryFacade) openTab(windowID int, url string) *Tab {
	m.nextTab++
	t := &Tab{
		ID:        m.nextTab,
		WindowID:  windowID,
		Index:     len(m.windowTabs(windowID)),
		URL:       url,
		Title:     url,
		Status:    StatusComplete,
		CreatedAt: m.now(),
	}
	m.tabs[t.ID] = t
	m.activate(t)
	return t
}

func (m *MemoryFacade) activate(t *Tab) {
	for _, other := range m.tabs {
		if other.WindowID == t.WindowID {
			other.Active = other.ID == t.ID
		}
	}
}

// windowTabs returns the tabs of one window in index order.
func (m *MemoryFacade) windowTabs(windowID int) []*Tab {
	var out []*Tab
	for _, t := range m.tabs {
		if windowID == AllWindows || t.WindowID == windowID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowID != out[j].WindowID {
			return out[i].WindowID < out[j].WindowID
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (m *MemoryFacade) Windows(ctx context.Context) ([]Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Window, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryFacade) LastFocusedWindow(ctx context.Context) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[m.lastFocused]
	if !ok {
		return Window{}, message.NewError(message.CodeNoMatch, "no focused window")
	}
	return *w, nil
}

func (m *MemoryFacade) Tabs(ctx context.Context, windowID int) ([]Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if windowID != AllWindows {
		if _, ok := m.windows[windowID]; !ok {
			return nil, windowNotFound(windowID)
		}
	}
	tabs := m.windowTabs(windowID)
	out := make([]Tab, len(tabs))
	for i, t := range tabs {
		out[i] = *t
	}
	return out, nil
}

func (m *MemoryFacade) Tab(ctx context.Context, tabID int) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tabs[tabID]
	if !ok {
		return Tab{}, tabNotFound(tabID)
	}
	return *t, nil
}

func (m *MemoryFacade) OpenTab(ctx context.Context, windowID int, url string) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.windows[windowID]; !ok {
		return Tab{}, windowNotFound(windowID)
	}
	return *m.openTab(windowID, url), nil
}

func (m *MemoryFacade) Navigate(ctx context.Context, tabID int, url string) error {
	return m.withTab(ctx, tabID, func(t *Tab) {
		t.URL = url
		t.Title = url
		t.Status = StatusComplete
	})
}

func (m *MemoryFacade) Activate(ctx context.Context, tabID int) error {
	return m.withTab(ctx, tabID, func(t *Tab) {
		m.activate(t)
		m.focus(t.WindowID)
	})
}

func (m *MemoryFacade) Reload(ctx context.Context, tabID int) error {
	return m.withTab(ctx, tabID, func(t *Tab) { t.Status = StatusComplete })
}

// CloseTab removes the tab. The next tab in the window becomes active, and a
// window without tabs is closed.
func (m *MemoryFacade) CloseTab(ctx context.Context, tabID int) error {
	return m.withTab(ctx, tabID, func(t *Tab) {
		delete(m.tabs, t.ID)
		rest := m.windowTabs(t.WindowID)
		if len(rest) == 0 {
			delete(m.windows, t.WindowID)
			if m.lastFocused == t.WindowID {
				m.lastFocused = 0
			}
			return
		}
		for i, other := range rest {
			other.Index = i
		}
		if t.Active {
			next := t.Index
			if next >= len(rest) {
				next = len(rest) - 1
			}
			m.activate(rest[next])
		}
	})
}

func (m *MemoryFacade) withTab(ctx context.Context, tabID int, fn func(t *Tab)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tabs[tabID]
	if !ok {
		return tabNotFound(tabID)
	}
	fn(t)
	return nil
}
