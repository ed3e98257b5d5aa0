package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const logPrefix = "browser:playwright"

// PlaywrightOptions configures a PlaywrightFacade.
type PlaywrightOptions struct {
	Headless bool
	// Install downloads the driver and browsers before starting.
	Install bool
	// NavigationTimeout in milliseconds; 0 uses the playwright default.
	NavigationTimeout float64
}

type pwWindow struct {
	id        int
	ctx       playwright.BrowserContext
	active    int
	createdAt time.Time
}

type pwTab struct {
	id        int
	windowID  int
	page      playwright.Page
	createdAt time.Time
}

// PlaywrightFacade drives a Chromium instance. Each browser context is a
// window and each page is a tab.
type PlaywrightFacade struct {
	opts    PlaywrightOptions
	pw      *playwright.Playwright
	browser playwright.Browser

	mu          sync.Mutex
	nextWindow  int
	nextTab     int
	windows     map[int]*pwWindow
	tabs        map[int]*pwTab
	order       map[int][]int
	lastFocused int
}

// NewPlaywrightFacade starts playwright, launches Chromium and opens one
// window with a blank tab.
func NewPlaywrightFacade(opts PlaywrightOptions) (*PlaywrightFacade, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("%s - failed to install playwright: %w", logPrefix, err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to start playwright: %w", logPrefix, err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("%s - failed to launch browser: %w", logPrefix, err)
	}

	f := &PlaywrightFacade{
		opts:    opts,
		pw:      pw,
		browser: browser,
		windows: make(map[int]*pwWindow),
		tabs:    make(map[int]*pwTab),
		order:   make(map[int][]int),
	}
	if _, err := f.NewWindow(); err != nil {
		_ = f.Close()
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Browser started (headless=%t)", logPrefix, opts.Headless))
	return f, nil
}

// NewWindow opens a browser context with one blank page and focuses it.
func (f *PlaywrightFacade) NewWindow() (Window, error) {
	bctx, err := f.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 720},
	})
	if err != nil {
		return Window{}, fmt.Errorf("%s - failed to create context: %w", logPrefix, err)
	}

	f.mu.Lock()
	f.nextWindow++
	w := &pwWindow{id: f.nextWindow, ctx: bctx, createdAt: time.Now()}
	f.windows[w.id] = w
	f.lastFocused = w.id
	f.mu.Unlock()

	// Pages opened by the site itself (popups, target=_blank) become tabs.
	bctx.OnPage(func(page playwright.Page) { f.track(w.id, page) })

	page, err := bctx.NewPage()
	if err != nil {
		return Window{}, fmt.Errorf("%s - failed to create page: %w", logPrefix, err)
	}
	f.track(w.id, page)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window(w), nil
}

// track registers a page as a tab. It is idempotent per page.
func (f *PlaywrightFacade) track(windowID int, page playwright.Page) *pwTab {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.tabs {
		if t.page == page {
			return t
		}
	}
	if f.opts.NavigationTimeout > 0 {
		page.SetDefaultNavigationTimeout(f.opts.NavigationTimeout)
	}
	f.nextTab++
	t := &pwTab{id: f.nextTab, windowID: windowID, page: page, createdAt: time.Now()}
	f.tabs[t.id] = t
	f.order[windowID] = append(f.order[windowID], t.id)
	if w, ok := f.windows[windowID]; ok {
		w.active = t.id
	}
	page.OnClose(func(playwright.Page) { f.untrack(t.id) })
	return t
}

func (f *PlaywrightFacade) untrack(tabID int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tabs[tabID]
	if !ok {
		return
	}
	delete(f.tabs, tabID)
	ids := f.order[t.windowID]
	for i, id := range ids {
		if id == tabID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	f.order[t.windowID] = ids
	if w, ok := f.windows[t.windowID]; ok && w.active == tabID {
		w.active = 0
		if len(ids) > 0 {
			w.active = ids[len(ids)-1]
		}
	}
}

func (f *PlaywrightFacade) window(w *pwWindow) Window {
	return Window{
		ID:        w.id,
		Focused:   w.id == f.lastFocused,
		Type:      "normal",
		Width:     1280,
		Height:    720,
		CreatedAt: w.createdAt,
	}
}

// snapshot reads page state outside the facade lock; page calls block on the
// driver.
func (f *PlaywrightFacade) snapshot(t *pwTab, index int, active bool) Tab {
	title, err := t.page.Title()
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - title of tab %d: %v", logPrefix, t.id, err))
	}
	return Tab{
		ID:        t.id,
		WindowID:  t.windowID,
		Index:     index,
		URL:       t.page.URL(),
		Title:     title,
		Active:    active,
		Status:    StatusComplete,
		CreatedAt: t.createdAt,
	}
}

func (f *PlaywrightFacade) Windows(ctx context.Context) ([]Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Window, 0, len(f.windows))
	for _, w := range f.windows {
		out = append(out, f.window(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *PlaywrightFacade) LastFocusedWindow(ctx context.Context) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[f.lastFocused]
	if !ok {
		return Window{}, windowNotFound(f.lastFocused)
	}
	return f.window(w), nil
}

type tabRef struct {
	tab    *pwTab
	index  int
	active bool
}

func (f *PlaywrightFacade) Tabs(ctx context.Context, windowID int) ([]Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	var refs []tabRef
	var windowIDs []int
	if windowID == AllWindows {
		for id := range f.windows {
			windowIDs = append(windowIDs, id)
		}
		sort.Ints(windowIDs)
	} else {
		if _, ok := f.windows[windowID]; !ok {
			f.mu.Unlock()
			return nil, windowNotFound(windowID)
		}
		windowIDs = []int{windowID}
	}
	for _, wid := range windowIDs {
		for i, id := range f.order[wid] {
			refs = append(refs, tabRef{tab: f.tabs[id], index: i, active: f.windows[wid].active == id})
		}
	}
	f.mu.Unlock()

	out := make([]Tab, 0, len(refs))
	for _, r := range refs {
		out = append(out, f.snapshot(r.tab, r.index, r.active))
	}
	return out, nil
}

func (f *PlaywrightFacade) lookup(tabID int) (tabRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tabs[tabID]
	if !ok {
		return tabRef{}, tabNotFound(tabID)
	}
	ref := tabRef{tab: t, active: f.windows[t.windowID].active == tabID}
	for i, id := range f.order[t.windowID] {
		if id == tabID {
			ref.index = i
		}
	}
	return ref, nil
}

func (f *PlaywrightFacade) Tab(ctx context.Context, tabID int) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	ref, err := f.lookup(tabID)
	if err != nil {
		return Tab{}, err
	}
	return f.snapshot(ref.tab, ref.index, ref.active), nil
}

func (f *PlaywrightFacade) OpenTab(ctx context.Context, windowID int, url string) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	f.mu.Lock()
	w, ok := f.windows[windowID]
	f.mu.Unlock()
	if !ok {
		return Tab{}, windowNotFound(windowID)
	}

	page, err := w.ctx.NewPage()
	if err != nil {
		return Tab{}, fmt.Errorf("%s - failed to create page: %w", logPrefix, err)
	}
	t := f.track(windowID, page)
	if url != "" && url != "about:blank" {
		if err := f.Navigate(ctx, t.id, url); err != nil {
			return Tab{}, err
		}
	}
	return f.Tab(ctx, t.id)
}

func (f *PlaywrightFacade) Navigate(ctx context.Context, tabID int, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := f.lookup(tabID)
	if err != nil {
		return err
	}
	if _, err := ref.tab.page.Goto(url); err != nil {
		return fmt.Errorf("%s - navigation failed: %w", logPrefix, err)
	}
	return nil
}

func (f *PlaywrightFacade) Activate(ctx context.Context, tabID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := f.lookup(tabID)
	if err != nil {
		return err
	}
	if err := ref.tab.page.BringToFront(); err != nil {
		return fmt.Errorf("%s - activate failed: %w", logPrefix, err)
	}
	f.mu.Lock()
	if w, ok := f.windows[ref.tab.windowID]; ok {
		w.active = tabID
	}
	f.lastFocused = ref.tab.windowID
	f.mu.Unlock()
	return nil
}

func (f *PlaywrightFacade) Reload(ctx context.Context, tabID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := f.lookup(tabID)
	if err != nil {
		return err
	}
	if _, err := ref.tab.page.Reload(); err != nil {
		return fmt.Errorf("%s - reload failed: %w", logPrefix, err)
	}
	return nil
}

func (f *PlaywrightFacade) CloseTab(ctx context.Context, tabID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := f.lookup(tabID)
	if err != nil {
		return err
	}
	if err := ref.tab.page.Close(); err != nil {
		return fmt.Errorf("%s - close failed: %w", logPrefix, err)
	}
	f.untrack(tabID)
	return nil
}

// Close shuts down every window, the browser and the driver.
func (f *PlaywrightFacade) Close() error {
	f.mu.Lock()
	windows := make([]*pwWindow, 0, len(f.windows))
	for _, w := range f.windows {
		windows = append(windows, w)
	}
	f.windows = make(map[int]*pwWindow)
	f.tabs = make(map[int]*pwTab)
	f.order = make(map[int][]int)
	f.mu.Unlock()

	for _, w := range windows {
		if err := w.ctx.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - closing window %d: %v", logPrefix, w.id, err))
		}
	}
	if err := f.browser.Close(); err != nil {
		slog.Warn(fmt.Sprintf("%s - closing browser: %v", logPrefix, err))
	}
	if err := f.pw.Stop(); err != nil {
		return fmt.Errorf("%s - failed to stop playwright: %w", logPrefix, err)
	}
	return nil
}

var (
	_ Facade = (*MemoryFacade)(nil)
	_ Facade = (*PlaywrightFacade)(nil)
)
