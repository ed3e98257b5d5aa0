// Package browser is the narrow facade the entity handlers use to read and
// drive browser windows and tabs.
package browser

import (
	"context"
	"time"

	"github.com/morezero/rtbus/pkg/message"
)

// Window is a snapshot of one browser window.
type Window struct {
	ID        int       `json:"id"`
	Focused   bool      `json:"focused"`
	Incognito bool      `json:"incognito"`
	Type      string    `json:"type"`
	Top       int       `json:"top"`
	Left      int       `json:"left"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tab is a snapshot of one tab.
type Tab struct {
	ID        int       `json:"id"`
	WindowID  int       `json:"windowId"`
	Index     int       `json:"index"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Active    bool      `json:"active"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tab load states.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// AllWindows asks Tabs for the tabs of every window.
const AllWindows = -1

// Facade supplies window and tab state and the tab operations. IDs are
// positive; 0 is reserved for "last focused" at the addressing layer.
type Facade interface {
	Windows(ctx context.Context) ([]Window, error)
	// LastFocusedWindow fails with NO_MATCH when no window is open.
	LastFocusedWindow(ctx context.Context) (Window, error)
	Tabs(ctx context.Context, windowID int) ([]Tab, error)
	Tab(ctx context.Context, tabID int) (Tab, error)
	OpenTab(ctx context.Context, windowID int, url string) (Tab, error)
	Navigate(ctx context.Context, tabID int, url string) error
	Activate(ctx context.Context, tabID int) error
	Reload(ctx context.Context, tabID int) error
	CloseTab(ctx context.Context, tabID int) error
}

func windowNotFound(id int) error {
	return message.NewError(message.CodeNoMatch, "window %d not found", id)
}

func tabNotFound(id int) error {
	return message.NewError(message.CodeNoMatch, "tab %d not found", id)
}
