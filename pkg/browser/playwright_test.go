package browser

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs installed playwright browsers; set RT_PLAYWRIGHT_TEST=1 to run.
func TestPlaywrightFacade(t *testing.T) {
	if os.Getenv("RT_PLAYWRIGHT_TEST") == "" {
		t.Skip("browser:playwright_test - RT_PLAYWRIGHT_TEST not set")
	}
	ctx := context.Background()

	f, err := NewPlaywrightFacade(PlaywrightOptions{Headless: true})
	require.NoError(t, err)
	defer f.Close()

	w, err := f.LastFocusedWindow(ctx)
	require.NoError(t, err)

	tab, err := f.OpenTab(ctx, w.ID, "data:text/html,<title>hello</title>")
	require.NoError(t, err)
	assert.Equal(t, "hello", tab.Title)

	tabs, err := f.Tabs(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, tabs, 2)

	require.NoError(t, f.Activate(ctx, tabs[0].ID))
	require.NoError(t, f.CloseTab(ctx, tab.ID))

	tabs, err = f.Tabs(ctx, AllWindows)
	require.NoError(t, err)
	assert.Len(t, tabs, 1)
}
