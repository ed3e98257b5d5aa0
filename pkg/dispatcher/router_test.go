package dispatcher

import (
	"errors"
	"testing"

	"github.com/morezero/rtbus/pkg/message"
	"github.com/morezero/rtbus/pkg/rtid"
)

func TestRouters(t *testing.T) {
	mainWorld := rtid.Frame(7, 0).WithContext(rtid.ContextMainWorld)
	otherMainWorld := rtid.Frame(7, 2).WithContext(rtid.ContextMainWorld)

	tests := []struct {
		name   string
		router Router
		dest   rtid.RTID
		want   rtid.ContextType
	}{
		{"background to tab", BackgroundRouter{}, rtid.Tab(7), rtid.ContextBackground},
		{"background to frame", BackgroundRouter{}, rtid.Frame(7, 0), rtid.ContextContent},
		{"background to main world", BackgroundRouter{}, mainWorld, rtid.ContextContent},
		{"background to external", BackgroundRouter{}, rtid.External("cli"), rtid.ContextExternal},
		{"content to own main world", ContentRouter{Self: rtid.Frame(7, 0)}, mainWorld, rtid.ContextMainWorld},
		{"content to other main world", ContentRouter{Self: rtid.Frame(7, 0)}, otherMainWorld, rtid.ContextBackground},
		{"content to other frame", ContentRouter{Self: rtid.Frame(7, 0)}, rtid.Frame(7, 1), rtid.ContextBackground},
		{"content to window", ContentRouter{Self: rtid.Frame(7, 0)}, rtid.Window(1), rtid.ContextBackground},
		{"main world to anything", MainWorldRouter{}, rtid.Tab(9), rtid.ContextContent},
		{"external to anything", ExternalRouter{}, rtid.Frame(1, 0), rtid.ContextBackground},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.router.Route(tt.dest)
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", testPrefix, err)
			}
			if got != tt.want {
				t.Errorf("%s - Route(%s) = %q, want %q", testPrefix, tt.dest, got, tt.want)
			}
		})
	}
}

func TestRouters_Unresolvable(t *testing.T) {
	for _, r := range []Router{BackgroundRouter{}, ContentRouter{}, MainWorldRouter{}, ExternalRouter{}} {
		if _, err := r.Route(rtid.New().WithObject(3)); !errors.Is(err, message.ErrNoRoute) {
			t.Errorf("%s - %T: expected NO_ROUTE, got %v", testPrefix, r, err)
		}
	}
}

func TestRouterFor(t *testing.T) {
	for _, ct := range []rtid.ContextType{rtid.ContextBackground, rtid.ContextContent, rtid.ContextMainWorld, rtid.ContextExternal} {
		if _, err := RouterFor(ct, rtid.Frame(1, 0)); err != nil {
			t.Errorf("%s - RouterFor(%s): %v", testPrefix, ct, err)
		}
	}
	if _, err := RouterFor(rtid.ContextNone, rtid.New()); err == nil {
		t.Errorf("%s - expected error for an empty context", testPrefix)
	}
}

func TestRouterFunc(t *testing.T) {
	r := RouterFunc(func(rtid.RTID) (rtid.ContextType, error) { return rtid.ContextExternal, nil })
	if got, _ := r.Route(rtid.Tab(1)); got != rtid.ContextExternal {
		t.Errorf("%s - RouterFunc returned %s", testPrefix, got)
	}
}
