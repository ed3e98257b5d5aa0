package commsutil

import (
	"testing"

	"github.com/morezero/rtbus/pkg/rtid"
)

func TestBuildInboxSubject(t *testing.T) {
	tests := []struct {
		name string
		ct   rtid.ContextType
		addr rtid.RTID
		want string
	}{
		{"background", rtid.ContextBackground, rtid.Browser(0), "rt.background"},
		{"content frame", rtid.ContextContent, rtid.Frame(7, 0), "rt.content.t7.f0"},
		{"main world", rtid.ContextMainWorld, rtid.Frame(7, 2), "rt.main_world.t7.f2"},
		{"external", rtid.ContextExternal, rtid.External("cli.1"), "rt.external.x.cli_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildInboxSubject(tt.ct, tt.addr)
			if got != tt.want {
				t.Errorf("BuildInboxSubject(%q, %s) = %q, want %q", tt.ct, tt.addr, got, tt.want)
			}
		})
	}
}

func TestBuildEventSubject(t *testing.T) {
	got := BuildEventSubject(SubjectRouteEvents, "bg.main")
	if got != "rt.events.routes.bg_main" {
		t.Errorf("BuildEventSubject() = %q, want rt.events.routes.bg_main", got)
	}
}

func TestAttachSubjects(t *testing.T) {
	if got := BuildAttachSubject("rt.background"); got != "rt.background.attach" {
		t.Errorf("BuildAttachSubject() = %q", got)
	}
	if got := BuildDetachSubject("rt.background"); got != "rt.background.detach" {
		t.Errorf("BuildDetachSubject() = %q", got)
	}
	pub, sub := BuildClientSubjects("rt.background", "cli.1")
	if pub != "rt.external.x.cli_1" || sub != "rt.background.x.cli_1" {
		t.Errorf("BuildClientSubjects() = %q, %q", pub, sub)
	}
}
