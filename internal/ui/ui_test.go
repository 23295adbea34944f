package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/pomosync/pomosync/internal/reconcile"
	"github.com/pomosync/pomosync/internal/schema"
)

func TestRenderPlainWithoutColor(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
	if got := RenderFail("bad"); !strings.Contains(got, "bad") {
		t.Errorf("RenderFail() = %q", got)
	}
}

func TestRenderPending(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	local := schema.DefaultSettings()
	remote := schema.DefaultSettings()
	remote.PomodoroDuration = 30
	p := &reconcile.Pending{
		MergeID: "m-1",
		Settings: &reconcile.SettingsConflict{
			Local: local, Remote: remote, Relation: reconcile.Diverged,
		},
		Entries: &reconcile.EntryDiff{
			UniqueToLocal: []schema.Entry{{Timestamp: "2026-01-10T08:00:00.000Z", PomodoroDuration: 25}},
			LocalCount:    2,
			RemoteCount:   1,
		},
	}

	out := RenderPending(p)
	for _, want := range []string{"m-1", "25m0s", "30m0s", "2 local, 1 on the account", "1 only here (25m)"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderPending() missing %q:\n%s", want, out)
		}
	}

	if out := RenderPending(&reconcile.Pending{}); !strings.Contains(out, "Nothing to decide") {
		t.Errorf("RenderPending() of a closed merge = %q", out)
	}
}
