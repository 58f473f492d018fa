package proc

import (
	"strings"
	"testing"
	"time"

	"github.com/leeineian/nijisupport/sys"
)

var renderNow = time.Unix(1700000000, 0)

func TestRenderSnapshot_OnlineSinceAnchorsToStartTime(t *testing.T) {
	p := RenderSnapshot(onlineSnapshot(), renderNow)

	if p.Title != sys.MsgDashboardTitleOnline || !p.Online {
		t.Fatalf("expected online title, got %q", p.Title)
	}
	if got := p.Lines[3]; got != "**Online since:** <t:999500:R>" {
		t.Fatalf("unexpected online since line: %q", got)
	}
	if p.Footer != "-# Last update: <t:1700000000:f>" {
		t.Fatalf("unexpected footer: %q", p.Footer)
	}
}

func TestRenderSnapshot_UnknownFields(t *testing.T) {
	p := RenderSnapshot(Snapshot{Online: true, TotalRequests: Counter{Value: 1234567, Known: true}}, renderNow)

	want := []string{
		"**Total Requests:** 1,234,567",
		"**Total Images:** unknown",
		"**Total Users:** unknown",
		"**Online since:** unknown",
	}
	if len(p.Lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), p.Lines)
	}
	for i := range want {
		if p.Lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], p.Lines[i])
		}
	}
	for _, s := range p.Sections {
		if !strings.Contains(s.Value, "unknown") {
			t.Fatalf("expected section %s to show unknown, got %q", s.Name, s.Value)
		}
	}
}

func TestRenderSnapshot_OfflineHasNoCounters(t *testing.T) {
	p := RenderSnapshot(Snapshot{}, renderNow)

	if p.Title != sys.MsgDashboardTitleOffline || p.Online {
		t.Fatalf("expected offline title, got %q", p.Title)
	}
	if len(p.Lines) != 1 || p.Lines[0] != sys.MsgDashboardOfflineStatus {
		t.Fatalf("expected only the status line, got %v", p.Lines)
	}
	if len(p.Sections) != 0 {
		t.Fatalf("expected no sections offline, got %d", len(p.Sections))
	}
}

func TestRenderSnapshot_OfflineCarriesErrorText(t *testing.T) {
	p := RenderSnapshot(Snapshot{Error: "dial tcp: refused"}, renderNow)
	if p.Lines[0] != "Exception: dial tcp: refused" {
		t.Fatalf("unexpected offline line: %q", p.Lines[0])
	}
}

func TestRenderSnapshot_SystemSections(t *testing.T) {
	snap, err := ParseSnapshot([]byte(fullStats))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := RenderSnapshot(snap, renderNow)

	got := map[string]string{}
	for _, s := range p.Sections {
		got[s.Name] = s.Value
	}
	checks := map[string]string{
		"CPU":          "Usage: 25.0%\nCores: 8\nFrequency: 2400.50 MHz",
		"Load Average": "0.50, 0.25, 0.10",
		"Processes":    "123",
		"Network":      "Sent: 2.0 kB\nRecv: 4.1 kB",
	}
	for name, want := range checks {
		if got[name] != want {
			t.Fatalf("section %s: expected %q, got %q", name, want, got[name])
		}
	}
	if !strings.Contains(got["Memory"], "4,000 MB") {
		t.Fatalf("unexpected memory section: %q", got["Memory"])
	}
}

func TestPanel_BuildsSingleContainer(t *testing.T) {
	p := RenderSnapshot(onlineSnapshot(), renderNow)
	if n := len(p.MessageCreate().Components); n != 1 {
		t.Fatalf("expected one container on create, got %d", n)
	}
	upd := p.MessageUpdate()
	if upd.Components == nil || len(*upd.Components) != 1 {
		t.Fatalf("expected one container on update")
	}
}
