package proc

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/leeineian/nijisupport/sys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGreet_PostsMentionInConfiguredChannel(t *testing.T) {
	captureLogs(t)
	pub := &fakePublisher{guildID: 7}
	w := NewWelcome(55, pub, sys.NewMetrics(prometheus.NewRegistry()))
	w.now = func() time.Time { return time.Unix(1700000000, 0) }

	if !w.Greet(context.Background(), 7, "<@1>") {
		t.Fatalf("expected greeting to be sent")
	}
	if len(pub.sends) != 1 {
		t.Fatalf("expected one send, got %d", len(pub.sends))
	}
	if !strings.Contains(pub.sends[0].Lines[0], "Hello <@1>, welcome") {
		t.Fatalf("unexpected greeting: %q", pub.sends[0].Lines[0])
	}
}

func TestGreet_ChannelOfAnotherGuildIsMissing(t *testing.T) {
	logs := captureLogs(t)
	pub := &fakePublisher{guildID: 8}
	m := sys.NewMetrics(prometheus.NewRegistry())
	w := NewWelcome(55, pub, m)

	if w.Greet(context.Background(), 7, "<@1>") {
		t.Fatalf("expected greeting into a foreign guild to be refused")
	}
	if len(pub.sends) != 0 {
		t.Fatalf("expected no sends, got %d", len(pub.sends))
	}
	if v := testutil.ToFloat64(m.AuditPosts.WithLabelValues("welcome", "missing")); v != 1 {
		t.Fatalf("expected missing metric, got %v", v)
	}
	if got := logs.component(slog.LevelError); got != "welcome" {
		t.Fatalf("expected error logged under the welcome component, got %q", got)
	}
}

func TestGreet_DisabledWithoutChannel(t *testing.T) {
	pub := &fakePublisher{}
	if NewWelcome(0, pub, nil).Greet(context.Background(), 7, "<@1>") {
		t.Fatalf("expected disabled welcome to skip")
	}
	if pub.resolves != 0 {
		t.Fatalf("expected no channel lookup")
	}
}

func TestGreet_SendFailureLogsUnderWelcome(t *testing.T) {
	logs := captureLogs(t)
	pub := &fakePublisher{guildID: 7, sendErr: errBoom}
	m := sys.NewMetrics(prometheus.NewRegistry())

	if NewWelcome(55, pub, m).Greet(context.Background(), 7, "<@1>") {
		t.Fatalf("expected failed send to report false")
	}
	if logs.count(slog.LevelError) != 1 || logs.component(slog.LevelError) != "welcome" {
		t.Fatalf("expected one welcome error log")
	}
	if v := testutil.ToFloat64(m.AuditPosts.WithLabelValues("welcome", "error")); v != 1 {
		t.Fatalf("expected error metric, got %v", v)
	}
}
