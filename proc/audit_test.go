package proc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/nijisupport/sys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestDescribeMemberChanges_NickAndRoles(t *testing.T) {
	before := MemberInfo{Nick: "", Roles: map[snowflake.ID]string{1: "Member", 2: "Muted"}}
	after := MemberInfo{Nick: "Niji", Roles: map[snowflake.ID]string{1: "Member", 3: "VIP", 4: "Artist"}}

	got := DescribeMemberChanges(before, after)
	want := []string{
		"Nickname changed: `None` → `Niji`",
		"Roles added: Artist, VIP",
		"Roles removed: Muted",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("change %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRenderMemberUpdated_NoChangesIsSkipped(t *testing.T) {
	m := MemberInfo{Nick: "same", Roles: map[snowflake.ID]string{1: "Member"}}
	if _, ok := RenderMemberUpdated(m, m); ok {
		t.Fatalf("expected identical members to produce no log")
	}
}

func TestRenderMessageDeleted_EmptyContentIsNone(t *testing.T) {
	p := RenderMessageDeleted(AuthorInfo{ID: 7, Tag: "user"}, 99, "   ")
	if p.Sections[0].Value != "None" {
		t.Fatalf("expected None for empty content, got %q", p.Sections[0].Value)
	}
	if !strings.Contains(p.Lines[0], "<#99>") {
		t.Fatalf("expected channel mention, got %q", p.Lines[0])
	}
}

func TestRenderMessageEdited_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", 3000)
	p := RenderMessageEdited(AuthorInfo{ID: 7, Tag: "user"}, 99, "short", long)
	if p.Sections[0].Value != "short" {
		t.Fatalf("unexpected before section: %q", p.Sections[0].Value)
	}
	if n := len([]rune(p.Sections[1].Value)); n != 1901 {
		t.Fatalf("expected truncated after section, got %d runes", n)
	}
}

func TestRenderMemberJoined(t *testing.T) {
	p := RenderMemberJoined(MemberInfo{ID: 5, Mention: "<@5>", Tag: "new"})
	if p.Lines[0] != "User: <@5> (new)\nID: 5" {
		t.Fatalf("unexpected join line: %q", p.Lines[0])
	}
}

func TestPostLog_DisabledChannelDoesNothing(t *testing.T) {
	pub := &fakePublisher{}
	m := sys.NewMetrics(prometheus.NewRegistry())

	if postLog(context.Background(), pub, nil, m, 0, "member_join", Panel{}) {
		t.Fatalf("expected disabled channel to skip")
	}
	if pub.resolves != 0 {
		t.Fatalf("expected no lookups for a disabled channel")
	}
}

func TestPostLog_MissingChannelIsCounted(t *testing.T) {
	captureLogs(t)
	pub := &fakePublisher{resolveErr: ErrChannelNotFound}
	m := sys.NewMetrics(prometheus.NewRegistry())

	if postLog(context.Background(), pub, nil, m, 10, "message_delete", Panel{}) {
		t.Fatalf("expected missing channel to fail")
	}
	if v := testutil.ToFloat64(m.AuditPosts.WithLabelValues("message_delete", "missing")); v != 1 {
		t.Fatalf("expected missing metric, got %v", v)
	}
}

func TestPostLog_SendsThroughLimiter(t *testing.T) {
	pub := &fakePublisher{}
	m := sys.NewMetrics(prometheus.NewRegistry())
	limiter := rate.NewLimiter(rate.Inf, 1)

	panel := RenderMemberLeft(MemberInfo{ID: 5, Mention: "<@5>", Tag: "gone"})
	if !postLog(context.Background(), pub, limiter, m, 10, "member_leave", panel) {
		t.Fatalf("expected post to succeed")
	}
	if len(pub.sends) != 1 || pub.sends[0].Title != panel.Title {
		t.Fatalf("expected the panel to be sent, got %+v", pub.sends)
	}
	if v := testutil.ToFloat64(m.AuditPosts.WithLabelValues("member_leave", "ok")); v != 1 {
		t.Fatalf("expected ok metric, got %v", v)
	}
}

func TestPostLog_ThrottledWhenContextExpires(t *testing.T) {
	captureLogs(t)
	pub := &fakePublisher{}
	m := sys.NewMetrics(prometheus.NewRegistry())
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if postLog(ctx, pub, limiter, m, 10, "member_update", Panel{}) {
		t.Fatalf("expected throttled post to be dropped")
	}
	if len(pub.sends) != 0 {
		t.Fatalf("expected nothing sent")
	}
	if v := testutil.ToFloat64(m.AuditPosts.WithLabelValues("member_update", "throttled")); v != 1 {
		t.Fatalf("expected throttled metric, got %v", v)
	}
}
