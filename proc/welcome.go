package proc

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/nijisupport/sys"
)

func init() {
	sys.RegisterMemberJoinHandler(onWelcomeMemberJoin)
}

// RenderWelcome builds the greeting posted when a member joins.
func RenderWelcome(mention string, now time.Time) Panel {
	return Panel{
		Title:  "👋 " + sys.MsgWelcomeTitle,
		Online: true,
		Lines:  []string{fmt.Sprintf(sys.MsgWelcomeBody, mention)},
		Footer: fmt.Sprintf("-# <t:%d:f>", now.Unix()),
	}
}

// Welcome posts greetings into a channel of the guild the member joined.
type Welcome struct {
	channelID snowflake.ID
	publisher Publisher
	metrics   *sys.Metrics
	now       func() time.Time
}

func NewWelcome(channelID snowflake.ID, publisher Publisher, metrics *sys.Metrics) *Welcome {
	if metrics == nil {
		metrics = sys.NewMetrics(nil)
	}
	return &Welcome{channelID: channelID, publisher: publisher, metrics: metrics, now: time.Now}
}

// Greet reports whether a greeting was sent. A channel belonging to another guild counts as
// missing, so a shared bot never greets into the wrong server.
func (w *Welcome) Greet(ctx context.Context, guildID snowflake.ID, mention string) bool {
	if w.channelID == 0 {
		return false
	}

	owner, err := w.publisher.ResolveChannel(ctx, w.channelID)
	if err != nil || owner != guildID {
		w.metrics.AuditPosts.WithLabelValues("welcome", "missing").Inc()
		sys.LogWelcomeError(sys.MsgWelcomeChannelMissing, guildID)
		return false
	}

	if _, err := w.publisher.Send(ctx, w.channelID, RenderWelcome(mention, w.now())); err != nil {
		w.metrics.AuditPosts.WithLabelValues("welcome", "error").Inc()
		sys.LogWelcomeError(sys.MsgWelcomeSendFail, err)
		return false
	}
	w.metrics.AuditPosts.WithLabelValues("welcome", "ok").Inc()
	sys.LogWelcome(sys.MsgWelcomeSent, mention, guildID)
	return true
}

func onWelcomeMemberJoin(event *events.GuildMemberJoin) {
	cfg := sys.GlobalConfig
	if cfg == nil || cfg.WelcomeChannelID == 0 || event.Member.User.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(sys.AppContext, auditPostTimeout)
	defer cancel()
	if err := auditLimiter.Wait(ctx); err != nil {
		return
	}
	NewWelcome(cfg.WelcomeChannelID, NewRestPublisher(event.Client()), sys.AppMetrics).Greet(ctx, event.GuildID, event.Member.User.Mention())
}
