package proc

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/nijisupport/sys"
	"golang.org/x/time/rate"
)

func init() {
	sys.RegisterMemberJoinHandler(onAuditMemberJoin)
	sys.RegisterMemberLeaveHandler(onAuditMemberLeave)
	sys.RegisterMemberUpdateHandler(onAuditMemberUpdate)
	sys.RegisterMessageUpdateHandler(onAuditMessageUpdate)
	sys.RegisterMessageDeleteHandler(onAuditMessageDelete)
}

const auditPostTimeout = 15 * time.Second

// auditLimiter is shared by welcome and log posts so a join wave cannot flood the REST bucket.
var auditLimiter = rate.NewLimiter(rate.Limit(2), 10)

// MemberInfo is the part of a guild member the audit panels show.
type MemberInfo struct {
	ID      snowflake.ID
	Mention string
	Tag     string
	Nick    string
	Roles   map[snowflake.ID]string
}

// AuthorInfo is the author of a logged message.
type AuthorInfo struct {
	ID  snowflake.ID
	Tag string
	Bot bool
}

// --- Panels ---

func RenderMemberJoined(m MemberInfo) Panel {
	return Panel{
		Title:  "📥 " + sys.MsgAuditMemberJoined,
		Online: true,
		Lines:  []string{fmt.Sprintf(sys.MsgAuditMemberLine, m.Mention, m.Tag, m.ID)},
	}
}

func RenderMemberLeft(m MemberInfo) Panel {
	return Panel{
		Title: "📤 " + sys.MsgAuditMemberLeft,
		Lines: []string{fmt.Sprintf(sys.MsgAuditMemberLine, m.Mention, m.Tag, m.ID)},
	}
}

// RenderMemberUpdated returns false when nothing worth logging changed.
func RenderMemberUpdated(before, after MemberInfo) (Panel, bool) {
	changes := DescribeMemberChanges(before, after)
	if len(changes) == 0 {
		return Panel{}, false
	}
	return Panel{
		Title:    "🛠️ " + sys.MsgAuditMemberUpdated,
		Lines:    []string{fmt.Sprintf(sys.MsgAuditMemberLine, after.Mention, after.Tag, after.ID)},
		Sections: []PanelSection{{Name: "Changes", Value: strings.Join(changes, "\n")}},
	}, true
}

// DescribeMemberChanges lists nickname and role differences, roles sorted by name.
func DescribeMemberChanges(before, after MemberInfo) []string {
	var changes []string
	if before.Nick != after.Nick {
		changes = append(changes, fmt.Sprintf(sys.MsgAuditNickChanged, displayNick(before.Nick), displayNick(after.Nick)))
	}

	var added, removed []string
	for id, name := range after.Roles {
		if _, ok := before.Roles[id]; !ok {
			added = append(added, name)
		}
	}
	for id, name := range before.Roles {
		if _, ok := after.Roles[id]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)

	if len(added) > 0 {
		changes = append(changes, fmt.Sprintf(sys.MsgAuditRolesAdded, strings.Join(added, ", ")))
	}
	if len(removed) > 0 {
		changes = append(changes, fmt.Sprintf(sys.MsgAuditRolesRemoved, strings.Join(removed, ", ")))
	}
	return changes
}

func RenderMessageEdited(author AuthorInfo, channelID snowflake.ID, before, after string) Panel {
	return Panel{
		Title: "✏️ " + sys.MsgAuditMessageEdited,
		Lines: []string{fmt.Sprintf(sys.MsgAuditAuthorLine, author.Tag, author.ID, channelID)},
		Sections: []PanelSection{
			{Name: "Before", Value: contentOrNone(before)},
			{Name: "After", Value: contentOrNone(after)},
		},
	}
}

func RenderMessageDeleted(author AuthorInfo, channelID snowflake.ID, content string) Panel {
	return Panel{
		Title:    "🗑️ " + sys.MsgAuditMessageDeleted,
		Lines:    []string{fmt.Sprintf(sys.MsgAuditAuthorLine, author.Tag, author.ID, channelID)},
		Sections: []PanelSection{{Name: "Content", Value: contentOrNone(content)}},
	}
}

func displayNick(nick string) string {
	if nick == "" {
		return "None"
	}
	return nick
}

// contentOrNone also keeps a section under the 4000 character text display limit.
func contentOrNone(content string) string {
	if strings.TrimSpace(content) == "" {
		return sys.MsgAuditEmptyContent
	}
	if r := []rune(content); len(r) > 1900 {
		return string(r[:1900]) + "…"
	}
	return content
}

// --- Posting ---

// postLog sends one panel to a log channel. A zero channel means the log is disabled.
func postLog(ctx context.Context, pub Publisher, limiter *rate.Limiter, metrics *sys.Metrics, channelID snowflake.ID, kind string, panel Panel) bool {
	if channelID == 0 {
		return false
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			metrics.AuditPosts.WithLabelValues(kind, "throttled").Inc()
			sys.LogAuditError(sys.MsgAuditThrottled, kind, err)
			return false
		}
	}

	if _, err := pub.ResolveChannel(ctx, channelID); err != nil {
		metrics.AuditPosts.WithLabelValues(kind, "missing").Inc()
		sys.LogAuditError(sys.MsgAuditChannelMissing, channelID)
		return false
	}

	if _, err := pub.Send(ctx, channelID, panel); err != nil {
		metrics.AuditPosts.WithLabelValues(kind, "error").Inc()
		sys.LogAuditError(sys.MsgAuditSendFail, kind, err)
		return false
	}
	metrics.AuditPosts.WithLabelValues(kind, "ok").Inc()
	return true
}

func postAudit(client *bot.Client, channelID snowflake.ID, kind string, panel Panel) {
	ctx, cancel := context.WithTimeout(sys.AppContext, auditPostTimeout)
	defer cancel()
	postLog(ctx, NewRestPublisher(client), auditLimiter, sys.AppMetrics, channelID, kind, panel)
}

// --- Event glue ---

func memberInfo(client *bot.Client, m discord.Member) MemberInfo {
	info := MemberInfo{
		ID:      m.User.ID,
		Mention: m.User.Mention(),
		Tag:     m.User.Tag(),
		Roles:   make(map[snowflake.ID]string, len(m.RoleIDs)),
	}
	if m.Nick != nil {
		info.Nick = *m.Nick
	}
	for _, roleID := range m.RoleIDs {
		name := roleID.String()
		if role, ok := client.Caches.Role(m.GuildID, roleID); ok {
			name = role.Name
		}
		info.Roles[roleID] = name
	}
	return info
}

func userInfo(u discord.User) MemberInfo {
	return MemberInfo{ID: u.ID, Mention: u.Mention(), Tag: u.Tag()}
}

func authorInfo(u discord.User) AuthorInfo {
	return AuthorInfo{ID: u.ID, Tag: u.Tag(), Bot: u.Bot}
}

func onAuditMemberJoin(event *events.GuildMemberJoin) {
	cfg := sys.GlobalConfig
	if cfg == nil {
		return
	}
	postAudit(event.Client(), cfg.PublicLogChannelID, "member_join", RenderMemberJoined(memberInfo(event.Client(), event.Member)))
}

func onAuditMemberLeave(event *events.GuildMemberLeave) {
	cfg := sys.GlobalConfig
	if cfg == nil {
		return
	}
	postAudit(event.Client(), cfg.PublicLogChannelID, "member_leave", RenderMemberLeft(userInfo(event.User)))
}

func onAuditMemberUpdate(event *events.GuildMemberUpdate) {
	cfg := sys.GlobalConfig
	if cfg == nil || event.OldMember.User.ID == 0 {
		return
	}
	panel, ok := RenderMemberUpdated(memberInfo(event.Client(), event.OldMember), memberInfo(event.Client(), event.Member))
	if !ok {
		return
	}
	postAudit(event.Client(), cfg.PrivateLogChannelID, "member_update", panel)
}

func onAuditMessageUpdate(event *events.GuildMessageUpdate) {
	cfg := sys.GlobalConfig
	// Only edits of cached messages carry the old content.
	if cfg == nil || event.OldMessage.ID == 0 || event.Message.Author.Bot {
		return
	}
	if event.OldMessage.Content == event.Message.Content {
		return
	}
	panel := RenderMessageEdited(authorInfo(event.Message.Author), event.ChannelID, event.OldMessage.Content, event.Message.Content)
	postAudit(event.Client(), cfg.PrivateLogChannelID, "message_edit", panel)
}

func onAuditMessageDelete(event *events.GuildMessageDelete) {
	cfg := sys.GlobalConfig
	if cfg == nil || event.Message.ID == 0 || event.Message.Author.Bot {
		return
	}
	panel := RenderMessageDeleted(authorInfo(event.Message.Author), event.ChannelID, event.Message.Content)
	postAudit(event.Client(), cfg.PrivateLogChannelID, "message_delete", panel)
}
