package proc

import (
	"context"
	"sync"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/nijisupport/sys"
)

const configKeyStatus = "status_visible"

// PresenceSetter is implemented by *bot.Client.
type PresenceSetter interface {
	SetPresence(ctx context.Context, opts ...gateway.PresenceOpt) error
}

// StatusMirror shows the API state as the bot's activity. The gateway is only touched when
// the state flips.
type StatusMirror struct {
	client  PresenceSetter
	visible func(ctx context.Context) bool

	mu   sync.Mutex
	last string
}

func NewStatusMirror(client PresenceSetter) *StatusMirror {
	return &StatusMirror{client: client, visible: statusVisible}
}

// Update reports whether the presence was changed.
func (s *StatusMirror) Update(ctx context.Context, result string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result == s.last {
		return false
	}

	opts := []gateway.PresenceOpt{gateway.WithOnlineStatus(discord.OnlineStatusOnline)}
	if s.visible(ctx) {
		opts = append(opts, gateway.WithWatchingActivity(statusText(result)))
	}
	if err := s.client.SetPresence(ctx, opts...); err != nil {
		sys.LogDashboardError(sys.MsgStatusUpdateFail, err)
		return false
	}
	s.last = result
	sys.LogDebug(sys.MsgStatusUpdated, statusText(result))
	return true
}

func statusText(result string) string {
	if result == "online" {
		return "the API (online)"
	}
	return "the API (offline)"
}

// statusVisible lets operators hide the activity by setting status_visible=false.
func statusVisible(ctx context.Context) bool {
	v, err := sys.GetBotConfig(ctx, configKeyStatus)
	return err != nil || v != "false"
}
