package sys

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	jsoniter "github.com/json-iterator/go"
)

// safeGo runs a function in a new goroutine with panic recovery
func safeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// --- Global State & Setup ---

var AppContext = context.Background()
var StartupTime = time.Now()

var memberJoinHandlers []func(event *events.GuildMemberJoin)
var memberLeaveHandlers []func(event *events.GuildMemberLeave)
var memberUpdateHandlers []func(event *events.GuildMemberUpdate)
var messageUpdateHandlers []func(event *events.GuildMessageUpdate)
var messageDeleteHandlers []func(event *events.GuildMessageDelete)

// HttpClient is a shared thread-safe client for short external API calls.
var HttpClient = &http.Client{
	Timeout: 10 * time.Second,
}

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// --- Bot Initialization ---

// CreateClient creates and configures a disgo client
func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
			),
			gateway.WithPresenceOpts(
				gateway.WithWatchingActivity("the API"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagRoles, cache.FlagChannels, cache.FlagMessages),
		),
		bot.WithEventListenerFunc(onReady),
		bot.WithEventListenerFunc(onGuildMemberJoin),
		bot.WithEventListenerFunc(onGuildMemberLeave),
		bot.WithEventListenerFunc(onGuildMemberUpdate),
		bot.WithEventListenerFunc(onGuildMessageUpdate),
		bot.WithEventListenerFunc(onGuildMessageDelete),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 30 * time.Second,
			}),
		),
	)
}

// GetBotUsername fetches the bot's username and ID using the provided token, with caching
func GetBotUsername(ctx context.Context, token string) (string, snowflake.ID, error) {
	cachedName, _ := GetBotConfig(ctx, "cached_bot_name")
	cachedIDStr, _ := GetBotConfig(ctx, "cached_bot_id")

	var cachedID snowflake.ID
	if cachedIDStr != "" {
		if id, err := snowflake.Parse(cachedIDStr); err == nil {
			cachedID = id
		}
	}

	if cachedName != "" && cachedID != 0 {
		return cachedName, cachedID, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://discord.com/api/v10/users/@me", nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", "Bot "+token)

	resp, err := HttpClient.Do(req)
	if err != nil {
		if cachedName != "" {
			return cachedName, cachedID, nil
		}
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if cachedName != "" {
			return cachedName, cachedID, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return GetProjectName(), 0, nil
		}
		return "", 0, fmt.Errorf(MsgBotAPIStatusError, resp.StatusCode)
	}

	var user struct {
		ID       snowflake.ID `json:"id"`
		Username string       `json:"username"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(resp.Body).Decode(&user); err != nil {
		if cachedName != "" {
			return cachedName, cachedID, nil
		}
		return "", 0, err
	}

	_ = SetBotConfig(ctx, "cached_bot_name", user.Username)
	_ = SetBotConfig(ctx, "cached_bot_id", user.ID.String())

	return user.Username, user.ID, nil
}

// --- Handler Registration ---

func RegisterMemberJoinHandler(handler func(event *events.GuildMemberJoin)) {
	memberJoinHandlers = append(memberJoinHandlers, handler)
}

func RegisterMemberLeaveHandler(handler func(event *events.GuildMemberLeave)) {
	memberLeaveHandlers = append(memberLeaveHandlers, handler)
}

func RegisterMemberUpdateHandler(handler func(event *events.GuildMemberUpdate)) {
	memberUpdateHandlers = append(memberUpdateHandlers, handler)
}

func RegisterMessageUpdateHandler(handler func(event *events.GuildMessageUpdate)) {
	messageUpdateHandlers = append(messageUpdateHandlers, handler)
}

func RegisterMessageDeleteHandler(handler func(event *events.GuildMessageDelete)) {
	messageDeleteHandlers = append(messageDeleteHandlers, handler)
}

// --- Event Handlers ---

func onReady(event *events.Ready) {
	botUser := event.User

	duration := time.Since(StartupTime)
	LogInfo(MsgBotReady, botUser.Username, botUser.ID.String(), os.Getpid(), duration.Milliseconds())

	// Ready fires again after every full reconnect; StartDaemons only acts on the first.
	StartDaemons(AppContext, event.Client())
}

func onGuildMemberJoin(event *events.GuildMemberJoin) {
	for _, h := range memberJoinHandlers {
		safeGo(func() { h(event) })
	}
}

func onGuildMemberLeave(event *events.GuildMemberLeave) {
	for _, h := range memberLeaveHandlers {
		safeGo(func() { h(event) })
	}
}

func onGuildMemberUpdate(event *events.GuildMemberUpdate) {
	for _, h := range memberUpdateHandlers {
		safeGo(func() { h(event) })
	}
}

func onGuildMessageUpdate(event *events.GuildMessageUpdate) {
	for _, h := range messageUpdateHandlers {
		safeGo(func() { h(event) })
	}
}

func onGuildMessageDelete(event *events.GuildMessageDelete) {
	for _, h := range messageDeleteHandlers {
		safeGo(func() { h(event) })
	}
}

// --- Daemon System ---

// DaemonStarter launches a background daemon. It reports whether anything was started and
// returns an optional shutdown hook that blocks until the daemon has exited.
type DaemonStarter func(ctx context.Context, client *bot.Client) (bool, func())

type daemonEntry struct {
	starter DaemonStarter
	logger  func(format string, v ...any)
}

var (
	registeredDaemons   []daemonEntry
	daemonsStarted      atomic.Bool
	activeShutdownHooks []func()
	activeShutdownMu    sync.Mutex
)

// RegisterDaemon registers a background daemon with a logger and start function
func RegisterDaemon(logger func(format string, v ...any), starter DaemonStarter) {
	registeredDaemons = append(registeredDaemons, daemonEntry{starter: starter, logger: logger})
}

// StartDaemons starts every registered daemon. Only the first call does anything.
func StartDaemons(ctx context.Context, client *bot.Client) bool {
	if !daemonsStarted.CompareAndSwap(false, true) {
		return false
	}

	for _, daemon := range registeredDaemons {
		ok, shutdown := daemon.starter(ctx, client)
		if !ok {
			continue
		}
		if shutdown != nil {
			activeShutdownMu.Lock()
			activeShutdownHooks = append(activeShutdownHooks, shutdown)
			activeShutdownMu.Unlock()
		}
		daemon.logger(MsgDaemonStarting)
	}
	return true
}

// ShutdownDaemons gracefully stops all active daemons
func ShutdownDaemons(ctx context.Context) {
	activeShutdownMu.Lock()
	hooks := activeShutdownHooks
	activeShutdownHooks = nil
	activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range hooks {
		wg.Add(1)
		go func(s func()) {
			defer wg.Done()
			s()
		}(shutdown)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
