package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// --- Globals & Styles ---

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)

	// Component colors
	databaseColor  = color.New()
	dashboardColor = color.New(color.FgMagenta)
	welcomeColor   = color.New(color.FgMagenta)
	auditColor     = color.New(color.FgMagenta)
	metricsColor   = color.New(color.FgCyan)

	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	logFile *os.File
	logMu   sync.Mutex
)

const LevelFatal = slog.LevelError + 4

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	if LogToFile {
		exePath, exeErr := os.Executable()
		logName := GetProjectName() + ".log"
		if exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
		}
	}

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// LogFatal logs and panics so deferred cleanup in main still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), LevelFatal, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogDashboard(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "dashboard"))
}

func LogDashboardError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), slog.String("component", "dashboard"))
}

func LogWelcome(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "welcome"))
}

func LogWelcomeError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), slog.String("component", "welcome"))
}

func LogAudit(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "audit"))
}

func LogAuditError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), slog.String("component", "audit"))
}

func LogMetrics(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "metrics"))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
	now  func() time.Time
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
		now:  time.Now,
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := h.now().Format(DefaultTimeFormat)
	levelStr, levelColor := levelStyle(r.Level)

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(compColor, fmt.Sprintf("[%s] %s", component, r.Message)))
	} else {
		displayMsg := fmt.Sprintf("[%s] %s", levelStr, r.Message)
		if levelStr == "INFO" && strings.HasPrefix(r.Message, "[") {
			if idx := strings.Index(r.Message, "]"); idx > 0 && idx < 20 {
				displayMsg = r.Message
			}
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, displayMsg))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

// --- Formatting Helpers ---

func levelStyle(level slog.Level) (string, *color.Color) {
	switch {
	case level >= LevelFatal:
		return "FATAL", fatalColor
	case level >= slog.LevelError:
		return "ERROR", errorColor
	case level >= slog.LevelWarn:
		return "WARN", warnColor
	case level >= slog.LevelInfo:
		return "INFO", infoColor
	default:
		return "DEBUG", infoColor
	}
}

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "DASHBOARD":
		return dashboardColor
	case "WELCOME":
		return welcomeColor
	case "AUDIT":
		return auditColor
	case "METRICS":
		return metricsColor
	default:
		return color.New(color.FgCyan)
	}
}

func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	modifiedText := strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq)
	return c.Sprint(modifiedText)
}

func GetLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	clean := s.re.ReplaceAll(p, []byte(""))
	_, err = s.w.Write(clean)
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad   = "Failed to load config: %v"
	MsgConfigMissingToken   = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidChannel = "invalid %s: must be a valid Snowflake"
	MsgConfigMissingAPI     = "API_ENDPOINT must be set when STAT_CHANNEL_ID is configured"
	MsgDatabaseInitSuccess  = "Database initialized successfully"
	MsgDatabaseTableError   = "Failed to create table: %w"
	MsgDatabasePragmaError  = "Failed to set pragma %s: %w"
	MsgDaemonStarting       = "Starting..."
	MsgBotStarting          = "Starting %s..."
	MsgBotReady             = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown          = "Shutting down %s..."
	MsgBotKillingOld        = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated     = "Old instance terminated."
	MsgBotLogFile           = "Writing logs to %s"
	MsgBotAnotherInstance   = "Another instance is still running (PID: %d)"
	MsgBotAPIStatusError    = "discord API returned status %d"
	MsgGenericError         = "%v"
	MsgLoaderPanicRecovered = "Panic recovered in handler: %v"

	// --- Metrics ---
	MsgMetricsListening = "Serving /metrics on %s"
	MsgMetricsServeFail = "Metrics server stopped: %v"

	// --- Stats Dashboard ---
	MsgDashboardDisabled       = "STAT_CHANNEL_ID not set, dashboard disabled"
	MsgDashboardAlreadyRunning = "Dashboard loop already running, ignoring ready signal"
	MsgDashboardFetchFail      = "Exception during API stats retrieval: %v"
	MsgDashboardStatusFail     = "Stats API returned status %d"
	MsgDashboardChannelMissing = "Stats channel not found (ID: %s)"
	MsgDashboardSendFail       = "Failed to send stats message: %v"
	MsgDashboardEditFail       = "Failed to update stats message: %v"
	MsgDashboardCreated        = "Created stats message %s in channel %s"
	MsgDashboardTick           = "Tick complete (%s), next in %v"
	MsgDashboardStopped        = "Stopped."
	MsgDashboardRecordFail     = "Failed to record last tick: %v"
	MsgStatusUpdateFail        = "Failed to update status: %v"
	MsgStatusUpdated           = "Status set to: Watching %s"

	MsgDashboardTitleOnline   = "🟢 API is online"
	MsgDashboardTitleOffline  = "🔴 API is offline"
	MsgDashboardOfflineStatus = "Error retrieving API stats."
	MsgDashboardOfflineError  = "Exception: %s"
	MsgDashboardRequests      = "**Total Requests:** %s"
	MsgDashboardImages        = "**Total Images:** %s"
	MsgDashboardUsers         = "**Total Users:** %s"
	MsgDashboardOnlineSince   = "**Online since:** %s"
	MsgDashboardFooter        = "-# Last update: <t:%d:f>"
	MsgDashboardUnknown       = "unknown"

	// --- Welcome ---
	MsgWelcomeTitle          = "Welcome!"
	MsgWelcomeBody           = "Hello %s, welcome to our server! Enjoy your stay."
	MsgWelcomeChannelMissing = "Welcome channel not found in guild: %s"
	MsgWelcomeSendFail       = "Failed to send welcome message: %v"
	MsgWelcomeSent           = "Greeted %s in guild %s"

	// --- Audit Log ---
	MsgAuditChannelMissing = "Log channel with ID %s not found."
	MsgAuditSendFail       = "Failed to send %s log: %v"
	MsgAuditThrottled      = "Dropped %s log: %v"
	MsgAuditMemberJoined   = "Member Joined"
	MsgAuditMemberLeft     = "Member Left"
	MsgAuditMemberUpdated  = "Member Updated"
	MsgAuditMessageEdited  = "Message Edited"
	MsgAuditMessageDeleted = "Message Deleted"
	MsgAuditMemberLine     = "User: %s (%s)\nID: %s"
	MsgAuditAuthorLine     = "**User:** %s (%s)\n**Channel:** <#%s>"
	MsgAuditNickChanged    = "Nickname changed: `%s` → `%s`"
	MsgAuditRolesAdded     = "Roles added: %s"
	MsgAuditRolesRemoved   = "Roles removed: %s"
	MsgAuditEmptyContent   = "None"
)
