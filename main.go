package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/leeineian/nijisupport/proc"
	"github.com/leeineian/nijisupport/sys"
)

const pidFile = ".bot.pid"

func main() {
	// 0. Recover from panics (LogFatal uses panic to ensure defers run)
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	logFile := flag.Bool("log-file", true, "Also write logs to <binary>.log")
	flag.Parse()

	// 1. Initialize Logger (handle flags)
	sys.InitLogger(*silent, *logFile)
	if path := sys.GetLogPath(); path != "" {
		sys.LogDebug(sys.MsgBotLogFile, path)
	}

	// 2. Load configuration
	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}

	// 3. Initialize Database
	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal("Failed to initialize database: %v", err)
	}
	defer sys.CloseDatabase()

	// 4. Try to detect bot name
	botName := sys.GetProjectName()
	if name, _, err := sys.GetBotUsername(context.Background(), cfg.Token); err == nil {
		botName = name
	} else {
		sys.LogError("Failed to get bot username: %v", err)
	}

	sys.LogInfo(sys.MsgBotStarting, botName)

	// 5. Single instance: take over from a previous run holding the PID file
	f, err := acquirePIDFile(pidFile)
	if err != nil {
		sys.LogFatal("Failed to lock PID file: %v", err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(pidFile)
	}()

	// 6. Run bot (blocks until shutdown signal)
	if err := run(cfg, *silent); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

// acquirePIDFile locks path exclusively, terminating the process recorded in it if needed.
func acquirePIDFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			_ = f.Close()
			return nil, err
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil || oldPid == os.Getpid() {
			<-ticker.C
			continue
		}

		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			<-ticker.C
			continue
		}

		sys.LogInfo(sys.MsgBotKillingOld, oldPid)
		_ = process.Signal(syscall.SIGTERM)
		if !waitForExit(process, ticker, 5*time.Second) {
			sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", oldPid)
			_ = process.Signal(syscall.SIGKILL)
			if !waitForExit(process, ticker, 2*time.Second) {
				sys.LogWarn(sys.MsgBotAnotherInstance, oldPid)
			}
		}
		sys.LogInfo(sys.MsgBotOldTerminated)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()
	return f, nil
}

func waitForExit(process *os.Process, ticker *time.Ticker, limit time.Duration) bool {
	timeout := time.After(limit)
	for {
		select {
		case <-ticker.C:
			if err := process.Signal(syscall.Signal(0)); err != nil {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func run(cfg *sys.Config, silent bool) error {
	// 1. Setup global context that responds to shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	sys.SetAppContext(ctx)

	// 2. Create disgo client
	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	// 3. Metrics endpoint
	if cfg.MetricsAddr != "" {
		go sys.ServeMetrics(ctx, cfg.MetricsAddr)
	}

	// 4. Connect to Gateway; daemons start from the first Ready event
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	// Graceful Shutdown
	sys.LogInfo("Shutting down all daemons...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sys.ShutdownDaemons(shutdownCtx)

	if botUser, ok := client.Caches.SelfUser(); ok {
		sys.LogInfo(sys.MsgBotShutdown, botUser.Username)
	} else {
		sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	}

	return nil
}
