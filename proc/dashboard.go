package proc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/nijisupport/sys"
)

func init() {
	sys.RegisterDaemon(sys.LogDashboard, func(ctx context.Context, client *bot.Client) (bool, func()) {
		if sys.GlobalConfig == nil || sys.GlobalConfig.StatChannelID == 0 {
			sys.LogDashboard(sys.MsgDashboardDisabled)
			return false, nil
		}
		cfg := sys.GlobalConfig.PollConfig()
		d := NewDashboard(cfg, NewStatsFetcher(cfg), NewRestPublisher(client), sys.AppMetrics)
		status := NewStatusMirror(client)
		d.SetRecorder(func(ctx context.Context, at time.Time, result string) {
			recordLastTick(ctx, at, result)
			status.Update(ctx, result)
		})
		if !d.Start(ctx) {
			return false, nil
		}
		return true, d.Stop
	})
}

// SnapshotSource produces one snapshot per tick. A non-nil error still comes with a usable
// (offline) snapshot.
type SnapshotSource interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// MessageRef identifies a message that can be edited later.
type MessageRef struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
}

// dashboardHandle is Absent until the first successful send, then Present for good.
type dashboardHandle struct {
	present bool
	ref     MessageRef
}

// Dashboard keeps one stats message up to date in a channel.
type Dashboard struct {
	cfg       sys.PollConfig
	source    SnapshotSource
	publisher Publisher
	metrics   *sys.Metrics

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) bool
	record func(ctx context.Context, at time.Time, result string)

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Only touched by the loop goroutine (or the caller of Tick when no loop runs).
	handle dashboardHandle
}

func NewDashboard(cfg sys.PollConfig, source SnapshotSource, publisher Publisher, metrics *sys.Metrics) *Dashboard {
	if cfg.Interval <= 0 {
		cfg.Interval = sys.StatsPollInterval
	}
	if metrics == nil {
		metrics = sys.NewMetrics(nil)
	}
	return &Dashboard{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
		sleep:     sleepCtx,
		done:      make(chan struct{}),
	}
}

// SetRecorder installs a hook called after every tick with its outcome.
func (d *Dashboard) SetRecorder(fn func(ctx context.Context, at time.Time, result string)) {
	d.record = fn
}

// Start launches the polling loop. Only the first call starts anything; later calls (for
// example from a gateway reconnect) return false.
func (d *Dashboard) Start(ctx context.Context) bool {
	if !d.started.CompareAndSwap(false, true) {
		sys.LogDashboard(sys.MsgDashboardAlreadyRunning)
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go func() {
		defer close(d.done)
		d.Run(runCtx)
	}()
	return true
}

// Stop cancels a started loop and waits for it to return.
func (d *Dashboard) Stop() {
	if !d.started.Load() || d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// Run ticks until ctx is cancelled. The interval is measured from the end of each tick.
func (d *Dashboard) Run(ctx context.Context) {
	for ctx.Err() == nil {
		result := d.Tick(ctx)
		sys.LogDebug("[DASHBOARD] "+sys.MsgDashboardTick, result, d.cfg.Interval)
		if !d.sleep(ctx, d.cfg.Interval) {
			break
		}
	}
	sys.LogDashboard(sys.MsgDashboardStopped)
}

// Tick performs fetch, render and upsert once and reports "online" or "offline".
// Nothing inside a tick can stop the loop: errors are logged and panics recovered.
func (d *Dashboard) Tick(ctx context.Context) (result string) {
	result = "offline"
	defer func() {
		if r := recover(); r != nil {
			sys.LogDashboardError(sys.MsgLoaderPanicRecovered, r)
			sys.LogDebug("%s", debug.Stack())
		}
		// A tick cut short by shutdown has no outcome to report.
		if ctx.Err() != nil {
			return
		}
		d.metrics.DashboardTicks.WithLabelValues(result).Inc()
		if d.record != nil {
			d.record(ctx, d.now(), result)
		}
	}()

	start := time.Now()
	snap, err := d.source.Fetch(ctx)
	d.metrics.StatsFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return result
		}
		sys.LogDashboardError(sys.MsgDashboardFetchFail, err)
		if !snap.Online && snap.Error == "" {
			snap = OfflineSnapshot(err)
		}
	}
	if snap.Online {
		result = "online"
	}

	d.Upsert(ctx, RenderSnapshot(snap, d.now()))
	return result
}

// Upsert creates the dashboard message on first use and edits it afterwards. A failed edit
// keeps the same handle; the next tick edits it again.
func (d *Dashboard) Upsert(ctx context.Context, panel Panel) {
	if _, err := d.publisher.ResolveChannel(ctx, d.cfg.ChannelID); err != nil {
		d.metrics.DashboardChannelMissing.Inc()
		sys.LogDashboardError(sys.MsgDashboardChannelMissing, d.cfg.ChannelID)
		return
	}

	if !d.handle.present {
		ref, err := d.publisher.Send(ctx, d.cfg.ChannelID, panel)
		if err != nil {
			d.metrics.DashboardWrites.WithLabelValues("create", "error").Inc()
			sys.LogDashboardError(sys.MsgDashboardSendFail, err)
			return
		}
		d.metrics.DashboardWrites.WithLabelValues("create", "ok").Inc()
		d.handle = dashboardHandle{present: true, ref: ref}
		sys.LogDashboard(sys.MsgDashboardCreated, ref.MessageID, ref.ChannelID)
		return
	}

	if err := d.publisher.Edit(ctx, d.handle.ref, panel); err != nil {
		d.metrics.DashboardWrites.WithLabelValues("edit", "error").Inc()
		sys.LogDashboardError(sys.MsgDashboardEditFail, err)
		return
	}
	d.metrics.DashboardWrites.WithLabelValues("edit", "ok").Inc()
}

// Handle returns the dashboard message, if one has been created.
func (d *Dashboard) Handle() (MessageRef, bool) {
	return d.handle.ref, d.handle.present
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func recordLastTick(ctx context.Context, at time.Time, result string) {
	value := fmt.Sprintf("%s %s", at.UTC().Format(time.RFC3339), result)
	if err := sys.SetBotConfig(ctx, "dashboard_last_tick", value); err != nil {
		sys.LogDebug(sys.MsgDashboardRecordFail, err)
	}
}
