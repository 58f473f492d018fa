package proc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

// fakeSource returns queued results in order, repeating the last one.
type fakeSource struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
	fetched chan struct{}
}

type fetchResult struct {
	snap Snapshot
	err  error
}

func (f *fakeSource) Fetch(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	f.mu.Unlock()

	if f.fetched != nil {
		select {
		case f.fetched <- struct{}{}:
		default:
		}
	}
	return r.snap, r.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisher records writes instead of calling the platform.
type fakePublisher struct {
	mu         sync.Mutex
	guildID    snowflake.ID
	resolveErr error
	sendErr    error
	editErr    error
	resolves   int
	sends      []Panel
	edits      []MessageRef
	lastEdit   Panel
	nextID     snowflake.ID
}

func (p *fakePublisher) ResolveChannel(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolves++
	if p.resolveErr != nil {
		return 0, p.resolveErr
	}
	return p.guildID, nil
}

func (p *fakePublisher) Send(ctx context.Context, channelID snowflake.ID, panel Panel) (MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return MessageRef{}, p.sendErr
	}
	p.sends = append(p.sends, panel)
	p.nextID++
	return MessageRef{ChannelID: channelID, MessageID: 1000 + p.nextID}, nil
}

func (p *fakePublisher) Edit(ctx context.Context, ref MessageRef, panel Panel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, ref)
	if p.editErr != nil {
		return p.editErr
	}
	p.lastEdit = panel
	return nil
}

func (p *fakePublisher) counts() (sends, edits int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends), len(p.edits)
}

var errBoom = errors.New("boom")

// logCapture collects records passed to the default slog logger during a test.
type logCapture struct {
	mu      sync.Mutex
	records []slog.Record
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	c := &logCapture{}
	prev := slog.Default()
	slog.SetDefault(slog.New(c))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return c
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCapture) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r.Clone())
	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCapture) WithGroup(string) slog.Handler      { return c }

func (c *logCapture) count(level slog.Level) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

// component returns the component attribute of the first record at level.
func (c *logCapture) component(level slog.Level) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Level != level {
			continue
		}
		comp := ""
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				comp = a.Value.String()
				return false
			}
			return true
		})
		return comp
	}
	return ""
}
