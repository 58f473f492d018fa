package proc

import (
	"context"
	"testing"

	"github.com/disgoorg/disgo/gateway"
)

type fakePresence struct {
	calls []gateway.MessageDataPresenceUpdate
	err   error
}

func (f *fakePresence) SetPresence(ctx context.Context, opts ...gateway.PresenceOpt) error {
	if f.err != nil {
		return f.err
	}
	var p gateway.MessageDataPresenceUpdate
	for _, opt := range opts {
		opt(&p)
	}
	f.calls = append(f.calls, p)
	return nil
}

func TestStatusMirror_OnlyUpdatesOnChange(t *testing.T) {
	fp := &fakePresence{}
	s := NewStatusMirror(fp)
	s.visible = func(context.Context) bool { return true }
	ctx := context.Background()

	if !s.Update(ctx, "online") {
		t.Fatalf("expected first result to set presence")
	}
	if s.Update(ctx, "online") {
		t.Fatalf("expected repeated result to be ignored")
	}
	if !s.Update(ctx, "offline") {
		t.Fatalf("expected state flip to set presence")
	}

	if len(fp.calls) != 2 {
		t.Fatalf("expected 2 presence updates, got %d", len(fp.calls))
	}
	if len(fp.calls[1].Activities) != 1 || fp.calls[1].Activities[0].Name != "the API (offline)" {
		t.Fatalf("unexpected activity: %+v", fp.calls[1].Activities)
	}
}

func TestStatusMirror_HiddenActivity(t *testing.T) {
	fp := &fakePresence{}
	s := NewStatusMirror(fp)
	s.visible = func(context.Context) bool { return false }

	s.Update(context.Background(), "online")
	if len(fp.calls) != 1 || len(fp.calls[0].Activities) != 0 {
		t.Fatalf("expected presence without activity, got %+v", fp.calls)
	}
}

func TestStatusMirror_FailedUpdateRetriesNextTick(t *testing.T) {
	captureLogs(t)
	fp := &fakePresence{err: errBoom}
	s := NewStatusMirror(fp)
	s.visible = func(context.Context) bool { return true }

	if s.Update(context.Background(), "online") {
		t.Fatalf("expected failed update to report false")
	}
	fp.err = nil
	if !s.Update(context.Background(), "online") {
		t.Fatalf("expected retry of the same state after a failure")
	}
}
