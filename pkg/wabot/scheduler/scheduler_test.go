package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	to, body string
	at       time.Time
}

// recorder is a SendFunc that records every call.
type recorder struct {
	mu    sync.Mutex
	calls []sent
	err   error
}

func (r *recorder) send(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{to: to, body: body, at: time.Now()})
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) snapshot() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.calls...)
}

func msg(to string, sched config.Schedule) config.ScheduledMessage {
	return config.ScheduledMessage{To: to, Message: "body-" + to, Schedule: sched}
}

func ms(n int) config.Millis { return config.Millis(n) }

func TestKey(t *testing.T) {
	if got := Key(0); got != "msg_0" {
		t.Errorf("Key(0) = %q", got)
	}
	if got := Key(12); got != "msg_12" {
		t.Errorf("Key(12) = %q", got)
	}
}

func TestStart_OneShot(t *testing.T) {
	rec := &recorder{}
	s := New(testLogger())

	start := time.Now()
	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(50)}),
	}, rec.send)
	defer StopAll(h)

	time.Sleep(20 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("expected no send before delay, got %d", n)
	}

	time.Sleep(250 * time.Millisecond)
	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 send, got %d", len(calls))
	}
	if calls[0].to != "a" || calls[0].body != "body-a" {
		t.Errorf("unexpected send: %+v", calls[0])
	}
	if elapsed := calls[0].at.Sub(start); elapsed < 50*time.Millisecond {
		t.Errorf("sent after %v, want >= 50ms", elapsed)
	}
	if h.Live() != 0 {
		t.Errorf("one-shot should leave no live timers, got %d", h.Live())
	}
}

func TestStart_Recurring(t *testing.T) {
	rec := &recorder{}
	s := New(testLogger())

	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(20), Interval: ms(40)}),
	}, rec.send)

	time.Sleep(10 * time.Millisecond)
	if h.Live() != 0 {
		t.Errorf("periodic timer registered before first send")
	}

	// Sends at ~20, 60, 100, 140, 180ms.
	time.Sleep(200 * time.Millisecond)
	if h.Live() != 1 {
		t.Errorf("Live() = %d, want 1", h.Live())
	}
	n := rec.count()
	if n < 3 {
		t.Fatalf("expected at least 3 sends, got %d", n)
	}

	StopAll(h)
	after := rec.count()
	time.Sleep(120 * time.Millisecond)
	if got := rec.count(); got != after {
		t.Errorf("sends continued after StopAll: %d -> %d", after, got)
	}
	if h.Live() != 0 {
		t.Errorf("Live() after StopAll = %d", h.Live())
	}
}

func TestStart_ImmediateIsAdditive(t *testing.T) {
	rec := &recorder{}
	s := New(testLogger(), WithBootstrapDelay(10*time.Millisecond))

	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Immediate: true, Delay: ms(120)}),
	}, rec.send)
	defer StopAll(h)

	time.Sleep(60 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("expected immediate send only, got %d", n)
	}

	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n != 2 {
		t.Fatalf("expected immediate + delayed send, got %d", n)
	}
}

func TestStart_IndependentSpecs(t *testing.T) {
	rec := &recorder{}
	s := New(testLogger())

	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(10)}),
		msg("b", config.Schedule{Delay: ms(30)}),
		msg("c", config.Schedule{Delay: ms(10), Interval: ms(50)}),
	}, rec.send)
	defer StopAll(h)

	time.Sleep(100 * time.Millisecond)

	byTo := map[string]int{}
	for _, c := range rec.snapshot() {
		byTo[c.to]++
	}
	if byTo["a"] != 1 || byTo["b"] != 1 {
		t.Errorf("one-shots: %v", byTo)
	}
	if byTo["c"] < 2 {
		t.Errorf("recurring c sent %d times, want >= 2", byTo["c"])
	}
}

func TestStart_FailureDoesNotCancel(t *testing.T) {
	rec := &recorder{err: errors.New("transport down")}
	s := New(testLogger())

	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(5), Interval: ms(20)}),
	}, rec.send)
	defer StopAll(h)

	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n < 4 {
		t.Errorf("expected sends to continue after failures, got %d", n)
	}
	if h.Live() != 1 {
		t.Errorf("periodic timer should stay live, Live() = %d", h.Live())
	}
}

func TestStart_PanicDoesNotCancel(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	sink := func(context.Context, string, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("boom")
	}

	s := New(testLogger())
	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(5), Interval: ms(20)}),
	}, sink)
	defer StopAll(h)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("expected repeated sends despite panics, got %d", calls)
	}
}

func TestStopAll(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		rec := &recorder{}
		s := New(testLogger())
		h := s.Start(context.Background(), []config.ScheduledMessage{
			msg("a", config.Schedule{Delay: ms(5), Interval: ms(10)}),
			msg("b", config.Schedule{Delay: ms(5), Interval: ms(10)}),
		}, rec.send)

		time.Sleep(30 * time.Millisecond)
		StopAll(h)
		StopAll(h)

		if h.Live() != 0 {
			t.Errorf("Live() = %d after StopAll", h.Live())
		}
		if !h.Stopped() {
			t.Error("expected handle to be stopped")
		}
	})

	t.Run("nil handle", func(t *testing.T) {
		StopAll(nil)
		var h *Handle
		if h.Live() != 0 || !h.Stopped() {
			t.Error("nil handle should report no live timers")
		}
	})

	t.Run("before first fire", func(t *testing.T) {
		rec := &recorder{}
		s := New(testLogger(), WithBootstrapDelay(20*time.Millisecond))
		h := s.Start(context.Background(), []config.ScheduledMessage{
			msg("a", config.Schedule{Immediate: true, Delay: ms(30), Interval: ms(10)}),
		}, rec.send)

		StopAll(h)
		time.Sleep(80 * time.Millisecond)
		if n := rec.count(); n != 0 {
			t.Errorf("expected no sends, got %d", n)
		}
	})

	t.Run("two recurring timers", func(t *testing.T) {
		rec := &recorder{}
		s := New(testLogger())
		h := s.Start(context.Background(), []config.ScheduledMessage{
			msg("a", config.Schedule{Delay: ms(5), Interval: ms(15)}),
			msg("b", config.Schedule{Delay: ms(5), Interval: ms(15)}),
		}, rec.send)

		time.Sleep(50 * time.Millisecond)
		if h.Live() != 2 {
			t.Fatalf("Live() = %d, want 2", h.Live())
		}

		StopAll(h)
		after := rec.count()
		time.Sleep(60 * time.Millisecond)
		if got := rec.count(); got != after {
			t.Errorf("sends after StopAll: %d -> %d", after, got)
		}
	})

	t.Run("waits for in-flight send", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{}, 1)
		sink := func(context.Context, string, string) error {
			entered <- struct{}{}
			<-release
			return nil
		}

		s := New(testLogger())
		h := s.Start(context.Background(), []config.ScheduledMessage{
			msg("a", config.Schedule{Delay: ms(1)}),
		}, sink)
		<-entered

		stopped := make(chan struct{})
		go func() {
			StopAll(h)
			close(stopped)
		}()

		select {
		case <-stopped:
			t.Fatal("StopAll returned while a send was in flight")
		case <-time.After(30 * time.Millisecond):
		}

		close(release)
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("StopAll did not return after the send finished")
		}
	})
}

func TestStart_ContextCancel(t *testing.T) {
	rec := &recorder{}
	s := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	h := s.Start(ctx, []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(5), Interval: ms(10)}),
	}, rec.send)
	defer StopAll(h)

	time.Sleep(40 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	after := rec.count()
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != after {
		t.Errorf("sends continued after context cancel: %d -> %d", after, got)
	}
}

func TestStart_Cron(t *testing.T) {
	rec := &recorder{}
	s := New(testLogger())

	h := s.Start(context.Background(), []config.ScheduledMessage{
		msg("a", config.Schedule{Delay: ms(1000000), Cron: "@daily"}),
		msg("b", config.Schedule{Delay: ms(1000000), Cron: "not valid"}),
	}, rec.send)

	if h.Live() != 1 {
		t.Errorf("Live() = %d, want 1 cron entry", h.Live())
	}
	StopAll(h)
	if h.Live() != 0 {
		t.Errorf("Live() after StopAll = %d", h.Live())
	}
}

func TestStart_Empty(t *testing.T) {
	s := New(nil)
	h := s.Start(context.Background(), nil, func(context.Context, string, string) error { return nil })
	if h.ID == "" {
		t.Error("expected run ID")
	}
	if h.Live() != 0 {
		t.Errorf("Live() = %d", h.Live())
	}
	StopAll(h)
}
