// Package scheduler sends the configured outbound messages on timers.
// Every message definition gets an optional immediate send, one delayed
// send, an optional periodic timer started by that delayed send, and an
// optional cron entry. All timers of one Start call belong to a Handle and
// are cancelled together by StopAll.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jholhewres/wabot/pkg/wabot/config"
)

// DefaultBootstrapDelay is the wait before an immediate send, giving the
// transport time to settle after it reports ready.
const DefaultBootstrapDelay = time.Second

// SendFunc delivers body to the recipient to.
type SendFunc func(ctx context.Context, to, body string) error

// Scheduler creates timer handles. It holds no per-run state, so one
// Scheduler can serve any number of sessions.
type Scheduler struct {
	bootstrapDelay time.Duration
	logger         *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBootstrapDelay overrides DefaultBootstrapDelay.
func WithBootstrapDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.bootstrapDelay = d
		}
	}
}

// New creates a Scheduler.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		bootstrapDelay: DefaultBootstrapDelay,
		logger:         logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle owns the live timers of one Start call.
type Handle struct {
	// ID correlates the log lines of this run.
	ID string

	ctx    context.Context
	sink   SendFunc
	logger *slog.Logger

	mu       sync.Mutex
	stopped  bool
	pending  map[string]*time.Timer
	periodic map[string]chan struct{}
	cron     *cron.Cron
	cronIDs  map[string]cron.EntryID
	inflight sync.WaitGroup
}

// Key returns the stable timer key of the message at index i.
func Key(i int) string {
	return fmt.Sprintf("msg_%d", i)
}

// Start schedules every message in specs and returns the handle owning the
// timers. Sends use ctx; cancelling ctx also ends the periodic timers.
func (s *Scheduler) Start(ctx context.Context, specs []config.ScheduledMessage, sink SendFunc) *Handle {
	h := &Handle{
		ID:       uuid.NewString(),
		ctx:      ctx,
		sink:     sink,
		pending:  make(map[string]*time.Timer),
		periodic: make(map[string]chan struct{}),
		cronIDs:  make(map[string]cron.EntryID),
	}
	h.logger = s.logger.With("run_id", h.ID)

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, spec := range specs {
		key := Key(i)

		if spec.Schedule.Immediate {
			h.pending[key+"/immediate"] = time.AfterFunc(s.bootstrapDelay, func() {
				h.fireOnce(key, "/immediate", spec)
			})
		}

		h.pending[key+"/delay"] = time.AfterFunc(spec.Schedule.Delay.Duration(), func() {
			h.fireDelayed(key, spec)
		})

		if spec.Schedule.Cron != "" {
			if err := h.addCronLocked(key, spec); err != nil {
				h.logger.Error("invalid cron schedule, skipping",
					"key", key, "cron", spec.Schedule.Cron, "error", err)
			}
		}

		h.logger.Debug("message scheduled",
			"key", key,
			"to", spec.To,
			"immediate", spec.Schedule.Immediate,
			"delay", spec.Schedule.Delay.Duration(),
			"interval", spec.Schedule.Interval.Duration(),
			"cron", spec.Schedule.Cron,
		)
	}

	if h.cron != nil {
		h.cron.Start()
	}

	h.logger.Info("scheduler started", "messages", len(specs))
	return h
}

// StopAll cancels every timer owned by h. Sends already in flight are not
// interrupted; StopAll waits for them to return. Calling it again, or with
// a nil handle, is a no-op.
func StopAll(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true

	for key, t := range h.pending {
		t.Stop()
		delete(h.pending, key)
	}
	for key, done := range h.periodic {
		close(done)
		delete(h.periodic, key)
	}
	var cronStopped context.Context
	if h.cron != nil {
		cronStopped = h.cron.Stop()
		h.cronIDs = make(map[string]cron.EntryID)
	}
	h.mu.Unlock()

	h.inflight.Wait()
	if cronStopped != nil {
		<-cronStopped.Done()
	}
	h.logger.Info("scheduler stopped")
}

// Live returns the number of registered periodic and cron timers.
func (h *Handle) Live() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.periodic) + len(h.cronIDs)
}

// Stopped reports whether StopAll has been called.
func (h *Handle) Stopped() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// ---------- Internal ----------

// fireOnce performs a one-shot send and forgets its timer.
func (h *Handle) fireOnce(key, suffix string, spec config.ScheduledMessage) {
	h.mu.Lock()
	delete(h.pending, key+suffix)
	h.mu.Unlock()

	h.send(key, spec)
}

// fireDelayed performs the first delayed send. A periodic timer, if any, is
// registered before the send so that a slow send does not shift its cadence.
func (h *Handle) fireDelayed(key string, spec config.ScheduledMessage) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	delete(h.pending, key+"/delay")
	if interval := spec.Schedule.Interval.Duration(); interval > 0 {
		if _, exists := h.periodic[key]; !exists {
			done := make(chan struct{})
			h.periodic[key] = done
			go h.runPeriodic(key, spec, interval, done)
			h.logger.Info("recurring message registered", "key", key, "interval", interval)
		}
	}
	h.mu.Unlock()

	h.send(key, spec)
}

// runPeriodic sends spec every interval until done is closed or the run
// context ends.
func (h *Handle) runPeriodic(key string, spec config.ScheduledMessage, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.send(key, spec)
		}
	}
}

// addCronLocked registers a cron entry for spec. Caller holds h.mu.
func (h *Handle) addCronLocked(key string, spec config.ScheduledMessage) error {
	if h.cron == nil {
		h.cron = cron.New(cron.WithParser(config.CronParser))
	}
	cronKey := key + "/cron"
	id, err := h.cron.AddFunc(spec.Schedule.Cron, func() {
		h.send(cronKey, spec)
	})
	if err != nil {
		return err
	}
	h.cronIDs[cronKey] = id
	return nil
}

// send delivers one message through the sink. Failures are logged and never
// cancel the owning timer. Nothing is sent once the handle is stopped.
func (h *Handle) send(key string, spec config.ScheduledMessage) {
	h.mu.Lock()
	if h.stopped || h.ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("scheduled send panicked", "key", key, "to", spec.To, "panic", r)
		}
	}()

	start := time.Now()
	if err := h.sink(h.ctx, spec.To, spec.Message); err != nil {
		h.logger.Error("scheduled send failed",
			"key", key, "to", spec.To, "error", err, "duration", time.Since(start))
		return
	}
	h.logger.Info("scheduled message sent", "key", key, "to", spec.To)
}
