// Package dispatch delivers heartbeats to the uploader through a bounded
// queue and a bounded number of concurrent invocations.
package dispatch

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/espcaa/wakatime-ls/internal/config"
	"github.com/espcaa/wakatime-ls/internal/heartbeat"
	"github.com/espcaa/wakatime-ls/internal/metrics"
	"github.com/espcaa/wakatime-ls/internal/uploader"
)

// Invoker runs the uploader for one heartbeat.
type Invoker interface {
	Invoke(ctx context.Context, hb heartbeat.Heartbeat, cfg *config.Config) uploader.Outcome
}

// ConfigProvider returns the latest resolved config. The queue asks for it
// on every attempt, so a re-resolution applies to tickets already queued.
type ConfigProvider interface {
	Current() (*config.Config, error)
}

// Options configures a Queue.
type Options struct {
	// Workers is the maximum number of concurrent invocations.
	Workers int

	// Capacity bounds the number of tickets waiting for a worker.
	Capacity int

	// MaxAttempts is the total number of attempts per ticket.
	MaxAttempts int

	// RetryInitialDelay and RetryMaxDelay shape the exponential backoff.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// RetryJitter is the backoff randomization factor in [0, 1).
	RetryJitter float64
}

// Ticket wraps a heartbeat with retry bookkeeping.
type Ticket struct {
	ID          string
	Heartbeat   heartbeat.Heartbeat
	Attempt     int
	EnqueuedAt  time.Time
	NextRetryAt time.Time

	backoff *backoff.ExponentialBackOff
}

// Stats is a snapshot of the queue.
type Stats struct {
	Queued  int
	Delayed int
	Running int
	Dropped int64
}

type delayedTicket struct {
	ticket *Ticket
	timer  *time.Timer
}

// Queue is a FIFO of heartbeats drained by at most Workers concurrent
// uploader invocations.
//
// Thread Safety: all methods are safe for concurrent use. The internal
// mutex is never held across an invocation.
type Queue struct {
	opts     Options
	invoker  Invoker
	configs  ConfigProvider
	reporter Reporter
	metrics  metrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	sem  *semaphore.Weighted
	wake chan struct{}

	mu      sync.Mutex
	ready   *list.List // of *Ticket
	delayed map[string]*delayedTicket
	running int
	dropped int64
	closed  bool
	started bool

	stopCtx    context.Context
	stop       context.CancelFunc
	runCtx     context.Context
	killRuns   context.CancelFunc
	dispatched chan struct{}
	wg         sync.WaitGroup
}

// Option customizes a Queue.
type Option func(*Queue)

// WithReporter sets the diagnostic sink.
func WithReporter(r Reporter) Option {
	return func(q *Queue) { q.reporter = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue. Call Start to begin dispatching.
func New(opts Options, invoker Invoker, configs ConfigProvider, options ...Option) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryInitialDelay <= 0 {
		opts.RetryInitialDelay = time.Second
	}
	if opts.RetryMaxDelay < opts.RetryInitialDelay {
		opts.RetryMaxDelay = opts.RetryInitialDelay
	}

	q := &Queue{
		opts:       opts,
		invoker:    invoker,
		configs:    configs,
		reporter:   nopReporter{},
		metrics:    metrics.Nop{},
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
		sem:        semaphore.NewWeighted(int64(opts.Workers)),
		wake:       make(chan struct{}, 1),
		ready:      list.New(),
		delayed:    make(map[string]*delayedTicket),
		dispatched: make(chan struct{}),
	}
	for _, o := range options {
		o(q)
	}
	q.stopCtx, q.stop = context.WithCancel(context.Background())
	q.runCtx, q.killRuns = context.WithCancel(context.Background())
	return q
}

// Start launches the dispatcher. It returns immediately.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.dispatch()
}

// Enqueue adds hb at the tail of the queue. It never blocks. When the queue
// is full the oldest non-forced ticket is dropped to make room.
func (q *Queue) Enqueue(hb heartbeat.Heartbeat) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	t := &Ticket{
		ID:         uuid.NewString(),
		Heartbeat:  hb,
		EnqueuedAt: q.now(),
	}
	q.pushLocked(t)
	q.mu.Unlock()

	q.signal()
	return nil
}

// pushLocked appends t, evicting one ticket first when at capacity.
func (q *Queue) pushLocked(t *Ticket) {
	if q.ready.Len() >= q.opts.Capacity {
		victim := q.ready.Front()
		for e := q.ready.Front(); e != nil; e = e.Next() {
			if !e.Value.(*Ticket).Heartbeat.Forced {
				victim = e
				break
			}
		}
		dropped := q.ready.Remove(victim).(*Ticket)
		q.dropLocked(dropped, metrics.DropOverflow)
	}
	q.ready.PushBack(t)
	q.metrics.QueueDepth(q.ready.Len())
}

func (q *Queue) dropLocked(t *Ticket, reason string) {
	q.dropped++
	q.metrics.HeartbeatDropped(reason)
	q.logger.Debug("heartbeat dropped", "ticket", t.ID, "reason", reason, "attempts", t.Attempt, "heartbeat", t.Heartbeat)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch acquires a worker slot, then waits for a ticket to run in it.
func (q *Queue) dispatch() {
	defer close(q.dispatched)

	for {
		if err := q.sem.Acquire(q.stopCtx, 1); err != nil {
			return
		}
		t, ok := q.next()
		if !ok {
			q.sem.Release(1)
			return
		}
		go q.run(t)
	}
}

// next blocks until a ticket is ready or the queue is closed.
func (q *Queue) next() (*Ticket, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if front := q.ready.Front(); front != nil {
			t := q.ready.Remove(front).(*Ticket)
			q.running++
			q.wg.Add(1)
			q.metrics.QueueDepth(q.ready.Len())
			q.mu.Unlock()
			return t, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.stopCtx.Done():
			return nil, false
		}
	}
}

func (q *Queue) run(t *Ticket) {
	defer q.wg.Done()
	defer q.sem.Release(1)

	t.Attempt++
	out := q.attempt(t)
	q.metrics.UploadCompleted(out.Kind.String(), out.Duration)

	for _, d := range q.settle(t, out) {
		q.reporter.Report(d)
	}
}

// settle records the outcome of an attempt and returns the diagnostics to
// surface once the lock is released.
func (q *Queue) settle(t *Ticket, out uploader.Outcome) []Diagnostic {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--

	var diags []Diagnostic
	switch out.Kind {
	case uploader.Success:
		q.logger.Debug("heartbeat sent", "ticket", t.ID, "attempt", t.Attempt, "duration", out.Duration, "heartbeat", t.Heartbeat)

	case uploader.Transient:
		if d, ok := spawnDiagnostic(out.Err); ok {
			diags = append(diags, d)
		}
		switch {
		case q.closed:
			q.dropLocked(t, metrics.DropShutdown)
		case t.Attempt >= q.opts.MaxAttempts:
			q.dropLocked(t, metrics.DropExhausted)
			// Spawn failures are already covered by the spawn diagnostic.
			var spawnErr *uploader.SpawnError
			if errors.As(out.Err, &spawnErr) {
				break
			}
			diags = append(diags, Diagnostic{
				Key:      KeyExhausted,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("heartbeat for %s dropped after %d attempts", t.Heartbeat.Entity, t.Attempt),
				Err:      errors.Join(ErrTransient, outcomeError(out)),
			})
		default:
			q.scheduleRetryLocked(t, out)
		}

	default:
		q.dropLocked(t, metrics.DropPermanent)
		// A missing key was already surfaced when resolution failed.
		if !errors.Is(out.Err, config.ErrMissingAPIKey) {
			diags = append(diags, Diagnostic{
				Key:      KeyRejected,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("wakatime-cli rejected heartbeat for %s (exit %d)", t.Heartbeat.Entity, out.ExitCode),
				Err:      errors.Join(ErrPermanent, outcomeError(out)),
			})
		}
	}
	return diags
}

func (q *Queue) attempt(t *Ticket) uploader.Outcome {
	cfg, err := q.configs.Current()
	if err != nil {
		return uploader.Outcome{Kind: uploader.Permanent, ExitCode: -1, Err: err}
	}
	// wakatime-cli has no flag for forced heartbeats; the flag only shapes
	// throttling, so it is recorded here.
	q.logger.Debug("invoking uploader",
		"ticket", t.ID, "attempt", t.Attempt, "entity", t.Heartbeat.Entity, "forced", t.Heartbeat.Forced)
	return q.invoker.Invoke(q.runCtx, t.Heartbeat, cfg)
}

func spawnDiagnostic(err error) (Diagnostic, bool) {
	var spawnErr *uploader.SpawnError
	if !errors.As(err, &spawnErr) || errors.Is(err, uploader.ErrSpawnCooldown) {
		return Diagnostic{}, false
	}
	return Diagnostic{
		Key:      KeySpawn,
		Severity: SeverityError,
		Message:  "cannot start wakatime-cli; heartbeats are paused",
		Err:      spawnErr,
	}, true
}

func (q *Queue) scheduleRetryLocked(t *Ticket, out uploader.Outcome) {
	if t.backoff == nil {
		t.backoff = &backoff.ExponentialBackOff{
			InitialInterval:     q.opts.RetryInitialDelay,
			RandomizationFactor: q.opts.RetryJitter,
			Multiplier:          2,
			MaxInterval:         q.opts.RetryMaxDelay,
		}
		t.backoff.Reset()
	}
	delay := t.backoff.NextBackOff()
	t.NextRetryAt = q.now().Add(delay)

	q.metrics.UploadRetried()
	q.logger.Debug("heartbeat retry scheduled",
		"ticket", t.ID, "attempt", t.Attempt, "delay", delay, "exit_code", out.ExitCode, "error", out.Err)

	id := t.ID
	q.delayed[id] = &delayedTicket{
		ticket: t,
		timer:  time.AfterFunc(delay, func() { q.promote(id) }),
	}
}

// promote moves a delayed ticket back to the tail of the ready list.
func (q *Queue) promote(id string) {
	q.mu.Lock()
	d, ok := q.delayed[id]
	if !ok || q.closed {
		q.mu.Unlock()
		return
	}
	delete(q.delayed, id)
	q.pushLocked(d.ticket)
	q.mu.Unlock()

	q.signal()
}

// Shutdown stops accepting heartbeats and drops every ticket that has not
// started. Running invocations may finish until ctx is done; after that
// they are killed. Shutdown returns ctx.Err() when the grace period ran out.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	started := q.started

	for e := q.ready.Front(); e != nil; e = e.Next() {
		q.dropLocked(e.Value.(*Ticket), metrics.DropShutdown)
	}
	q.ready.Init()
	for id, d := range q.delayed {
		d.timer.Stop()
		q.dropLocked(d.ticket, metrics.DropShutdown)
		delete(q.delayed, id)
	}
	q.metrics.QueueDepth(0)
	q.mu.Unlock()

	q.stop()
	if started {
		<-q.dispatched
	}

	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		q.killRuns()
		return nil
	case <-ctx.Done():
		q.logger.Warn("shutdown grace expired, killing running uploads", "running", q.Stats().Running)
		q.killRuns()
		<-idle
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:  q.ready.Len(),
		Delayed: len(q.delayed),
		Running: q.running,
		Dropped: q.dropped,
	}
}

func outcomeError(out uploader.Outcome) error {
	switch {
	case out.Stderr == "":
		return out.Err
	case out.Err == nil:
		return errors.New(out.Stderr)
	default:
		return fmt.Errorf("%w: %s", out.Err, out.Stderr)
	}
}
