package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"hotelpms/internal/config"
	"hotelpms/internal/domain"
	"hotelpms/internal/events"
	"hotelpms/internal/metrics"
	"hotelpms/internal/models"
)

var (
	// ErrCycleInFlight is returned by RunOnce while another cycle is still running.
	ErrCycleInFlight = errors.New("dispatch cycle already in flight")
	// ErrDispatcherStopped is returned by RunOnce once Stop has been called.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// State is the dispatcher lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DispatcherConfig tunes one dispatcher.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	MaxRetries   int
	JitterMin    time.Duration
	JitterMax    time.Duration
	// ClaimTimeout is how long a row may stay processing before a cycle reclaims it.
	ClaimTimeout time.Duration
}

// DispatcherConfigFrom maps sync settings onto the dispatcher.
func DispatcherConfigFrom(cfg config.SyncConfig) DispatcherConfig {
	return DispatcherConfig{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		MaxRetries:   cfg.MaxRetries,
		JitterMin:    cfg.JitterMin,
		JitterMax:    cfg.JitterMax,
		ClaimTimeout: cfg.ClaimTimeout,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 10 * time.Minute
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	return c
}

// CycleResult summarises one dispatch cycle.
type CycleResult struct {
	Claimed   int
	Succeeded int
	Failed    int
}

// Dispatcher periodically claims queue entries and submits them to the OTA.
type Dispatcher struct {
	queue  domain.QueueStore
	audit  domain.AuditStore
	writer domain.StockWriter
	events domain.EventPublisher
	cfg    DispatcherConfig
	sem    *semaphore.Weighted
	logger zerolog.Logger

	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration)
	now    func() time.Time

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	loopEnd chan struct{}

	running atomic.Bool
	cycles  sync.WaitGroup
}

// NewDispatcher wires a dispatcher. publisher may be nil.
func NewDispatcher(
	queue domain.QueueStore,
	audit domain.AuditStore,
	writer domain.StockWriter,
	publisher domain.EventPublisher,
	cfg DispatcherConfig,
	logger *zerolog.Logger,
) *Dispatcher {
	cfg = cfg.withDefaults()
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "dispatcher").Logger()
	}

	d := &Dispatcher{
		queue:  queue,
		audit:  audit,
		writer: writer,
		events: publisher,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger: l,
		sleep:  sleepCtx,
		now:    time.Now,
	}
	d.jitter = d.randomJitter
	return d
}

// WithJitter replaces the pre-submission delay source.
func (d *Dispatcher) WithJitter(fn func() time.Duration) *Dispatcher {
	d.jitter = fn
	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start schedules cycles every PollInterval. Calling Start while scheduled is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateScheduled {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.loopEnd = make(chan struct{})
	d.state = StateScheduled

	go d.loop(loopCtx, d.loopEnd)

	d.logger.Info().
		Dur("interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Int("concurrency", d.cfg.Concurrency).
		Msg("Dispatcher started")
}

// Stop cancels the schedule and waits for in-flight cycles, scheduled or
// triggered through RunOnce, to finish. It is idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateScheduled {
		d.state = StateStopped
		d.cycles.Wait()
		return
	}

	d.cancel()
	<-d.loopEnd
	d.cycles.Wait()
	d.state = StateStopped

	d.logger.Info().Msg("Dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Debug().Msg("Previous cycle still running, skipping tick")
		return
	}

	d.cycles.Add(1)
	go func() {
		defer d.cycles.Done()
		defer d.running.Store(false)

		// Submissions outlive the schedule so a stop never abandons a claimed row.
		if _, err := d.cycle(context.WithoutCancel(ctx)); err != nil {
			d.logger.Error().Err(err).Msg("Dispatch cycle failed")
		}
	}()
}

// RunOnce executes one cycle synchronously unless another is already running.
// Cancelling ctx does not cut the cycle short: every claimed row is still resolved.
func (d *Dispatcher) RunOnce(ctx context.Context) (CycleResult, error) {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		return CycleResult{}, ErrDispatcherStopped
	}
	if !d.running.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return CycleResult{}, ErrCycleInFlight
	}
	d.cycles.Add(1)
	d.mu.Unlock()

	defer d.cycles.Done()
	defer d.running.Store(false)

	return d.cycle(context.WithoutCancel(ctx))
}

func (d *Dispatcher) cycle(ctx context.Context) (CycleResult, error) {
	d.reclaimStale(ctx)

	entries, err := d.queue.ClaimQueueEntries(ctx, d.cfg.BatchSize, d.cfg.MaxRetries)
	if err != nil {
		return CycleResult{}, fmt.Errorf("claim queue entries: %w", err)
	}
	if len(entries) == 0 {
		return CycleResult{}, nil
	}

	metrics.AddClaimed(len(entries))

	audit := &models.AuditLog{
		ID:        uuid.New().String(),
		Processed: len(entries),
		Status:    models.AuditStatusRunning,
		StartedAt: d.now().UTC(),
	}
	if err := d.audit.CreateAuditLog(ctx, audit); err != nil {
		d.logger.Error().Err(err).Msg("Failed to create audit log")
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := range entries {
		wg.Add(1)
		go func(entry models.QueueEntry) {
			defer wg.Done()
			if d.dispatch(ctx, entry) {
				succeeded.Add(1)
			}
		}(entries[i])
	}
	wg.Wait()

	res := CycleResult{Claimed: len(entries), Succeeded: int(succeeded.Load())}
	res.Failed = res.Claimed - res.Succeeded

	finished := d.now().UTC()
	audit.Succeeded = res.Succeeded
	audit.Failed = res.Failed
	audit.FinishedAt = &finished
	audit.Status = auditStatus(res)
	if err := d.audit.FinishAuditLog(ctx, audit); err != nil {
		d.logger.Error().Err(err).Str("audit_id", audit.ID).Msg("Failed to finish audit log")
	}

	d.logger.Info().
		Int("claimed", res.Claimed).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("Dispatch cycle finished")

	return res, nil
}

// reclaimStale returns rows whose outcome was never recorded to the pending pool.
func (d *Dispatcher) reclaimStale(ctx context.Context) {
	n, err := d.queue.ReclaimStaleQueueEntries(ctx, d.now().Add(-d.cfg.ClaimTimeout))
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reclaim stale claims")
		return
	}
	if n > 0 {
		metrics.AddReclaimed(n)
		d.logger.Warn().Int64("reclaimed", n).Dur("claim_timeout", d.cfg.ClaimTimeout).Msg("Expired claims returned to pending")
	}
}

func auditStatus(res CycleResult) string {
	switch {
	case res.Failed == 0:
		return models.AuditStatusSucceeded
	case res.Succeeded == 0:
		return models.AuditStatusFailed
	default:
		return models.AuditStatusPartial
	}
}

// dispatch submits one claimed entry and resolves its status. It reports a
// success only when the completed state was recorded.
func (d *Dispatcher) dispatch(ctx context.Context, entry models.QueueEntry) bool {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		_ = d.resolve(ctx, entry, models.SubmitResult{Error: err.Error()})
		return false
	}
	defer d.sem.Release(1)

	done := metrics.TrackInFlight()
	defer done()

	d.sleep(ctx, d.jitter())

	start := d.now()
	res := d.submit(ctx, entry)
	metrics.ObserveSubmit(d.now().Sub(start))

	if err := d.resolve(ctx, entry, res); err != nil {
		return false
	}
	return res.Success
}

func (d *Dispatcher) submit(ctx context.Context, entry models.QueueEntry) (res models.SubmitResult) {
	defer func() {
		if r := recover(); r != nil {
			res = models.SubmitResult{Error: fmt.Sprintf("submit panic: %v", r)}
		}
	}()
	return d.writer.Submit(ctx, entry.HotelID, entry.ServiceName, []byte(entry.XMLBody))
}

// resolve records the outcome of a submission. A failed write leaves the row
// processing until reclaimStale returns it to the pool.
func (d *Dispatcher) resolve(ctx context.Context, entry models.QueueEntry, res models.SubmitResult) error {
	ctx = context.WithoutCancel(ctx)
	log := d.logger.With().
		Int64("entry_id", entry.ID).
		Int64("hotel_id", entry.HotelID).
		Str("request_id", entry.CurrentRequestID).
		Logger()

	if res.Success {
		if err := d.queue.MarkQueueEntryCompleted(ctx, entry.ID); err != nil {
			metrics.IncOutcome(metrics.OutcomeUnrecorded)
			log.Error().Err(err).Msg("Failed to mark entry completed")
			return err
		}
		metrics.IncOutcome(metrics.OutcomeCompleted)
		log.Debug().Msg("Entry completed")
		return nil
	}

	msg := res.Error
	if msg == "" {
		msg = "submission failed"
	}
	retries := entry.Retries + 1

	if retries < d.cfg.MaxRetries {
		if err := d.queue.MarkQueueEntryRetry(ctx, entry.ID, msg); err != nil {
			metrics.IncOutcome(metrics.OutcomeUnrecorded)
			log.Error().Err(err).Msg("Failed to mark entry for retry")
			return err
		}
		metrics.IncOutcome(metrics.OutcomeRetry)
		log.Warn().Int("retries", retries).Str("error", msg).Msg("Submission failed, will retry")
		return nil
	}

	if err := d.queue.MarkQueueEntryFailed(ctx, entry.ID, msg); err != nil {
		metrics.IncOutcome(metrics.OutcomeUnrecorded)
		log.Error().Err(err).Msg("Failed to mark entry failed")
		return err
	}
	metrics.IncOutcome(metrics.OutcomeFailed)
	log.Error().Int("retries", retries).Str("error", msg).Msg("Submission failed permanently")

	if d.events == nil {
		return nil
	}
	payload := events.QueueEntryFailedPayload{
		EntryID:          entry.ID,
		HotelID:          entry.HotelID,
		ServiceName:      entry.ServiceName,
		CurrentRequestID: entry.CurrentRequestID,
		Retries:          retries,
		LastError:        msg,
		FailedAt:         d.now().UTC(),
	}
	if err := d.events.PublishJSON(events.EventQueueEntryFailed, payload); err != nil {
		log.Error().Err(err).Msg("Failed to publish failure event")
	}
	return nil
}

func (d *Dispatcher) randomJitter() time.Duration {
	span := d.cfg.JitterMax - d.cfg.JitterMin
	if span <= 0 {
		return d.cfg.JitterMin
	}
	return d.cfg.JitterMin + time.Duration(rand.Int64N(int64(span)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
