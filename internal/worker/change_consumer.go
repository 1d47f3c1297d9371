package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hotelpms/internal/domain"
	"hotelpms/internal/events"
	"hotelpms/internal/models"
)

// ChangeHandler turns one change log entry into queue entries.
type ChangeHandler interface {
	OnChangeLogged(ctx context.Context, logEntryID string) error
}

// ChangeConsumer drains the change queue into the translator.
type ChangeConsumer struct {
	queue       domain.ChangeQueue
	handler     ChangeHandler
	retry       RetryPolicy
	pollTimeout time.Duration
	logger      zerolog.Logger

	pending sync.WaitGroup
}

func NewChangeConsumer(queue domain.ChangeQueue, handler ChangeHandler, retry RetryPolicy, logger *zerolog.Logger) *ChangeConsumer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "change_consumer").Logger()
	}
	return &ChangeConsumer{
		queue:       queue,
		handler:     handler,
		retry:       retry.withDefaults(),
		pollTimeout: time.Second,
		logger:      l,
	}
}

// Start blocks until ctx is cancelled, then waits for delayed retries to be re-enqueued.
func (c *ChangeConsumer) Start(ctx context.Context) {
	c.logger.Info().Msg("Change consumer started")
	defer func() {
		c.pending.Wait()
		c.logger.Info().Msg("Change consumer stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := c.queue.Dequeue(ctx, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Failed to dequeue change task")
			sleepCtx(ctx, c.pollTimeout)
			continue
		}
		if task == nil {
			continue
		}

		_ = c.Process(ctx, *task)
	}
}

// Process runs the handler for one task and schedules a retry on failure.
func (c *ChangeConsumer) Process(ctx context.Context, task models.ChangeTask) error {
	err := c.handler.OnChangeLogged(ctx, task.LogEntryID)
	if err == nil {
		return nil
	}

	log := c.logger.With().Str("log_entry_id", task.LogEntryID).Int("attempt", task.Attempt).Logger()

	if c.retry.Exhausted(task.Attempt) {
		log.Error().Err(err).Msg("Dropping change task after max retries")
		return err
	}

	next := models.ChangeTask{LogEntryID: task.LogEntryID, Attempt: task.Attempt + 1}
	delay := c.retry.NextDelay(next.Attempt)
	log.Warn().Err(err).Dur("delay", delay).Msg("Change task failed, scheduling retry")

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		sleepCtx(ctx, delay)

		next.EnqueuedAt = time.Now().UTC()
		if err := c.queue.Enqueue(context.WithoutCancel(ctx), next); err != nil {
			log.Error().Err(err).Msg("Failed to re-enqueue change task")
		}
	}()

	return err
}

// EnqueueOnChangeLogged forwards change_logged events into the change queue.
func EnqueueOnChangeLogged(queue domain.ChangeQueue) events.EventHandler {
	return func(event *events.Event) error {
		var payload events.ChangeLoggedPayload
		if err := event.Decode(&payload); err != nil {
			return err
		}
		return queue.Enqueue(context.Background(), models.ChangeTask{
			LogEntryID: payload.LogEntryID,
			EnqueuedAt: time.Now().UTC(),
		})
	}
}
