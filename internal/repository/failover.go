package repository

import (
	"context"
	"sync/atomic"
	"time"

	"hotelpms/internal/domain"
	"hotelpms/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverChangeQueue writes to the primary (Redis) queue and falls back to a
// local queue while the primary is failing. Tasks left in the fallback are drained first.
type FailoverChangeQueue struct {
	primary   domain.ChangeQueue
	fallback  domain.ChangeQueue
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverChangeQueue(primary, fallback domain.ChangeQueue, logger *zerolog.Logger) *FailoverChangeQueue {
	return &FailoverChangeQueue{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (q *FailoverChangeQueue) markDown(err error) {
	if !q.isDown.Swap(true) {
		q.logger.Error().Err(err).Msg("primary change queue failed, falling back to memory")
	}
	q.lastCheck.Store(q.now().UnixNano())
}

// usePrimary reports whether the primary should be tried, allowing one probe per recoveryInterval while down.
func (q *FailoverChangeQueue) usePrimary() bool {
	if !q.isDown.Load() {
		return true
	}
	return q.now().Sub(time.Unix(0, q.lastCheck.Load())) > recoveryInterval
}

func (q *FailoverChangeQueue) recovered() {
	if q.isDown.Swap(false) {
		q.logger.Info().Msg("primary change queue recovered")
	}
}

func (q *FailoverChangeQueue) Enqueue(ctx context.Context, task models.ChangeTask) error {
	if q.usePrimary() {
		err := q.primary.Enqueue(ctx, task)
		if err == nil {
			q.recovered()
			return nil
		}
		q.markDown(err)
	}
	return q.fallback.Enqueue(ctx, task)
}

func (q *FailoverChangeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.ChangeTask, error) {
	if n, _ := q.fallback.Len(ctx); n > 0 {
		return q.fallback.Dequeue(ctx, timeout)
	}

	if q.usePrimary() {
		task, err := q.primary.Dequeue(ctx, timeout)
		if err == nil {
			q.recovered()
			return task, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.markDown(err)
	}
	return q.fallback.Dequeue(ctx, timeout)
}

func (q *FailoverChangeQueue) Len(ctx context.Context) (int64, error) {
	local, _ := q.fallback.Len(ctx)
	if q.isDown.Load() {
		return local, nil
	}
	remote, err := q.primary.Len(ctx)
	if err != nil {
		return local, nil
	}
	return local + remote, nil
}
