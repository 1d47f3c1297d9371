package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hotelpms/internal/events"
	"hotelpms/internal/models"
	"hotelpms/internal/repository"
)

type fakeHandler struct {
	mu    sync.Mutex
	calls map[string]int
	fails int
	err   error
}

func (h *fakeHandler) OnChangeLogged(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls == nil {
		h.calls = make(map[string]int)
	}
	h.calls[id]++
	if h.calls[id] <= h.fails {
		return h.err
	}
	return nil
}

func (h *fakeHandler) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

var fastRetry = RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

func TestChangeConsumer_ProcessSuccess(t *testing.T) {
	queue := repository.NewMemoryChangeQueue(10)
	h := &fakeHandler{}
	c := NewChangeConsumer(queue, h, fastRetry, nil)

	if err := c.Process(context.Background(), models.ChangeTask{LogEntryID: "log-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Errorf("expected nothing re-enqueued, got %d", n)
	}
}

func TestChangeConsumer_ProcessSchedulesRetry(t *testing.T) {
	queue := repository.NewMemoryChangeQueue(10)
	h := &fakeHandler{fails: 1, err: errors.New("db busy")}
	c := NewChangeConsumer(queue, h, fastRetry, nil)

	if err := c.Process(context.Background(), models.ChangeTask{LogEntryID: "log-1"}); err == nil {
		t.Fatal("expected handler error")
	}
	c.pending.Wait()

	task, err := queue.Dequeue(context.Background(), 100*time.Millisecond)
	if err != nil || task == nil {
		t.Fatalf("expected re-enqueued task, got %v / %v", task, err)
	}
	if task.LogEntryID != "log-1" || task.Attempt != 1 {
		t.Errorf("unexpected retry task %+v", task)
	}
}

func TestChangeConsumer_DropsAfterMaxRetries(t *testing.T) {
	queue := repository.NewMemoryChangeQueue(10)
	h := &fakeHandler{fails: 100, err: errors.New("not found")}
	c := NewChangeConsumer(queue, h, fastRetry, nil)

	if err := c.Process(context.Background(), models.ChangeTask{LogEntryID: "log-1", Attempt: 3}); err == nil {
		t.Fatal("expected handler error")
	}
	c.pending.Wait()

	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Errorf("expected task to be dropped, queue has %d", n)
	}
}

func TestChangeConsumer_StartRetriesUntilSuccess(t *testing.T) {
	queue := repository.NewMemoryChangeQueue(10)
	h := &fakeHandler{fails: 2, err: errors.New("transient")}
	c := NewChangeConsumer(queue, h, fastRetry, nil)
	c.pollTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(ctx)
	}()

	if err := queue.Enqueue(ctx, models.ChangeTask{LogEntryID: "log-7"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.count("log-7") < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := h.count("log-7"); got != 3 {
		t.Errorf("expected 3 handler calls, got %d", got)
	}
}

func TestEnqueueOnChangeLogged(t *testing.T) {
	queue := repository.NewMemoryChangeQueue(10)
	bus := events.NewEventBus()
	bus.Subscribe(events.EventChangeLogged, EnqueueOnChangeLogged(queue))

	if err := bus.PublishJSON(events.EventChangeLogged, events.ChangeLoggedPayload{LogEntryID: "log-9", HotelID: 25}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	task, err := queue.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil || task == nil {
		t.Fatalf("expected task, got %v / %v", task, err)
	}
	if task.LogEntryID != "log-9" || task.Attempt != 0 || task.EnqueuedAt.IsZero() {
		t.Errorf("unexpected task %+v", task)
	}
}
