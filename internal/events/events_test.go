package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe("test_event", handler)

	payload := map[string]string{"foo": "bar"}
	err := bus.PublishJSON("test_event", payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != "test_event" {
		t.Errorf("expected type test_event, got %s", received.Type)
	}

	var decoded map[string]string
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %s", decoded["foo"])
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	payload := ChangeLoggedPayload{LogEntryID: "chg-123", HotelID: 25}
	event, err := NewJSONEvent("type", payload)
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.Type != "type" {
		t.Errorf("expected type, got %s", event.Type)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded ChangeLoggedPayload
	if err := event.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded.LogEntryID != "chg-123" || decoded.HotelID != 25 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusOnError(t *testing.T) {
	bus := NewEventBus()
	var failed []string
	bus.OnError(func(event *Event, err error) {
		failed = append(failed, event.Type+": "+err.Error())
	})

	var secondCalled bool
	bus.Subscribe(EventQueueEntryFailed, func(_ *Event) error { return errors.New("redis down") })
	bus.Subscribe(EventQueueEntryFailed, func(_ *Event) error { secondCalled = true; return nil })

	if err := bus.PublishJSON(EventQueueEntryFailed, QueueEntryFailedPayload{EntryID: 1}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if !secondCalled {
		t.Errorf("expected later handlers to run after a failure")
	}
	if len(failed) != 1 || failed[0] != "queue_entry_failed: redis down" {
		t.Errorf("unexpected failures %v", failed)
	}
}

func TestEventDecodeError(t *testing.T) {
	event := &Event{Type: EventChangeLogged, Payload: []byte("not json")}
	var payload ChangeLoggedPayload
	if err := event.Decode(&payload); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventChangeLogged, nil); err != nil {
		t.Errorf("expected nil bus to be a no-op, got %v", err)
	}
}
