package worker

import (
	"context"

	"github.com/rs/zerolog"

	"hotelpms/internal/domain"
	"hotelpms/internal/events"
	"hotelpms/internal/models"
)

// FailureNotifier announces permanently failed entries to an external system.
type FailureNotifier interface {
	NotifyFailed(entry models.QueueEntry) error
}

// DeadLetterHandler stores and announces queue_entry_failed events. Either sink or notifier may be nil.
func DeadLetterHandler(sink domain.DeadLetterSink, notifier FailureNotifier, logger *zerolog.Logger) events.EventHandler {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	return func(event *events.Event) error {
		var p events.QueueEntryFailedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		lastErr := p.LastError
		failedAt := p.FailedAt
		entry := models.QueueEntry{
			ID:               p.EntryID,
			HotelID:          p.HotelID,
			ServiceName:      p.ServiceName,
			CurrentRequestID: p.CurrentRequestID,
			Status:           models.QueueStatusFailed,
			Retries:          p.Retries,
			LastError:        &lastErr,
			ProcessedAt:      &failedAt,
		}

		if sink != nil {
			if err := sink.Push(context.Background(), entry); err != nil {
				return err
			}
		}
		if notifier != nil {
			if err := notifier.NotifyFailed(entry); err != nil {
				l.Warn().Err(err).Int64("entry_id", entry.ID).Msg("Failed to publish dead letter notification")
			}
		}
		return nil
	}
}
