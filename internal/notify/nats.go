package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"hotelpms/internal/models"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used to send notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// DeadLetter is the message published when a queue entry exhausts its retries.
type DeadLetter struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	EntryID          int64     `json:"entry_id"`
	HotelID          int64     `json:"hotel_id"`
	ServiceName      string    `json:"service_name"`
	CurrentRequestID string    `json:"current_request_id"`
	Retries          int       `json:"retries"`
	LastError        string    `json:"last_error"`
	FailedAt         time.Time `json:"failed_at"`
}

// NATSNotifier announces terminal sync failures on a NATS subject.
type NATSNotifier struct {
	pub     Publisher
	subject string
	source  string
}

func NewNATSNotifier(pub Publisher, subject, source string) *NATSNotifier {
	return &NATSNotifier{pub: pub, subject: subject, source: source}
}

// Connect dials NATS with reconnects enabled for the life of the process.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

func (n *NATSNotifier) NotifyFailed(entry models.QueueEntry) error {
	msg := DeadLetter{
		ID:               uuid.NewString(),
		Source:           n.source,
		EntryID:          entry.ID,
		HotelID:          entry.HotelID,
		ServiceName:      entry.ServiceName,
		CurrentRequestID: entry.CurrentRequestID,
		Retries:          entry.Retries,
		FailedAt:         time.Now().UTC(),
	}
	if entry.LastError != nil {
		msg.LastError = *entry.LastError
	}
	if entry.ProcessedAt != nil {
		msg.FailedAt = entry.ProcessedAt.UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	return nil
}
