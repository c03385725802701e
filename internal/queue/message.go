package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/notifyhub/delivery-engine/internal/domain"
)

// SendMessage is the broker payload for a first-attempt delivery. The
// correlation id ties worker logs back to the ingest request that accepted
// the notification; it is optional because replays and backfills have none.
type SendMessage struct {
	NotificationID string          `json:"notificationId"`
	UserID         string          `json:"userId"`
	Channel        domain.Channel  `json:"channel"`
	Priority       domain.Priority `json:"priority"`
	CorrelationID  string          `json:"correlationId,omitempty"`
}

func (m SendMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}

// decodeSendMessage parses and validates a broker payload. A non-nil error
// means the message can never be handled and belongs in the poison queue.
func decodeSendMessage(body []byte) (SendMessage, error) {
	var msg SendMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return SendMessage{}, fmt.Errorf("invalid json payload: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return SendMessage{}, err
	}
	return msg, nil
}
