package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// LogPublisher writes messages to the log instead of a broker. It stands in for NATS when
// NATS_ENABLED=false so the outbox still drains.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("Message published to log", "subject", subject, "payload", string(payload))
	return nil
}
