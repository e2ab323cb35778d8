package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// subjectPrefix namespaces all notification subjects on the broker.
const subjectPrefix = "notify"

// NatsDispatcher publishes notifications to a NATS subject per kind.
// A downstream delivery worker renders templates and sends email; this
// process only enqueues.
type NatsDispatcher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func NewNatsDispatcher(conn *nats.Conn, logger zerolog.Logger) *NatsDispatcher {
	return &NatsDispatcher{
		conn:   conn,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Dispatch publishes one message to notify.<kind>.
func (d *NatsDispatcher) Dispatch(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", msg.Kind, err)
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, msg.Kind)
	if err := d.conn.Publish(subject, data); err != nil {
		d.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish notification")
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	d.logger.Debug().Str("subject", subject).Msg("notification published")
	return nil
}
