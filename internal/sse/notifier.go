package sse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Notifier adapts the broker to the session core's notification contract.
// Publishing is fire-and-forget; a failed publish is logged and dropped.
type Notifier struct {
	broker *Broker
}

func NewNotifier(broker *Broker) *Notifier {
	return &Notifier{broker: broker}
}

func (n *Notifier) Publish(ownerID, kind string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("failed to marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	event := Event{Type: kind, Data: payload}
	if err := n.broker.Publish(ctx, ownerID, event); err != nil {
		log.Error().Err(err).
			Str("ownerId", ownerID).
			Str("kind", kind).
			Msg("failed to publish notification")
	}
}
