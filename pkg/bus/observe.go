package bus

import (
	"context"
	"log/slog"
	"time"
)

// ObserveEvents logs lifecycle events until ctx ends or the bus closes.
func ObserveEvents(ctx context.Context, mb *MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := mb.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"kind", event.Kind,
		"request_id", event.RequestID,
		"sender", event.Sender,
		"session", event.Session,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case EventRequestFailed:
		log.Error("Request event", append(attrs, "error", event.Error)...)
	case EventReplyDropped:
		log.Warn("Request event", append(attrs, "error", event.Error)...)
	case EventRequestReceived, EventRequestCompleted:
		log.Info("Request event", attrs...)
	default:
		log.Debug("Request event", attrs...)
	}
}
