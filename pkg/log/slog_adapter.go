package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.AttemptID != "" {
		attrs = append(attrs, slog.String("attempt", event.AttemptID))
	}
	if event.Device != "" {
		attrs = append(attrs, slog.String("device", event.Device))
	}
	if event.Badge != 0 {
		attrs = append(attrs, slog.Uint64("badge", event.Badge))
	}

	switch {
	case event.Message != nil:
		attrs = append(attrs, slog.String("operation", event.Message.Operation))
		if event.Message.Item != "" {
			attrs = append(attrs, slog.String("item", event.Message.Item))
		}
		if event.Message.HTTPStatus != 0 {
			attrs = append(attrs, slog.Int("http_status", event.Message.HTTPStatus))
		}
		if event.Message.Duration != nil {
			attrs = append(attrs, slog.Duration("rtt", *event.Message.Duration))
		}
		attrs = append(attrs, slog.Int("body_size", len(event.Message.Body)))
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_kind", event.Error.Kind),
			slog.String("error_context", event.Error.Context),
		)
	case event.Door != nil:
		attrs = append(attrs,
			slog.String("door", event.Door.Action.String()),
			slog.String("source", event.Door.Source),
		)
		if event.Door.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Door.Reason))
		}
	case event.Reader != nil:
		attrs = append(attrs,
			slog.String("line", event.Reader.Line),
			slog.String("reason", event.Reader.Reason),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
