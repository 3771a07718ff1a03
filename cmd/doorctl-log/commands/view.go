package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hive13/doorctl/pkg/log"
)

// RunView writes the events of the log file at path matching filter in
// human-readable form.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes one event followed by a blank line.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeLayout)

	var label string
	switch {
	case event.Message != nil:
		label = event.Message.Operation
	case event.StateChange != nil:
		label = "State"
	case event.Error != nil:
		label = "Error"
	case event.Door != nil:
		label = "Door"
	case event.Reader != nil:
		label = "Reader"
	default:
		label = "Unknown"
	}

	fmt.Fprintf(w, "%s [attempt:%s] %-3s %s %s\n", ts, shortID(event.AttemptID),
		event.Direction.String(), event.Layer.String(), label)
	if event.Device != "" || event.Badge != 0 {
		fmt.Fprintf(w, "  Device: %s  Badge: %d\n", event.Device, event.Badge)
	}

	switch {
	case event.Message != nil:
		formatMessage(w, event.Message)
	case event.StateChange != nil:
		formatStateChange(w, event.StateChange)
	case event.Error != nil:
		formatError(w, event.Error)
	case event.Door != nil:
		formatDoor(w, event.Door)
	case event.Reader != nil:
		fmt.Fprintf(w, "  Line: %q\n", event.Reader.Line)
		fmt.Fprintf(w, "  Reason: %s\n", event.Reader.Reason)
	}

	fmt.Fprintln(w)
}

func formatMessage(w io.Writer, msg *log.MessageEvent) {
	if msg.Item != "" {
		fmt.Fprintf(w, "  Item: %s\n", msg.Item)
	}
	if msg.Nonce != "" {
		fmt.Fprintf(w, "  Nonce: %s\n", msg.Nonce)
	}
	if msg.HTTPStatus != 0 {
		fmt.Fprintf(w, "  Status: %d\n", msg.HTTPStatus)
	}
	if msg.Duration != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*msg.Duration))
	}
	if len(msg.Body) > 0 {
		fmt.Fprintf(w, "  Body: %s", msg.Body)
		if msg.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChange(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatError(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", e.Kind)
	}
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

func formatDoor(w io.Writer, d *log.DoorEvent) {
	fmt.Fprintf(w, "  Action: %s", d.Action.String())
	if d.Source != "" {
		fmt.Fprintf(w, "  Source: %s", d.Source)
	}
	fmt.Fprintln(w)
	if d.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", d.Reason)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
