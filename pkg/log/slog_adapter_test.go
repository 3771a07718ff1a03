package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSlogAdapterWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	adapter := NewSlogAdapter(logger)

	adapter.Log(Event{
		Timestamp: time.Now(),
		AttemptID: "attempt-1",
		Layer:     LayerProtocol,
		Category:  CategoryState,
		Badge:     1052895,
		StateChange: &StateChangeEvent{
			OldState: "NONCE_REQUESTED",
			NewState: "FAILED",
			Reason:   "transport",
		},
	})

	out := buf.String()
	for _, want := range []string{"attempt=attempt-1", "badge=1052895", "new_state=FAILED", "reason=transport", "layer=PROTOCOL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestSlogAdapterSkippedAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	NewSlogAdapter(logger).Log(Event{Timestamp: time.Now(), Door: &DoorEvent{Action: DoorOpened}})

	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}
}

type recordingLogger struct {
	events []Event
}

func (r *recordingLogger) Log(e Event) { r.events = append(r.events, e) }

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{AttemptID: "x"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("got a=%d b=%d, want 1 each", len(a.events), len(b.events))
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != Logger(r) {
		t.Error("OrNoop should return non-nil logger unchanged")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerProtocol.String(), "PROTOCOL"},
		{LayerController.String(), "CONTROLLER"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryReader.String(), "READER"},
		{CategoryDoor.String(), "DOOR"},
		{DoorOpened.String(), "OPENED"},
		{DoorKeptClosed.String(), "KEPT_CLOSED"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
