package log

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestReaderIteratesEvents(t *testing.T) {
	now := time.Now()
	events := []Event{
		{Timestamp: now, AttemptID: "a-1", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: now, AttemptID: "a-1", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: now, AttemptID: "a-2", Layer: LayerProtocol, Category: CategoryState},
	}

	reader, err := NewReader(createTestLogFile(t, events))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if read[2].AttemptID != "a-2" {
		t.Errorf("read[2].AttemptID = %q, want a-2", read[2].AttemptID)
	}
}

func TestReaderFilter(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []Event{
		{Timestamp: base, AttemptID: "a-1", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage, Badge: 1},
		{Timestamp: base.Add(time.Second), AttemptID: "a-1", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage, Badge: 1},
		{Timestamp: base.Add(2 * time.Second), AttemptID: "a-2", Layer: LayerProtocol, Category: CategoryState, Badge: 2},
		{Timestamp: base.Add(3 * time.Second), Layer: LayerController, Category: CategoryReader, Device: "side"},
	}
	path := createTestLogFile(t, events)

	in := DirectionIn
	state := CategoryState
	controller := LayerController
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"attempt", Filter{AttemptID: "a-1"}, 2},
		{"direction", Filter{Direction: &in}, 1},
		{"category", Filter{Category: &state}, 1},
		{"layer", Filter{Layer: &controller}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"device", Filter{Device: "side"}, 1},
		{"badge", Filter{Badge: 1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			got, err := reader.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStreamReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewEventWriter(&buf)
	for _, id := range []string{"x", "y"} {
		if err := w.Write(Event{Timestamp: time.Now(), AttemptID: id}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	reader := NewStreamReader(&buf, Filter{AttemptID: "y"})
	defer reader.Close()

	got, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].AttemptID != "y" {
		t.Errorf("got %+v, want single event y", got)
	}
}
