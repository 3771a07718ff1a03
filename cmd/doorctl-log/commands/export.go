package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hive13/doorctl/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// RunExport writes the events matching filter in the given format to
// output, or to w when output is empty.
func RunExport(path, format, output string, filter log.Filter, w io.Writer) (err error) {
	if format != FormatJSONL && format != FormatCSV {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	if output != "" {
		f, ferr := os.Create(output)
		if ferr != nil {
			return fmt.Errorf("failed to create output file: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	if format == FormatCSV {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

// jsonEvent is the JSONL form of an event. Bodies are embedded as JSON
// when they parse and as strings otherwise.
type jsonEvent struct {
	Timestamp  string          `json:"timestamp"`
	AttemptID  string          `json:"attempt_id,omitempty"`
	Direction  string          `json:"direction"`
	Layer      string          `json:"layer"`
	Category   string          `json:"category"`
	Device     string          `json:"device,omitempty"`
	RemoteAddr string          `json:"remote_addr,omitempty"`
	Badge      uint64          `json:"badge,omitempty"`
	Operation  string          `json:"operation,omitempty"`
	Item       string          `json:"item,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
	HTTPStatus int             `json:"http_status,omitempty"`
	DurationNS int64           `json:"duration_ns,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Truncated  bool            `json:"truncated,omitempty"`
	OldState   string          `json:"old_state,omitempty"`
	NewState   string          `json:"new_state,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Door       string          `json:"door,omitempty"`
	Source     string          `json:"source,omitempty"`
	Line       string          `json:"line,omitempty"`
}

func toJSONEvent(e log.Event) jsonEvent {
	j := jsonEvent{
		Timestamp:  e.Timestamp.UTC().Format(timeLayout),
		AttemptID:  e.AttemptID,
		Direction:  e.Direction.String(),
		Layer:      e.Layer.String(),
		Category:   e.Category.String(),
		Device:     e.Device,
		RemoteAddr: e.RemoteAddr,
		Badge:      e.Badge,
	}
	switch {
	case e.Message != nil:
		m := e.Message
		j.Operation = m.Operation
		j.Item = m.Item
		j.Nonce = m.Nonce
		j.HTTPStatus = m.HTTPStatus
		if m.Duration != nil {
			j.DurationNS = m.Duration.Nanoseconds()
		}
		j.Truncated = m.Truncated
		if len(m.Body) > 0 {
			if json.Valid(m.Body) && !m.Truncated {
				j.Body = json.RawMessage(m.Body)
			} else {
				j.Body, _ = json.Marshal(string(m.Body))
			}
		}
	case e.StateChange != nil:
		j.OldState = e.StateChange.OldState
		j.NewState = e.StateChange.NewState
		j.Reason = e.StateChange.Reason
	case e.Error != nil:
		j.Error = e.Error.Message
		j.ErrorKind = e.Error.Kind
		j.Reason = e.Error.Context
	case e.Door != nil:
		j.Door = e.Door.Action.String()
		j.Source = e.Door.Source
		j.Reason = e.Door.Reason
	case e.Reader != nil:
		j.Line = e.Reader.Line
		j.Reason = e.Reader.Reason
	}
	return j
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toJSONEvent(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "attempt_id", "direction", "layer", "category", "device", "badge", "type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		j := toJSONEvent(event)
		eventType, detail := "unknown", ""
		switch {
		case event.Message != nil:
			eventType, detail = j.Operation, strconv.Itoa(j.HTTPStatus)
		case event.StateChange != nil:
			eventType, detail = "state", j.NewState
		case event.Error != nil:
			eventType, detail = "error", j.ErrorKind
		case event.Door != nil:
			eventType, detail = "door", j.Door
		case event.Reader != nil:
			eventType, detail = "reader", j.Reason
		}

		badge := ""
		if event.Badge != 0 {
			badge = strconv.FormatUint(event.Badge, 10)
		}
		row := []string{j.Timestamp, j.AttemptID, j.Direction, j.Layer, j.Category, j.Device, badge, eventType, detail}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
