package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A capture is a plain sequence of CBOR-encoded Events with integer keys.
// Files are only ever appended to, so a capture survives restarts and is
// read back item by item.

var (
	captureEnc = mustEncMode()
	captureDec = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.NilContainers = cbor.NilContainerAsNull
	mode, err := opts.EncMode()
	if err != nil {
		panic("log: capture encoder: " + err.Error())
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic("log: capture decoder: " + err.Error())
	}
	return mode
}

// EventWriter appends events to a capture stream. It is not safe for
// concurrent use; FileLogger serializes access.
type EventWriter struct {
	enc *cbor.Encoder
}

// NewEventWriter returns a writer appending to w.
func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{enc: captureEnc.NewEncoder(w)}
}

// Write appends one event.
func (w *EventWriter) Write(e Event) error {
	return w.enc.Encode(e)
}

type eventDecoder struct {
	dec *cbor.Decoder
}

func newEventDecoder(r io.Reader) eventDecoder {
	return eventDecoder{dec: captureDec.NewDecoder(r)}
}

// next returns the following event, or io.EOF at a clean end of stream.
func (d eventDecoder) next() (Event, error) {
	var e Event
	if err := d.dec.Decode(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}
