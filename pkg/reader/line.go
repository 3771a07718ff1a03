package reader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusOK is the status field of a successful read.
const StatusOK = "OK"

// Line errors.
var (
	ErrMalformedLine = errors.New("reader: malformed line")
	ErrStatusNotOK   = errors.New("reader: read status not OK")
	ErrBadBadge      = errors.New("reader: invalid badge number")
)

// BadgeEvent is one successful badge read.
type BadgeEvent struct {
	// Badge is the badge number.
	Badge uint64

	// Timestamp and Counter are passed through from the reader unchanged.
	Timestamp string
	Counter   string

	// Received is when the line was read.
	Received time.Time

	// Raw is the line as read.
	Raw string
}

// ParseLine parses one reader line. Lines that do not describe a
// successful read return an error wrapping ErrMalformedLine,
// ErrStatusNotOK or ErrBadBadge.
func ParseLine(line string) (BadgeEvent, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return BadgeEvent{}, fmt.Errorf("%w: want at least 4 fields, got %d", ErrMalformedLine, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if fields[3] != StatusOK {
		return BadgeEvent{}, fmt.Errorf("%w: %q", ErrStatusNotOK, fields[3])
	}
	if len(fields) < 5 || fields[4] == "" {
		return BadgeEvent{}, fmt.Errorf("%w: missing badge", ErrMalformedLine)
	}

	badge, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return BadgeEvent{}, fmt.Errorf("%w: %q", ErrBadBadge, fields[4])
	}

	return BadgeEvent{
		Badge:     badge,
		Timestamp: fields[0],
		Counter:   fields[1],
		Raw:       line,
	}, nil
}
