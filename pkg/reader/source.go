package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/hive13/doorctl/pkg/log"
)

// Format selects how reader lines are interpreted.
type Format string

const (
	// FormatCSV is the "timestamp,counter,x,STATUS[,badge]" helper output.
	FormatCSV Format = "csv"

	// FormatWiegand is one raw 26-bit frame per line.
	FormatWiegand Format = "wiegand"
)

// ParseFormat returns the Format named s. Empty selects FormatCSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatWiegand:
		return FormatWiegand, nil
	default:
		return "", fmt.Errorf("reader: unknown format %q", s)
	}
}

// Source produces badge events.
type Source interface {
	// Run delivers events on out until input ends or ctx is done. It does
	// not close out.
	Run(ctx context.Context, out chan<- BadgeEvent) error
}

// SourceConfig configures line parsing.
type SourceConfig struct {
	// Format of the input lines.
	Format Format

	// Logger receives operational messages. Nil uses slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives a ReaderEvent for every ignored line.
	ProtocolLogger log.Logger
}

// LineSource parses badge events from an io.Reader.
type LineSource struct {
	r      io.Reader
	format Format
	logger *slog.Logger
	plog   log.Logger
}

// NewLineSource creates a source reading lines from r.
func NewLineSource(r io.Reader, cfg SourceConfig) *LineSource {
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LineSource{
		r:      r,
		format: cfg.Format,
		logger: cfg.Logger,
		plog:   log.OrNoop(cfg.ProtocolLogger),
	}
}

// MaxLineLength bounds one reader line including its newline. Longer
// lines are ignored.
const MaxLineLength = 4096

// ErrLineTooLong is the reason recorded for lines over MaxLineLength.
var ErrLineTooLong = fmt.Errorf("reader: line exceeds %d bytes", MaxLineLength)

type line struct {
	text string
	err  error
}

// Run reads until EOF or ctx is done. EOF is not an error.
func (s *LineSource) Run(ctx context.Context, out chan<- BadgeEvent) error {
	lines := make(chan line)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		readErr <- readLines(ctx, s.r, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if l.err != nil {
				s.ignore(l.text, l.err)
				continue
			}
			ev, err := s.parse(l.text)
			if err != nil {
				s.ignore(l.text, err)
				continue
			}
			ev.Received = time.Now()
			s.logger.Debug("badge read", "badge", ev.Badge, "counter", ev.Counter)
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// readLines splits r into lines. A line over MaxLineLength is drained and
// delivered as a truncated prefix with ErrLineTooLong.
func readLines(ctx context.Context, r io.Reader, lines chan<- line) error {
	br := bufio.NewReaderSize(r, MaxLineLength)
	for {
		var l line
		raw, err := br.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			l = line{text: string(raw[:64]) + "...", err: ErrLineTooLong}
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
		case len(raw) > 0:
			l = line{text: strings.TrimRight(string(raw), "\r\n")}
		}

		if l.text != "" || l.err != nil {
			select {
			case lines <- l:
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reader: %w", err)
		}
	}
}

func (s *LineSource) parse(line string) (BadgeEvent, error) {
	if s.format == FormatWiegand {
		f, err := ParseWiegandLine(line)
		if err != nil {
			return BadgeEvent{}, err
		}
		return BadgeEvent{Badge: f.Value, Raw: strings.TrimSpace(line)}, nil
	}
	return ParseLine(line)
}

func (s *LineSource) ignore(line string, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	s.logger.Info("ignored reader line", "line", line, "reason", err)
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerController,
		Category:  log.CategoryReader,
		Reader: &log.ReaderEvent{
			Line:   line,
			Reason: err.Error(),
		},
	})
}

// ProcessSource runs the reader helper and parses its stdout.
type ProcessSource struct {
	path string
	args []string
	cfg  SourceConfig
}

// NewProcessSource creates a source running path with args.
func NewProcessSource(path string, args []string, cfg SourceConfig) *ProcessSource {
	return &ProcessSource{path: path, args: args, cfg: cfg}
}

// ErrProcessExited is returned when the helper exits while ctx is live.
var ErrProcessExited = errors.New("reader: helper process exited")

// Run starts the helper and reads until it exits or ctx is done. The
// helper is killed when ctx is done.
func (p *ProcessSource) Run(ctx context.Context, out chan<- BadgeEvent) error {
	cmd := exec.CommandContext(ctx, p.path, p.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("reader: start %s: %w", p.path, err)
	}

	runErr := NewLineSource(stdout, p.cfg).Run(ctx, out)
	if runErr != nil && ctx.Err() == nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return fmt.Errorf("%w: %v", ErrProcessExited, waitErr)
	}
	return ErrProcessExited
}
