package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hive13/doorctl/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Attempts         map[string]*AttemptStats
	DoorActions      map[log.DoorAction]int
	ErrorsByKind     map[string]int
	IgnoredLines     int
	Exchanges        int
	TotalRTT         time.Duration
	MaxRTT           time.Duration
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// AttemptStats holds statistics for one access attempt.
type AttemptStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Badge      uint64
	FinalState string
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Attempts:         make(map[string]*AttemptStats),
		DoorActions:      make(map[log.DoorAction]int),
		ErrorsByKind:     make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.AttemptID != "" {
		a, ok := s.Attempts[event.AttemptID]
		if !ok {
			a = &AttemptStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Attempts[event.AttemptID] = a
		}
		a.Events++
		if event.Timestamp.After(a.LastSeen) {
			a.LastSeen = event.Timestamp
		}
		if event.Badge != 0 {
			a.Badge = event.Badge
		}
		if event.StateChange != nil {
			a.FinalState = event.StateChange.NewState
		}
	}

	switch {
	case event.Message != nil:
		if event.Message.Duration != nil {
			d := *event.Message.Duration
			s.Exchanges++
			s.TotalRTT += d
			if d > s.MaxRTT {
				s.MaxRTT = d
			}
		}
	case event.Error != nil:
		kind := event.Error.Kind
		if kind == "" {
			kind = "unknown"
		}
		s.ErrorsByKind[kind]++
	case event.Door != nil:
		s.DoorActions[event.Door.Action]++
	case event.Reader != nil:
		s.IgnoredLines++
	}
}

// finalStates counts attempts by the last state they reached.
func (s *Stats) finalStates() map[string]int {
	out := make(map[string]int)
	for _, a := range s.Attempts {
		state := a.FinalState
		if state == "" {
			state = "UNKNOWN"
		}
		out[state]++
	}
	return out
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== doorctl Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerProtocol, log.LayerController} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError, log.CategoryDoor, log.CategoryReader} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Attempts: %d\n", len(stats.Attempts))
	states := stats.finalStates()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-18s %d\n", name+":", states[name])
	}

	if len(stats.DoorActions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Door:")
		for _, a := range []log.DoorAction{log.DoorOpened, log.DoorKeptClosed} {
			if count := stats.DoorActions[a]; count > 0 {
				fmt.Fprintf(w, "  %-18s %d\n", a.String()+":", count)
			}
		}
	}

	if stats.Exchanges > 0 {
		fmt.Fprintln(w)
		avg := stats.TotalRTT / time.Duration(stats.Exchanges)
		fmt.Fprintf(w, "Exchanges: %d (avg %s, max %s)\n", stats.Exchanges, formatDuration(avg), formatDuration(stats.MaxRTT))
	}

	if len(stats.ErrorsByKind) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors by Kind:")
		kinds := make([]string, 0, len(stats.ErrorsByKind))
		for k := range stats.ErrorsByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-18s %d\n", k+":", stats.ErrorsByKind[k])
		}
	}

	if stats.IgnoredLines > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Ignored reader lines: %d\n", stats.IgnoredLines)
	}
}
