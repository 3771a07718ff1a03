// Package commands implements the doorctl-log CLI commands.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hive13/doorctl/pkg/log"
)

// FilterOptions are the string forms of log.Filter criteria as given on
// the command line. Empty fields match everything.
type FilterOptions struct {
	AttemptID string
	Device    string
	Badge     string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Filter converts the options to a log.Filter.
func (o FilterOptions) Filter() (log.Filter, error) {
	f := log.Filter{
		AttemptID: o.AttemptID,
		Device:    o.Device,
	}

	if o.Badge != "" {
		b, err := strconv.ParseUint(o.Badge, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid badge: %s", o.Badge)
		}
		f.Badge = b
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start format: %w", err)
		}
		f.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end format: %w", err)
		}
		f.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := parseLayer(o.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "protocol":
		return log.LayerProtocol, nil
	case "controller":
		return log.LayerController, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, protocol, or controller)", s)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	case "door":
		return log.CategoryDoor, nil
	case "reader":
		return log.CategoryReader, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, error, door, or reader)", s)
	}
}

// shortID returns the first 8 characters of an attempt ID.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

const timeLayout = "2006-01-02T15:04:05.000000Z"
