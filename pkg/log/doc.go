// Package log provides structured protocol capture for doorctl.
//
// This package defines the Logger interface and Event types for recording
// every step of an access attempt: the intweb exchanges, attempt state
// transitions, door actions and ignored reader lines. It is separate from
// operational logging (slog) - protocol capture is a complete,
// machine-readable trace for auditing and debugging.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/doorctl/access.dlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: HTTP exchanges with intweb (MessageEvent)
//   - Protocol: attempt state machine transitions (StateChangeEvent)
//   - Controller: door actions and reader input (DoorEvent, ReaderEvent)
//
// Errors at any layer use ErrorEventData.
//
// # Secrets
//
// Events never carry the device key. Request bodies are captured as sent,
// which includes the checksum but not the key it was derived from.
//
// # File Format
//
// Log files use CBOR encoding with integer keys and the .dlog extension.
// The doorctl-log tool views, summarizes and exports them.
package log
