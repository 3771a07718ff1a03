// Package reader turns badge reader output into badge events.
//
// The reader helper process prints one line per read:
//
//	timestamp,counter,x,STATUS[,badge]
//
// Only lines with STATUS "OK" and a numeric badge produce an event. All
// other lines are logged and ignored.
//
// Readers that only dump raw Wiegand frames can use FormatWiegand, where
// each line is the 26 bits of one frame as '0' and '1' characters. Frames
// with the wrong length or failed parity are ignored the same way.
//
// # Sources
//
// A Source delivers events on a channel until its input ends or the
// context is cancelled. NewLineSource reads from any io.Reader (stdin, a
// FIFO, a test buffer); NewProcessSource runs the reader helper and reads
// its stdout.
package reader
