// Package xerr implements the X request-serial ignore list: a FIFO of serials whose errors are expected
// because the request raced a window's destruction.
package xerr

import "log/slog"

// List is a FIFO of pending serials to ignore, keyed by 16-bit wrapping
// sequence number. The zero value is ready to use.
type List struct {
	pending []uint16
}

// Ignore records that any error carrying sequence should be swallowed.
// X sequence numbers are 16 bits on the wire and wrap; Should reports
// membership using wrapping comparison so a wrapped-around serial still
// matches.
func (l *List) Ignore(sequence uint16) {
	l.pending = append(l.pending, sequence)
}

// Should reports whether sequence is on the ignore list, consuming every
// entry at or before it (serials are delivered to the X client in order,
// so anything older than sequence that was never matched will never be).
func (l *List) Should(sequence uint16) bool {
	matched := false
	kept := l.pending[:0]
	for _, s := range l.pending {
		switch {
		case s == sequence:
			matched = true
		case before(s, sequence):
			// stale entry: the request it guarded must have succeeded
			// without error, or its error already arrived and was
			// reported through a different path.
		default:
			kept = append(kept, s)
		}
	}
	l.pending = kept
	return matched
}

// before reports whether a precedes b in wrapping sequence order.
func before(a, b uint16) bool {
	return int16(a-b) < 0
}

// Report logs an X error that was not on the ignore list, decoding as much
// as the caller could determine about which extension/request raised it.
func Report(majorOp, minorOp, errorCode uint8, sequence uint16, extension string) {
	slog.Warn("xerr: unhandled X error",
		"extension", extension,
		"major", majorOp,
		"minor", minorOp,
		"code", errorCode,
		"sequence", sequence,
	)
}
