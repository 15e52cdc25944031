// Package dedup flags repeated records in the message log.
//
// The log is newest first. For every canonical value that appears k times,
// the last occurrence in iteration order (the oldest copy) stays unflagged
// and the other k-1 are marked duplicate.
package dedup

import "github.com/rmacdonaldsmith/quotestream/pkg/quote"

// Annotate returns a copy of log with every Duplicate flag recomputed.
// Order and canonical forms are preserved.
func Annotate(log []quote.Message) []quote.Message {
	if len(log) == 0 {
		return []quote.Message{}
	}

	remaining := make(map[string]int, len(log))
	for _, msg := range log {
		remaining[msg.Canonical]++
	}

	out := make([]quote.Message, len(log))
	for i, msg := range log {
		out[i] = quote.Message{
			Canonical: msg.Canonical,
			Duplicate: remaining[msg.Canonical] > 1,
		}
		remaining[msg.Canonical]--
	}
	return out
}

// Count returns the number of records flagged duplicate in log.
func Count(log []quote.Message) int {
	n := 0
	for _, msg := range log {
		if msg.Duplicate {
			n++
		}
	}
	return n
}
