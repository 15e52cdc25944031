// Package reducer holds the stream state and its pure transition function.
//
// State values are never mutated in place: Apply returns a new State that may
// share unchanged parts with its input. The controller loop owns the current
// value; readers receive clones.
package reducer

import (
	"github.com/rmacdonaldsmith/quotestream/internal/dedup"
	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// State is the whole stream state.
type State struct {
	Status        transport.Status
	Log           []quote.Message // newest first
	Subscriptions subscription.Table
	SessionID     string // broker correlation id, empty when unknown
}

// New returns the initial state: disconnected, empty log, no subscriptions.
func New() State {
	return State{
		Status:        transport.Disconnected,
		Log:           []quote.Message{},
		Subscriptions: subscription.NewTable(),
	}
}

// Clone returns a copy of s that shares no mutable memory with it.
func (s State) Clone() State {
	out := s
	out.Log = make([]quote.Message, len(s.Log))
	copy(out.Log, s.Log)
	// Table is immutable; sharing it is safe.
	return out
}

// Duplicates returns the number of log records flagged duplicate.
func (s State) Duplicates() int {
	return dedup.Count(s.Log)
}
