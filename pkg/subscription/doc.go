// Package subscription defines the subscription model of the quote stream.
//
// A Subscription ties one topic key (a ticker symbol) to the transport handle
// that keeps it alive. A Table is the immutable topic → Subscription view held
// in the stream state; Registry is the component that owns the transport side
// effects of adding and removing entries.
//
// Invariants:
//   - at most one live subscription per topic key
//   - an entry is added only once the transport returned a handle
//   - an entry is removed only after its handle was released, exactly once
package subscription
