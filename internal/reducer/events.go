package reducer

import (
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// Event is an input to Apply. Event types not declared here are ignored.
type Event interface {
	Name() string
}

// Load prepends a batch of decoded items, keeping the batch order.
type Load struct {
	Items []any
}

// Append prepends a single decoded item when Kind is quote.KindQuote.
type Append struct {
	Kind string
	Item any
}

// Subscribed records a live subscription.
type Subscribed struct {
	Subscription subscription.Subscription
}

// Releasing marks the subscription of Topic as being released.
type Releasing struct {
	Topic string
}

// Unsubscribed removes the subscription of Topic.
type Unsubscribed struct {
	Topic string
}

// Clear empties the message log.
type Clear struct{}

// StatusChanged moves the connection to Status.
type StatusChanged struct {
	Status transport.Status
}

// Correlated stores the broker correlation id.
type Correlated struct {
	SessionID string
}

func (Load) Name() string          { return "load" }
func (Append) Name() string        { return "append" }
func (Subscribed) Name() string    { return "subscribed" }
func (Releasing) Name() string     { return "releasing" }
func (Unsubscribed) Name() string  { return "unsubscribed" }
func (Clear) Name() string         { return "clear" }
func (StatusChanged) Name() string { return "status_changed" }
func (Correlated) Name() string    { return "correlated" }
