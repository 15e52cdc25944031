package subscription

import (
	"sort"
	"time"

	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// State is the lifecycle state of a subscription.
type State int

const (
	// Pending means the transport was asked to subscribe and has not confirmed.
	// Transports that confirm synchronously never expose this state.
	Pending State = iota
	// Active means the transport handle is live
	Active
	// Releasing means the handle is being released and the entry is about to go
	Releasing
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case Releasing:
		return "RELEASING"
	default:
		return "UNKNOWN"
	}
}

// Subscription is one topic key attached to a broker destination.
type Subscription struct {
	Topic        string
	Destination  string
	Handle       transport.Handle
	State        State
	SubscribedAt time.Time
}

// Table is an immutable topic → Subscription mapping. The zero value is an
// empty table; With and Without return modified copies.
type Table struct {
	entries map[string]Subscription
}

// NewTable builds a table from subs. Later entries win on duplicate topics.
func NewTable(subs ...Subscription) Table {
	entries := make(map[string]Subscription, len(subs))
	for _, sub := range subs {
		entries[sub.Topic] = sub
	}
	return Table{entries: entries}
}

// Get returns the entry for topic.
func (t Table) Get(topic string) (Subscription, bool) {
	sub, ok := t.entries[topic]
	return sub, ok
}

// Len returns the number of entries.
func (t Table) Len() int {
	return len(t.entries)
}

// With returns a copy of the table with sub stored under sub.Topic.
func (t Table) With(sub Subscription) Table {
	entries := make(map[string]Subscription, len(t.entries)+1)
	for k, v := range t.entries {
		entries[k] = v
	}
	entries[sub.Topic] = sub
	return Table{entries: entries}
}

// Without returns a copy of the table without topic. The receiver is
// returned unchanged when topic is absent.
func (t Table) Without(topic string) Table {
	if _, ok := t.entries[topic]; !ok {
		return t
	}
	entries := make(map[string]Subscription, len(t.entries))
	for k, v := range t.entries {
		if k != topic {
			entries[k] = v
		}
	}
	return Table{entries: entries}
}

// Topics returns the topic keys in lexical order.
func (t Table) Topics() []string {
	topics := make([]string, 0, len(t.entries))
	for topic := range t.entries {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// List returns the entries ordered by topic key.
func (t Table) List() []Subscription {
	list := make([]Subscription, 0, len(t.entries))
	for _, topic := range t.Topics() {
		list = append(list, t.entries[topic])
	}
	return list
}

// Registry tracks live subscriptions and performs their transport side
// effects.
type Registry interface {
	// Subscribe attaches topic unless it is already live. It reports whether
	// a new subscription was created.
	Subscribe(topic string) (bool, error)

	// SubscribeAll subscribes every topic not already live, in order.
	SubscribeAll(topics []string) error

	// Unsubscribe releases the handle of topic and removes its entry. It
	// returns false when there was nothing to release.
	Unsubscribe(topic string) bool

	// ReleaseAll releases and removes every entry.
	ReleaseAll()
}
