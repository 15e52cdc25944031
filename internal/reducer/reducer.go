package reducer

import (
	"github.com/rmacdonaldsmith/quotestream/internal/dedup"
	"github.com/rmacdonaldsmith/quotestream/internal/normalize"
	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
	"github.com/rmacdonaldsmith/quotestream/pkg/subscription"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

// Apply returns the state that results from applying e to s. It has no side
// effects and never modifies s.
func Apply(s State, e Event) State {
	switch ev := e.(type) {
	case Load:
		if len(ev.Items) == 0 {
			return s
		}
		s.Log = prepend(normalize.NormalizeAll(ev.Items), s.Log)

	case Append:
		if ev.Kind != quote.KindQuote {
			return s
		}
		s.Log = prepend([]quote.Message{normalize.Normalize(ev.Item)}, s.Log)

	case Subscribed:
		sub := ev.Subscription
		sub.State = subscription.Active
		s.Subscriptions = s.Subscriptions.With(sub)

	case Releasing:
		sub, ok := s.Subscriptions.Get(ev.Topic)
		if !ok {
			return s
		}
		sub.State = subscription.Releasing
		s.Subscriptions = s.Subscriptions.With(sub)

	case Unsubscribed:
		s.Subscriptions = s.Subscriptions.Without(ev.Topic)

	case Clear:
		s.Log = []quote.Message{}

	case StatusChanged:
		if s.Status == transport.Connected && ev.Status != transport.Connected {
			s.SessionID = ""
		}
		s.Status = ev.Status

	case Correlated:
		s.SessionID = ev.SessionID
	}
	return s
}

// ApplyAll folds events over s in order.
func ApplyAll(s State, events ...Event) State {
	for _, e := range events {
		s = Apply(s, e)
	}
	return s
}

func prepend(batch, log []quote.Message) []quote.Message {
	merged := make([]quote.Message, 0, len(batch)+len(log))
	merged = append(merged, batch...)
	merged = append(merged, log...)
	return dedup.Annotate(merged)
}
