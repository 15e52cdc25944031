package reducer

import (
	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
)

// Decode turns an inbound message body into the events it carries, in the
// order they must be applied. A body may carry a correlation id alongside its
// payload, in which case Correlated comes first. Bodies that parse but carry
// nothing known decode to no events. Bodies that do not parse fail with
// quote.ErrMalformedPayload.
func Decode(raw []byte) ([]Event, error) {
	body, err := quote.ParseBody(raw)
	if err != nil {
		return nil, err
	}

	var events []Event
	if id, ok := body.SubscriptionID(); ok {
		events = append(events, Correlated{SessionID: id})
	}

	switch body.MessageType {
	case quote.TypeLoad:
		items, err := quote.DecodeItems(body.Data)
		if err != nil {
			return nil, err
		}
		events = append(events, Load{Items: items})

	case quote.TypeAppend:
		item, err := quote.DecodeValue(body.Data)
		if err != nil {
			return nil, err
		}
		events = append(events, Append{Kind: quote.Discriminant(item), Item: item})

	case quote.TypeClear:
		events = append(events, Clear{})
	}
	return events, nil
}
