// Package quote defines the message model of the quote stream.
//
// This package defines:
//   - Message: one normalized, display-ready record of the message log
//   - Body: the JSON envelope the broker delivers on a quote destination
//   - the message type and item kind discriminants used on the wire
//
// Wire envelopes:
//
//	{"messageType": "L", "data": [item, ...]}   // bulk load
//	{"messageType": "A", "data": item}          // single append
//	{"data": {"subscriptionId": "42"}}          // broker correlation id
//
// An item's kind is its leading discriminant: the first element of an array
// item, or the "type" member of an object item. Only items of kind KindQuote
// are appended to the log.
package quote
