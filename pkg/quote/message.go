package quote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Message types carried in Body.MessageType.
const (
	TypeLoad   = "L"
	TypeAppend = "A"
	TypeClear  = "CLEAR"
)

// KindQuote is the item discriminant of a single live-price update.
const KindQuote = "Q"

// ErrMalformedPayload is returned when an inbound body is not valid JSON.
var ErrMalformedPayload = errors.New("malformed payload")

// Message is one record of the message log.
//
// Canonical is immutable once the record is created; Duplicate is recomputed
// every time the log changes.
type Message struct {
	Canonical string `json:"data"`
	Duplicate bool   `json:"duplicate"`
}

// Body is the envelope of every message delivered on a quote destination.
type Body struct {
	MessageType string          `json:"messageType,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ParseBody decodes raw into a Body. Any JSON object is accepted; raw that
// is not a JSON object yields ErrMalformedPayload.
func ParseBody(raw []byte) (Body, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Body{}, fmt.Errorf("%w: null body", ErrMalformedPayload)
	}
	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return Body{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return body, nil
}

// SubscriptionID returns the broker correlation id carried by the body, if any.
func (b Body) SubscriptionID() (string, bool) {
	if len(b.Data) == 0 {
		return "", false
	}

	var data struct {
		SubscriptionID json.RawMessage `json:"subscriptionId"`
	}
	if err := json.Unmarshal(b.Data, &data); err != nil || len(data.SubscriptionID) == 0 {
		return "", false
	}

	value, err := DecodeValue(data.SubscriptionID)
	if err != nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// DecodeValue decodes a single JSON value, keeping numbers as json.Number so
// their textual form survives normalization.
func DecodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after value", ErrMalformedPayload)
	}
	return value, nil
}

// DecodeItems decodes the data of a bulk load into its items.
func DecodeItems(raw []byte) ([]any, error) {
	value, err := DecodeValue(raw)
	if err != nil {
		return nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: load data is %T, want array", ErrMalformedPayload, value)
	}
	return items, nil
}

// Discriminant returns the kind of a decoded item: the first element of an
// array item when it is a string, or the string "type" member of an object
// item. It returns "" when the item carries no discriminant.
func Discriminant(item any) string {
	switch v := item.(type) {
	case []any:
		if len(v) > 0 {
			if kind, ok := v[0].(string); ok {
				return kind
			}
		}
	case map[string]any:
		if kind, ok := v["type"].(string); ok {
			return kind
		}
	}
	return ""
}
