// Package normalize turns decoded payloads into log records.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
)

// Normalize converts a decoded payload into a record whose canonical form is
// used both for display and as the dedup key.
//
// The canonical form is JSON text with object keys sorted, ", " between
// elements and ":" between keys and values. Structurally equal payloads always
// serialize identically. Two different payloads only collide if their JSON
// values are equal after number normalization (1.0 and 1 print the same); such
// collisions are reported as duplicates, which is an accepted false positive.
func Normalize(payload any) quote.Message {
	var b strings.Builder
	writeValue(&b, payload)
	return quote.Message{Canonical: b.String()}
}

// NormalizeJSON decodes raw and normalizes it. It fails with
// quote.ErrMalformedPayload when raw is not a single JSON value.
func NormalizeJSON(raw []byte) (quote.Message, error) {
	value, err := quote.DecodeValue(raw)
	if err != nil {
		return quote.Message{}, err
	}
	return Normalize(value), nil
}

// NormalizeAll normalizes each payload, preserving order.
func NormalizeAll(payloads []any) []quote.Message {
	out := make([]quote.Message, len(payloads))
	for i, p := range payloads {
		out[i] = Normalize(p)
	}
	return out
}

func writeValue(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case string:
		writeString(b, x)
	case json.Number:
		writeNumber(b, x)
	case float64:
		writeFloat(b, x)
	case float32:
		writeFloat(b, float64(x))
	case int:
		b.WriteString(strconv.Itoa(x))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case []any:
		b.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, elem)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeString(b, k)
			b.WriteByte(':')
			writeValue(b, x[k])
		}
		b.WriteByte('}')
	case json.RawMessage:
		decoded, err := quote.DecodeValue(x)
		if err != nil {
			writeString(b, string(x))
			return
		}
		writeValue(b, decoded)
	default:
		writeOther(b, v)
	}
}

// writeOther handles arbitrary Go values by round-tripping them through
// encoding/json into the generic representation.
func writeOther(b *strings.Builder, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		b.WriteString("null")
		return
	}
	decoded, err := quote.DecodeValue(raw)
	if err != nil {
		b.WriteString("null")
		return
	}
	writeValue(b, decoded)
}

func writeString(b *strings.Builder, s string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		b.WriteString(strconv.Quote(s))
		return
	}
	b.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func writeNumber(b *strings.Builder, n json.Number) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		b.WriteString(strconv.FormatInt(i, 10))
		return
	}
	if f, err := strconv.ParseFloat(string(n), 64); err == nil {
		writeFloat(b, f)
		return
	}
	b.WriteString(string(n))
}

func writeFloat(b *strings.Builder, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		b.WriteString("null")
		return
	}
	if f == 0 {
		b.WriteString("0")
		return
	}
	abs := math.Abs(f)
	if abs >= 1e-7 && abs < 1e21 {
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
