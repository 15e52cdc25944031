package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/quotestream/pkg/quote"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"null", nil, "null"},
		{"bool", true, "true"},
		{"string", "SPLK", `"SPLK"`},
		{"integer_number", json.Number("42"), "42"},
		{"float_number", json.Number("101.50"), "101.5"},
		{"integral_float", json.Number("100.0"), "100"},
		{"exponent_number", json.Number("1e3"), "1000"},
		{"tiny_float", 1e-9, "1e-09"},
		{"go_int", 7, "7"},
		{"array", []any{"Q", "SPLK", json.Number("101.5")}, `["Q", "SPLK", 101.5]`},
		{"object_keys_sorted", map[string]any{"x": json.Number("1"), "a": "b"}, `{"a":"b", "x":1}`},
		{"nested", map[string]any{"q": []any{map[string]any{"p": json.Number("1")}}}, `{"q":[{"p":1}]}`},
		{"html_not_escaped", "<b>", `"<b>"`},
		{"comma_inside_string", "a,b", `"a,b"`},
		{"go_struct", struct {
			Symbol string `json:"symbol"`
			Price  int    `json:"price"`
		}{"CSCO", 50}, `{"price":50, "symbol":"CSCO"}`},
		{"raw_message", json.RawMessage(`{"b":2,"a":1}`), `{"a":1, "b":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Normalize(tt.payload)
			assert.Equal(t, tt.want, msg.Canonical)
			assert.False(t, msg.Duplicate)
		})
	}
}

func TestNormalize_StructurallyEqualPayloads(t *testing.T) {
	a, err := NormalizeJSON([]byte(`{"symbol":"SPLK","price":101.5,"size":[1,2]}`))
	require.NoError(t, err)
	b, err := NormalizeJSON([]byte(`{ "size": [1, 2], "price": 101.50, "symbol": "SPLK" }`))
	require.NoError(t, err)

	assert.Equal(t, a.Canonical, b.Canonical)
}

func TestNormalize_DistinctShapesDoNotCollide(t *testing.T) {
	// A naive comma replacement would render both as ["a, b"].
	a := Normalize([]any{"a,b"})
	b := Normalize([]any{"a, b"})
	c := Normalize([]any{"a", "b"})

	assert.NotEqual(t, a.Canonical, b.Canonical)
	assert.NotEqual(t, a.Canonical, c.Canonical)
	assert.NotEqual(t, b.Canonical, c.Canonical)
}

func TestNormalizeJSON_Malformed(t *testing.T) {
	_, err := NormalizeJSON([]byte(`{"x":`))
	assert.ErrorIs(t, err, quote.ErrMalformedPayload)
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	msgs := NormalizeAll([]any{
		map[string]any{"x": json.Number("1")},
		map[string]any{"x": json.Number("2")},
		map[string]any{"x": json.Number("3")},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, `{"x":1}`, msgs[0].Canonical)
	assert.Equal(t, `{"x":2}`, msgs[1].Canonical)
	assert.Equal(t, `{"x":3}`, msgs[2].Canonical)
}
