package quote

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBody(t *testing.T) {
	t.Run("load_body", func(t *testing.T) {
		body, err := ParseBody([]byte(`{"messageType":"L","data":[{"x":1},{"x":2}]}`))
		require.NoError(t, err)
		assert.Equal(t, TypeLoad, body.MessageType)

		items, err := DecodeItems(body.Data)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("malformed_body", func(t *testing.T) {
		_, err := ParseBody([]byte(`{"messageType":`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedPayload))
	})

	t.Run("non_object_body", func(t *testing.T) {
		_, err := ParseBody([]byte(`[1,2,3]`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("null_body", func(t *testing.T) {
		_, err := ParseBody([]byte(" null "))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestBody_SubscriptionID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID string
		wantOK bool
	}{
		{"string_id", `{"data":{"subscriptionId":"abc"}}`, "abc", true},
		{"numeric_id", `{"data":{"subscriptionId":42}}`, "42", true},
		{"empty_id", `{"data":{"subscriptionId":""}}`, "", false},
		{"no_data", `{"messageType":"A"}`, "", false},
		{"array_data", `{"messageType":"L","data":[1]}`, "", false},
		{"object_without_id", `{"data":{"symbol":"SPLK"}}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := ParseBody([]byte(tt.raw))
			require.NoError(t, err)

			id, ok := body.SubscriptionID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestDecodeValue(t *testing.T) {
	t.Run("keeps_numbers_textual", func(t *testing.T) {
		value, err := DecodeValue([]byte(`{"price":101.50}`))
		require.NoError(t, err)

		obj := value.(map[string]any)
		assert.Equal(t, json.Number("101.50"), obj["price"])
	})

	t.Run("rejects_trailing_data", func(t *testing.T) {
		_, err := DecodeValue([]byte(`{"a":1} {"b":2}`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("load_data_must_be_array", func(t *testing.T) {
		_, err := DecodeItems([]byte(`{"a":1}`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestDiscriminant(t *testing.T) {
	assert.Equal(t, KindQuote, Discriminant([]any{"Q", "SPLK", json.Number("101.5")}))
	assert.Equal(t, KindQuote, Discriminant(map[string]any{"type": "Q", "symbol": "SPLK"}))
	assert.Equal(t, "T", Discriminant([]any{"T", "SPLK"}))
	assert.Equal(t, "", Discriminant([]any{json.Number("1"), "Q"}))
	assert.Equal(t, "", Discriminant([]any{}))
	assert.Equal(t, "", Discriminant(map[string]any{"x": json.Number("1")}))
	assert.Equal(t, "", Discriminant("Q"))
}
