package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", `"hello"`},
		{"no html escape", "<a&b>", `"<a&b>"`},
		{"control chars", "a\nb\"c\\", `"a\nb\"c\\"`},
		{"line separators", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"int", 42, `42`},
		{"int64", int64(-7), `-7`},
		{"uint64", uint64(9), `9`},
		{"bools", []any{true, false}, `[true,false]`},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"empty map", map[string]any{}, `{}`},
		{"sorted keys", map[string]any{"b": 1, "a": 2, "aa": 3}, `{"a":2,"aa":3,"b":1}`},
		{"nested", map[string]any{"x": []any{map[string]any{"z": "1", "y": "2"}}}, `{"x":[{"y":"2","z":"1"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 by code point but after it in UTF-16,
	// where the emoji starts with the surrogate 0xD83D.
	got, err := MarshalCanonical(map[string]any{"\uff61": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	for _, v := range []any{nil, 1.5, float32(2), struct{}{}, map[string]any{"k": nil}} {
		_, err := MarshalCanonical(v)
		assert.Error(t, err, "%#v", v)
	}
}

func TestUnescapeLineSeparators_EscapedBackslash(t *testing.T) {
	in := []byte(`"\\u2028"`)
	assert.Equal(t, string(in), string(unescapeLineSeparators(in)))
}
