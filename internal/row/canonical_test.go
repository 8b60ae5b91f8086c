package row

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(Record{"b": 1, "a": "x", "c": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":null}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical([]any{"ok", 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "e\u0301" // e + combining acute
	got, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	// A literal backslash followed by the text u2028 must stay escaped.
	got, err = MarshalCanonical(`a\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(got))
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+1F600 sorts after U+FF61 in UTF-8 but before it in UTF-16.
	got, err := MarshalCanonical(map[string]any{"\U0001F600": 1, "\uFF61": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uFF61\":2}", string(got))
}

func TestMarshalCanonical_Rows(t *testing.T) {
	r, err := FromRecord(Record{"Show": "Expo", "Items": []any{map[string]any{"Qty": 2}}})
	require.NoError(t, err)
	r.SetDerived("hidden", String("never serialized"))

	got, err := MarshalCanonical(NewTable(r))
	require.NoError(t, err)
	assert.Equal(t, `[{"Items":[{"Qty":2}],"Show":"Expo"}]`, string(got))
}

func TestContentHash_IgnoresIdentityAndAppData(t *testing.T) {
	a, err := FromRecord(Record{"Show": "Expo"})
	require.NoError(t, err)
	b, err := FromRecord(Record{"Show": "Expo"})
	require.NoError(t, err)
	b.UpdateApp(func(d *AppData) { d.MarkedForDeletion = true })

	assert.Equal(t, ContentHash(NewTable(a)), ContentHash(NewTable(b)))

	b.Set("Show", String("Other"))
	assert.NotEqual(t, ContentHash(NewTable(a)), ContentHash(NewTable(b)))
}

func TestHash_DomainSeparation(t *testing.T) {
	h1, err := Hash(DomainStoreKey, []any{"x"})
	require.NoError(t, err)
	h2, err := Hash(DomainContent, []any{"x"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 64)
}
