package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTypes_GetValue(t *testing.T) {
	types := DefaultDataTypes()
	tests := []struct {
		typ  Type
		raw  any
		want any
		ok   bool
	}{
		{TypeInteger, "42", int64(42), true},
		{TypeInteger, 3.9, int64(3), true},
		{TypeInteger, "abc", nil, false},
		{TypeDecimal, "1.5", 1.5, true},
		{TypeBoolean, "0", false, true},
		{TypeBoolean, 1, true, true},
		{TypeDate, "1970-01-01T00:01:00Z", int64(60), true},
		{TypeDate, 1700000000, int64(1700000000), true},
		{TypeString, 12, "12", true},
		{TypeString, true, "1", true},
	}
	for _, tt := range tests {
		dt, ok := types.Get(tt.typ)
		require.True(t, ok)
		got, ok := dt.GetValue(tt.raw)
		assert.Equal(t, tt.ok, ok, "%s(%v)", tt.typ, tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got, "%s(%v)", tt.typ, tt.raw)
		}
	}
}

func TestDataTypes_TextWrapsValue(t *testing.T) {
	dt, _ := DefaultDataTypes().Get(TypeText)
	v, ok := dt.GetValue("Hello world")
	require.True(t, ok)
	assert.Equal(t, "Hello world", v.(*TextValue).Text)
	assert.False(t, v.(*TextValue).IsTokenized())
}

func TestMarkdownType_RendersHTMLAndFallsBack(t *testing.T) {
	types := DefaultDataTypes()

	dt, stored, ok := types.Resolve(TypeMarkdown, func(t Type) bool { return t != TypeMarkdown })
	require.True(t, ok)
	assert.Equal(t, TypeText, stored)

	v, ok := dt.GetValue("# Title\n\nSome *emphasis*.")
	require.True(t, ok)
	html := v.(*TextValue).Text
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<em>emphasis</em>")
}

func TestTextValue_SetTokensSyncsText(t *testing.T) {
	v := NewTextValue("ignored")
	v.SetTokens([]TextToken{NewToken("foo", 1), NewToken("bar", 2)})
	assert.Equal(t, "foo bar", v.Text)
	assert.True(t, v.IsTokenized())

	v.SetTokens(nil)
	assert.True(t, v.IsTokenized())
	assert.Empty(t, v.Text)
}
