package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_MessagesCarryIcons(t *testing.T) {
	tests := []struct {
		name  string
		print func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Successf("indexed %d items", 3) }, "✓ indexed 3 items\n"},
		{"warning", func(w *Writer) { w.Warning("index is read-only") }, "! index is read-only\n"},
		{"error", func(w *Writer) { w.Errorf("index %q not found", "x") }, "✗ index \"x\" not found\n"},
		{"indented", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.print(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Table(t *testing.T) {
	// Given: a plain writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a table
	w.Table([]string{"ID", "TYPE"}, [][]string{{"title", "text"}, {"created", "date"}})

	// Then: headers and cells are present
	out := buf.String()
	for _, s := range []string{"ID", "TYPE", "title", "text", "created", "date"} {
		assert.Contains(t, out, s)
	}
}

func TestWriter_KeyValueAndJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.KeyValue("Driver", "sqlite")
	require.NoError(t, w.JSON(map[string]int{"items": 2}))

	assert.Contains(t, buf.String(), "Driver:")
	assert.Contains(t, buf.String(), "sqlite")
	assert.Contains(t, buf.String(), "\"items\": 2")
}
