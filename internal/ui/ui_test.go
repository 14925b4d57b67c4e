package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_NamesAndTags(t *testing.T) {
	tests := []struct {
		stage     Stage
		name, tag string
	}{
		{StageTracking, "Tracking", "TRACK"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageComplete, "Complete", "DONE"},
		{Stage(-1), "Unknown", "???"},
		{Stage(len(stageNames)), "Unknown", "???"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.tag, tt.stage.Icon())
		})
	}
}

func TestIsTTY_NonTerminals(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(f), "a regular file is not a terminal")
}

func TestNewConfig(t *testing.T) {
	buf := &bytes.Buffer{}

	plain := NewConfig(buf)
	assert.Equal(t, Config{Output: buf}, plain)

	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithTitle("articles"))
	assert.Equal(t, Config{Output: buf, ForcePlain: true, NoColor: true, Title: "articles"}, cfg)
}

func TestNewRenderer_FallsBackToPlain(t *testing.T) {
	for name, cfg := range map[string]Config{
		"forced":       NewConfig(&bytes.Buffer{}, WithForcePlain(true)),
		"not terminal": NewConfig(&bytes.Buffer{}),
	} {
		t.Run(name, func(t *testing.T) {
			assert.IsType(t, &PlainRenderer{}, NewRenderer(cfg))
		})
	}
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")

	assert.True(t, DetectNoColor(), "an empty NO_COLOR still disables colors")
}

func TestDetectCI(t *testing.T) {
	for _, v := range ciEnv {
		t.Run(v, func(t *testing.T) {
			t.Setenv(v, "1")
			assert.True(t, DetectCI())
		})
	}
}
