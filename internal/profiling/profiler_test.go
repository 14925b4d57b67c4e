package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{MemProfile: "mem.prof"}.Enabled())
}

func TestSession_WritesAllOutputs(t *testing.T) {
	// Given: every output requested
	dir := t.TempDir()
	opts := Options{
		CPUProfile: filepath.Join(dir, "cpu.prof"),
		MemProfile: filepath.Join(dir, "mem.prof"),
		Trace:      filepath.Join(dir, "trace.out"),
	}

	// When: a session runs some work and stops
	s, err := Start(opts)
	require.NoError(t, err)
	words := make(map[string]int)
	for i := range 100000 {
		words[string(rune('a'+i%26))]++
	}
	require.NoError(t, s.Stop())

	// Then: every file has content and a second Stop is a no-op
	nonEmpty(t, opts.CPUProfile)
	nonEmpty(t, opts.MemProfile)
	nonEmpty(t, opts.Trace)
	assert.NoError(t, s.Stop())
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPUProfile: filepath.Join(t.TempDir(), "missing", "cpu.prof")})

	assert.Error(t, err)
}
