package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_LinkerValuesWin(t *testing.T) {
	// Given: values set at link time
	oldV, oldC, oldD := Version, Commit, Date
	Version, Commit, Date = "v1.2.3", "abc1234", "2026-01-02T03:04:05Z"
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })

	// When: reading the build info
	info := Get()

	// Then: they are reported unchanged
	assert.Equal(t, Info{
		Version:   "v1.2.3",
		Commit:    "abc1234",
		Date:      "2026-01-02T03:04:05Z",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}, info)
	assert.Equal(t, "amansearch v1.2.3 (abc1234, 2026-01-02T03:04:05Z, "+runtime.Version()+" "+info.Platform+")", info.String())
}

func TestGet_NeverEmpty(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
}

func TestInfo_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Info{Version: "dev", Commit: "x", Date: "y", GoVersion: "go1", Platform: "linux/amd64"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"version":"dev","commit":"x","date":"y","go_version":"go1","platform":"linux/amd64"}`, string(data))
}

func TestInfo_StringMarksDirtyTree(t *testing.T) {
	s := Info{Version: "dev", Commit: "abc", Date: "d", Modified: true}.String()

	assert.Contains(t, s, "abc-dirty")
}
