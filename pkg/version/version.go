// Package version reports how the amansearch binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at link time:
//
//	go build -ldflags "-X github.com/Aman-CERP/amansearch/pkg/version.Version=v1.4.0 \
//	    -X github.com/Aman-CERP/amansearch/pkg/version.Commit=$(git rev-parse --short HEAD)"
//
// Commit and Date left empty are taken from the VCS stamp of the module
// build, when there is one.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var vcs = sync.OnceValue(func() (s struct {
	revision, time string
	modified bool
}) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return s
	}
	for _, kv := range bi.Settings {
		switch kv.Key {
		case "vcs.revision":
			s.revision = kv.Value
		case "vcs.time":
			s.time = kv.Value
		case "vcs.modified":
			s.modified = kv.Value == "true"
		}
	}
	if len(s.revision) > 12 {
		s.revision = s.revision[:12]
	}
	return s
})

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return "unknown"
}

// Get returns the build information.
func Get() Info {
	stamp := vcs()
	return Info{
		Version:   Version,
		Commit:    orDefault(Commit, stamp.revision),
		Date:      orDefault(Date, stamp.time),
		Modified:  Commit == "" && stamp.modified,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String is the one-line form printed by `amansearch version`.
func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("amansearch %s (%s, %s, %s %s)", i.Version, commit, i.Date, i.GoVersion, i.Platform)
}
