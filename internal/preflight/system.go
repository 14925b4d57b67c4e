package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
)

const (
	// MinDiskSpaceBytes is the free space below which indexing fails.
	MinDiskSpaceBytes = 100 << 20
	// LowDiskSpaceBytes is the free space below which doctor warns.
	LowDiskSpaceBytes = 1 << 30
	// MinFileDescriptors is the lowest acceptable open file limit.
	MinFileDescriptors = 1024
)

// System returns the data directory and process checks.
func System(dataDir string) []Check {
	return []Check{
		{Name: "data_dir", Required: true, Run: func(context.Context) Finding { return checkWritable(dataDir) }},
		{Name: "disk_space", Required: true, Run: func(context.Context) Finding { return checkDiskSpace(dataDir) }},
		{Name: "file_descriptors", Required: true, Run: func(context.Context) Finding { return checkFileDescriptors() }},
	}
}

// checkWritable creates dir if needed and writes a probe file to it.
func checkWritable(dir string) Finding {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Fail(fmt.Sprintf("cannot create %s", dir), err.Error())
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Fail(fmt.Sprintf("%s is not writable", dir), err.Error())
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Pass(dir)
}

// checkDiskSpace measures the free space of the filesystem holding path, or
// of its nearest existing parent.
func checkDiskSpace(path string) Finding {
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return Fail("cannot read disk space", err.Error())
	}
	free := st.Bavail * uint64(st.Bsize)
	msg := fmt.Sprintf("%s free", humanize.IBytes(free))
	switch {
	case free < MinDiskSpaceBytes:
		return Fail(msg, "At least "+humanize.IBytes(MinDiskSpaceBytes)+" is required")
	case free < LowDiskSpaceBytes:
		return Warn(msg, "Large indexes may not fit")
	default:
		return Pass(msg)
	}
}

func checkFileDescriptors() Finding {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return Fail("cannot read the open file limit", err.Error())
	}
	msg := fmt.Sprintf("%d (minimum: %d)", lim.Cur, MinFileDescriptors)
	if lim.Cur < MinFileDescriptors {
		return Fail(msg, fmt.Sprintf("Run 'ulimit -n %d' before starting the daemon", MinFileDescriptors*10))
	}
	return Pass(msg)
}
