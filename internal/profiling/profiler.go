// Package profiling writes pprof profiles and execution traces of a
// command run, enabled by the --cpuprofile, --memprofile and --trace flags.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the output files. Empty paths are skipped.
type Options struct {
	CPUProfile string
	MemProfile string
	Trace      string
}

// Enabled reports whether any output is requested.
func (o Options) Enabled() bool {
	return o.CPUProfile != "" || o.MemProfile != "" || o.Trace != ""
}

// Session is a running profiling session.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. The heap profile is
// written by Stop.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}
	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			return nil, fmt.Errorf("create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		s.cpuFile = f
	}
	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			_ = s.Stop()
			return nil, fmt.Errorf("create trace: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			_ = s.Stop()
			return nil, fmt.Errorf("start trace: %w", err)
		}
		s.traceFile = f
	}
	return s, nil
}

// Stop flushes every output. Safe to call more than once.
func (s *Session) Stop() error {
	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpuFile.Close())
		s.cpuFile = nil
	}
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.traceFile = nil
	}
	if s.opts.MemProfile != "" {
		errs = append(errs, WriteHeap(s.opts.MemProfile))
		s.opts.MemProfile = ""
	}
	return errors.Join(errs...)
}

// WriteHeap writes a heap profile after a GC.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
