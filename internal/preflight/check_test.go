package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(name string, required bool, f Finding) Check {
	f.Details = "details of " + name
	return Check{Name: name, Required: required, Run: func(context.Context) Finding { return f }}
}

func TestResult_JSONIsFlat(t *testing.T) {
	data, err := json.Marshal(Result{Name: "storage", Finding: Warn("large", "")})

	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"storage","required":false,"status":"warn","message":"large"}`, string(data))
}

func TestResult_Critical(t *testing.T) {
	assert.True(t, Result{Required: true, Finding: Fail("x", "")}.Critical())
	assert.False(t, Result{Finding: Fail("x", "")}.Critical())
	assert.False(t, Result{Required: true, Finding: Warn("x", "")}.Critical())
}

func TestRun_KeepsOrder(t *testing.T) {
	// Given: checks where the first one is the slowest
	slow := Check{Name: "config", Required: true, Run: func(context.Context) Finding {
		time.Sleep(20 * time.Millisecond)
		return Pass("ok")
	}}

	// When: running them
	results := Run(context.Background(),
		slow,
		fixed("servers", false, Fail("bleve offline", "")),
		fixed("storage", true, Warn("large", "")),
	)

	// Then: results follow the check order and carry names and required flags
	require.Len(t, results, 3)
	assert.Equal(t, "config", results[0].Name)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.Equal(t, "bleve offline", results[1].Message)
	assert.False(t, results[1].Required)
	assert.Equal(t, StatusWarn, results[2].Status)
}

func TestRun_BoundsParallelism(t *testing.T) {
	var running, peak atomic.Int32
	probe := func(context.Context) Finding {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Pass("")
	}
	checks := make([]Check, 3*parallelChecks)
	for i := range checks {
		checks[i] = Check{Name: "probe", Run: probe}
	}

	Run(context.Background(), checks...)

	assert.LessOrEqual(t, peak.Load(), int32(parallelChecks))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var called atomic.Bool

	results := Run(ctx, Check{Name: "x", Required: true, Run: func(context.Context) Finding {
		called.Store(true)
		return Pass("")
	}})

	assert.False(t, called.Load())
	assert.True(t, NewReport(results).Failed())
}

func TestNewReport(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    string
	}{
		{"all pass", []Result{{Required: true, Finding: Pass("")}}, "ready"},
		{"warning", []Result{{Finding: Pass("")}, {Required: true, Finding: Warn("", "")}}, "ready_with_warnings"},
		{"optional failure", []Result{{Finding: Fail("", "")}}, "ready_with_warnings"},
		{"required failure", []Result{{Finding: Warn("", "")}, {Required: true, Finding: Fail("", "")}}, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewReport(tt.results).Status)
		})
	}
}

func TestReport_Print(t *testing.T) {
	var buf bytes.Buffer
	report := NewReport(Run(context.Background(), fixed("storage", true, Fail("cannot open", ""))))

	report.Print(&buf, true)

	out := buf.String()
	assert.Contains(t, out, "[FAIL] storage: cannot open")
	assert.Contains(t, out, "details of storage")
	assert.Contains(t, out, "Status: FAILED")

	buf.Reset()
	report.Print(&buf, false)
	assert.NotContains(t, buf.String(), "details of storage")
}

func TestSystem_WritableDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "data")

	// When: running the system checks
	results := Run(context.Background(), System(dir)...)

	// Then: the directory is created, left empty, and space is reported
	require.Len(t, results, 3)
	assert.Equal(t, StatusPass, results[0].Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, results[1].Message, "free")
}

func TestSystem_UnwritableDataDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can write anywhere")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	assert.Equal(t, StatusFail, checkWritable(dir).Status)
}
