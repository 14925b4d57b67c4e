package preflight

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Finding is what a check observed.
type Finding struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	// Details tell the user what to do about a warning or failure.
	Details string `json:"details,omitempty"`
}

// Pass reports a healthy check.
func Pass(msg string) Finding { return Finding{Status: StatusPass, Message: msg} }

// Warn reports a problem that does not block indexing.
func Warn(msg, details string) Finding { return Finding{StatusWarn, msg, details} }

// Fail reports a broken check.
func Fail(msg, details string) Finding { return Finding{StatusFail, msg, details} }

// Check is one named probe. A failing required check fails the report.
type Check struct {
	Name     string
	Required bool
	Run      func(ctx context.Context) Finding
}

// Result is a check together with its finding.
type Result struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Finding
}

// Critical reports whether a required check failed.
func (r Result) Critical() bool { return r.Required && r.Status == StatusFail }

// parallelChecks bounds how many checks probe at once.
const parallelChecks = 4

// Run executes checks concurrently and returns their results in check
// order. Checks not started before ctx ends fail.
func Run(ctx context.Context, checks ...Check) []Result {
	results := make([]Result, len(checks))
	var g errgroup.Group
	g.SetLimit(parallelChecks)
	for i, chk := range checks {
		g.Go(func() error {
			results[i] = Result{Name: chk.Name, Required: chk.Required}
			if err := ctx.Err(); err != nil {
				results[i].Finding = Fail(err.Error(), "")
				return nil
			}
			results[i].Finding = chk.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Report is the outcome of a doctor run.
type Report struct {
	// Status is "ready", "ready_with_warnings" or "failed".
	Status string   `json:"status"`
	Checks []Result `json:"checks"`
}

// NewReport summarizes results.
func NewReport(results []Result) Report {
	r := Report{Status: "ready", Checks: results}
	for _, res := range results {
		switch {
		case res.Critical():
			r.Status = "failed"
			return r
		case res.Status != StatusPass:
			r.Status = "ready_with_warnings"
		}
	}
	return r
}

// Failed reports whether a required check failed.
func (r Report) Failed() bool { return r.Status == "failed" }

// Print writes one "[STATUS] name: message" line per check and the
// overall status. With verbose, details follow their check.
func (r Report) Print(w io.Writer, verbose bool) {
	for _, res := range r.Checks {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", strings.ToUpper(string(res.Status)), res.Name, res.Message)
		if verbose && res.Details != "" {
			_, _ = fmt.Fprintf(w, "       %s\n", res.Details)
		}
	}
	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(r.Status))
}
