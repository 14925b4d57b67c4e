// Package preflight runs the environment checks behind `amansearch doctor`:
// free disk space and write access in the data directory, the open file
// limit, and any checks the caller adds for configuration, storage and
// servers.
//
//	report := preflight.NewReport(preflight.Run(ctx, preflight.System(dataDir)...))
//	report.Print(os.Stdout, false)
//	if report.Failed() {
//	    // exit non-zero
//	}
package preflight
