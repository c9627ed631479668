// Package service implements supervision and execution of collector
// subprocesses.
//
// Overview
// The Supervisor runs one report at a time per report id. For every enabled
// platform it spawns one collector through a Runner, arms a timeout and
// records the outcome on the report through the Report Service.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process in its own context
//   - terminates it with SIGTERM on cancellation, SIGKILL after WaitDelay
//   - splits stdout and stderr into lines for the report log
//   - exposes a Done channel and the final Result
//
// Data flow:
//
//	Facade           Supervisor.Run{report}        Runner{platform}
//	   |                    |                            |
//	   | Go(report) ------->| log header, RUNNING        |
//	   |                    | EnsureResultFile           |
//	   |                    | errgroup: per platform --->| Start() + timer
//	   |                    |                            | lines -> journal
//	   |                    |<------- Done/Result -------| (process exits)
//	   |                    | COMPLETED / FAILED         |
//	   | Cancel(id) ------->| cancel(ErrCancelled) ----->| SIGTERM
//
// Invariants:
//   - At most one live run per report id.
//   - One platform's failure never stops its siblings.
//   - A setup error (missing executable, script or identifier) fails the
//     platform before any timer is armed.
//   - A timeout is reported as "timed out after ...", distinct from a
//     non-zero exit.
//   - ShutdownAll stops timers and closes logs, collectors keep running.
//
// internal/service/supervisor_test.go is the best source about how to
// properly use the Supervisor struct.
package service
