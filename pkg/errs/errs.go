// Package errs implements the four-kind error taxonomy of the training
// core (SPEC_FULL.md §7): each kind documents its propagation policy. The
// worker loop does not dispatch on the kind; it fails the job for any
// error that reaches it.
package errs

import "fmt"

// InsufficientDataError means the post-filter bar count fell below the
// required minimum. Propagation: fail the job fast, do not retry.
type InsufficientDataError struct {
	Have, Want int
	Reason     string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d bars, need %d (%s)", e.Have, e.Want, e.Reason)
}

// InvalidRequestError means the submission itself is malformed: unknown
// strategy name, bad parameter space, out-of-range seed. Propagation:
// reject at submission, never enqueue.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// TrialError means one parameter vector caused the strategy or backtest to
// fail. Propagation: swallow for that trial, record invalid, continue the
// optimizer loop; escalated to job-level failure by the caller once the
// trial failure rate crosses a threshold.
type TrialError struct {
	Params string // formatted parameter vector, for diagnostics
	Cause  error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial error (%s): %v", e.Params, e.Cause)
}

func (e *TrialError) Unwrap() error { return e.Cause }

// SystemError means an infrastructure dependency failed: DB unreachable,
// queue broker down, worker killed mid-trial. Propagation: transition the
// job to FAILED on the worker side, or let the orphan sweep move it to
// CANCELLED.
type SystemError struct {
	Component string
	Cause     error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("system error in %s: %v", e.Component, e.Cause)
}

func (e *SystemError) Unwrap() error { return e.Cause }

// TrialFailureRateThreshold is the fraction of failed trials (SPEC_FULL.md
// §7) at or above which the optimizer loop escalates to a job-level
// InvalidRequestError-free FAILED transition.
const TrialFailureRateThreshold = 0.95

// Truncate bounds an error message to the job store's error_message column
// width, per §4.6 step 4 ("truncated to a bounded length").
func Truncate(msg string, maxLen int) string {
	if len(msg) <= maxLen {
		return msg
	}
	return msg[:maxLen]
}

// MaxErrorMessageLen is the bound applied by Truncate for job-store writes.
const MaxErrorMessageLen = 2000
