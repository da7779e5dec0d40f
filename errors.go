package forkjoin

import "fmt"

// ContractViolation reports a programmer error: a misuse of the scheduler's
// API contract (starting a job twice, adding a dependency to an
// already-started job, overflowing a job's successor capacity, calling a
// worker-affine operation from a goroutine that isn't a registered
// worker). Waiting on a job that was never started is not detected: Wait
// keeps running other work until that job completes. These are not recoverable at
// the call site — the contract was already broken by the time the error
// surfaces — so callers are expected to treat them as fatal.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("forkjoin: contract violation in %s: %s", e.Op, e.Reason)
}

// ResourceExhausted reports a fixed-capacity structure reaching its limit:
// a worker's steal-deque overflowing or a job-pool ring wrapping within a
// single frame. Arena growth never returns it; a failed arena allocation is
// the Go runtime's own fatal out-of-memory error. Like ContractViolation this is a fatal, abort-class error — the scheduler
// never silently drops or corrupts a job to make room.
type ResourceExhausted struct {
	Op     string
	Reason string
}

func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("forkjoin: resource exhausted in %s: %s", e.Op, e.Reason)
}

func newContractViolation(op, reason string) error {
	return &ContractViolation{Op: op, Reason: reason}
}

func newResourceExhausted(op, reason string) error {
	return &ResourceExhausted{Op: op, Reason: reason}
}
