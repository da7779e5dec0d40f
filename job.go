package forkjoin

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// maxSuccessors is the inline capacity of a Job's successor list. The
// original PeonJob carries a fixed array of 17 PeonJob* (spec.md §9 notes
// the off-by-one between the prose and the array literal); this port keeps
// the documented bound of 16 and routes overflow to ContractViolation
// rather than corrupting adjacent memory the way an out-of-bounds C++ array
// write would.
const maxSuccessors = 16

// Job is a single unit of scheduled work: a zero-argument callable, an
// optional parent link, a pending-work counter, and a bounded list of
// successor jobs to enqueue once this job completes.
//
// Jobs are never allocated directly by callers — they come from a worker's
// job pool (see pool.go) via Scheduler.CreateJob / CreateChildJob, are
// POD-like, and are reused wholesale across frames by Scheduler.ResetFrame.
type Job struct {
	fn   func()
	id   uuid.UUID
	parent *Job

	// originWorker is the index of the worker whose pool produced this job.
	// The original source finds this by walking parent links to the root
	// job and reading its worker pointer; spec.md §9 flags that walk as
	// unnecessary and directs storing the index directly at allocation
	// time, which is what CreateJob/CreateChildJob do.
	originWorker int

	pending atomic.Int32
	started atomic.Bool

	successorCount atomic.Int32
	successors     [maxSuccessors]*Job
}

// init resets a reused job-pool slot to its pre-scheduled state. pending
// starts at 1 (the job's own "self ticket" — see finish for why).
func (j *Job) init(originWorker int) {
	j.fn = nil
	j.id = uuid.New()
	j.parent = nil
	j.originWorker = originWorker
	j.pending.Store(1)
	j.started.Store(false)
	j.successorCount.Store(0)
}

// attach wires the job's body and, when non-nil, its parent. It must be
// called before the job is started.
func (j *Job) attach(parent *Job, fn func()) {
	j.fn = fn
	j.parent = parent
}

// ID returns a debug identifier for the job, regenerated each time the slot
// is reused by init. It plays no role in scheduling — only in logs and
// metric labels.
func (j *Job) ID() uuid.UUID { return j.id }

// OriginWorker returns the index of the worker that allocated this job.
func (j *Job) OriginWorker() int { return j.originWorker }

// HasCompleted reports whether the job's pending counter has reached zero:
// its own body has run and every child it spawned has also finished. A
// relaxed-style load is acceptable here per spec.md §4.1 — callers only
// ever use this to decide whether to keep looping in Wait.
func (j *Job) HasCompleted() bool {
	return j.pending.Load() <= 0
}

// run invokes the job's callable exactly once. Any panic from user code is
// a fatal program error per spec.md §7 — this scheduler has no per-job
// error channel — so it is allowed to propagate, not swallowed here.
func (j *Job) run() {
	j.fn()
}

// finish is the completion-propagation walk described in spec.md §4.1: decrement
// pending; if it reaches zero, recursively finish the parent (whose own
// pending increment for this child already happened-before this point) and
// push every recorded successor onto the executing worker's deque. A
// successor that does not fit (ResourceExhausted) is logged and then
// panics, rather than being dropped.
func (j *Job) finish(w *Worker) {
	remaining := j.pending.Add(-1)
	if remaining != 0 {
		return
	}
	if j.parent != nil {
		j.parent.finish(w)
	}
	n := int(j.successorCount.Load())
	for i := 0; i < n; i++ {
		succ := j.successors[i]
		if err := w.deque.push(succ); err != nil {
			w.scheduler.logger.Errorf("job %s: failed to enqueue successor %s: %v", j.id, succ.id, err)
			w.scheduler.metrics.recordResourceExhausted("deque")
			panic(err)
		}
	}
}

// addSuccessor appends then to j's successor list. Per spec.md §4.1 this
// must only be called before j is started, and then must not be
// independently started — finish enqueues it exactly once. Concurrent
// callers are not supported (nor needed: the contract is "before start",
// which is necessarily single-threaded with respect to j).
func (j *Job) addSuccessor(then *Job) error {
	n := j.successorCount.Load()
	if int(n) >= maxSuccessors {
		return newContractViolation("AddDependency", "successor capacity exceeded")
	}
	j.successors[n] = then
	j.successorCount.Store(n + 1)
	return nil
}

// addChildTicket atomically gives the job one more pending ticket before a
// new child is handed out, so the child cannot possibly drive the parent to
// zero before the ticket exists (spec.md §4.4, CreateChildJob).
func (j *Job) addChildTicket() {
	j.pending.Add(1)
}
