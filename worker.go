package forkjoin

import (
	"runtime"
	"sync/atomic"
)

// Worker owns one steal-deque, one job pool, one arena, and (for every
// worker but the main one) one background goroutine running its execute
// loop. It is the Go analog of PeonWorker, with PeonWorker's thread-locals
// (CurrentLocalThreadIdentifier, CurrentThreadJob, CurrentWorker) replaced
// by the Scheduler's goroutine-id registry (see goroutine.go, scheduler.go)
// since Go has no native goroutine-local storage.
type Worker struct {
	index     int
	scheduler *Scheduler

	deque *deque
	pool  *jobPool
	arena *Arena

	rng lcg

	currentJob atomic.Pointer[Job]

	// isMain marks worker 0: the goroutine that called NewScheduler, which
	// never gets a dedicated execute-loop goroutine. It only runs jobs (its
	// own deque first, then steals) while blocked inside Scheduler.Wait,
	// matching
	// PeonSystem::WaitForJob's behavior on the calling thread.
	isMain bool

	stopped atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func newWorker(index int, s *Scheduler, dequeSize, poolSize int, isMain bool) *Worker {
	w := &Worker{
		index:     index,
		scheduler: s,
		deque:     newDeque(dequeSize),
		pool:      newJobPool(poolSize),
		rng:       newLCG(uint32(index)*2654435761 + 1),
		isMain:    isMain,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.arena = newArena(w)
	return w
}

// Index returns the worker's position in the scheduler's worker slice.
func (w *Worker) Index() int { return w.index }

// Arena exposes the worker's allocator, per spec.md §4.3's supplemented
// public surface (original_source's PeonWorker::GetAllocator).
func (w *Worker) Arena() *Arena { return w.arena }

// CurrentJob returns the job this worker is presently running, or nil
// between jobs.
func (w *Worker) CurrentJob() *Job { return w.currentJob.Load() }

// loop is the execute-thread body for every non-main worker, a direct port
// of PeonWorker::ExecuteThread/ExecuteThreadAux: register as the
// goroutine-local current worker, then repeatedly pick-or-steal until told
// to stop.
func (w *Worker) loop() {
	defer close(w.done)
	w.scheduler.registerCurrentWorker(w)
	defer w.scheduler.unregisterCurrentWorker()

	for {
		select {
		case <-w.stop:
			return
		default:
		}
		if w.scheduler.paused.Load() {
			runtime.Gosched()
			continue
		}
		w.step()
	}
}

// step runs exactly one job if one is available, picking from its own
// deque first and falling back to stealing from a random victim. Returns
// true if a job was executed. Every path that finds no work to do yields
// the goroutine's timeslice before returning, matching
// PeonWorker::Yield (std::this_thread::yield()) at the equivalent points
// in ExecuteThread/ExecuteThreadAux.
func (w *Worker) step() bool {
	job := w.deque.pop()
	stolen := false
	if job == nil {
		job = w.stealFromVictim()
		stolen = job != nil
	}
	if job == nil {
		runtime.Gosched()
		return false
	}

	w.currentJob.Store(job)
	job.started.Store(true)
	job.run()
	w.currentJob.Store(nil)
	job.finish(w)

	w.scheduler.metrics.recordExecuted(w.index, stolen)
	return true
}

// stealFromVictim picks a random worker other than itself and attempts one
// steal, matching PeonWorker::GetJob's victim selection via
// FastRandomUnsignedInteger.
func (w *Worker) stealFromVictim() *Job {
	workers := w.scheduler.workers
	n := len(workers)
	if n <= 1 {
		return nil
	}
	victimIndex := w.rng.intn(n - 1)
	if victimIndex >= w.index {
		victimIndex++
	}
	victim := workers[victimIndex]
	return victim.deque.steal()
}

// requestStop signals the worker's loop to exit after its current
// iteration. Only meaningful for non-main workers. Idempotent: a repeated
// call (e.g. from a second Scheduler.Shutdown) is a no-op rather than a
// double-close panic.
func (w *Worker) requestStop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stop)
	}
}
