package forkjoin

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// Config controls a Scheduler's shape. DefaultConfig mirrors the original's
// compile-time constants (PeonSystem's worker-count-equals-hardware-
// concurrency default, PeonStealingQueue's fixed ring sizes) as runtime
// knobs instead, per spec.md §9's redesign note that these should not be
// baked in at build time.
type Config struct {
	// NumWorkers is the total worker count, including the main worker
	// (index 0). Zero selects runtime.NumCPU().
	NumWorkers int

	// DequeSize is the per-worker steal-deque capacity. Must be a power of
	// two; non-power-of-two values are rounded up.
	DequeSize int

	// JobPoolSize is the per-worker job-pool ring capacity. Must be large
	// enough to hold every job live within one frame.
	JobPoolSize int

	// UserDataSlots is the number of UserData/SetUserData slots reserved at
	// construction, indexed 0..UserDataSlots-1 by the caller. The count is
	// not derived from NumWorkers and slots are not bound to worker indices.
	UserDataSlots int

	// Logger receives scheduler diagnostics. Defaults to NoopLogger.
	Logger Logger

	// Metrics, when non-nil, receives prometheus counters for job
	// execution, steals, resource exhaustion, and arena drains.
	Metrics *Metrics
}

// DefaultConfig returns a Config sized for the host's CPU count, with a
// 4096-slot deque and job pool per worker — generous enough for the
// fan-out scenarios in spec.md §8 without needing a resize path, since
// resizing a steal-deque mid-flight is unsafe and out of scope (Non-goals).
func DefaultConfig() Config {
	return Config{
		NumWorkers:  0,
		DequeSize:   4096,
		JobPoolSize: 4096,
		Logger:      NoopLogger{},
	}
}

// Scheduler owns the worker pool and is the sole entry point for creating,
// starting, and waiting on jobs. It is the Go analog of PeonSystem.
type Scheduler struct {
	id      uuid.UUID
	cfg     Config
	workers []*Worker

	paused atomic.Bool

	// registry maps goroutine id -> *Worker, populated once per worker
	// goroutine at loop start and read by CurrentWorker/CurrentJob. This is
	// the goroutine-local-storage substitute spec.md §9 calls for, since Go
	// has no analog of thread_local; see goroutine.go for the id itself.
	registry sync.Map

	userData []atomic.Pointer[any]

	logger  Logger
	metrics *Metrics

	started atomic.Bool
	eg      *errgroup.Group
}

// NewScheduler constructs a Scheduler and its worker pool. Worker 0 is the
// "main" worker bound to the calling goroutine; it never gets a background
// execute loop — it only runs jobs (its own deque first, then steals) from
// inside Wait, matching
// PeonSystem::WaitForJob's handling of the thread that called Initialize.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.NumWorkers < 0 {
		return nil, newContractViolation("NewScheduler", "NumWorkers must not be negative")
	}
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = defaultWorkerCount()
	}
	if cfg.DequeSize <= 0 {
		cfg.DequeSize = DefaultConfig().DequeSize
	}
	if cfg.JobPoolSize <= 0 {
		cfg.JobPoolSize = DefaultConfig().JobPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger{}
	}

	s := &Scheduler{
		id:      uuid.New(),
		cfg:     cfg,
		workers: make([]*Worker, cfg.NumWorkers),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if cfg.UserDataSlots > 0 {
		s.userData = make([]atomic.Pointer[any], cfg.UserDataSlots)
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		s.workers[i] = newWorker(i, s, cfg.DequeSize, cfg.JobPoolSize, i == 0)
	}

	s.registerCurrentWorker(s.workers[0])
	return s, nil
}

// Start launches the background execute-loop goroutines for every worker
// but the main one. Must be called once, from the same goroutine that
// called NewScheduler.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return newContractViolation("Scheduler.Start", "scheduler already started")
	}
	s.eg = &errgroup.Group{}
	for _, w := range s.workers {
		if w.isMain {
			continue
		}
		w := w
		s.eg.Go(func() error {
			w.loop()
			return nil
		})
	}
	s.logger.Infof("scheduler %s: started %d workers", s.id, len(s.workers)-1)
	return nil
}

// Shutdown requests every worker loop to stop and waits for them to drain,
// bounded by ctx. This corrects the original's defect noted in spec.md §9:
// PeonSystem never joins its worker threads on teardown. golang.org/x/sync's
// errgroup gives a single place to collect the loop goroutines and their
// (always-nil, by construction) errors.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	for _, w := range s.workers {
		if !w.isMain {
			w.requestStop()
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.eg.Wait() }()

	select {
	case err := <-done:
		s.logger.Infof("scheduler %s: shut down cleanly", s.id)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops every worker from picking up new jobs until Resume is
// called. In-flight job bodies are not interrupted.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume reverses Pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// CreateJob allocates a root job (no parent) from the calling worker's
// pool and attaches fn as its body. The job is not scheduled until passed
// to StartJob.
func (s *Scheduler) CreateJob(fn func()) (*Job, error) {
	return s.createJob(nil, fn)
}

// CreateChildJob allocates a job that is a child of parent: parent's
// pending counter is incremented before the child is returned, so parent
// cannot be observed as complete until this child also finishes (spec.md
// §4.4, original_source's CreateChildJob).
func (s *Scheduler) CreateChildJob(parent *Job, fn func()) (*Job, error) {
	if parent == nil {
		return nil, newContractViolation("CreateChildJob", "parent must not be nil")
	}
	parent.addChildTicket()
	return s.createJob(parent, fn)
}

// CreateContainer allocates a job with no body of its own, used purely to
// group children under a single completion point (original_source's
// CreateContainer: a job whose m_Function is a no-op).
func (s *Scheduler) CreateContainer() (*Job, error) {
	return s.createJob(nil, func() {})
}

// CreateChildContainer is CreateContainer plus CreateChildJob's
// parent-ticket bookkeeping, supplementing the distilled spec with
// original_source's CreateChildContainer.
func (s *Scheduler) CreateChildContainer(parent *Job) (*Job, error) {
	if parent == nil {
		return nil, newContractViolation("CreateChildContainer", "parent must not be nil")
	}
	parent.addChildTicket()
	return s.createJob(parent, func() {})
}

// CreateChildJobOf is CreateChildJob using the calling worker's
// currently-running job as the parent, for code running inside a job body
// that wants to fork without holding onto its own Job reference.
func (s *Scheduler) CreateChildJobOf(fn func()) (*Job, error) {
	parent := s.CurrentJob()
	if parent == nil {
		return nil, newContractViolation("CreateChildJobOf", "no job is currently running on the calling worker")
	}
	return s.CreateChildJob(parent, fn)
}

// CreateChildContainerOf is CreateChildContainer using the calling worker's
// currently-running job as the parent.
func (s *Scheduler) CreateChildContainerOf() (*Job, error) {
	parent := s.CurrentJob()
	if parent == nil {
		return nil, newContractViolation("CreateChildContainerOf", "no job is currently running on the calling worker")
	}
	return s.CreateChildContainer(parent)
}

func (s *Scheduler) createJob(parent *Job, fn func()) (*Job, error) {
	w := s.CurrentWorker()
	if w == nil {
		return nil, newContractViolation("CreateJob", "called from a goroutine with no registered worker")
	}
	job, err := w.pool.getFreshJob()
	if err != nil {
		s.metrics.recordResourceExhausted("pool")
		return nil, err
	}
	job.init(w.index)
	job.attach(parent, fn)
	return job, nil
}

// AddDependency records then as a successor of job: once job finishes,
// then is pushed onto the finishing worker's deque. Must be called before
// job is started.
func (s *Scheduler) AddDependency(job, then *Job) error {
	if job == nil || then == nil {
		return newContractViolation("AddDependency", "job and then must not be nil")
	}
	if job.started.Load() {
		return newContractViolation("AddDependency", "job has already started")
	}
	return job.addSuccessor(then)
}

// StartJob pushes job onto its origin worker's deque — not necessarily the
// calling worker's — making it visible to steal and to that worker's own
// pick loop. Routing through originWorker rather than the caller is
// spec.md §4.4's "stickiness" requirement (§3: originWorker "routes
// scheduling back to a stable owner"), and matches the original's
// StartJob -> GetWorkerThread()->GetWorkerQueue()->Push
// (PeonSystem.cpp).
func (s *Scheduler) StartJob(job *Job) error {
	if s.CurrentWorker() == nil {
		return newContractViolation("StartJob", "called from a goroutine with no registered worker")
	}
	if !job.started.CompareAndSwap(false, true) {
		return newContractViolation("StartJob", "job has already been started")
	}
	owner := s.workers[job.originWorker]
	if err := owner.deque.push(job); err != nil {
		job.started.Store(false)
		s.metrics.recordResourceExhausted("deque")
		return err
	}
	return nil
}

// Wait blocks the calling goroutine, running jobs from its own worker
// (pick-or-steal, exactly as step does) until job has completed. This is
// the Go analog of PeonSystem::WaitForJob, and is how the main worker (which
// has no background loop) ever executes anything.
func (s *Scheduler) Wait(job *Job) error {
	if job == nil {
		return newContractViolation("Wait", "job must not be nil")
	}
	w := s.CurrentWorker()
	if w == nil {
		return newContractViolation("Wait", "called from a goroutine with no registered worker")
	}
	for !job.HasCompleted() {
		if s.paused.Load() {
			runtime.Gosched()
			continue
		}
		w.step()
	}
	return nil
}

// ResetFrame rewinds every worker's job pool and drains every worker's
// deferred-free arena chain. Callers must guarantee no job or arena block
// from the prior frame is still referenced (spec.md §4.4/§9's frame
// boundary contract).
func (s *Scheduler) ResetFrame() {
	for _, w := range s.workers {
		w.pool.reset()
		drained := w.arena.DrainDeferred()
		s.metrics.recordDeferredDrained(w.index, drained)
	}
}

// CurrentWorker returns the Worker bound to the calling goroutine, or nil
// if the calling goroutine never registered one (i.e. it is neither the
// scheduler's creating goroutine nor one of its execute-loop goroutines).
func (s *Scheduler) CurrentWorker() *Worker {
	v, ok := s.registry.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*Worker)
}

// CurrentWorkerIndex is a convenience wrapper over CurrentWorker.
func (s *Scheduler) CurrentWorkerIndex() int {
	if w := s.CurrentWorker(); w != nil {
		return w.index
	}
	return -1
}

// CurrentJob returns the job presently running on the calling goroutine's
// worker, or nil.
func (s *Scheduler) CurrentJob() *Job {
	if w := s.CurrentWorker(); w != nil {
		return w.CurrentJob()
	}
	return nil
}

func (s *Scheduler) registerCurrentWorker(w *Worker) {
	s.registry.Store(goroutineID(), w)
}

func (s *Scheduler) unregisterCurrentWorker() {
	s.registry.Delete(goroutineID())
}

// UserData returns the value stored in slot i via SetUserData, type-asserted
// to T. It returns the zero value of T and false if the slot is empty or
// out of range. This supplements the distilled spec with original_source's
// templated GetUserData<T>/SetUserData, letting callers stash
// scheduler-scoped state (e.g. a per-run allocator arena or context) in a
// caller-chosen slot without a global.
func UserData[T any](s *Scheduler, slot int) (T, bool) {
	var zero T
	if slot < 0 || slot >= len(s.userData) {
		return zero, false
	}
	v := s.userData[slot].Load()
	if v == nil {
		return zero, false
	}
	t, ok := (*v).(T)
	return t, ok
}

// SetUserData stores value in slot i, growing is not performed: slot must
// be within Config.UserDataSlots, reserved at construction time.
func SetUserData[T any](s *Scheduler, slot int, value T) error {
	if slot < 0 || slot >= len(s.userData) {
		return newContractViolation("SetUserData", fmt.Sprintf("slot %d out of range [0,%d)", slot, len(s.userData)))
	}
	var v any = value
	s.userData[slot].Store(&v)
	return nil
}
