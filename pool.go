package forkjoin

// jobPool is a worker's ring of pre-constructed Job slots, handed out by
// GetFreshJob and reclaimed wholesale by reset. It is owner-only and does
// not participate in stealing — it is purely the backing store jobs are
// allocated from, distinct from the deque they are scheduled into. This
// mirrors PeonStealingQueue's m_RingBuffer/m_RingBufferPosition, which the
// original keeps inside the same class as the steal deque; this port splits
// them into separate types since they have unrelated concurrency contracts
// (this one has exactly one reader/writer, ever).
type jobPool struct {
	slots []Job
	mask  uint64
	used  uint64
}

func newJobPool(size int) *jobPool {
	size = nextPow2(size)
	return &jobPool{
		slots: make([]Job, size),
		mask:  uint64(size - 1),
	}
}

// getFreshJob hands out the next ring slot. It fails with ResourceExhausted
// if the ring has already wrapped within the current frame — per spec.md
// §7, overwriting a slot still referenced this frame would silently
// corrupt a live job, so this reimplementation refuses instead.
func (p *jobPool) getFreshJob() (*Job, error) {
	if p.used >= uint64(len(p.slots)) {
		return nil, newResourceExhausted("JobPool.GetFreshJob", "job-pool ring wrapped within the current frame")
	}
	idx := p.used & p.mask
	p.used++
	return &p.slots[idx], nil
}

// reset rewinds the ring to the start of a new frame. The caller must
// guarantee no job from the previous frame is still referenced (spec.md §4.4).
func (p *jobPool) reset() {
	p.used = 0
}
