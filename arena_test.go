package forkjoin

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ArenaTestSuite struct {
	suite.Suite
}

func TestArenaTestSuite(t *testing.T) {
	suite.Run(t, new(ArenaTestSuite))
}

func (ts *ArenaTestSuite) TestAllocateReturnsOwnedBlockOfSufficientSize() {
	w := &Worker{index: 0}
	a := newArena(w)
	w.arena = a

	b := a.Allocate(100)
	ts.Require().NotNil(b)
	ts.Same(w, b.Owner)
	ts.GreaterOrEqual(len(b.Data), 100)
}

func (ts *ArenaTestSuite) TestDeallocateReusesBlock() {
	w := &Worker{index: 0}
	a := newArena(w)
	w.arena = a

	b1 := a.Allocate(50)
	a.Deallocate(b1)
	b2 := a.Allocate(50)

	ts.Same(b1, b2, "a freed block of the same size class should be handed back out before growing the slab")
}

func (ts *ArenaTestSuite) TestCrossWorkerDeallocateDefersInsteadOfCorrupting() {
	owner := &Worker{index: 0}
	ownerArena := newArena(owner)
	owner.arena = ownerArena

	other := &Worker{index: 1}
	otherArena := newArena(other)
	other.arena = otherArena

	b := ownerArena.Allocate(32)
	otherArena.Deallocate(b)

	// The block must not have been spliced into the wrong arena's free list.
	for class := 0; class < numSizeClasses; class++ {
		ts.Nil(otherArena.freeLists[class], "a block from another worker must never land on this arena's free list")
	}

	drained := ownerArena.DrainDeferred()
	ts.Equal(1, drained)

	again := ownerArena.Allocate(32)
	ts.Same(b, again)
}

func (ts *ArenaTestSuite) TestDebugStatsTracksOutstandingBlocks() {
	w := &Worker{index: 0}
	a := newArena(w)
	w.arena = a

	b1 := a.Allocate(16)
	_ = a.Allocate(16)
	a.Deallocate(b1)

	var stats ArenaStats
	found := false
	for _, s := range a.DebugStats() {
		if s.TotalAllocated > 0 {
			stats = s
			found = true
			break
		}
	}
	ts.Require().True(found)
	ts.Equal(stats.TotalAllocated-stats.InUse, stats.FreeListLength)
}

func (ts *ArenaTestSuite) TestGrowthHonorsMinimumSlab() {
	w := &Worker{index: 0}
	a := newArena(w)
	w.arena = a

	a.Allocate(8)
	stats := a.DebugStats()
	ts.Require().Len(stats, 1)
	ts.Equal(minSlabBlocks, stats[0].TotalAllocated)
}
