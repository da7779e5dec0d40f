package forkjoin

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type JobTestSuite struct {
	suite.Suite
}

func TestJobTestSuite(t *testing.T) {
	suite.Run(t, new(JobTestSuite))
}

func (ts *JobTestSuite) newTestWorker() *Worker {
	s := &Scheduler{logger: NoopLogger{}}
	w := &Worker{index: 0, scheduler: s, deque: newDeque(16)}
	return w
}

func (ts *JobTestSuite) TestFreshJobStartsWithOneOutstandingTicket() {
	j := &Job{}
	j.init(0)
	ts.False(j.HasCompleted())
}

func (ts *JobTestSuite) TestFinishWithNoChildrenCompletesImmediately() {
	w := ts.newTestWorker()
	j := &Job{}
	j.init(0)
	j.attach(nil, func() {})

	j.finish(w)
	ts.True(j.HasCompleted())
}

func (ts *JobTestSuite) TestChildTicketDelaysParentCompletion() {
	w := ts.newTestWorker()
	parent := &Job{}
	parent.init(0)
	parent.attach(nil, func() {})

	parent.addChildTicket()
	child := &Job{}
	child.init(0)
	child.attach(parent, func() {})

	parent.finish(w)
	ts.False(parent.HasCompleted(), "parent must not complete while a child ticket is outstanding")

	child.finish(w)
	ts.True(parent.HasCompleted())
}

func (ts *JobTestSuite) TestFinishPushesSuccessorsOntoWorkerDeque() {
	w := ts.newTestWorker()
	j := &Job{}
	j.init(0)
	j.attach(nil, func() {})

	succ := &Job{}
	succ.init(0)
	succ.attach(nil, func() {})

	ts.Require().NoError(j.addSuccessor(succ))
	j.finish(w)

	popped := w.deque.pop()
	ts.Same(succ, popped)
}

func (ts *JobTestSuite) TestAddSuccessorRejectsOverCapacity() {
	j := &Job{}
	j.init(0)
	j.attach(nil, func() {})

	for i := 0; i < maxSuccessors; i++ {
		ts.Require().NoError(j.addSuccessor(&Job{}))
	}

	err := j.addSuccessor(&Job{})
	ts.Require().Error(err)
	var violation *ContractViolation
	ts.Require().ErrorAs(err, &violation)
}

func (ts *JobTestSuite) TestDeepParentChainPropagatesToRoot() {
	w := ts.newTestWorker()
	root := &Job{}
	root.init(0)
	root.attach(nil, func() {})

	root.addChildTicket()
	mid := &Job{}
	mid.init(0)
	mid.attach(root, func() {})

	mid.addChildTicket()
	leaf := &Job{}
	leaf.init(0)
	leaf.attach(mid, func() {})

	root.finish(w)
	mid.finish(w)
	ts.False(root.HasCompleted())

	leaf.finish(w)
	ts.True(mid.HasCompleted())
	ts.True(root.HasCompleted())
}
