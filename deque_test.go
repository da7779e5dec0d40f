package forkjoin

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DequeTestSuite struct {
	suite.Suite
}

func TestDequeTestSuite(t *testing.T) {
	suite.Run(t, new(DequeTestSuite))
}

func (ts *DequeTestSuite) TestPushPopOrder() {
	d := newDeque(8)
	a, b, c := &Job{}, &Job{}, &Job{}

	ts.Require().NoError(d.push(a))
	ts.Require().NoError(d.push(b))
	ts.Require().NoError(d.push(c))

	ts.Same(c, d.pop())
	ts.Same(b, d.pop())
	ts.Same(a, d.pop())
	ts.Nil(d.pop())
}

func (ts *DequeTestSuite) TestStealTakesFromTop() {
	d := newDeque(8)
	a, b := &Job{}, &Job{}
	ts.Require().NoError(d.push(a))
	ts.Require().NoError(d.push(b))

	ts.Same(a, d.steal())
	ts.Same(b, d.pop())
}

func (ts *DequeTestSuite) TestPushOverflowFailsLoudly() {
	d := newDeque(2)
	ts.Require().NoError(d.push(&Job{}))
	ts.Require().NoError(d.push(&Job{}))

	err := d.push(&Job{})
	ts.Require().Error(err)
	var exhausted *ResourceExhausted
	ts.Require().ErrorAs(err, &exhausted)
}

func (ts *DequeTestSuite) TestPopEmptyReturnsNil() {
	d := newDeque(8)
	ts.Nil(d.pop())
	ts.Nil(d.steal())
}

func (ts *DequeTestSuite) TestConcurrentPopStealOnLastItemExactlyOneWinner() {
	for trial := 0; trial < 200; trial++ {
		d := newDeque(2)
		job := &Job{}
		ts.Require().NoError(d.push(job))

		var wg sync.WaitGroup
		results := make(chan *Job, 2)
		wg.Add(2)
		go func() { defer wg.Done(); results <- d.pop() }()
		go func() { defer wg.Done(); results <- d.steal() }()
		wg.Wait()
		close(results)

		wins := 0
		for r := range results {
			if r != nil {
				wins++
				ts.Same(job, r)
			}
		}
		ts.Equal(1, wins, "exactly one of pop/steal must win the race for the last item")
	}
}

func (ts *DequeTestSuite) TestCapacityRoundsUpToPowerOfTwo() {
	d := newDeque(5)
	ts.Equal(8, d.capacity())
}
