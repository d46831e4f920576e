package elections_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bbengfort/elections"
)

//===========================================================================
// Mock Test Event
//===========================================================================

type testEvent struct {
	idx int
	jdx int
}

func (e *testEvent) Type() elections.EventType {
	return elections.EventType(99)
}

func (e *testEvent) Source() elections.Snapshot {
	return elections.Snapshot{Round: e.idx}
}

func (e *testEvent) Value() interface{} {
	return e.jdx
}

var _ = Describe("Events", func() {

	It("should be able to assign mock event to EventType", func() {
		var event elections.Event = &testEvent{} // this will fail before the assertion but is a good sanity check
		Ω(&testEvent{}).Should(BeAssignableToTypeOf(event))
	})

	It("should return unknown as event type string repr", func() {
		event := &testEvent{}
		Ω(event.Type().String()).Should(Equal("unknown"))
	})

	It("should name every notification", func() {
		Ω(elections.CycleStarted.String()).Should(Equal("cycleStarted"))
		Ω(elections.VotingOpened.String()).Should(Equal("votingOpened"))
		Ω(elections.TieDetected.String()).Should(Equal("tieDetected"))
		Ω(elections.ResultsAnnounced.String()).Should(Equal("resultsAnnounced"))
		Ω(elections.ElectionArchived.String()).Should(Equal("electionArchived"))
	})

})
