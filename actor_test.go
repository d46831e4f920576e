package elections_test

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bbengfort/elections"
)

var _ = Describe("Actor", func() {

	var (
		mu       sync.Mutex
		received []*testEvent
	)

	// sink records every event and fails on every third one
	sink := func(e elections.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.(*testEvent))
		if len(received)%3 == 0 {
			return errors.New("sink unavailable")
		}
		return nil
	}

	seen := func() []*testEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]*testEvent(nil), received...)
	}

	BeforeEach(func() {
		mu.Lock()
		received = nil
		mu.Unlock()
	})

	Context("buffered notifier", func() {

		var actor elections.Actor

		BeforeEach(func() {
			actor = elections.NewActor(sink)
		})

		It("should deliver events in dispatch order despite handler errors", func() {
			for i := 0; i < 10; i++ {
				Ω(actor.Dispatch(&testEvent{i, 0})).Should(Succeed())
			}
			Ω(actor.Close()).Should(Succeed())

			// Events queued before close are drained by the listener
			Ω(actor.Listen()).Should(Succeed())

			events := seen()
			Ω(events).Should(HaveLen(10))
			for i, e := range events {
				Ω(e.idx).Should(Equal(i))
			}
		})

		It("should keep the order of each dispatcher under concurrency", func() {
			done := make(chan error, 1)
			go func() { done <- actor.Listen() }()

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					for j := 0; j < 50; j++ {
						actor.Dispatch(&testEvent{i, j})
					}
				}(i)
			}
			wg.Wait()
			Ω(actor.Close()).Should(Succeed())
			Eventually(done).Should(Receive(BeNil()))

			last := make(map[int]int)
			for _, e := range seen() {
				if prev, ok := last[e.idx]; ok {
					Ω(e.jdx).Should(BeNumerically(">", prev))
				}
				last[e.idx] = e.jdx
			}
			Ω(seen()).Should(HaveLen(400))
		})

		It("should refuse events once closed", func() {
			Ω(actor.Close()).Should(Succeed())
			Ω(actor.Close()).Should(Succeed())
			Ω(actor.Dispatch(&testEvent{0, 0})).Should(MatchError(elections.ErrEngineClosed))
		})

		It("should discard events without a sink", func() {
			actor = elections.NewActor(nil)
			Ω(actor.Dispatch(&testEvent{0, 0})).Should(Succeed())
			Ω(actor.Close()).Should(Succeed())
			Ω(actor.Listen()).Should(Succeed())
		})
	})

	Context("synchronous notifier", func() {

		var actor elections.Actor

		BeforeEach(func() {
			actor = elections.NewLocker(sink)
		})

		It("should handle each event before dispatch returns", func() {
			Ω(actor.Dispatch(&testEvent{0, 0})).Should(Succeed())
			Ω(seen()).Should(HaveLen(1))

			Ω(actor.Dispatch(&testEvent{1, 0})).Should(Succeed())
			Ω(actor.Dispatch(&testEvent{2, 0})).Should(MatchError("sink unavailable"))
			Ω(seen()).Should(HaveLen(3))
		})

		It("should release the listener on close", func() {
			done := make(chan error, 1)
			go func() { done <- actor.Listen() }()

			Consistently(done).ShouldNot(Receive())
			Ω(actor.Close()).Should(Succeed())
			Eventually(done).Should(Receive(BeNil()))

			Ω(actor.Close()).Should(Succeed())
			Ω(actor.Dispatch(&testEvent{0, 0})).Should(MatchError(elections.ErrEngineClosed))
		})
	})
})
