package conversation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/lmchat/pkg/conversation"
	"github.com/papercomputeco/lmchat/pkg/llm"
)

// inFlightCount returns how many turns in the snapshot are in flight.
func inFlightCount(s conversation.Snapshot) int {
	n := 0
	for _, t := range s.Turns {
		if t.Status == conversation.StatusInFlight {
			n++
		}
	}
	return n
}

var _ = Describe("Store", func() {
	var (
		store     *conversation.Store
		snapshots []conversation.Snapshot
	)

	BeforeEach(func() {
		store = conversation.NewStore()
		snapshots = nil
		store.Subscribe(func(s conversation.Snapshot) {
			snapshots = append(snapshots, s)
		})
	})

	Describe("a full exchange", func() {
		It("assembles the assistant turn from fragments", func() {
			_, err := store.AppendUserTurn("hi")
			Expect(err).NotTo(HaveOccurred())

			turn, err := store.BeginAssistantTurn()
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.Status).To(Equal(conversation.StatusInFlight))
			Expect(turn.Role).To(Equal(llm.RoleAssistant))

			for _, f := range []string{"Hel", "lo", "", " world"} {
				Expect(store.AppendToInFlightTurn(f)).To(Succeed())
			}
			Expect(store.FinalizeInFlightTurn()).To(Succeed())

			turns := store.Turns()
			Expect(turns).To(HaveLen(2))
			Expect(turns[0].Role).To(Equal(llm.RoleUser))
			Expect(turns[0].Content).To(Equal("hi"))
			Expect(turns[1].ID).To(Equal(turn.ID))
			Expect(turns[1].Content).To(Equal("Hello world"))
			Expect(turns[1].Status).To(Equal(conversation.StatusComplete))

			_, ok := store.InFlight()
			Expect(ok).To(BeFalse())
		})

		It("notifies observers synchronously after every mutation", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.AppendToInFlightTurn("a")
			store.AppendToInFlightTurn("b")
			store.FinalizeInFlightTurn()

			Expect(snapshots).To(HaveLen(5))
			for i, s := range snapshots {
				Expect(s.Version).To(Equal(uint64(i + 1)))
				Expect(inFlightCount(s)).To(BeNumerically("<=", 1))
			}
			Expect(snapshots[2].Turns[1].Content).To(Equal("a"))
			Expect(snapshots[3].Turns[1].Content).To(Equal("ab"))
			Expect(snapshots[3].Active()).To(BeTrue())
			Expect(snapshots[4].Active()).To(BeFalse())
		})

		It("hands observers copies that later mutations do not touch", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.AppendToInFlightTurn("a")
			store.AppendToInFlightTurn("b")

			Expect(snapshots[2].Turns[1].Content).To(Equal("a"))
		})

		It("reports the same state and version as the last notification", func() {
			Expect(store.Snapshot().Version).To(BeZero())

			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.AppendToInFlightTurn("partial")

			current := store.Snapshot()
			last := snapshots[len(snapshots)-1]
			Expect(current.Version).To(Equal(last.Version))
			Expect(current.Turns).To(Equal(last.Turns))
			Expect(current.Active()).To(BeTrue())

			store.Reset()
			Expect(store.Snapshot().Turns).To(BeEmpty())
			Expect(store.Snapshot().Version).To(Equal(current.Version + 1))
		})

		It("stops notifying after unsubscribe", func() {
			var count int
			unsubscribe := store.Subscribe(func(conversation.Snapshot) { count++ })

			store.AppendUserTurn("one")
			unsubscribe()
			store.Reset()

			Expect(count).To(Equal(1))
		})
	})

	Describe("preconditions", func() {
		It("rejects a user turn while a turn is in flight", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()

			_, err := store.AppendUserTurn("again")
			Expect(err).To(MatchError(conversation.ErrInvalidState))

			var stateErr *conversation.StateError
			Expect(err).To(BeAssignableToTypeOf(stateErr))
			Expect(store.Len()).To(Equal(2))
		})

		It("rejects an assistant turn not preceded by a user turn", func() {
			_, err := store.BeginAssistantTurn()
			Expect(err).To(MatchError(conversation.ErrInvalidState))

			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.FinalizeInFlightTurn()

			_, err = store.BeginAssistantTurn()
			Expect(err).To(MatchError(conversation.ErrInvalidState))
		})

		It("rejects a second in-flight turn", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()

			_, err := store.BeginAssistantTurn()
			Expect(err).To(MatchError(conversation.ErrInvalidState))
		})

		It("rejects append and finalize with no turn in flight", func() {
			Expect(store.AppendToInFlightTurn("x")).To(MatchError(conversation.ErrInvalidState))
			Expect(store.FinalizeInFlightTurn()).To(MatchError(conversation.ErrInvalidState))
			Expect(snapshots).To(BeEmpty())
		})
	})

	Describe("FailInFlightTurn", func() {
		It("replaces partial content with a labelled failure", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.AppendToInFlightTurn("partial")

			Expect(store.FailInFlightTurn("HTTP error! status: 500")).To(BeTrue())

			turns := store.Turns()
			Expect(turns[1].Status).To(Equal(conversation.StatusErrored))
			Expect(turns[1].Content).To(Equal("Error: HTTP error! status: 500"))
		})

		It("falls back to a generic message", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.FailInFlightTurn("")

			Expect(store.Turns()[1].Content).To(Equal("Error: Something went wrong"))
		})

		It("is a no-op after a reset", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.Reset()
			n := len(snapshots)

			Expect(store.FailInFlightTurn("late")).To(BeFalse())
			Expect(store.Len()).To(BeZero())
			Expect(snapshots).To(HaveLen(n))
		})

		It("freezes the turn", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.FailInFlightTurn("boom")

			Expect(store.AppendToInFlightTurn("more")).To(MatchError(conversation.ErrInvalidState))
			Expect(store.Turns()[1].Content).To(Equal("Error: boom"))
		})
	})

	Describe("History", func() {
		It("returns complete turns as role and content pairs", func() {
			store.AppendUserTurn("q1")
			store.BeginAssistantTurn()
			store.AppendToInFlightTurn("a1")
			store.FinalizeInFlightTurn()
			store.AppendUserTurn("q2")
			store.BeginAssistantTurn()
			store.FailInFlightTurn("boom")
			store.AppendUserTurn("q3")
			store.BeginAssistantTurn()

			Expect(store.History()).To(Equal([]llm.Message{
				{Role: llm.RoleUser, Content: "q1"},
				{Role: llm.RoleAssistant, Content: "a1"},
				{Role: llm.RoleUser, Content: "q2"},
				{Role: llm.RoleUser, Content: "q3"},
			}))
		})
	})

	Describe("Reset", func() {
		It("clears the conversation and frees the in-flight slot", func() {
			store.AppendUserTurn("hi")
			store.BeginAssistantTurn()
			store.Reset()

			Expect(store.Turns()).To(BeEmpty())
			_, err := store.AppendUserTurn("fresh")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
