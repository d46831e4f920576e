package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/bbengfort/elections"
	. "github.com/bbengfort/elections/registry"
)

var _ = Describe("World", func() {

	var w *World

	BeforeEach(func() {
		w = New()
		Ω(w.AddNation(&Nation{ID: "avalon", Name: "Avalon", Government: "republic", Citizens: []string{"a1", "a2", "a3", "a4"}})).Should(Succeed())
		Ω(w.AddNation(&Nation{ID: "eldoria", Name: "Eldoria", Government: "monarchy", Citizens: []string{"e1"}})).Should(Succeed())
		Ω(w.AddParty(&Party{ID: "red", Name: "Red Party", Nation: "avalon", Members: []string{"a1", "a2"}})).Should(Succeed())
	})

	Describe("nations", func() {

		It("should reject duplicate nations and unknown governments", func() {
			Ω(w.AddNation(&Nation{ID: "avalon", Government: "republic"})).Should(MatchError(ErrExists))
			Ω(w.AddNation(&Nation{ID: "oz", Government: "anarchy"})).Should(MatchError(ErrUnknownGovernment))
			Ω(w.AddNation(&Nation{Government: "republic"})).Should(MatchError(ErrUnknownNation))
		})

		It("should change governments", func() {
			nations := w.NationRegistry()
			gov, err := nations.Government("eldoria")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(gov.Allows(elections.Presidential)).Should(BeFalse())

			Ω(w.SetGovernment("eldoria", "republic")).Should(Succeed())
			gov, err = nations.Government("eldoria")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(gov.Allows(elections.Presidential)).Should(BeTrue())

			Ω(w.SetGovernment("eldoria", "anarchy")).Should(MatchError(ErrUnknownGovernment))
			Ω(w.SetGovernment("oz", "republic")).Should(MatchError(ErrUnknownNation))
		})

		It("should delete a nation along with its parties", func() {
			removed, err := w.DeleteNation("avalon")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(removed).Should(Equal([]string{"red"}))

			_, ok := w.Nation("avalon")
			Ω(ok).Should(BeFalse())
			Ω(w.PartyRegistry().PartiesIn("avalon")).Should(BeEmpty())

			_, err = w.DeleteNation("avalon")
			Ω(err).Should(MatchError(ErrUnknownNation))
		})

		It("should add citizens with display names", func() {
			Ω(w.AddCitizen("eldoria", "e2", "Edith")).Should(Succeed())
			Ω(w.NationRegistry().IsCitizen("eldoria", "e2")).Should(BeTrue())
			Ω(w.DisplayName("e2")).Should(Equal("Edith"))
			Ω(w.DisplayName("e1")).Should(Equal("e1"))
			Ω(w.AddCitizen("oz", "o1", "")).Should(MatchError(ErrUnknownNation))
		})
	})

	Describe("parties", func() {

		It("should require members to be citizens of the party's nation", func() {
			err := w.AddParty(&Party{ID: "blue", Nation: "avalon", Members: []string{"e1"}})
			Ω(err).Should(MatchError(ErrNotCitizen))

			err = w.AddParty(&Party{ID: "blue", Nation: "oz"})
			Ω(err).Should(MatchError(ErrUnknownNation))

			err = w.AddParty(&Party{ID: "red", Nation: "avalon"})
			Ω(err).Should(MatchError(ErrExists))
		})

		It("should allow membership in one party only", func() {
			Ω(w.AddParty(&Party{ID: "blue", Nation: "avalon", Members: []string{"a2"}})).ShouldNot(Succeed())
			Ω(w.AddParty(&Party{ID: "blue", Nation: "avalon", Members: []string{"a3"}})).Should(Succeed())

			Ω(w.Join("blue", "a1")).ShouldNot(Succeed())
			Ω(w.Join("blue", "e1")).Should(MatchError(ErrNotCitizen))
			Ω(w.Join("green", "a4")).Should(MatchError(ErrUnknownParty))
			Ω(w.Join("blue", "a4")).Should(Succeed())
			Ω(w.Join("blue", "a4")).Should(Succeed())

			party, ok := w.PartyRegistry().Party("blue")
			Ω(ok).Should(BeTrue())
			Ω(party.Members).Should(Equal([]string{"a3", "a4"}))
		})

		It("should disband parties", func() {
			Ω(w.Disband("red")).Should(Succeed())
			Ω(w.Disband("red")).Should(MatchError(ErrUnknownParty))

			_, ok := w.PartyRegistry().PartyOf("a1")
			Ω(ok).Should(BeFalse())
			Ω(w.PartyName("red")).Should(Equal("red"))
		})
	})

	Describe("watchers", func() {

		var watcher *recorder

		BeforeEach(func() {
			watcher = new(recorder)
			w.Watch(watcher)
		})

		It("should report government changes", func() {
			Ω(w.SetGovernment("eldoria", "republic")).Should(Succeed())
			Ω(w.SetGovernment("eldoria", "republic")).Should(Succeed())
			Ω(w.SetGovernment("eldoria", "anarchy")).ShouldNot(Succeed())
			Ω(watcher.calls).Should(Equal([]string{"government eldoria"}))
		})

		It("should report disbanded parties", func() {
			Ω(w.Disband("red")).Should(Succeed())
			Ω(w.Disband("red")).ShouldNot(Succeed())
			Ω(watcher.calls).Should(Equal([]string{"disbanded red"}))
		})

		It("should report parties before their deleted nation", func() {
			Ω(w.AddParty(&Party{ID: "blue", Nation: "avalon", Members: []string{"a3"}})).Should(Succeed())
			_, err := w.DeleteNation("avalon")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(watcher.calls).Should(Equal([]string{"disbanded blue", "disbanded red", "deleted nation:avalon"}))
		})

		It("should return watcher errors after applying the change", func() {
			watcher.err = errors.New("engine closed")
			Ω(w.Disband("red")).Should(MatchError("engine closed"))
			_, ok := w.PartyRegistry().Party("red")
			Ω(ok).Should(BeFalse())
		})

		It("should let watchers read the world", func() {
			watcher.world = w
			Ω(w.SetGovernment("eldoria", "republic")).Should(Succeed())
			Ω(watcher.calls).Should(Equal([]string{"government eldoria republic"}))
		})

		It("should stop reporting once unwatched", func() {
			w.Watch(nil)
			Ω(w.Disband("red")).Should(Succeed())
			Ω(watcher.calls).Should(BeEmpty())
		})

		It("should sync with a reloaded world", func() {
			Ω(w.NationRegistry().SetLeader("avalon", "a1")).Should(Succeed())

			next := New()
			Ω(next.AddNation(&Nation{ID: "avalon", Name: "Avalon", Government: "constitutional_monarchy", Citizens: []string{"a1", "a2", "a3", "a4", "a5"}})).Should(Succeed())
			Ω(next.AddNation(&Nation{ID: "oz", Name: "Oz", Government: "republic", Citizens: []string{"o1"}})).Should(Succeed())
			Ω(next.AddParty(&Party{ID: "blue", Nation: "avalon", Members: []string{"a5"}})).Should(Succeed())

			Ω(w.Sync(next)).Should(Succeed())
			Ω(watcher.calls).Should(Equal([]string{"deleted nation:eldoria", "disbanded red", "government avalon"}))

			avalon, ok := w.Nation("avalon")
			Ω(ok).Should(BeTrue())
			Ω(avalon.Leader).Should(Equal("a1"))
			Ω(avalon.Citizens).Should(ContainElement("a5"))

			_, ok = w.Nation("oz")
			Ω(ok).Should(BeTrue())
			party, ok := w.PartyRegistry().PartyOf("a5")
			Ω(ok).Should(BeTrue())
			Ω(party).Should(Equal("blue"))
		})
	})

	Describe("registry views", func() {

		It("should describe nations to the engine", func() {
			nations := w.NationRegistry()
			ids, err := nations.Nations()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(ids).Should(Equal([]string{"avalon", "eldoria"}))

			_, err = nations.Government("oz")
			Ω(err).Should(MatchError(ErrUnknownNation))

			_, ok := nations.Leader("avalon")
			Ω(ok).Should(BeFalse())
			Ω(nations.SetLeader("avalon", "a1")).Should(Succeed())
			leader, ok := nations.Leader("avalon")
			Ω(ok).Should(BeTrue())
			Ω(leader).Should(Equal("a1"))

			Ω(nations.Legislators("avalon")).Should(BeEmpty())
			Ω(nations.SetParliament("avalon", elections.Parliament{Seats: map[string]int{"red": 2}, Members: []string{"a1", "a2"}})).Should(Succeed())
			Ω(nations.Legislators("avalon")).Should(Equal([]string{"a1", "a2"}))

			ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			_, ok = nations.LastCompleted("avalon", elections.Parliamentary)
			Ω(ok).Should(BeFalse())
			Ω(nations.SetLastCompleted("avalon", elections.Parliamentary, ts)).Should(Succeed())
			last, ok := nations.LastCompleted("avalon", elections.Parliamentary)
			Ω(ok).Should(BeTrue())
			Ω(last).Should(Equal(ts))
			_, ok = nations.LastCompleted("avalon", elections.Presidential)
			Ω(ok).Should(BeFalse())
		})

		It("should describe parties to the engine", func() {
			parties := w.PartyRegistry()
			ids, err := parties.Parties()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(ids).Should(Equal([]string{"red"}))
			Ω(parties.PartiesIn("avalon")).Should(Equal([]string{"red"}))

			party, ok := parties.PartyOf("a2")
			Ω(ok).Should(BeTrue())
			Ω(party).Should(Equal("red"))
			_, ok = parties.PartyOf("a3")
			Ω(ok).Should(BeFalse())

			Ω(parties.SetLeader("red", "a2")).Should(Succeed())
			Ω(parties.SetLeader("blue", "a3")).Should(MatchError(ErrUnknownParty))
			red, _ := parties.Party("red")
			Ω(red.Leader).Should(Equal("a2"))

			ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			_, ok = parties.LastCompleted("red")
			Ω(ok).Should(BeFalse())
			Ω(parties.SetLastCompleted("red", ts)).Should(Succeed())
			last, ok := parties.LastCompleted("red")
			Ω(ok).Should(BeTrue())
			Ω(last).Should(Equal(ts))
		})
	})

	Describe("documents", func() {

		var tmp string

		BeforeEach(func() {
			var err error
			tmp, err = os.MkdirTemp("", "registry-*")
			Ω(err).ShouldNot(HaveOccurred())
		})

		AfterEach(func() {
			Ω(os.RemoveAll(tmp)).Should(Succeed())
		})

		It("should save and load a world", func() {
			Ω(w.AddCitizen("avalon", "a1", "Alice")).Should(Succeed())
			Ω(w.NationRegistry().SetLeader("avalon", "a1")).Should(Succeed())

			path := filepath.Join(tmp, "world.json")
			Ω(w.Save(path)).Should(Succeed())

			loaded, err := Load(path)
			Ω(err).ShouldNot(HaveOccurred())

			avalon, ok := loaded.Nation("avalon")
			Ω(ok).Should(BeTrue())
			Ω(avalon.Leader).Should(Equal("a1"))
			Ω(avalon.Citizens).Should(Equal([]string{"a1", "a2", "a3", "a4"}))
			Ω(loaded.DisplayName("a1")).Should(Equal("Alice"))
			Ω(loaded.PartyName("red")).Should(Equal("Red Party"))
		})

		It("should load custom governments", func() {
			path := filepath.Join(tmp, "world.json")
			doc := `{
				"governments": {"junta": {"permits": ["party_leader"]}},
				"nations": [{"id": "oz", "government": "junta", "citizens": ["o1"]}],
				"parties": [],
				"participants": {}
			}`
			Ω(os.WriteFile(path, []byte(doc), 0644)).Should(Succeed())

			loaded, err := Load(path)
			Ω(err).ShouldNot(HaveOccurred())
			gov, err := loaded.NationRegistry().Government("oz")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(gov.Type).Should(Equal("junta"))
		})

		It("should refuse worlds with inconsistent parties", func() {
			path := filepath.Join(tmp, "world.json")
			doc := `{
				"nations": [{"id": "oz", "government": "republic", "citizens": ["o1"]}],
				"parties": [{"id": "emerald", "nation": "oz", "members": ["o2"]}]
			}`
			Ω(os.WriteFile(path, []byte(doc), 0644)).Should(Succeed())

			_, err := Load(path)
			Ω(err).Should(MatchError(ErrNotCitizen))
		})
	})
})

type recorder struct {
	calls []string
	err   error
	world *World
}

func (r *recorder) OnGovernmentChange(nation string) error {
	call := "government " + nation
	if r.world != nil {
		gov, err := r.world.NationRegistry().Government(nation)
		if err != nil {
			return err
		}
		call += " " + gov.Type
	}
	r.calls = append(r.calls, call)
	return r.err
}

func (r *recorder) OnContextDeleted(ctx elections.Context) error {
	r.calls = append(r.calls, "deleted "+ctx.String())
	return r.err
}

func (r *recorder) OnPartyDisbanded(party string) error {
	r.calls = append(r.calls, "disbanded "+party)
	return r.err
}
