package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/bbengfort/elections/store"
)

// makeRecord returns a minimal record in the voting phase.
func makeRecord(id string) *Record {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		ID:               id,
		ContextKind:      "nation",
		ContextID:        "avalon",
		Type:             "presidential",
		Government:       "republic",
		Electorate:       "citizens",
		Phase:            "voting",
		Started:          FromTime(started),
		RegistrationEnds: FromTime(started.Add(time.Hour)),
		VotingEnds:       FromTime(started.Add(3 * time.Hour)),
		Candidates: []CandidateRecord{
			{Participant: "c1", Party: "red", Votes: 2},
			{Participant: "c4", Party: "blue", Votes: 1},
		},
		Voters: []string{"c2", "c3", "c5"},
	}
}

// storeBehavior describes what every store must do; open returns a fresh
// store rooted in the given temporary directory.
func storeBehavior(open func(tmp string) Store) {

	var (
		tmp string
		db  Store
	)

	BeforeEach(func() {
		var err error
		tmp, err = os.MkdirTemp("", "store-*")
		Ω(err).ShouldNot(HaveOccurred())
		db = open(tmp)
	})

	AfterEach(func() {
		Ω(db.Close()).Should(Succeed())
		Ω(os.RemoveAll(tmp)).Should(Succeed())
	})

	It("should save and load active records", func() {
		Ω(db.Save(makeRecord("b"))).Should(Succeed())
		Ω(db.Save(makeRecord("a"))).Should(Succeed())

		records, err := db.LoadActive()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(records).Should(HaveLen(2))
		Ω(records[0].ID).Should(Equal("a"))
		Ω(records[1].ID).Should(Equal("b"))
		Ω(records[0].Version).Should(Equal(RecordVersion))
		Ω(records[0].Candidates).Should(Equal(makeRecord("a").Candidates))
		Ω(records[0].Voters).Should(ConsistOf("c2", "c3", "c5"))
	})

	It("should replace a record on save", func() {
		rec := makeRecord("a")
		Ω(db.Save(rec)).Should(Succeed())

		rec.Phase = "counting"
		rec.Voters = append(rec.Voters, "c6")
		Ω(db.Save(rec)).Should(Succeed())

		records, err := db.LoadActive()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(records).Should(HaveLen(1))
		Ω(records[0].Phase).Should(Equal("counting"))
		Ω(records[0].Voters).Should(HaveLen(4))
	})

	It("should move a record to the archive exactly once", func() {
		rec := makeRecord("a")
		rec.Phase = "finished"
		rec.Results = &ResultsRecord{Winner: "c1", WinningParty: "red", TotalVotes: 3}
		Ω(db.Save(rec)).Should(Succeed())
		Ω(db.Archive("a")).Should(Succeed())

		records, err := db.LoadActive()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(records).Should(BeEmpty())

		archived, err := db.LoadArchived("a")
		Ω(err).ShouldNot(HaveOccurred())
		Ω(archived.Phase).Should(Equal("finished"))
		Ω(archived.Results.Winner).Should(Equal("c1"))

		Ω(db.Archive("a")).Should(MatchError(ErrAlreadyArchived))
		Ω(db.Save(rec)).Should(MatchError(ErrAlreadyArchived))
	})

	It("should report missing records", func() {
		Ω(db.Archive("missing")).Should(MatchError(ErrNotFound))
		_, err := db.LoadArchived("missing")
		Ω(err).Should(MatchError(ErrNotFound))
		Ω(db.Quarantine("missing", nil)).Should(MatchError(ErrNotFound))
	})

	It("should quarantine records on request", func() {
		Ω(db.Save(makeRecord("a"))).Should(Succeed())
		Ω(db.Save(makeRecord("b"))).Should(Succeed())
		Ω(db.Quarantine("a", ErrCorrupt)).Should(Succeed())

		records, err := db.LoadActive()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(records).Should(HaveLen(1))
		Ω(records[0].ID).Should(Equal("b"))
	})

	It("should reject ids that cannot be used as keys", func() {
		for _, id := range []string{"", "../etc", "a/b", " a"} {
			Ω(db.Save(makeRecord(id))).Should(MatchError(ErrInvalidID))
		}
	})
}

var _ = Describe("FileStore", func() {
	storeBehavior(func(tmp string) Store {
		db, err := OpenFileStore(tmp)
		Ω(err).ShouldNot(HaveOccurred())
		return db
	})

	Describe("on disk", func() {

		var (
			tmp string
			db  *FileStore
		)

		BeforeEach(func() {
			var err error
			tmp, err = os.MkdirTemp("", "store-*")
			Ω(err).ShouldNot(HaveOccurred())
			db, err = OpenFileStore(tmp)
			Ω(err).ShouldNot(HaveOccurred())
		})

		AfterEach(func() {
			Ω(os.RemoveAll(tmp)).Should(Succeed())
		})

		It("should create the partition directories", func() {
			for _, dir := range []string{"active", "archive", "quarantine"} {
				Ω(filepath.Join(tmp, dir)).Should(BeADirectory())
			}
			Ω(db.Root()).Should(Equal(tmp))
		})

		It("should quarantine documents that cannot be decoded", func() {
			Ω(db.Save(makeRecord("good"))).Should(Succeed())
			Ω(os.WriteFile(filepath.Join(tmp, "active", "bad.json"), []byte("{not json"), 0644)).Should(Succeed())

			records, err := db.LoadActive()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(records).Should(HaveLen(1))
			Ω(records[0].ID).Should(Equal("good"))

			names, err := db.Quarantined()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(names).Should(HaveLen(1))
			Ω(names[0]).Should(HavePrefix("bad-"))

			reason, err := os.ReadFile(filepath.Join(tmp, "quarantine", names[0][:len(names[0])-5]+".reason"))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(string(reason)).Should(ContainSubstring(ErrCorrupt.Error()))
		})

		It("should quarantine documents stored under the wrong id", func() {
			data, err := makeRecord("other").Marshal()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(os.WriteFile(filepath.Join(tmp, "active", "mine.json"), data, 0644)).Should(Succeed())

			records, err := db.LoadActive()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(records).Should(BeEmpty())

			names, err := db.Quarantined()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(names).Should(HaveLen(1))
			Ω(names[0]).Should(HavePrefix("mine-"))
		})

		It("should remove interrupted writes", func() {
			tmpfile := filepath.Join(tmp, "active", "a.json.tmp")
			Ω(os.WriteFile(tmpfile, []byte("{"), 0644)).Should(Succeed())

			records, err := db.LoadActive()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(records).Should(BeEmpty())
			Ω(tmpfile).ShouldNot(BeAnExistingFile())
		})
	})
})

var _ = Describe("SQLStore", func() {
	storeBehavior(func(tmp string) Store {
		db, err := OpenSQLStore(SQLite, filepath.Join(tmp, "elections.db"))
		Ω(err).ShouldNot(HaveOccurred())
		return db
	})

	It("should reject unknown drivers", func() {
		_, err := OpenSQLStore("mysql", "")
		Ω(err).Should(MatchError(ErrUnknownDriver))
	})

	It("should keep records across connections", func() {
		tmp, err := os.MkdirTemp("", "store-*")
		Ω(err).ShouldNot(HaveOccurred())
		defer os.RemoveAll(tmp)

		path := filepath.Join(tmp, "elections.db")
		db, err := OpenSQLStore(SQLite, path)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(db.Save(makeRecord("a"))).Should(Succeed())
		Ω(db.Quarantine("a", fmt.Errorf("%w: bad phase", ErrCorrupt))).Should(Succeed())
		Ω(db.Save(makeRecord("b"))).Should(Succeed())
		Ω(db.Close()).Should(Succeed())

		db, err = OpenSQLStore(SQLite, path)
		Ω(err).ShouldNot(HaveOccurred())
		defer db.Close()

		records, err := db.LoadActive()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(records).Should(HaveLen(1))
		Ω(records[0].ID).Should(Equal("b"))

		ids, err := db.Quarantined()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ids).Should(Equal([]string{"a"}))
	})
})

var _ = Describe("Open", func() {

	var tmp string

	BeforeEach(func() {
		var err error
		tmp, err = os.MkdirTemp("", "store-*")
		Ω(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		Ω(os.RemoveAll(tmp)).Should(Succeed())
	})

	It("should open a file store without a dsn", func() {
		db, err := Open("", tmp)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(db).Should(BeAssignableToTypeOf(&FileStore{}))
	})

	It("should open a sqlite store from a dsn", func() {
		db, err := Open("sqlite://"+filepath.Join(tmp, "elections.db"), tmp)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(db).Should(BeAssignableToTypeOf(&SQLStore{}))
		Ω(db.Close()).Should(Succeed())
		Ω(filepath.Join(tmp, "elections.db")).Should(BeAnExistingFile())
	})

	It("should reject unknown schemes", func() {
		_, err := Open("mysql://localhost/elections", tmp)
		Ω(err).Should(MatchError(ErrUnknownDriver))
	})
})

var _ = Describe("Timestamp", func() {

	It("should round trip through the zero value", func() {
		ts := FromTime(time.Time{})
		Ω(ts.IsZero()).Should(BeTrue())

		t, err := ts.Get()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(t.IsZero()).Should(BeTrue())
	})

	It("should keep nanoseconds in UTC", func() {
		now := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.FixedZone("EST", -5*3600))
		t, err := FromTime(now).Get()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(t).Should(BeTemporally("==", now))
		Ω(t.Location()).Should(Equal(time.UTC))
	})

	It("should report unparseable timestamps", func() {
		_, err := Timestamp("yesterday").Get()
		Ω(err).Should(HaveOccurred())
	})
})

var _ = Describe("Record", func() {

	It("should reject documents without an id", func() {
		_, err := Unmarshal([]byte(`{"phase": "voting"}`))
		Ω(err).Should(MatchError(ErrCorrupt))

		_, err = Unmarshal([]byte(`[1, 2, 3]`))
		Ω(err).Should(MatchError(ErrCorrupt))
	})
})
