package elections

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Electorates define who may vote; the electorate is fixed when the election
// starts and never re-evaluated per ballot.
const (
	Citizens Electorate = iota
	Members
	Legislators
)

var electorateStrings = [...]string{"citizens", "members", "legislators"}

// Electorate is an enumeration of the groups of participants who may vote.
type Electorate uint8

// String returns the name of the electorate.
func (e Electorate) String() string {
	if int(e) >= len(electorateStrings) {
		return "unknown"
	}
	return electorateStrings[e]
}

// ParseElectorate returns the electorate for the serialized name.
func ParseElectorate(s string) (Electorate, error) {
	for i, name := range electorateStrings {
		if name == s {
			return Electorate(i), nil
		}
	}
	return Citizens, fmt.Errorf("unknown electorate %q", s)
}

//===========================================================================
// Election Aggregate
//===========================================================================

// NewElection creates an election in the None phase for the given context
// and type. The timestamps are absolute so that no timing has to be
// re-derived after a restart.
func NewElection(id string, ctx Context, etype ElectionType, started, registrationEnds, votingEnds time.Time) *Election {
	return &Election{
		id:               id,
		context:          ctx,
		etype:            etype,
		phase:            None,
		started:          started,
		registrationEnds: registrationEnds,
		votingEnds:       votingEnds,
		candidates:       make(map[string]*Candidate),
		ledger:           NewLedger(),
	}
}

// Election is one run of a vote for a context. Phase transitions and
// candidate changes take the write lock; ballots take the read lock so that
// many voters are recorded concurrently while no transition can interleave.
type Election struct {
	mu     sync.RWMutex
	saveMu sync.Mutex // orders snapshots handed to the store

	id         string       // globally unique, immutable
	context    Context      // the nation or party the election is held for
	etype      ElectionType // the kind of election
	government string       // government type cached at the start of the election
	electorate Electorate   // who may vote, fixed at start
	roster     map[string]struct{}
	fallback   bool // legislators were expected but citizens vote instead
	seats      int  // seat budget of a parliamentary election, fixed at start
	runoffOf   string
	round      int

	phase            Phase
	started          time.Time
	registrationEnds time.Time
	votingEnds       time.Time
	closed           time.Time
	reason           string

	candidates map[string]*Candidate
	ledger     *Ledger
	results    *Results
}

// Results of a finished election. Single winner elections populate Winner
// (or Tied while awaiting resolution); parliamentary elections populate the
// party seat distribution and the roster of elected members.
type Results struct {
	Winner       string         // winning participant of a single winner election
	WinningParty string         // party with the most seats, or the winner's party
	Seats        map[string]int // seats won per party
	Members      []string       // participants elected to the legislature
	Tied         []string       // leaders tied for the most votes
	Runoff       string         // id of the run-off election created to break a tie
	TotalVotes   int64          // number of ballots counted
	Quota        float64        // apportionment quota, if computed
	Degenerate   bool           // apportionment used the single party fallback
}

func (r *Results) copy() *Results {
	if r == nil {
		return nil
	}

	out := *r
	if r.Seats != nil {
		out.Seats = make(map[string]int, len(r.Seats))
		for party, seats := range r.Seats {
			out.Seats[party] = seats
		}
	}
	out.Members = append([]string(nil), r.Members...)
	out.Tied = append([]string(nil), r.Tied...)
	return &out
}

// ID returns the unique id of the election.
func (e *Election) ID() string {
	return e.id
}

// Context returns the nation or party the election is held for.
func (e *Election) Context() Context {
	return e.context
}

// Type returns the election type.
func (e *Election) Type() ElectionType {
	return e.etype
}

// Phase returns the current phase of the election.
func (e *Election) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Terminal returns true if the election is finished or cancelled.
func (e *Election) Terminal() bool {
	return e.Phase().Terminal()
}

// RegistrationEnds returns the absolute registration deadline.
func (e *Election) RegistrationEnds() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registrationEnds
}

// VotingEnds returns the absolute voting deadline.
func (e *Election) VotingEnds() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.votingEnds
}

// Results returns a copy of the results, if any have been computed.
func (e *Election) Results() (*Results, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.results.copy(), e.results != nil
}

// Voted returns true if the voter has already cast a ballot.
func (e *Election) Voted(voter string) bool {
	return e.ledger.HasVoted(voter)
}

// Candidate returns a copy of the candidacy for the participant.
func (e *Election) Candidate(participant string) (CandidateInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.candidates[participant]; ok {
		return c.Info(), true
	}
	return CandidateInfo{}, false
}

// Candidates returns copies of all candidacies ordered by votes (highest
// first) and then by participant id.
func (e *Election) Candidates() []CandidateInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.candidateList()
}

func (e *Election) candidateList() []CandidateInfo {
	out := make([]CandidateInfo, 0, len(e.candidates))
	for _, c := range e.candidates {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].Participant < out[j].Participant
	})
	return out
}

//===========================================================================
// Voting
//===========================================================================

// RecordVote casts the voter's ballot for the candidate. The vote is only
// accepted while the election is in the Voting phase, the voter has not voted
// before, and the candidate exists. Ballots can never be changed.
func (e *Election) RecordVote(voter, candidate string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.phase != Voting {
		return ErrWrongPhase
	}

	c, ok := e.candidates[candidate]
	if !ok {
		return ErrUnknownCandidate
	}

	e.ledger.Lock()
	defer e.ledger.Unlock()
	if !e.ledger.spend(voter, time.Now()) {
		return ErrAlreadyVoted
	}
	c.AddVote()
	return nil
}

// LeadingCandidates returns every candidate tied for the highest vote count,
// ordered by participant id. Returns a single candidate when there is no tie.
func (e *Election) LeadingCandidates() []CandidateInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leaders()
}

func (e *Election) leaders() []CandidateInfo {
	var (
		max     int64 = -1
		leading []CandidateInfo
	)

	for _, c := range e.candidates {
		info := c.Info()
		switch {
		case info.Votes > max:
			max = info.Votes
			leading = []CandidateInfo{info}
		case info.Votes == max:
			leading = append(leading, info)
		}
	}

	sort.Slice(leading, func(i, j int) bool { return leading[i].Participant < leading[j].Participant })
	return leading
}

// TotalVotes sums the votes of every candidate.
func (e *Election) TotalVotes() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalVotes()
}

func (e *Election) totalVotes() (total int64) {
	for _, c := range e.candidates {
		total += c.Votes()
	}
	return total
}

// PartyVotes sums candidate votes per party; independents are not included.
func (e *Election) PartyVotes() map[string]int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.partyVotes()
}

func (e *Election) partyVotes() map[string]int64 {
	votes := make(map[string]int64)
	for _, c := range e.candidates {
		if c.Independent() {
			continue
		}
		votes[c.Party()] += c.Votes()
	}
	return votes
}

//===========================================================================
// Mutations (caller holds the write lock)
//===========================================================================

// transition moves the election to the next phase if the state machine allows it.
func (e *Election) transition(next Phase) error {
	if !e.phase.CanTransition(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, e.phase, next)
	}
	e.phase = next
	return nil
}

func (e *Election) addCandidate(c *Candidate) error {
	if e.phase != Registration {
		return ErrWrongPhase
	}
	if _, ok := e.candidates[c.Participant()]; ok {
		return ErrAlreadyRegistered
	}
	e.candidates[c.Participant()] = c
	return nil
}

func (e *Election) removeCandidate(participant string) error {
	if e.phase != Registration {
		return ErrWrongPhase
	}
	if _, ok := e.candidates[participant]; !ok {
		return ErrUnknownCandidate
	}
	delete(e.candidates, participant)
	return nil
}

// stripParty removes every candidate affiliated with the party regardless of
// phase and returns the participants that were removed.
func (e *Election) stripParty(party string) []string {
	var removed []string
	for participant, c := range e.candidates {
		if c.Party() == party {
			delete(e.candidates, participant)
			removed = append(removed, participant)
		}
	}
	sort.Strings(removed)
	return removed
}

func (e *Election) eligible(voter string) bool {
	if e.roster == nil {
		return true
	}
	_, ok := e.roster[voter]
	return ok
}

//===========================================================================
// Snapshots
//===========================================================================

// Snapshot is an immutable copy of an election at a point in time. It is the
// only view of an election handed outside of the engine.
type Snapshot struct {
	ID               string
	Context          Context
	Type             ElectionType
	Government       string
	Electorate       Electorate
	Roster           []string
	CitizenFallback  bool
	Seats            int
	Phase            Phase
	Started          time.Time
	RegistrationEnds time.Time
	VotingEnds       time.Time
	Closed           time.Time
	Reason           string
	RunoffOf         string
	Round            int
	Candidates       []CandidateInfo
	Voters           []string
	Results          *Results
}

// Snapshot returns an immutable copy of the election.
func (e *Election) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot()
}

func (e *Election) snapshot() Snapshot {
	s := Snapshot{
		ID:               e.id,
		Context:          e.context,
		Type:             e.etype,
		Government:       e.government,
		Electorate:       e.electorate,
		CitizenFallback:  e.fallback,
		Seats:            e.seats,
		Phase:            e.phase,
		Started:          e.started,
		RegistrationEnds: e.registrationEnds,
		VotingEnds:       e.votingEnds,
		Closed:           e.closed,
		Reason:           e.reason,
		RunoffOf:         e.runoffOf,
		Round:            e.round,
		Results:          e.results.copy(),
	}

	if e.roster != nil {
		s.Roster = make([]string, 0, len(e.roster))
		for voter := range e.roster {
			s.Roster = append(s.Roster, voter)
		}
		sort.Strings(s.Roster)
	}

	// Hold the ledger so that voters and tallies agree with each other.
	e.ledger.RLock()
	s.Candidates = e.candidateList()
	s.Voters = e.ledger.voterList()
	e.ledger.RUnlock()
	return s
}

// members fills each party's seats with its candidates in order of votes,
// then participant id. A party that wins more seats than it has candidates
// leaves the remainder of its seats unfilled.
func (e *Election) members(seats map[string]int) []string {
	byParty := make(map[string][]CandidateInfo)
	for _, info := range e.candidateList() {
		if info.Party != "" {
			byParty[info.Party] = append(byParty[info.Party], info)
		}
	}

	var elected []string
	for party, n := range seats {
		list := byParty[party]
		if n > len(list) {
			n = len(list)
		}
		for _, info := range list[:n] {
			elected = append(elected, info.Participant)
		}
	}

	sort.Strings(elected)
	return elected
}
