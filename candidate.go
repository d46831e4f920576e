package elections

import (
	"sync"
	"sync/atomic"
)

// NewCandidate creates a candidate for the participant, optionally affiliated
// with a party (empty for independents).
func NewCandidate(participant, party string) *Candidate {
	return &Candidate{participant: participant, party: party}
}

// Candidate is one contestant in a single election. The vote counter is
// updated atomically so many voters can be recorded at once; the display
// names are a non-authoritative cache.
type Candidate struct {
	participant string       // unique participant id within the election
	party       string       // party affiliation, empty for independents
	votes       atomic.Int64 // number of ballots cast for the candidate

	mu        sync.RWMutex
	name      string // cached display name
	partyName string // cached party display name
}

// Participant returns the id of the participant standing as candidate.
func (c *Candidate) Participant() string {
	return c.participant
}

// Party returns the party affiliation of the candidate, if any.
func (c *Candidate) Party() string {
	return c.party
}

// Independent returns true if the candidate has no party affiliation.
func (c *Candidate) Independent() bool {
	return c.party == ""
}

// Votes returns the current number of votes.
func (c *Candidate) Votes() int64 {
	return c.votes.Load()
}

// AddVote increments the tally by exactly one and returns the new count.
func (c *Candidate) AddVote() int64 {
	return c.votes.Add(1)
}

// SetVotes overrides the tally, clamping negative values to zero. Only used
// when loading from storage or by administrators.
func (c *Candidate) SetVotes(n int64) {
	if n < 0 {
		n = 0
	}
	c.votes.Store(n)
}

// Name returns the cached display name, falling back to the participant id.
func (c *Candidate) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.name == "" {
		return c.participant
	}
	return c.name
}

// PartyName returns the cached party display name, falling back to the party id.
func (c *Candidate) PartyName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.partyName == "" {
		return c.party
	}
	return c.partyName
}

// SetDisplay refreshes the cached display names; empty values are ignored.
func (c *Candidate) SetDisplay(name, partyName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		c.name = name
	}
	if partyName != "" {
		c.partyName = partyName
	}
}

// Equal compares candidates by participant only.
func (c *Candidate) Equal(o *Candidate) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.participant == o.participant
}

// Info returns an immutable view of the candidate.
func (c *Candidate) Info() CandidateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CandidateInfo{
		Participant: c.participant,
		Party:       c.party,
		Votes:       c.votes.Load(),
		Name:        c.name,
		PartyName:   c.partyName,
	}
}

// CandidateInfo is a point in time copy of a candidate.
type CandidateInfo struct {
	Participant string
	Party       string
	Votes       int64
	Name        string
	PartyName   string
}
