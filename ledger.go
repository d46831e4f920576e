package elections

import (
	"sort"
	"sync"
	"time"
)

// NewLedger creates an empty voter ledger.
func NewLedger() *Ledger {
	return &Ledger{
		voters:  make(map[string]time.Time),
		created: time.Now(),
	}
}

// Ledger records which participants have cast a ballot in an election. It
// never records the choice they made. Entries are append only: once a voter
// has been spent they cannot be removed or re-used, which is how double
// voting and vote changes are rejected.
//
// The ledger lock also guards the candidate tally increment that accompanies
// a spend so that snapshots always see voters and counts that agree.
type Ledger struct {
	sync.RWMutex
	voters  map[string]time.Time // voter id to the time the ballot was recorded
	created time.Time            // timestamp the ledger was created
	updated time.Time            // timestamp of the last spend
}

// Spend marks the voter as having voted at the given time. Returns false if
// the voter was already spent. The caller must hold the write lock.
func (l *Ledger) spend(voter string, at time.Time) bool {
	if _, ok := l.voters[voter]; ok {
		return false
	}
	l.voters[voter] = at
	l.updated = at
	return true
}

// HasVoted returns true if the voter has cast a ballot.
func (l *Ledger) HasVoted(voter string) bool {
	l.RLock()
	defer l.RUnlock()
	_, ok := l.voters[voter]
	return ok
}

// Len returns the number of ballots cast.
func (l *Ledger) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.voters)
}

// Updated returns the time of the most recent ballot.
func (l *Ledger) Updated() time.Time {
	l.RLock()
	defer l.RUnlock()
	return l.updated
}

// Voters returns a sorted copy of the ids of everyone who has voted.
func (l *Ledger) Voters() []string {
	l.RLock()
	defer l.RUnlock()
	return l.voterList()
}

func (l *Ledger) voterList() []string {
	voters := make([]string, 0, len(l.voters))
	for voter := range l.voters {
		voters = append(voters, voter)
	}
	sort.Strings(voters)
	return voters
}

// restore loads spent voters from storage without timestamps.
func (l *Ledger) restore(voters []string, at time.Time) {
	l.Lock()
	defer l.Unlock()
	for _, voter := range voters {
		l.voters[voter] = at
	}
	if len(voters) > 0 {
		l.updated = at
	}
}
