package elections

import "time"

// Government describes the rules a nation's current government type imposes
// on elections. The engine caches the type name on an election when it starts
// so that the rules stay fixed even if the government changes mid election.
type Government struct {
	Type                    string         // classification, e.g. "republic" or "monarchy"
	Permits                 []ElectionType // election types that may be held
	Seats                   int            // seat budget of the legislature, zero for the configured default
	LegislatureElectsLeader bool           // presidential elections are voted on by legislators
}

// Allows returns true if the government permits elections of the given type.
func (g Government) Allows(etype ElectionType) bool {
	for _, permitted := range g.Permits {
		if permitted == etype {
			return true
		}
	}
	return false
}

// Parliament is the outcome of a parliamentary election applied to a nation.
type Parliament struct {
	Seats        map[string]int // seats held per party
	WinningParty string         // party with the most seats, empty if none
	Members      []string       // participants holding a seat
	Elected      time.Time      // when the election finished
}

// Party is the registry view of a political party.
type Party struct {
	ID      string
	Name    string
	Nation  string   // nation the party is registered in
	Leader  string   // current leader, if any
	Members []string // participant ids, including the leader
}

// HasMember returns true if the participant belongs to the party.
func (p Party) HasMember(participant string) bool {
	for _, member := range p.Members {
		if member == participant {
			return true
		}
	}
	return false
}

// NationRegistry is the narrow view of the nation and government registry
// consumed by the engine.
type NationRegistry interface {
	Nations() ([]string, error)
	Government(nation string) (Government, error)
	IsCitizen(nation, participant string) bool
	Leader(nation string) (string, bool)
	SetLeader(nation, participant string) error
	Legislators(nation string) []string
	SetParliament(nation string, result Parliament) error
	LastCompleted(nation string, etype ElectionType) (time.Time, bool)
	SetLastCompleted(nation string, etype ElectionType, ts time.Time) error
}

// PartyRegistry is the narrow view of the party registry consumed by the engine.
type PartyRegistry interface {
	Parties() ([]string, error)
	Party(id string) (Party, bool)
	PartiesIn(nation string) []string
	PartyOf(participant string) (string, bool)
	SetLeader(party, participant string) error
	LastCompleted(party string) (time.Time, bool)
	SetLastCompleted(party string, ts time.Time) error
}

// Directory resolves display names for participants and parties. Names are
// only cached on candidates for display and are never authoritative.
type Directory interface {
	DisplayName(participant string) string
	PartyName(party string) string
}

// Clock returns the current time; tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
