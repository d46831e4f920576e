package store

import (
	"encoding/json"
	"fmt"
)

// RecordVersion is the current version of the record document.
const RecordVersion = 1

// Record is the durable form of one election. Every timing field is an
// absolute timestamp so that an election can be resumed after any amount of
// downtime without re-deriving deadlines.
type Record struct {
	Version          int               `json:"version"`
	ID               string            `json:"id"`
	ContextKind      string            `json:"context_kind"`
	ContextID        string            `json:"context_id"`
	Type             string            `json:"type"`
	Government       string            `json:"government"`
	Electorate       string            `json:"electorate"`
	Roster           []string          `json:"roster,omitempty"`
	CitizenFallback  bool              `json:"citizen_fallback,omitempty"`
	Seats            int               `json:"seats,omitempty"`
	Phase            string            `json:"phase"`
	Started          Timestamp         `json:"started"`
	RegistrationEnds Timestamp         `json:"registration_ends"`
	VotingEnds       Timestamp         `json:"voting_ends"`
	Closed           Timestamp         `json:"closed,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	RunoffOf         string            `json:"runoff_of,omitempty"`
	Round            int               `json:"round,omitempty"`
	Candidates       []CandidateRecord `json:"candidates"`
	Voters           []string          `json:"voters"`
	Results          *ResultsRecord    `json:"results,omitempty"`
}

// CandidateRecord stores a candidate with its tally and cached names.
type CandidateRecord struct {
	Participant string `json:"participant"`
	Party       string `json:"party,omitempty"`
	Votes       int64  `json:"votes"`
	Name        string `json:"name,omitempty"`
	PartyName   string `json:"party_name,omitempty"`
}

// ResultsRecord stores the computed results and seat distribution.
type ResultsRecord struct {
	Winner       string         `json:"winner,omitempty"`
	WinningParty string         `json:"winning_party,omitempty"`
	Seats        map[string]int `json:"seats,omitempty"`
	Members      []string       `json:"members,omitempty"`
	Tied         []string       `json:"tied,omitempty"`
	Runoff       string         `json:"runoff,omitempty"`
	TotalVotes   int64          `json:"total_votes"`
	Quota        float64        `json:"quota,omitempty"`
	Degenerate   bool           `json:"degenerate,omitempty"`
}

// Marshal the record as indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Unmarshal a record, returning ErrCorrupt if the document cannot be decoded
// or does not identify an election.
func Unmarshal(data []byte) (*Record, error) {
	rec := new(Record)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	if rec.ID == "" {
		return nil, fmt.Errorf("%w: record has no id", ErrCorrupt)
	}
	return rec, nil
}
