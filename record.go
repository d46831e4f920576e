package elections

import (
	"fmt"
	"time"

	"github.com/bbengfort/elections/store"
	"github.com/google/uuid"
)

// toRecord converts a snapshot into its durable form.
func toRecord(s Snapshot) *store.Record {
	rec := &store.Record{
		Version:          store.RecordVersion,
		ID:               s.ID,
		ContextKind:      s.Context.Kind.String(),
		ContextID:        s.Context.ID,
		Type:             s.Type.String(),
		Government:       s.Government,
		Electorate:       s.Electorate.String(),
		Roster:           s.Roster,
		CitizenFallback:  s.CitizenFallback,
		Seats:            s.Seats,
		Phase:            s.Phase.String(),
		Started:          store.FromTime(s.Started),
		RegistrationEnds: store.FromTime(s.RegistrationEnds),
		VotingEnds:       store.FromTime(s.VotingEnds),
		Closed:           store.FromTime(s.Closed),
		Reason:           s.Reason,
		RunoffOf:         s.RunoffOf,
		Round:            s.Round,
		Candidates:       make([]store.CandidateRecord, 0, len(s.Candidates)),
		Voters:           s.Voters,
	}

	for _, c := range s.Candidates {
		rec.Candidates = append(rec.Candidates, store.CandidateRecord{
			Participant: c.Participant,
			Party:       c.Party,
			Votes:       c.Votes,
			Name:        c.Name,
			PartyName:   c.PartyName,
		})
	}

	if s.Results != nil {
		rec.Results = &store.ResultsRecord{
			Winner:       s.Results.Winner,
			WinningParty: s.Results.WinningParty,
			Seats:        s.Results.Seats,
			Members:      s.Results.Members,
			Tied:         s.Results.Tied,
			Runoff:       s.Results.Runoff,
			TotalVotes:   s.Results.TotalVotes,
			Quota:        s.Results.Quota,
			Degenerate:   s.Results.Degenerate,
		}
	}
	return rec
}

// fromRecord reconstructs an election from its durable form, rejecting any
// record whose fields cannot describe a valid election.
func fromRecord(rec *store.Record) (e *Election, err error) {
	if _, err = uuid.Parse(rec.ID); err != nil {
		return nil, fmt.Errorf("%w: invalid election id: %s", store.ErrCorrupt, err)
	}

	var ctx Context
	if ctx.Kind, err = ParseContextKind(rec.ContextKind); err != nil {
		return nil, corrupt(err)
	}
	if ctx.ID = rec.ContextID; ctx.ID == "" {
		return nil, corrupt(ErrUnknownContext)
	}

	var etype ElectionType
	if etype, err = ParseElectionType(rec.Type); err != nil {
		return nil, corrupt(err)
	}
	if !etype.Legal(ctx.Kind) {
		return nil, corrupt(ErrContextMismatch)
	}

	var phase Phase
	if phase, err = ParsePhase(rec.Phase); err != nil {
		return nil, corrupt(err)
	}

	var electorate Electorate
	if electorate, err = ParseElectorate(rec.Electorate); err != nil {
		return nil, corrupt(err)
	}

	var started, registrationEnds, votingEnds, closed time.Time
	for _, ts := range []struct {
		dst *time.Time
		src store.Timestamp
	}{
		{&started, rec.Started}, {&registrationEnds, rec.RegistrationEnds},
		{&votingEnds, rec.VotingEnds}, {&closed, rec.Closed},
	} {
		if *ts.dst, err = ts.src.Get(); err != nil {
			return nil, corrupt(err)
		}
	}

	if started.IsZero() || registrationEnds.Before(started) || votingEnds.Before(registrationEnds) {
		return nil, corrupt(fmt.Errorf("inconsistent election timestamps"))
	}

	e = NewElection(rec.ID, ctx, etype, started, registrationEnds, votingEnds)
	e.government = rec.Government
	e.electorate = electorate
	e.fallback = rec.CitizenFallback
	e.seats = rec.Seats
	e.phase = phase
	e.closed = closed
	e.reason = rec.Reason
	e.runoffOf = rec.RunoffOf
	e.round = rec.Round

	if electorate == Legislators {
		e.roster = make(map[string]struct{}, len(rec.Roster))
		for _, member := range rec.Roster {
			e.roster[member] = struct{}{}
		}
	}

	for _, cr := range rec.Candidates {
		if cr.Participant == "" || cr.Votes < 0 {
			return nil, corrupt(fmt.Errorf("invalid candidate %q", cr.Participant))
		}
		if _, ok := e.candidates[cr.Participant]; ok {
			return nil, corrupt(fmt.Errorf("duplicate candidate %q", cr.Participant))
		}

		c := NewCandidate(cr.Participant, cr.Party)
		c.SetVotes(cr.Votes)
		c.SetDisplay(cr.Name, cr.PartyName)
		e.candidates[cr.Participant] = c
	}

	e.ledger.restore(rec.Voters, started)

	if rec.Results != nil {
		e.results = &Results{
			Winner:       rec.Results.Winner,
			WinningParty: rec.Results.WinningParty,
			Seats:        rec.Results.Seats,
			Members:      rec.Results.Members,
			Tied:         rec.Results.Tied,
			Runoff:       rec.Results.Runoff,
			TotalVotes:   rec.Results.TotalVotes,
			Quota:        rec.Results.Quota,
			Degenerate:   rec.Results.Degenerate,
		}
	}

	if phase == AwaitingTieResolution && (e.results == nil || len(e.results.Tied) == 0) {
		return nil, corrupt(fmt.Errorf("tied election has no tied candidates"))
	}
	return e, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %s", store.ErrCorrupt, err)
}
