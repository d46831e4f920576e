package registry

import (
	"fmt"
	"time"

	"github.com/bbengfort/elections"
)

// Parties implements the engine's party registry over a world.
type Parties struct {
	w *World
}

// Parties returns the ids of every party in sorted order.
func (r *Parties) Parties() ([]string, error) {
	r.w.RLock()
	defer r.w.RUnlock()
	return sortedKeys(r.w.parties), nil
}

// Party returns a copy of the party.
func (r *Parties) Party(id string) (elections.Party, bool) {
	r.w.RLock()
	defer r.w.RUnlock()

	p, ok := r.w.parties[id]
	if !ok {
		return elections.Party{}, false
	}

	return elections.Party{
		ID:      p.ID,
		Name:    p.Name,
		Nation:  p.Nation,
		Leader:  p.Leader,
		Members: append([]string(nil), p.Members...),
	}, true
}

// PartiesIn returns the ids of the parties registered in the nation.
func (r *Parties) PartiesIn(nation string) []string {
	r.w.RLock()
	defer r.w.RUnlock()

	var ids []string
	for _, id := range sortedKeys(r.w.parties) {
		if r.w.parties[id].Nation == nation {
			ids = append(ids, id)
		}
	}
	return ids
}

// PartyOf returns the party the participant is a member of, if any.
func (r *Parties) PartyOf(participant string) (string, bool) {
	r.w.RLock()
	defer r.w.RUnlock()
	return r.w.partyOf(participant)
}

// SetLeader installs the participant as the leader of the party.
func (r *Parties) SetLeader(party, participant string) error {
	r.w.Lock()
	defer r.w.Unlock()

	p, ok := r.w.parties[party]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownParty, party)
	}
	p.Leader = participant
	return nil
}

// LastCompleted returns when the party last finished a leadership election.
func (r *Parties) LastCompleted(party string) (time.Time, bool) {
	r.w.RLock()
	defer r.w.RUnlock()
	if p, ok := r.w.parties[party]; ok && !p.Completed.IsZero() {
		return p.Completed, true
	}
	return time.Time{}, false
}

// SetLastCompleted records when the party finished a leadership election.
func (r *Parties) SetLastCompleted(party string, ts time.Time) error {
	r.w.Lock()
	defer r.w.Unlock()

	p, ok := r.w.parties[party]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownParty, party)
	}
	p.Completed = ts
	return nil
}
