package registry

import (
	"fmt"
	"time"

	"github.com/bbengfort/elections"
)

// Nations implements the engine's nation registry over a world.
type Nations struct {
	w *World
}

// Nations returns the ids of every nation in sorted order.
func (r *Nations) Nations() ([]string, error) {
	r.w.RLock()
	defer r.w.RUnlock()
	return sortedKeys(r.w.nations), nil
}

// Government returns the rules of the nation's current government.
func (r *Nations) Government(nation string) (elections.Government, error) {
	r.w.RLock()
	defer r.w.RUnlock()

	n, ok := r.w.nations[nation]
	if !ok {
		return elections.Government{}, fmt.Errorf("%w %q", ErrUnknownNation, nation)
	}

	gov, ok := r.w.governments[n.Government]
	if !ok {
		return elections.Government{}, fmt.Errorf("%w %q", ErrUnknownGovernment, n.Government)
	}
	return gov, nil
}

// IsCitizen returns true if the participant is a citizen of the nation.
func (r *Nations) IsCitizen(nation, participant string) bool {
	r.w.RLock()
	defer r.w.RUnlock()
	n, ok := r.w.nations[nation]
	return ok && contains(n.Citizens, participant)
}

// Leader returns the current leader of the nation, if any.
func (r *Nations) Leader(nation string) (string, bool) {
	r.w.RLock()
	defer r.w.RUnlock()
	if n, ok := r.w.nations[nation]; ok && n.Leader != "" {
		return n.Leader, true
	}
	return "", false
}

// SetLeader installs the participant as the leader of the nation.
func (r *Nations) SetLeader(nation, participant string) error {
	r.w.Lock()
	defer r.w.Unlock()

	n, ok := r.w.nations[nation]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNation, nation)
	}
	n.Leader = participant
	return nil
}

// Legislators returns the members of the nation's current parliament.
func (r *Nations) Legislators(nation string) []string {
	r.w.RLock()
	defer r.w.RUnlock()
	if n, ok := r.w.nations[nation]; ok && n.Parliament != nil {
		return append([]string(nil), n.Parliament.Members...)
	}
	return nil
}

// SetParliament installs the result of a parliamentary election.
func (r *Nations) SetParliament(nation string, result elections.Parliament) error {
	r.w.Lock()
	defer r.w.Unlock()

	n, ok := r.w.nations[nation]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNation, nation)
	}
	n.Parliament = &result
	return nil
}

// LastCompleted returns when the last election of the type finished.
func (r *Nations) LastCompleted(nation string, etype elections.ElectionType) (time.Time, bool) {
	r.w.RLock()
	defer r.w.RUnlock()
	if n, ok := r.w.nations[nation]; ok {
		ts, ok := n.Completed[etype.String()]
		return ts, ok
	}
	return time.Time{}, false
}

// SetLastCompleted records when the last election of the type finished.
func (r *Nations) SetLastCompleted(nation string, etype elections.ElectionType, ts time.Time) error {
	r.w.Lock()
	defer r.w.Unlock()

	n, ok := r.w.nations[nation]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNation, nation)
	}
	if n.Completed == nil {
		n.Completed = make(map[string]time.Time)
	}
	n.Completed[etype.String()] = ts
	return nil
}
