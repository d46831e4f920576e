package elections

import (
	"fmt"
	"strings"
)

// Election phases, in lifecycle order. None is the zero value and default.
const (
	None Phase = iota
	PendingStart
	Registration
	Voting
	Counting
	AwaitingTieResolution
	Finished
	Cancelled
)

// Names of the phases for serialization
var phaseStrings = [...]string{
	"none", "pending_start", "registration", "voting", "counting",
	"awaiting_tie_resolution", "finished", "cancelled",
}

// Allowed phase transitions; cancellation from non-terminal phases is handled
// separately by CanTransition.
var transitions = map[Phase][]Phase{
	None:                  {PendingStart, Registration},
	PendingStart:          {Registration},
	Registration:          {Voting},
	Voting:                {Counting},
	Counting:              {Finished, AwaitingTieResolution},
	AwaitingTieResolution: {Finished},
}

//===========================================================================
// Phase Enumeration
//===========================================================================

// Phase is an enumeration of the states an election moves through.
type Phase uint8

// String returns a human readable representation of the phase.
func (p Phase) String() string {
	if int(p) >= len(phaseStrings) {
		return "unknown"
	}
	return phaseStrings[p]
}

// ParsePhase returns the phase for the serialized name.
func ParsePhase(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range phaseStrings {
		if name == s {
			return Phase(i), nil
		}
	}
	return None, fmt.Errorf("unknown phase %q", s)
}

// Terminal returns true for phases that no longer change.
func (p Phase) Terminal() bool {
	return p == Finished || p == Cancelled
}

// CanTransition returns true if the state machine allows moving from p to next.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}

	if next == Cancelled {
		return true
	}

	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
