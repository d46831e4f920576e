package elections

import "errors"

// Standard errors for primary operations.
var (
	ErrAlreadyActive      = errors.New("an election is already active for this context")
	ErrUnknownElection    = errors.New("no election with the specified id")
	ErrWrongPhase         = errors.New("operation not allowed in the current phase")
	ErrAlreadyVoted       = errors.New("voter has already cast a ballot")
	ErrUnknownCandidate   = errors.New("no such candidate in this election")
	ErrAlreadyRegistered  = errors.New("participant is already a candidate")
	ErrNotEligible        = errors.New("participant is not eligible")
	ErrGovernmentForbids  = errors.New("government type does not permit this election")
	ErrTooFewParties      = errors.New("too few parties to elect a legislature")
	ErrTooFewMembers      = errors.New("too few party members to elect a leader")
	ErrContextMismatch    = errors.New("election type cannot be held for this context")
	ErrUnknownContext     = errors.New("context does not exist")
	ErrNoLegislature      = errors.New("no legislature exists to elect the leader")
	ErrNotTied            = errors.New("winner is not among the tied leaders")
	ErrInvalidSeats       = errors.New("seat budget must be greater than zero")
	ErrEngineClosed       = errors.New("election engine is closed")
	ErrNotListening       = errors.New("health server is not listening")
	ErrBenchmarkNotRun    = errors.New("benchmark has not been run yet")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrUnknownTieBreak    = errors.New("unknown tie break policy")
)
