package elections

// Event types emitted to the notification sink
const (
	UnknownEvent EventType = iota
	CycleStarted
	RegistrationOpened
	CandidateRegistered
	CandidateWithdrawn
	VotingOpened
	TieDetected
	RunoffStarted
	ResultsAnnounced
	LeaderChanged
	ElectionCancelled
	ElectionArchived
)

// Names of event types
var eventTypeStrings = [...]string{
	"unknown", "cycleStarted", "registrationOpened", "candidateRegistered",
	"candidateWithdrawn", "votingOpened", "tieDetected", "runoffStarted",
	"resultsAnnounced", "leaderChanged", "electionCancelled", "electionArchived",
}

//===========================================================================
// Event Types
//===========================================================================

// EventType is an enumeration of the kind of events that can occur.
type EventType uint16

// String returns the name of event types
func (t EventType) String() string {
	if int(t) >= len(eventTypeStrings) {
		return eventTypeStrings[0]
	}
	return eventTypeStrings[t]
}

// Callback is a function that can receive events. A notification sink is a
// callback; the presentation layer renders and delivers the events.
type Callback func(Event) error

//===========================================================================
// Event Definition and Methods
//===========================================================================

// Event represents a semantic change in an election. Events carry no
// formatting, only the state of the election when the event occurred and a
// value specific to the event type:
//
//	CandidateRegistered, CandidateWithdrawn: participant id (string)
//	TieDetected: tied participant ids ([]string)
//	RunoffStarted: run-off election id (string)
//	LeaderChanged: new leader participant id (string)
//	ElectionCancelled: reason (string)
type Event interface {
	Type() EventType
	Source() Snapshot
	Value() interface{}
}

// event is an internal implementation of the Event interface.
type event struct {
	etype  EventType
	source Snapshot
	value  interface{}
}

// Type returns the event type.
func (e *event) Type() EventType {
	return e.etype
}

// Source returns the state of the election that dispatched the event.
func (e *event) Source() Snapshot {
	return e.source
}

// Value returns the current value associated with the event.
func (e *event) Value() interface{} {
	return e.value
}
