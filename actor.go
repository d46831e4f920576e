package elections

import "sync"

// Buffer size to instantiate actor channels with
const actorEventBufferSize = 1024

// Actor objects listen for events and handle them one at a time, in the
// order they were dispatched. The engine dispatches notifications through an
// actor so that a slow sink never blocks a phase transition, while the sink
// still sees events for an election in the order they happened.
type Actor interface {
	Listen() error        // Run the actor model listen for events and handle them
	Close() error         // Stop the actor from receiving new events (handles remaining pending events)
	Dispatch(Event) error // Outside callers can dispatch events to the actor
	Handle(Event) error   // Handler method for each event in sequence
}

//===========================================================================
// Non-Blocking Actor
//===========================================================================

// NewActor returns a new simple actor that passes events one at a time to the
// callback function specified by looping on an internal buffered channel so
// that event dispatchers are not blocked.
func NewActor(callback Callback) Actor {
	return &actor{
		handler: callback,
		events:  make(chan Event, actorEventBufferSize),
	}
}

// A simple implementation of an actor object that can be embedded into other
// objects so they only have to implement the Handle method to meet the
// interface requirements.
type actor struct {
	sync.RWMutex
	handler Callback
	events  chan Event
	closed  bool
}

// Listen for events, handling them with the default callback handler. Handler
// errors do not stop the actor; a failed notification must not prevent the
// delivery of the ones that follow. If the actor is closed externally, then
// Listen will finish all remaining events and return nil.
func (a *actor) Listen() error {
	for event := range a.events {
		a.Handle(event)
	}
	return nil
}

// Close the actor by shutting down the events channel, allowing the listener
// to complete all remaining events then stop listening gracefully.
func (a *actor) Close() error {
	a.Lock()
	defer a.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.events)
	return nil
}

// Dispatch an event on the actor for the listener to handle.
func (a *actor) Dispatch(e Event) error {
	a.RLock()
	defer a.RUnlock()
	if a.closed {
		return ErrEngineClosed
	}
	a.events <- e
	return nil
}

// Handle each event by passing it to the callback function.
func (a *actor) Handle(e Event) error {
	if a.handler == nil {
		return nil
	}
	return a.handler(e)
}

//===========================================================================
// Blocking Actor
//===========================================================================

// NewLocker returns a new simple actor that passes events one at a time to the
// callback function specified by locking on every dispatch call so that event
// dispatchers must wait until the event is successfully handled.
func NewLocker(callback Callback) Actor {
	return &locker{
		handler: callback,
		done:    make(chan error, 1),
	}
}

type locker struct {
	sync.Mutex
	handler Callback
	done    chan error
	closed  bool
}

func (a *locker) Listen() error {
	return <-a.done
}

func (a *locker) Close() error {
	a.Lock()
	defer a.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.done <- nil
	return nil
}

func (a *locker) Dispatch(e Event) error {
	a.Lock()
	defer a.Unlock()
	if a.closed {
		return ErrEngineClosed
	}
	return a.Handle(e)
}

func (a *locker) Handle(e Event) error {
	if a.handler == nil {
		return nil
	}
	return a.handler(e)
}
