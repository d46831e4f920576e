package elections

import (
	"sync"
	"time"
)

//===========================================================================
// Timer Interface
//===========================================================================

// Timer is an interface that specifies the behavior of one-shot deadline
// dispatchers. A timer calls its function once, after its delay, unless it is
// stopped first. Timers can be started and stopped; once a timer has fired it
// is no longer running and must be replaced rather than restarted.
type Timer interface {
	Start() bool             // start the timer to call its function after the delay
	Stop() bool              // stop the timer, the function will not be called
	Running() bool           // whether or not the timer is waiting to fire
	GetDelay() time.Duration // the delay the timer was created with
	Deadline() time.Time     // the wall clock time the timer fires, if running
}

// NewDeadline creates and initializes a new deadline timer that is not yet started.
func NewDeadline(delay time.Duration, action func()) *Deadline {
	if delay < 0 {
		delay = 0
	}

	return &Deadline{
		delay:       delay,
		callback:    action,
		initialized: true,
	}
}

//===========================================================================
// Deadline Declaration
//===========================================================================

// Deadline calls its callback once when its delay elapses. It wraps a
// time.Timer, guarding against the callback running after Stop has returned.
type Deadline struct {
	sync.Mutex
	delay       time.Duration // the delay before the callback is executed
	callback    func()        // the function called when the deadline is reached
	initialized bool          // if the deadline has been initialized
	running     bool          // if the deadline is waiting to fire
	deadline    time.Time     // the wall clock time of the deadline
	timer       *time.Timer   // the internal timer to wrap
}

// GetDelay returns the delay of the deadline.
func (t *Deadline) GetDelay() time.Duration {
	return t.delay
}

// Deadline returns the time the callback is scheduled for.
func (t *Deadline) Deadline() time.Time {
	t.Lock()
	defer t.Unlock()
	return t.deadline
}

// Start the deadline. Returns false if it is already running or uninitialized.
func (t *Deadline) Start() bool {
	t.Lock()
	defer t.Unlock()

	if t.running || !t.initialized {
		return false
	}

	t.running = true
	t.deadline = time.Now().Add(t.delay)
	t.timer = time.AfterFunc(t.delay, t.action)
	return true
}

// executes the callback if the deadline has not been stopped in the meantime.
func (t *Deadline) action() {
	t.Lock()
	if !t.running {
		t.Unlock()
		return
	}
	t.running = false
	t.Unlock()

	t.callback()
}

// Stop the deadline so that the callback is not called. Returns true if the
// call stops the deadline, false if already fired or never started.
func (t *Deadline) Stop() bool {
	t.Lock()
	defer t.Unlock()

	if !t.running {
		return false
	}

	t.timer.Stop()
	t.running = false
	return true
}

// Running returns true if the deadline is waiting to fire.
func (t *Deadline) Running() bool {
	t.Lock()
	defer t.Unlock()
	return t.running
}
