package elections

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbengfort/x/stats"
)

// Metrics tracks the measurable statistics of the engine over time, e.g. how
// many ballots were cast and how long it took to count them.
type Metrics struct {
	sync.RWMutex
	started   time.Time         // The time of the first ballot
	finished  time.Time         // The time of the last ballot
	elections uint64            // Number of elections started
	completed uint64            // Number of elections finished
	cancelled uint64            // Number of elections cancelled
	archived  uint64            // Number of elections archived
	ties      uint64            // Number of counts that ended in a tie
	runoffs   uint64            // Number of run-offs started
	ballots   uint64            // Number of accepted ballots
	rejected  uint64            // Number of rejected ballots
	voters    map[string]bool   // The unique voters seen
	tally     *stats.Statistics // Counting latency in milliseconds
	turnout   *stats.Statistics // Ballots counted per election
}

// NewMetrics creates the metrics data store
func NewMetrics() *Metrics {
	return &Metrics{
		voters:  make(map[string]bool),
		tally:   new(stats.Statistics),
		turnout: new(stats.Statistics),
	}
}

// Vote registers a ballot, accepted if err is nil.
func (m *Metrics) Vote(voter string, err error) {
	m.Lock()
	defer m.Unlock()

	if err != nil {
		m.rejected++
		return
	}

	m.voters[voter] = true
	m.ballots++

	m.finished = time.Now()
	if m.started.IsZero() {
		m.started = m.finished
	}
}

// Started is called when an election opens registration.
func (m *Metrics) Started() {
	m.Lock()
	defer m.Unlock()
	m.elections++
}

// Finished is called when an election finishes.
func (m *Metrics) Finished() {
	m.Lock()
	defer m.Unlock()
	m.completed++
}

// Cancelled is called when an election is cancelled.
func (m *Metrics) Cancelled() {
	m.Lock()
	defer m.Unlock()
	m.cancelled++
}

// Archived is called when an election is moved to the archive.
func (m *Metrics) Archived() {
	m.Lock()
	defer m.Unlock()
	m.archived++
}

// Tie is called when a count ends in a tie that is not broken at random.
func (m *Metrics) Tie() {
	m.Lock()
	defer m.Unlock()
	m.ties++
}

// Runoff is called when a run-off election is started.
func (m *Metrics) Runoff() {
	m.Lock()
	defer m.Unlock()
	m.runoffs++
}

// Tallied records a count. No need for synchronization here since the stats
// objects are synchronized.
func (m *Metrics) Tallied(ballots int64, latency time.Duration) {
	m.tally.Update(float64(latency) / float64(time.Millisecond))
	m.turnout.Update(float64(ballots))
}

// Counts returns the number of elections started, finished, and cancelled
// and the number of accepted and rejected ballots.
func (m *Metrics) Counts() (started, finished, cancelled, ballots, rejected uint64) {
	m.RLock()
	defer m.RUnlock()
	return m.elections, m.completed, m.cancelled, m.ballots, m.rejected
}

// Dump the metrics to JSON
func (m *Metrics) Dump(path string, extra map[string]interface{}) (err error) {
	if path == "" {
		return errors.New("no metrics path specified")
	}

	m.RLock()
	defer m.RUnlock()

	data := make(map[string]interface{})

	// Append extra information
	for key, val := range extra {
		data[key] = val
	}

	data["metric"] = "engine"
	data["version"] = PackageVersion
	data["started"] = m.started.Format(time.RFC3339Nano)
	data["finished"] = m.finished.Format(time.RFC3339Nano)
	data["elections"] = m.elections
	data["completed"] = m.completed
	data["cancelled"] = m.cancelled
	data["archived"] = m.archived
	data["ties"] = m.ties
	data["runoffs"] = m.runoffs
	data["ballots"] = m.ballots
	data["rejected"] = m.rejected
	data["voters"] = len(m.voters)
	data["throughput"] = m.throughput()
	data["duration"] = m.duration().String()
	data["tally"] = m.tally.Serialize()
	data["turnout"] = m.turnout.Serialize()

	return appendJSON(path, data)
}

// String returns a summary of the ballot metrics
func (m *Metrics) String() string {
	m.RLock()
	defer m.RUnlock()

	return fmt.Sprintf(
		"%d elections, %d ballots, %d rejected in %s -- %0.3f ballots/sec",
		m.elections, m.ballots, m.rejected, m.duration(), m.throughput(),
	)
}

// Duration computes the amount of time ballots were received.
func (m *Metrics) duration() time.Duration {
	return m.finished.Sub(m.started)
}

// Throughput computes the number of ballots per second.
func (m *Metrics) throughput() float64 {
	duration := m.duration()
	if duration == 0 || m.ballots == 0 {
		return 0.0
	}

	return float64(m.ballots) / duration.Seconds()
}
