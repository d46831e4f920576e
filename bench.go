package elections

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// NewBenchmark creates either a blast or a simple benchmark depending on the
// blast boolean flag. Both cast ballots from unique voters for one of K
// candidates against an in-memory election in the voting phase, measuring how
// many ballots the ledger accepts per second. In blast mode, N ballots are
// cast simultaneously, each in its own goroutine. In simple mode, C workers
// cast N ballots each. Note that C is ignored in blast mode.
func NewBenchmark(blast bool, N, C, K uint) (bench Benchmark, err error) {
	if blast {
		bench = &BlastBenchmark{
			operations: N, candidates: K,
			benchmark: benchmark{method: "blast"},
		}
	} else {
		bench = &SimpleBenchmark{
			benchmark:  benchmark{method: "simple"},
			operations: N, candidates: K, concurrency: C,
		}
	}

	if err := bench.Run(); err != nil {
		return nil, err
	}
	return bench, nil
}

// Benchmark defines the interface for all benchmark runners, both for
// execution as well as the delivery of results. A single benchmark is
// executed once and stores its internal results to be saved to disk.
type Benchmark interface {
	Run() error                      // execute the benchmark, may return an error if already run
	CSV(header bool) (string, error) // returns a CSV representation of the results
	JSON(indent int) ([]byte, error) // returns a JSON representation of the results
}

// benchElection creates an election in the voting phase with k candidates
// split across two parties.
func benchElection(k uint) (*Election, []string, error) {
	if k == 0 {
		return nil, nil, errors.New("benchmark requires at least one candidate")
	}

	now := time.Now()
	e := NewElection("benchmark", NationContext("benchmark"), Presidential, now, now, now.Add(time.Hour))
	if err := e.transition(PendingStart); err != nil {
		return nil, nil, err
	}
	if err := e.transition(Registration); err != nil {
		return nil, nil, err
	}

	candidates := make([]string, k)
	for i := uint(0); i < k; i++ {
		candidates[i] = fmt.Sprintf("candidate-%02d", i)
		if err := e.addCandidate(NewCandidate(candidates[i], fmt.Sprintf("party-%d", i%2))); err != nil {
			return nil, nil, err
		}
	}

	if err := e.transition(Voting); err != nil {
		return nil, nil, err
	}
	return e, candidates, nil
}

//===========================================================================
// benchmark
//===========================================================================

// This embedded struct implements shared functionality between many of the
// implemented benchmarks, keeping track of the throughput and the number of
// accepted or rejected ballots.
type benchmark struct {
	method    string          // the name of the benchmark type
	ballots   uint64          // the number of accepted ballots
	failures  uint64          // the number of rejected ballots
	started   time.Time       // the time the benchmark was started
	duration  time.Duration   // the duration of the benchmark period
	latencies []time.Duration // observed latencies of every ballot
}

// Complete returns true if ballots and duration is greater than 0.
func (b *benchmark) Complete() bool {
	return b.ballots > 0 && b.duration > 0
}

// Throughput computes the number of ballots (excluding failures) by the
// total duration of the experiment, e.g. the operations per second.
func (b *benchmark) Throughput() float64 {
	if b.duration == 0 {
		return 0.0
	}

	return float64(b.ballots) / b.duration.Seconds()
}

// CSV returns a results row delimited by commas as:
//
//	ballots,failures,duration,throughput,version,benchmark
//
// If header is specified then string contains two rows with the header first.
func (b *benchmark) CSV(header bool) (string, error) {
	if !b.Complete() {
		return "", ErrBenchmarkNotRun
	}

	row := fmt.Sprintf(
		"%d,%d,%s,%0.4f,%s,%s",
		b.ballots, b.failures, b.duration, b.Throughput(), Version(), b.method,
	)

	if header {
		return fmt.Sprintf("ballots,failures,duration,throughput,version,benchmark\n%s", row), nil
	}

	return row, nil
}

// JSON returns a results row as a json object, formatted with or without the
// number of spaces specified by indent. Use no indent for JSON lines format.
func (b *benchmark) JSON(indent int) ([]byte, error) {
	data := b.serialize()

	if indent > 0 {
		indent := strings.Repeat(" ", indent)
		return json.MarshalIndent(data, "", indent)
	}

	return json.Marshal(data)
}

// serialize converts the benchmark into a map[string]interface{} -- useful
// for dumping the benchmark as JSON and used from structs that embed benchmark
// to include more data in the results.
func (b *benchmark) serialize() map[string]interface{} {
	data := make(map[string]interface{})

	data["ballots"] = b.ballots
	data["failures"] = b.failures
	data["duration"] = b.duration.String()
	data["throughput"] = b.Throughput()
	data["version"] = Version()
	data["benchmark"] = b.method

	return data
}

//===========================================================================
// Blast
//===========================================================================

// BlastBenchmark implements Benchmark by casting n ballots against the
// election each in its own goroutine. It then records the total time it takes
// to record all n ballots and uses that to compute the throughput.
// Additionally, each goroutine records the latency of each ballot, so that
// outliers can be removed from the blast computation.
//
// Note: every ballot is cast by a unique voter for a random candidate, its
// intent is to compute pedal to the metal ledger throughput.
type BlastBenchmark struct {
	benchmark
	operations uint
	candidates uint
}

// Run the blast benchmark by casting ballots as fast as possible and
// measuring the duration.
func (b *BlastBenchmark) Run() (err error) {
	// N is the number of ballots being cast
	N := b.operations

	// Initialize the blast latencies and results (resetting if rerun)
	b.ballots = 0
	b.failures = 0
	b.latencies = make([]time.Duration, N)
	results := make([]bool, N)

	var (
		election   *Election
		candidates []string
	)
	if election, candidates, err = benchElection(b.candidates); err != nil {
		return fmt.Errorf("could not create election: %s", err)
	}

	// Initialize the voters and choices so that it's not part of throughput.
	voters := make([]string, N)
	choices := make([]string, N)
	for i := uint(0); i < N; i++ {
		voters[i] = fmt.Sprintf("%X", i)
		choices[i] = candidates[rand.Intn(len(candidates))]
	}

	// Create the wait group for all threads
	group := new(sync.WaitGroup)
	group.Add(int(N))

	// Execute the blast operation against the election
	b.started = time.Now()
	for i := uint(0); i < N; i++ {
		go func(k uint) {
			// Cast the ballot and if there is no error, store true!
			start := time.Now()
			if err := election.RecordVote(voters[k], choices[k]); err == nil {
				results[k] = true
			}

			// Record the latency of the result, success or failure
			b.latencies[k] = time.Since(start)
			group.Done()
		}(i)
	}

	group.Wait()
	b.duration = time.Since(b.started)

	// Compute successes and failures
	for _, r := range results {
		if r {
			b.ballots++
		} else {
			b.failures++
		}
	}

	if total := election.TotalVotes(); total != int64(b.ballots) {
		return fmt.Errorf("tally mismatch: %d votes counted for %d ballots", total, b.ballots)
	}
	return nil
}

//===========================================================================
// Simple
//===========================================================================

// SimpleBenchmark implements benchmark by having concurrent workers
// continuously casting ballots for a fixed number of voters each.
type SimpleBenchmark struct {
	benchmark
	operations  uint
	candidates  uint
	concurrency uint
}

// Run the simple benchmark against the election such that each worker casts
// ballots from unique voters as quickly as possible.
func (b *SimpleBenchmark) Run() (err error) {
	n := b.operations  // number of ballots per worker
	C := b.concurrency // total number of workers
	N := n * C         // total number of ballots

	// Initialize benchmark latencies and results (resetting if necessary)
	b.ballots, b.failures = 0, 0
	b.latencies = make([]time.Duration, N)
	results := make([]bool, N)

	var (
		election   *Election
		candidates []string
	)
	if election, candidates, err = benchElection(b.candidates); err != nil {
		return fmt.Errorf("could not create election: %s", err)
	}

	// Create the wait group for all threads
	group := new(sync.WaitGroup)
	group.Add(int(C))

	// Execute the concurrent workers against the election
	b.started = time.Now()
	for i := uint(0); i < C; i++ {
		go func(k uint) {
			// Each worker has its own source so the workers do not contend on it.
			rng := rand.New(rand.NewSource(int64(k)))

			// Cast n ballots against the election
			for j := uint(0); j < n; j++ {
				// Compute storage index
				idx := k*n + j

				// Compute unique voter based on worker and ballot
				voter := fmt.Sprintf("%04X-%04X", k, j)
				choice := candidates[rng.Intn(len(candidates))]

				// Cast the ballot, and if no error, store true.
				start := time.Now()
				if err := election.RecordVote(voter, choice); err == nil {
					results[idx] = true
				}

				// Record the latency of the result
				b.latencies[idx] = time.Since(start)
			}

			// Signal the main thread that we're done
			group.Done()
		}(i)
	}

	// Wait until benchmark is complete
	group.Wait()
	b.duration = time.Since(b.started)

	// Compute successes and failures
	for _, r := range results {
		if r {
			b.ballots++
		} else {
			b.failures++
		}
	}

	if total := election.TotalVotes(); total != int64(b.ballots) {
		return fmt.Errorf("tally mismatch: %d votes counted for %d ballots", total, b.ballots)
	}
	return nil
}

// CSV returns a results row delimited by commas as:
//
//	concurrency,ballots,failures,duration,throughput,version,benchmark
func (b *SimpleBenchmark) CSV(header bool) (csv string, err error) {
	if csv, err = b.benchmark.CSV(header); err != nil {
		return "", err
	}

	if header {
		parts := strings.Split(csv, "\n")
		if len(parts) != 2 {
			return "", errors.New("could not parse benchmark header")
		}
		return fmt.Sprintf("concurrency,%s\n%d,%s", parts[0], b.concurrency, parts[1]), nil
	}

	return fmt.Sprintf("%d,%s", b.concurrency, csv), nil
}

// JSON returns a results row as a json object, formatted with or without the
// number of spaces specified by indent. Use no indent for JSON lines format.
func (b *SimpleBenchmark) JSON(indent int) ([]byte, error) {
	data := b.benchmark.serialize()
	data["concurrency"] = b.concurrency

	if indent > 0 {
		indent := strings.Repeat(" ", indent)
		return json.MarshalIndent(data, "", indent)
	}

	return json.Marshal(data)
}
