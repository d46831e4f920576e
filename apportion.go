package elections

import "sort"

// Apportionment is the outcome of distributing a seat budget between parties.
type Apportionment struct {
	Seats      map[string]int // seats per party, zero for parties below the threshold
	Excluded   []string       // parties that did not clear the representation threshold
	Quota      float64        // eligible votes per seat
	Total      int64          // eligible votes counted toward the quota
	Degenerate bool           // the quota was zero and the single party fallback was used
	Winner     string         // the seat leader among parties that won a seat
}

// Assigned returns the number of seats handed out.
func (a *Apportionment) Assigned() (n int) {
	for _, seats := range a.Seats {
		n += seats
	}
	return n
}

// Apportion converts per party vote totals into integer seat counts using the
// largest remainder method with the Hare quota. Parties whose share of all
// votes cast is below the threshold receive no seats and do not count toward
// the quota. Leftover seats go to the largest remainders, ties broken by the
// higher raw vote total and then by party id so the result is deterministic.
//
// If no votes were cast no seats are assigned. If the integer quota is zero
// (fewer eligible votes than seats) every seat goes to the highest polling
// party and the result is flagged as degenerate.
func Apportion(votes map[string]int64, seats int, threshold float64) (*Apportionment, error) {
	if seats <= 0 {
		return nil, ErrInvalidSeats
	}

	result := &Apportionment{Seats: make(map[string]int, len(votes))}

	var all int64
	for party, n := range votes {
		result.Seats[party] = 0
		if n > 0 {
			all += n
		}
	}

	if all == 0 {
		return result, nil
	}

	// Filter parties below the representation threshold.
	eligible := make([]string, 0, len(votes))
	for party, n := range votes {
		if n <= 0 {
			continue
		}
		if threshold > 0 && float64(n)/float64(all) < threshold {
			result.Excluded = append(result.Excluded, party)
			continue
		}
		eligible = append(eligible, party)
		result.Total += n
	}
	sort.Strings(result.Excluded)

	if result.Total == 0 {
		return result, nil
	}

	N := int64(seats)
	T := result.Total
	result.Quota = float64(T) / float64(N)

	// Order by raw votes then id; used by the fallback and as remainder tie break.
	sort.Slice(eligible, func(i, j int) bool {
		if votes[eligible[i]] != votes[eligible[j]] {
			return votes[eligible[i]] > votes[eligible[j]]
		}
		return eligible[i] < eligible[j]
	})

	if T/N == 0 {
		result.Degenerate = true
		result.Seats[eligible[0]] = seats
		result.Winner = eligible[0]
		return result, nil
	}

	// With quota q = T/N, floor(v/q) = floor(v*N/T) and the remainder v - s*q
	// scaled by N is v*N - s*T, so integer arithmetic is exact.
	remainders := make(map[string]int64, len(eligible))
	assigned := int64(0)
	for _, party := range eligible {
		n := votes[party] * N
		won := n / T
		result.Seats[party] = int(won)
		remainders[party] = n - won*T
		assigned += won
	}

	order := append([]string(nil), eligible...)
	sort.SliceStable(order, func(i, j int) bool {
		return remainders[order[i]] > remainders[order[j]]
	})

	for i := int64(0); i < N-assigned; i++ {
		result.Seats[order[int(i)%len(order)]]++
	}

	result.Winner = seatLeader(result.Seats, votes)
	return result, nil
}

// seatLeader returns the party with the most seats among those that won at
// least one, breaking ties by votes and then by party id.
func seatLeader(seats map[string]int, votes map[string]int64) (leader string) {
	best := 0
	for party, n := range seats {
		if n == 0 {
			continue
		}

		switch {
		case n > best:
			best, leader = n, party
		case n == best:
			if votes[party] > votes[leader] || (votes[party] == votes[leader] && party < leader) {
				leader = party
			}
		}
	}
	return leader
}
