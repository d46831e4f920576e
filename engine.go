package elections

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bbengfort/elections/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Dependencies are the collaborators of the engine. Store, Nations and
// Parties are required; the directory, notification sink and clock are
// optional.
type Dependencies struct {
	Store     store.Store
	Nations   NationRegistry
	Parties   PartyRegistry
	Directory Directory
	Notify    Callback
	Clock     Clock
}

// New creates an election engine from a loaded configuration. The engine does
// not load persisted elections or schedule any cycles until Start is called.
func New(conf *Config, deps Dependencies) (eng *Engine, err error) {
	if conf == nil {
		conf = new(Config)
		if err = conf.Load(); err != nil {
			return nil, err
		}
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}

	if deps.Store == nil || deps.Nations == nil || deps.Parties == nil {
		return nil, errors.New("engine requires a store, a nation registry, and a party registry")
	}

	eng = &Engine{
		conf:    conf,
		store:   deps.Store,
		nations: deps.Nations,
		parties: deps.Parties,
		names:   deps.Directory,
		clock:   deps.Clock,
		ticker:  NewTicker(),
		metrics: NewMetrics(),
		byID:    make(map[string]*Election),
		byKey:   make(map[string]*Election),
	}

	if eng.clock == nil {
		eng.clock = wallClock{}
	}

	if eng.registration, err = conf.GetRegistrationPeriod(); err != nil {
		return nil, err
	}
	if eng.voting, err = conf.GetVotingPeriod(); err != nil {
		return nil, err
	}
	if eng.archive, err = conf.GetArchiveDelay(); err != nil {
		return nil, err
	}

	seed := conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	eng.rand = rand.New(rand.NewSource(seed))

	if conf.SyncNotify {
		eng.notify = NewLocker(deps.Notify)
	} else {
		eng.notify = NewActor(deps.Notify)
	}
	go eng.notify.Listen()
	return eng, nil
}

// Engine owns the lifecycle of every election: it starts them on schedule,
// advances them through their phases when deadlines fire, computes results,
// applies them to the registries, and archives them. The engine is safe for
// concurrent use; ballots for one election are recorded in parallel.
//
// Lock order is election.mu before engine.mu, never the reverse.
type Engine struct {
	conf    *Config
	store   store.Store
	nations NationRegistry
	parties PartyRegistry
	names   Directory
	clock   Clock
	ticker  *Ticker
	notify  Actor
	metrics *Metrics

	registration time.Duration
	voting       time.Duration
	archive      time.Duration

	rmu  sync.Mutex
	rand *rand.Rand

	mu     sync.RWMutex
	byID   map[string]*Election // every election held in memory, including terminal ones awaiting archival
	byKey  map[string]*Election // the non-terminal election per context and type
	closed bool

	smu    sync.Mutex
	srv    *grpc.Server
	health *health.Server
}

// Start loads the active elections from the store, resumes each of them from
// its persisted timestamps, and schedules the recurring cycles of every known
// context if enabled. Records that cannot be reconstructed are quarantined.
func (eng *Engine) Start() error {
	records, err := eng.store.LoadActive()
	if err != nil {
		return fmt.Errorf("could not load active elections: %w", err)
	}

	loaded := make([]*Election, 0, len(records))
	for _, rec := range records {
		var e *Election
		if e, err = fromRecord(rec); err != nil {
			log.Warn().Err(err).Str("election", rec.ID).Msg("could not reconstruct election")
			if err = eng.store.Quarantine(rec.ID, err); err != nil {
				log.Error().Err(err).Str("election", rec.ID).Msg("could not quarantine election")
			}
			continue
		}
		loaded = append(loaded, e)
	}

	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].started.Before(loaded[j].started) })

	resumed := make([]*Election, 0, len(loaded))
	for _, e := range loaded {
		if !eng.index(e) {
			// Two live elections for the same context and type cannot both
			// continue; the older one wins and the other is cancelled.
			eng.mu.Lock()
			eng.byID[e.id] = e
			eng.mu.Unlock()

			e.mu.Lock()
			snap, err := eng.cancelLocked(e, "duplicate active election")
			e.mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("election", e.id).Msg("could not cancel duplicate election")
			}
			eng.dispatch(ElectionCancelled, snap, snap.Reason)
			continue
		}
		resumed = append(resumed, e)
	}

	for _, e := range resumed {
		eng.resume(e)
	}

	log.Info().Int("elections", len(resumed)).Msg("election engine started")

	if eng.conf.AutoCycles {
		eng.scheduleAllCycles()
	}
	return nil
}

// Close stops every timer, drains pending notifications, writes the metrics
// if configured, and closes the store.
func (eng *Engine) Close() (err error) {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return ErrEngineClosed
	}
	eng.closed = true
	eng.mu.Unlock()

	eng.ticker.StopAll()
	eng.StopServing()
	eng.notify.Close()

	if eng.conf.Metrics != "" {
		if err = eng.metrics.Dump(eng.conf.Metrics, map[string]interface{}{"seed": eng.conf.Seed}); err != nil {
			log.Warn().Err(err).Str("path", eng.conf.Metrics).Msg("could not dump metrics")
		}
	}

	log.Info().Str("metrics", eng.metrics.String()).Msg("election engine stopped")
	return eng.store.Close()
}

// Metrics returns the counters of the engine.
func (eng *Engine) Metrics() *Metrics {
	return eng.metrics
}

//===========================================================================
// Starting Elections
//===========================================================================

// StartElection opens candidate registration for a new election of the given
// type in the context. Only one non-terminal election may exist per context
// and type at a time.
func (eng *Engine) StartElection(ctx Context, etype ElectionType) (*Election, error) {
	return eng.startElection(ctx, etype, false)
}

// rules captures everything about an election that is fixed when it starts.
type rules struct {
	government string
	electorate Electorate
	roster     []string
	fallback   bool
	seats      int
}

func (eng *Engine) startElection(ctx Context, etype ElectionType, scheduled bool) (_ *Election, err error) {
	if eng.isClosed() {
		return nil, ErrEngineClosed
	}

	if !etype.Legal(ctx.Kind) {
		return nil, fmt.Errorf("%w: %s election in %s context", ErrContextMismatch, etype, ctx.Kind)
	}

	if _, ok := eng.ActiveElection(ctx, etype); ok {
		return nil, ErrAlreadyActive
	}

	var r *rules
	if r, err = eng.rules(ctx, etype); err != nil {
		return nil, err
	}

	now := eng.clock.Now()
	e := NewElection(uuid.New().String(), ctx, etype, now, now.Add(eng.registration), now.Add(eng.registration+eng.voting))
	e.government = r.government
	e.electorate = r.electorate
	e.fallback = r.fallback
	e.seats = r.seats
	if r.roster != nil {
		e.roster = make(map[string]struct{}, len(r.roster))
		for _, member := range r.roster {
			e.roster[member] = struct{}{}
		}
	}

	e.mu.Lock()
	if err = e.transition(PendingStart); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if !eng.index(e) {
		e.mu.Unlock()
		return nil, ErrAlreadyActive
	}

	if err = e.transition(Registration); err != nil {
		eng.unindex(e)
		e.mu.Unlock()
		return nil, err
	}

	if err = eng.persistLocked(e); err != nil {
		eng.unindex(e)
		e.mu.Unlock()
		return nil, err
	}

	eng.ticker.Schedule(e.id, e.registrationEnds.Sub(now), func() { eng.onRegistrationDeadline(e.id) })
	snap := e.snapshot()
	e.mu.Unlock()

	// The cycle timer is rescheduled when this election completes.
	eng.ticker.Cancel(cycleKey(ctx, etype))
	eng.metrics.Started()

	log.Info().
		Str("election", snap.ID).Str("context", ctx.String()).Str("type", etype.String()).
		Time("registration_ends", snap.RegistrationEnds).Msg("candidate registration opened")

	if scheduled {
		eng.dispatch(CycleStarted, snap, nil)
	}
	eng.dispatch(RegistrationOpened, snap, nil)
	return e, nil
}

// rules validates that an election may start in the context right now and
// returns the rules the election will run under.
func (eng *Engine) rules(ctx Context, etype ElectionType) (*rules, error) {
	switch ctx.Kind {
	case NationKind:
		gov, err := eng.nations.Government(ctx.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownContext, err)
		}

		if !gov.Allows(etype) {
			return nil, fmt.Errorf("%w: %s government has no %s elections", ErrGovernmentForbids, gov.Type, etype)
		}

		r := &rules{government: gov.Type, electorate: Citizens}
		switch etype {
		case Parliamentary:
			if n := len(eng.parties.PartiesIn(ctx.ID)); n < eng.conf.MinParties {
				return nil, fmt.Errorf("%w: %d of %d required", ErrTooFewParties, n, eng.conf.MinParties)
			}

			r.seats = gov.Seats
			if r.seats <= 0 {
				r.seats = eng.conf.Seats
			}
			if r.seats <= 0 {
				return nil, fmt.Errorf("%w: %s has no seat budget", ErrInvalidSeats, ctx)
			}
		case Presidential:
			if gov.LegislatureElectsLeader {
				if r.roster = eng.nations.Legislators(ctx.ID); len(r.roster) > 0 {
					r.electorate = Legislators
				} else if eng.conf.CitizenFallback {
					r.roster = nil
					r.fallback = true
				} else {
					return nil, ErrNoLegislature
				}
			}
		}
		return r, nil

	case PartyKind:
		party, ok := eng.parties.Party(ctx.ID)
		if !ok {
			return nil, fmt.Errorf("%w: no party %q", ErrUnknownContext, ctx.ID)
		}

		if n := len(party.Members); n < eng.conf.MinPartyMembers {
			return nil, fmt.Errorf("%w: %d of %d required", ErrTooFewMembers, n, eng.conf.MinPartyMembers)
		}
		return &rules{government: "party", electorate: Members}, nil

	default:
		return nil, ErrUnknownContext
	}
}

//===========================================================================
// Candidates and Ballots
//===========================================================================

// RegisterCandidate adds the participant as a candidate of the election. Only
// allowed during registration; candidates of nation elections must be
// citizens, candidates of party elections must be party members, and
// parliamentary candidates must belong to a party of the nation.
func (eng *Engine) RegisterCandidate(id, participant string) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	var party string
	switch e.context.Kind {
	case NationKind:
		if !eng.nations.IsCitizen(e.context.ID, participant) {
			return fmt.Errorf("%w: %q is not a citizen", ErrNotEligible, participant)
		}

		var member bool
		if party, member = eng.parties.PartyOf(participant); member {
			if p, ok := eng.parties.Party(party); !ok || p.Nation != e.context.ID {
				party = ""
			}
		}

		if e.etype == Parliamentary && party == "" {
			return fmt.Errorf("%w: %q does not belong to a party of the nation", ErrNotEligible, participant)
		}

	case PartyKind:
		p, ok := eng.parties.Party(e.context.ID)
		if !ok || !p.HasMember(participant) {
			return fmt.Errorf("%w: %q is not a party member", ErrNotEligible, participant)
		}
		party = p.ID
	}

	c := NewCandidate(participant, party)
	eng.refreshName(c)

	e.mu.Lock()
	if err := e.addCandidate(c); err != nil {
		e.mu.Unlock()
		return err
	}

	if err := eng.persistLocked(e); err != nil {
		delete(e.candidates, participant)
		e.mu.Unlock()
		return err
	}
	snap := e.snapshot()
	e.mu.Unlock()

	log.Debug().Str("election", id).Str("candidate", participant).Msg("candidate registered")
	eng.dispatch(CandidateRegistered, snap, participant)
	return nil
}

// WithdrawCandidate removes the candidacy; only allowed during registration.
func (eng *Engine) WithdrawCandidate(id, participant string) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	e.mu.Lock()
	if err := e.removeCandidate(participant); err != nil {
		e.mu.Unlock()
		return err
	}

	if err := eng.persistLocked(e); err != nil {
		e.mu.Unlock()
		return err
	}
	snap := e.snapshot()
	e.mu.Unlock()

	log.Debug().Str("election", id).Str("candidate", participant).Msg("candidate withdrawn")
	eng.dispatch(CandidateWithdrawn, snap, participant)
	return nil
}

// CastVote records the voter's ballot for the candidate. The voter must be in
// the electorate fixed when the election started. Ballots are final.
func (eng *Engine) CastVote(id, voter, candidate string) (err error) {
	defer func() { eng.metrics.Vote(voter, err) }()

	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	if !eng.eligible(e, voter) {
		return fmt.Errorf("%w: %q may not vote", ErrNotEligible, voter)
	}

	if err = e.RecordVote(voter, candidate); err != nil {
		return err
	}

	if err = eng.persist(e); err != nil && !errors.Is(err, store.ErrAlreadyArchived) {
		log.Error().Err(err).Str("election", id).Msg("could not persist ballot")
		return err
	}
	return nil
}

// eligible does not need the election lock; the electorate and roster never
// change after the election is published.
func (eng *Engine) eligible(e *Election, voter string) bool {
	switch e.electorate {
	case Legislators:
		return e.eligible(voter)
	case Members:
		party, ok := eng.parties.Party(e.context.ID)
		return ok && party.HasMember(voter)
	default:
		return eng.nations.IsCitizen(e.context.ID, voter)
	}
}

//===========================================================================
// Phase Transitions
//===========================================================================

// AdvanceToVoting closes registration and opens the voting window. Calling it
// before the registration deadline reschedules the deadline and does nothing
// else; calling it in any phase other than registration is a no-op. An
// election without candidates is cancelled instead.
func (eng *Engine) AdvanceToVoting(id string) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	e.mu.Lock()
	if e.phase != Registration {
		e.mu.Unlock()
		return nil
	}

	now := eng.clock.Now()
	if now.Before(e.registrationEnds) {
		remaining := e.registrationEnds.Sub(now)
		eng.ticker.Schedule(id, remaining, func() { eng.onRegistrationDeadline(id) })
		e.mu.Unlock()
		log.Debug().Str("election", id).Dur("remaining", remaining).Msg("registration deadline not reached")
		return nil
	}

	if len(e.candidates) == 0 {
		snap, err := eng.cancelLocked(e, "no candidates registered")
		e.mu.Unlock()
		eng.afterCancel(snap, true)
		return err
	}

	// A late transition must still leave voters the full voting window.
	window := e.votingEnds.Sub(e.registrationEnds)
	if e.votingEnds.Sub(now) < window {
		e.votingEnds = now.Add(window)
	}

	if err := e.transition(Voting); err != nil {
		e.mu.Unlock()
		return err
	}

	err := eng.persistLocked(e)
	eng.ticker.Schedule(id, e.votingEnds.Sub(now), func() { eng.onVotingDeadline(id) })
	snap := e.snapshot()
	e.mu.Unlock()

	log.Info().Str("election", id).Int("candidates", len(snap.Candidates)).Time("voting_ends", snap.VotingEnds).Msg("voting opened")
	eng.dispatch(VotingOpened, snap, nil)
	return err
}

// FinishElection closes voting, counts the ballots, and applies the results.
// Calling it before the voting deadline reschedules the deadline; calling it
// in any phase other than voting or counting is a no-op.
func (eng *Engine) FinishElection(id string) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	e.mu.Lock()
	now := eng.clock.Now()
	switch e.phase {
	case Voting:
		if now.Before(e.votingEnds) {
			remaining := e.votingEnds.Sub(now)
			eng.ticker.Schedule(id, remaining, func() { eng.onVotingDeadline(id) })
			e.mu.Unlock()
			log.Debug().Str("election", id).Dur("remaining", remaining).Msg("voting deadline not reached")
			return nil
		}

		if err := e.transition(Counting); err != nil {
			e.mu.Unlock()
			return err
		}

		if err := eng.persistLocked(e); err != nil {
			log.Error().Err(err).Str("election", id).Msg("could not persist counting phase")
		}
	case Counting:
	default:
		e.mu.Unlock()
		return nil
	}

	eng.ticker.Cancel(id)
	eng.refreshNames(e)

	start := time.Now()
	res, next := eng.tally(e)
	eng.metrics.Tallied(res.TotalVotes, time.Since(start))

	e.results = res
	if next == Finished {
		e.closed = now
	}

	if err := e.transition(next); err != nil {
		e.mu.Unlock()
		return err
	}

	err := eng.persistLocked(e)
	if next == Finished {
		eng.unindexKey(e)
		eng.scheduleArchive(e.id, e.closed)
	}
	snap := e.snapshot()
	e.mu.Unlock()

	if next == AwaitingTieResolution {
		eng.metrics.Tie()
		log.Info().Str("election", id).Strs("tied", res.Tied).Msg("election is tied")
		eng.dispatch(TieDetected, snap, res.Tied)

		if eng.conf.TieBreak == TieBreakReElection && snap.Round < eng.conf.MaxRunoffs {
			if rerr := eng.startRunoff(id); rerr != nil {
				log.Error().Err(rerr).Str("election", id).Msg("could not start run-off")
			}
		}
		return err
	}

	eng.complete(snap)
	return err
}

// tally computes the results of the election and the phase that follows the
// count. The caller holds the write lock.
func (eng *Engine) tally(e *Election) (*Results, Phase) {
	res := &Results{TotalVotes: e.totalVotes()}
	if res.TotalVotes == 0 {
		log.Info().Str("election", e.id).Msg("no ballots were cast, election has no winner")
		return res, Finished
	}

	if e.etype == Parliamentary {
		app, err := Apportion(e.partyVotes(), e.seats, eng.conf.Threshold)
		if err != nil {
			log.Error().Err(err).Str("election", e.id).Msg("could not apportion seats")
			return res, Finished
		}

		if app.Degenerate {
			log.Warn().Str("election", e.id).Int64("total", app.Total).Int("seats", e.seats).
				Msg("fewer votes than seats, all seats awarded to the leading party")
		}

		res.Seats = app.Seats
		res.WinningParty = app.Winner
		res.Quota = app.Quota
		res.Degenerate = app.Degenerate
		res.Members = e.members(app.Seats)
		return res, Finished
	}

	leaders := e.leaders()
	if len(leaders) == 1 {
		res.Winner = leaders[0].Participant
		res.WinningParty = leaders[0].Party
		return res, Finished
	}

	res.Tied = make([]string, 0, len(leaders))
	for _, leader := range leaders {
		res.Tied = append(res.Tied, leader.Participant)
	}

	if eng.conf.TieBreak == TieBreakRandom {
		winner := eng.pick(leaders)
		res.Winner = winner.Participant
		res.WinningParty = winner.Party
		log.Info().Str("election", e.id).Str("winner", winner.Participant).Strs("tied", res.Tied).Msg("tie broken at random")
		return res, Finished
	}
	return res, AwaitingTieResolution
}

// pick chooses uniformly among the tied leaders.
func (eng *Engine) pick(leaders []CandidateInfo) CandidateInfo {
	eng.rmu.Lock()
	defer eng.rmu.Unlock()
	return leaders[eng.rand.Intn(len(leaders))]
}

// ResolveTie finishes an election awaiting tie resolution with the winner
// chosen by an administrator, who must be one of the tied leaders.
func (eng *Engine) ResolveTie(id, winner string) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	e.mu.Lock()
	if e.phase != AwaitingTieResolution || e.results == nil {
		e.mu.Unlock()
		return ErrWrongPhase
	}

	tied := false
	for _, participant := range e.results.Tied {
		if participant == winner {
			tied = true
			break
		}
	}
	if !tied {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotTied, winner)
	}

	c, ok := e.candidates[winner]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownCandidate
	}

	e.results.Winner = winner
	e.results.WinningParty = c.Party()
	e.closed = eng.clock.Now()
	if err := e.transition(Finished); err != nil {
		e.mu.Unlock()
		return err
	}

	eng.ticker.Cancel(id)
	err := eng.persistLocked(e)
	eng.unindexKey(e)
	eng.scheduleArchive(e.id, e.closed)
	snap := e.snapshot()
	e.mu.Unlock()

	log.Info().Str("election", id).Str("winner", winner).Msg("tie resolved by administrator")
	eng.complete(snap)
	return err
}

// complete applies the results of a finished election, records when the
// cycle completed, and schedules the next cycle for the context.
func (eng *Engine) complete(snap Snapshot) {
	eng.metrics.Finished()
	eng.applyResults(snap)
	eng.setLastCompleted(snap.Context, snap.Type, snap.Closed)

	log.Info().Str("election", snap.ID).Str("winner", snap.Results.Winner).
		Str("party", snap.Results.WinningParty).Int64("ballots", snap.Results.TotalVotes).Msg("election finished")
	eng.dispatch(ResultsAnnounced, snap, nil)

	if _, err := eng.scheduleCycle(snap.Context, snap.Type, snap.Closed.Add(eng.interval(snap.Type))); err != nil {
		log.Warn().Err(err).Str("context", snap.Context.String()).Msg("could not schedule next cycle")
	}
}

// applyResults installs the winners in the registries. Writes are skipped if
// the government no longer permits the result or the winner already holds the
// office.
func (eng *Engine) applyResults(snap Snapshot) {
	res := snap.Results
	if res == nil {
		return
	}

	switch snap.Type {
	case Presidential:
		if res.Winner == "" || !eng.governmentAllows(snap.Context.ID, Presidential) {
			return
		}

		if current, ok := eng.nations.Leader(snap.Context.ID); ok && current == res.Winner {
			log.Debug().Str("nation", snap.Context.ID).Str("leader", current).Msg("leader re-elected")
			return
		}

		if err := eng.nations.SetLeader(snap.Context.ID, res.Winner); err != nil {
			log.Error().Err(err).Str("nation", snap.Context.ID).Msg("could not install leader")
			return
		}
		eng.dispatch(LeaderChanged, snap, res.Winner)

	case PartyLeader:
		party, ok := eng.parties.Party(snap.Context.ID)
		if res.Winner == "" || !ok {
			return
		}

		if party.Leader == res.Winner {
			log.Debug().Str("party", party.ID).Str("leader", party.Leader).Msg("leader re-elected")
			return
		}

		if err := eng.parties.SetLeader(party.ID, res.Winner); err != nil {
			log.Error().Err(err).Str("party", party.ID).Msg("could not install leader")
			return
		}
		eng.dispatch(LeaderChanged, snap, res.Winner)

	case Parliamentary:
		if res.Seats == nil || !eng.governmentAllows(snap.Context.ID, Parliamentary) {
			return
		}

		parliament := Parliament{
			Seats:        res.Seats,
			WinningParty: res.WinningParty,
			Members:      res.Members,
			Elected:      snap.Closed,
		}
		if err := eng.nations.SetParliament(snap.Context.ID, parliament); err != nil {
			log.Error().Err(err).Str("nation", snap.Context.ID).Msg("could not install parliament")
		}
	}
}

func (eng *Engine) governmentAllows(nation string, etype ElectionType) bool {
	gov, err := eng.nations.Government(nation)
	if err != nil {
		log.Warn().Err(err).Str("nation", nation).Msg("could not look up government")
		return false
	}

	if !gov.Allows(etype) {
		log.Info().Str("nation", nation).Str("government", gov.Type).Str("type", etype.String()).
			Msg("government no longer permits the election, results not applied")
		return false
	}
	return true
}

func (eng *Engine) setLastCompleted(ctx Context, etype ElectionType, ts time.Time) {
	var err error
	switch ctx.Kind {
	case NationKind:
		err = eng.nations.SetLastCompleted(ctx.ID, etype, ts)
	case PartyKind:
		err = eng.parties.SetLastCompleted(ctx.ID, ts)
	}

	if err != nil {
		log.Warn().Err(err).Str("context", ctx.String()).Msg("could not record completed cycle")
	}
}

//===========================================================================
// Run-offs
//===========================================================================

// startRunoff finishes a tied election without a winner and opens a new
// election between the tied leaders. The run-off skips registration: its
// candidates are fixed and voting opens immediately.
func (eng *Engine) startRunoff(parentID string) error {
	parent, ok := eng.FindElection(parentID)
	if !ok {
		return ErrUnknownElection
	}

	parent.mu.Lock()
	if parent.phase != AwaitingTieResolution || parent.results == nil || parent.results.Runoff != "" {
		parent.mu.Unlock()
		return ErrWrongPhase
	}

	now := eng.clock.Now()
	child := NewElection(uuid.New().String(), parent.context, parent.etype, now, now, now.Add(eng.voting))
	child.government = parent.government
	child.electorate = parent.electorate
	child.roster = parent.roster
	child.fallback = parent.fallback
	child.seats = parent.seats
	child.runoffOf = parent.id
	child.round = parent.round + 1
	child.phase = Registration

	for _, participant := range parent.results.Tied {
		if prev, ok := parent.candidates[participant]; ok {
			c := NewCandidate(participant, prev.Party())
			c.SetDisplay(prev.Name(), prev.PartyName())
			child.candidates[participant] = c
		}
	}

	if err := child.transition(Voting); err != nil {
		parent.mu.Unlock()
		return err
	}

	parent.results.Runoff = child.id
	parent.closed = now
	if err := parent.transition(Finished); err != nil {
		parent.mu.Unlock()
		return err
	}

	// Persist the run-off first so that a crash never leaves a finished
	// parent without the election that replaces it.
	child.mu.Lock()
	if err := eng.persistLocked(child); err != nil {
		log.Error().Err(err).Str("election", child.id).Msg("could not persist run-off")
	}
	eng.swap(parent, child)
	eng.ticker.Schedule(child.id, child.votingEnds.Sub(now), func() { eng.onVotingDeadline(child.id) })
	csnap := child.snapshot()
	child.mu.Unlock()

	err := eng.persistLocked(parent)
	eng.scheduleArchive(parent.id, parent.closed)
	psnap := parent.snapshot()
	parent.mu.Unlock()

	eng.metrics.Runoff()
	log.Info().Str("election", parentID).Str("runoff", csnap.ID).Int("round", csnap.Round).Msg("run-off started")
	eng.dispatch(RunoffStarted, psnap, csnap.ID)
	eng.dispatch(VotingOpened, csnap, nil)
	return err
}

//===========================================================================
// Cancellation
//===========================================================================

// CancelElection cancels a non-terminal election with the reason. Cancelling
// a terminal election is a no-op. The cycle is retried one interval later.
func (eng *Engine) CancelElection(id, reason string) error {
	return eng.cancel(id, reason, true)
}

func (eng *Engine) cancel(id, reason string, reschedule bool) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	e.mu.Lock()
	if e.phase.Terminal() {
		e.mu.Unlock()
		return nil
	}

	snap, err := eng.cancelLocked(e, reason)
	e.mu.Unlock()
	eng.afterCancel(snap, reschedule)
	return err
}

// cancelLocked moves the election to cancelled; the caller holds the write lock.
func (eng *Engine) cancelLocked(e *Election, reason string) (Snapshot, error) {
	eng.ticker.Cancel(e.id)
	if err := e.transition(Cancelled); err != nil {
		return e.snapshot(), err
	}

	e.closed = eng.clock.Now()
	e.reason = reason
	err := eng.persistLocked(e)
	eng.unindexKey(e)
	eng.scheduleArchive(e.id, e.closed)
	return e.snapshot(), err
}

func (eng *Engine) afterCancel(snap Snapshot, reschedule bool) {
	if snap.Phase != Cancelled {
		return
	}

	eng.metrics.Cancelled()
	log.Info().Str("election", snap.ID).Str("reason", snap.Reason).Msg("election cancelled")
	eng.dispatch(ElectionCancelled, snap, snap.Reason)

	if reschedule {
		eng.retryCycle(snap.Context, snap.Type)
	}
}

//===========================================================================
// Archival
//===========================================================================

func (eng *Engine) scheduleArchive(id string, closed time.Time) {
	delay := closed.Add(eng.archive).Sub(eng.clock.Now())
	eng.ticker.Schedule(archiveKey(id), delay, func() { eng.onArchiveDue(id) })
}

// ArchiveElection moves a terminal election to the archive partition and
// drops it from memory. Archiving is attempted exactly once per election.
func (eng *Engine) ArchiveElection(id string) error {
	e, ok := eng.FindElection(id)
	if !ok {
		return ErrUnknownElection
	}

	e.mu.RLock()
	if !e.phase.Terminal() {
		e.mu.RUnlock()
		return ErrWrongPhase
	}
	snap := e.snapshot()
	e.mu.RUnlock()

	if err := eng.store.Archive(id); err != nil && !errors.Is(err, store.ErrAlreadyArchived) {
		return err
	}

	eng.ticker.Cancel(archiveKey(id))
	eng.mu.Lock()
	delete(eng.byID, id)
	eng.mu.Unlock()

	eng.metrics.Archived()
	log.Debug().Str("election", id).Msg("election archived")
	eng.dispatch(ElectionArchived, snap, nil)
	return nil
}

// Archived returns a snapshot of an election from the archive partition.
func (eng *Engine) Archived(id string) (Snapshot, error) {
	rec, err := eng.store.LoadArchived(id)
	if err != nil {
		return Snapshot{}, err
	}

	e, err := fromRecord(rec)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Snapshot(), nil
}

//===========================================================================
// Lookups
//===========================================================================

// ActiveElection returns the non-terminal election for the context and type.
func (eng *Engine) ActiveElection(ctx Context, etype ElectionType) (*Election, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	e, ok := eng.byKey[key(ctx, etype)]
	return e, ok
}

// FindElection returns any election held in memory by id, including finished
// and cancelled elections that have not been archived yet.
func (eng *Engine) FindElection(id string) (*Election, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	e, ok := eng.byID[id]
	return e, ok
}

// Elections returns every election held in memory ordered by start time.
func (eng *Engine) Elections() []*Election {
	eng.mu.RLock()
	out := make([]*Election, 0, len(eng.byID))
	for _, e := range eng.byID {
		out = append(out, e)
	}
	eng.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].started.Equal(out[j].started) {
			return out[i].started.Before(out[j].started)
		}
		return out[i].id < out[j].id
	})
	return out
}

// index adds the election to the engine, returning false if another
// non-terminal election already exists for the context and type.
func (eng *Engine) index(e *Election) bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if !e.phase.Terminal() {
		k := key(e.context, e.etype)
		if _, ok := eng.byKey[k]; ok {
			return false
		}
		eng.byKey[k] = e
	}
	eng.byID[e.id] = e
	return true
}

func (eng *Engine) unindex(e *Election) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	delete(eng.byID, e.id)
	if k := key(e.context, e.etype); eng.byKey[k] == e {
		delete(eng.byKey, k)
	}
}

// unindexKey releases the context and type for the next election.
func (eng *Engine) unindexKey(e *Election) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if k := key(e.context, e.etype); eng.byKey[k] == e {
		delete(eng.byKey, k)
	}
}

// swap replaces the parent with its run-off without ever releasing the key.
func (eng *Engine) swap(parent, child *Election) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.byKey[key(child.context, child.etype)] = child
	eng.byID[child.id] = child
	eng.byID[parent.id] = parent
}

func (eng *Engine) isClosed() bool {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	return eng.closed
}

//===========================================================================
// Helpers
//===========================================================================

// persist saves the election; the caller must not hold the election lock.
func (eng *Engine) persist(e *Election) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return eng.persistLocked(e)
}

// persistLocked saves the election; the caller holds the election lock in
// either mode. Snapshots are taken and saved in order so that an older
// snapshot never overwrites a newer one.
func (eng *Engine) persistLocked(e *Election) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if err := eng.store.Save(toRecord(e.snapshot())); err != nil {
		if !errors.Is(err, store.ErrAlreadyArchived) {
			log.Error().Err(err).Str("election", e.id).Msg("could not persist election")
		}
		return err
	}
	return nil
}

func (eng *Engine) dispatch(etype EventType, snap Snapshot, value interface{}) {
	if err := eng.notify.Dispatch(&event{etype: etype, source: snap, value: value}); err != nil {
		log.Debug().Err(err).Str("event", etype.String()).Msg("notification dropped")
	}
}

func (eng *Engine) refreshName(c *Candidate) {
	if eng.names == nil {
		return
	}

	var party string
	if !c.Independent() {
		party = eng.names.PartyName(c.Party())
	}
	c.SetDisplay(eng.names.DisplayName(c.Participant()), party)
}

// refreshNames updates the cached display names before results are announced.
func (eng *Engine) refreshNames(e *Election) {
	for _, c := range e.candidates {
		eng.refreshName(c)
	}
}

func (eng *Engine) interval(etype ElectionType) time.Duration {
	interval, err := eng.conf.GetInterval(etype)
	if err != nil || interval <= 0 {
		// validated on load, only reachable with a hand built config
		return 24 * time.Hour
	}
	return interval
}

func archiveKey(id string) string {
	return id + ":archive"
}
