package elections

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// Timer handlers run on the ticker's goroutines. They never return errors to
// the caller; failures are logged and the election stays where it is until
// the next trigger.

func (eng *Engine) onRegistrationDeadline(id string) {
	if err := eng.AdvanceToVoting(id); err != nil && !errors.Is(err, ErrUnknownElection) {
		log.Error().Err(err).Str("election", id).Msg("could not advance election to voting")
	}
}

func (eng *Engine) onVotingDeadline(id string) {
	if err := eng.FinishElection(id); err != nil && !errors.Is(err, ErrUnknownElection) {
		log.Error().Err(err).Str("election", id).Msg("could not finish election")
	}
}

func (eng *Engine) onArchiveDue(id string) {
	if err := eng.ArchiveElection(id); err != nil && !errors.Is(err, ErrUnknownElection) {
		log.Error().Err(err).Str("election", id).Msg("could not archive election")
	}
}

func (eng *Engine) onCycleDue(ctx Context, etype ElectionType) {
	if _, ok := eng.ActiveElection(ctx, etype); ok {
		// The next cycle is scheduled when the active election completes.
		return
	}

	_, err := eng.startElection(ctx, etype, true)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrEngineClosed):
	case errors.Is(err, ErrUnknownContext):
		log.Info().Err(err).Str("context", ctx.String()).Msg("context no longer exists, cycle stopped")
	default:
		log.Info().Err(err).Str("context", ctx.String()).Str("type", etype.String()).Msg("scheduled election could not start")
		eng.retryCycle(ctx, etype)
	}
}

// resume continues an election loaded from the store from its absolute
// timestamps. Deadlines that passed while the engine was down fire now.
func (eng *Engine) resume(e *Election) {
	e.mu.RLock()
	phase := e.phase
	registrationEnds := e.registrationEnds
	votingEnds := e.votingEnds
	closed := e.closed
	runoff := e.results != nil && e.results.Runoff != ""
	round := e.round
	e.mu.RUnlock()

	now := eng.clock.Now()
	log.Debug().Str("election", e.id).Str("phase", phase.String()).Msg("resuming election")

	switch phase {
	case None, PendingStart:
		// Crashed while starting; registration opens with its original deadline.
		e.mu.Lock()
		var err error
		if e.phase == None {
			err = e.transition(PendingStart)
		}
		if err == nil {
			if err = e.transition(Registration); err == nil {
				err = eng.persistLocked(e)
			}
		}
		e.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("election", e.id).Msg("could not open registration")
		}
		eng.ticker.Schedule(e.id, registrationEnds.Sub(now), func() { eng.onRegistrationDeadline(e.id) })
	case Registration:
		if registrationEnds.After(now) {
			eng.ticker.Schedule(e.id, registrationEnds.Sub(now), func() { eng.onRegistrationDeadline(e.id) })
			return
		}
		eng.onRegistrationDeadline(e.id)
	case Voting:
		if votingEnds.After(now) {
			eng.ticker.Schedule(e.id, votingEnds.Sub(now), func() { eng.onVotingDeadline(e.id) })
			return
		}
		eng.onVotingDeadline(e.id)
	case Counting:
		eng.onVotingDeadline(e.id)
	case AwaitingTieResolution:
		if eng.conf.TieBreak == TieBreakReElection && !runoff && round < eng.conf.MaxRunoffs {
			if err := eng.startRunoff(e.id); err != nil {
				log.Error().Err(err).Str("election", e.id).Msg("could not start run-off")
			}
		}
	case Finished, Cancelled:
		eng.scheduleArchive(e.id, closed)
	}
}
