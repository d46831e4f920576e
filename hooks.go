package elections

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// OnGovernmentChange is called by the nation registry when a nation's
// government type changes. Elections the new government does not permit are
// cancelled and their cycles stopped; newly permitted cycles are scheduled.
// Elections that are still permitted keep the rules they started with.
func (eng *Engine) OnGovernmentChange(nation string) error {
	gov, err := eng.nations.Government(nation)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownContext, err)
	}

	ctx := NationContext(nation)
	for _, etype := range []ElectionType{Parliamentary, Presidential} {
		if gov.Allows(etype) {
			eng.ensureCycle(ctx, etype)
			continue
		}

		eng.ticker.Cancel(cycleKey(ctx, etype))
		if e, ok := eng.ActiveElection(ctx, etype); ok {
			reason := fmt.Sprintf("%s government does not permit %s elections", gov.Type, etype)
			if err = eng.cancel(e.id, reason, false); err != nil {
				log.Error().Err(err).Str("election", e.id).Msg("could not cancel election")
			}
		}
	}
	return nil
}

// OnContextDeleted is called when a nation or party is deleted. Every
// non-terminal election held for it is cancelled and its cycles stopped.
func (eng *Engine) OnContextDeleted(ctx Context) error {
	n := eng.ticker.CancelPrefix("cycle:" + ctx.String() + ":")
	log.Debug().Str("context", ctx.String()).Int("cycles", n).Msg("context deleted, cycles stopped")

	for _, e := range eng.Elections() {
		if e.context != ctx {
			continue
		}

		if err := eng.cancel(e.id, "context deleted", false); err != nil {
			log.Error().Err(err).Str("election", e.id).Msg("could not cancel election")
		}
	}
	return nil
}

// OnPartyDisbanded is called when a party is disbanded. Its own leadership
// elections are cancelled and its candidates are withdrawn from every
// election in progress. An election left without candidates once registration
// has closed is cancelled.
func (eng *Engine) OnPartyDisbanded(party string) error {
	if err := eng.OnContextDeleted(PartyContext(party)); err != nil {
		return err
	}

	for _, e := range eng.Elections() {
		e.mu.Lock()
		if e.phase.Terminal() {
			e.mu.Unlock()
			continue
		}

		removed := e.stripParty(party)
		if len(removed) == 0 {
			e.mu.Unlock()
			continue
		}

		if e.phase == AwaitingTieResolution && e.results != nil {
			tied := e.results.Tied[:0]
			for _, participant := range e.results.Tied {
				if _, ok := e.candidates[participant]; ok {
					tied = append(tied, participant)
				}
			}
			e.results.Tied = tied
		}

		empty := len(e.candidates) == 0 && e.phase != Registration
		if e.phase == AwaitingTieResolution && len(e.results.Tied) == 0 {
			empty = true
		}

		if empty {
			snap, err := eng.cancelLocked(e, "all candidates withdrawn")
			e.mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("election", e.id).Msg("could not cancel election")
			}
			eng.afterCancel(snap, true)
			continue
		}

		if err := eng.persistLocked(e); err != nil {
			log.Error().Err(err).Str("election", e.id).Msg("could not persist withdrawn candidates")
		}
		snap := e.snapshot()
		e.mu.Unlock()

		for _, participant := range removed {
			eng.dispatch(CandidateWithdrawn, snap, participant)
		}
	}
	return nil
}
