package elections

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ScheduleCycle schedules the next election of the type in the context one
// interval after the last completed election. A context that has never
// completed an election, or whose cycle is overdue, starts an election now.
// Returns when the cycle is due.
func (eng *Engine) ScheduleCycle(ctx Context, etype ElectionType) (time.Time, error) {
	due := eng.clock.Now()
	if last, ok := eng.lastCompleted(ctx, etype); ok {
		due = last.Add(eng.interval(etype))
	}
	return eng.scheduleCycle(ctx, etype, due)
}

// NextCycle returns when the next election of the type is due in the context,
// if a cycle is scheduled.
func (eng *Engine) NextCycle(ctx Context, etype ElectionType) (time.Time, bool) {
	return eng.ticker.Deadline(cycleKey(ctx, etype))
}

func (eng *Engine) scheduleCycle(ctx Context, etype ElectionType, due time.Time) (time.Time, error) {
	if !etype.Legal(ctx.Kind) {
		return time.Time{}, fmt.Errorf("%w: %s election in %s context", ErrContextMismatch, etype, ctx.Kind)
	}

	if eng.isClosed() {
		return time.Time{}, ErrEngineClosed
	}

	delay := due.Sub(eng.clock.Now())
	if delay <= 0 {
		eng.ticker.Cancel(cycleKey(ctx, etype))
		eng.onCycleDue(ctx, etype)
		return due, nil
	}

	eng.ticker.Schedule(cycleKey(ctx, etype), delay, func() { eng.onCycleDue(ctx, etype) })
	log.Debug().Str("context", ctx.String()).Str("type", etype.String()).Time("due", due).Msg("cycle scheduled")
	return due, nil
}

// retryCycle schedules another attempt one interval from now after a cycle
// failed to start or its election was cancelled.
func (eng *Engine) retryCycle(ctx Context, etype ElectionType) {
	due := eng.clock.Now().Add(eng.interval(etype))
	if _, err := eng.scheduleCycle(ctx, etype, due); err != nil {
		log.Debug().Err(err).Str("context", ctx.String()).Msg("could not retry cycle")
	}
}

// scheduleAllCycles schedules the cycles of every election type that each
// known context permits, skipping those with an election in progress.
func (eng *Engine) scheduleAllCycles() {
	nations, err := eng.nations.Nations()
	if err != nil {
		log.Error().Err(err).Msg("could not list nations")
	}

	for _, nation := range nations {
		gov, err := eng.nations.Government(nation)
		if err != nil {
			log.Warn().Err(err).Str("nation", nation).Msg("could not look up government")
			continue
		}

		for _, etype := range []ElectionType{Parliamentary, Presidential} {
			if gov.Allows(etype) {
				eng.ensureCycle(NationContext(nation), etype)
			}
		}
	}

	parties, err := eng.parties.Parties()
	if err != nil {
		log.Error().Err(err).Msg("could not list parties")
	}

	for _, party := range parties {
		eng.ensureCycle(PartyContext(party), PartyLeader)
	}
}

// ensureCycle schedules the cycle unless an election is in progress or the
// cycle is already scheduled.
func (eng *Engine) ensureCycle(ctx Context, etype ElectionType) {
	if _, ok := eng.ActiveElection(ctx, etype); ok {
		return
	}

	if eng.ticker.Running(cycleKey(ctx, etype)) {
		return
	}

	if _, err := eng.ScheduleCycle(ctx, etype); err != nil {
		log.Warn().Err(err).Str("context", ctx.String()).Str("type", etype.String()).Msg("could not schedule cycle")
	}
}

func (eng *Engine) lastCompleted(ctx Context, etype ElectionType) (time.Time, bool) {
	switch ctx.Kind {
	case NationKind:
		return eng.nations.LastCompleted(ctx.ID, etype)
	case PartyKind:
		return eng.parties.LastCompleted(ctx.ID)
	default:
		return time.Time{}, false
	}
}

func cycleKey(ctx Context, etype ElectionType) string {
	return "cycle:" + key(ctx, etype)
}
