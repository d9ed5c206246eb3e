package reputation

import (
	"errors"

	"localmoney/native/authz"
)

// ActionRecordTradeStat is the capability action required by RecordTradeStat.
const ActionRecordTradeStat = "record_trade_stat"

// Audience names this collaborator in capability tokens.
const Audience = "profile"

// Sink records trade milestones on participant profiles. Callers pass the
// store of their own unit of work so the counters commit or roll back with
// the transition that produced them.
type Sink struct {
	verifier *authz.Verifier
}

// NewSink returns a sink that accepts only callers vouched for by verifier.
func NewSink(verifier *authz.Verifier) (*Sink, error) {
	if verifier == nil {
		return nil, errors.New("reputation: capability verifier required")
	}
	return &Sink{verifier: verifier}, nil
}

// RecordTradeStat verifies the capability token and folds event into actor's
// counters.
func (s *Sink) RecordTradeStat(store Store, capability string, actor [20]byte, event StatEvent) error {
	if _, err := s.verifier.Verify(capability, ActionRecordTradeStat); err != nil {
		return err
	}
	if actor == ([20]byte{}) {
		return errors.New("reputation: actor required")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	stats, err := LoadStats(store, actor)
	if err != nil {
		return err
	}
	if err := stats.Apply(event); err != nil {
		return err
	}
	return putStats(store, actor, stats)
}
