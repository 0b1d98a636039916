package service

import "go.uber.org/zap"

// AttemptState is a step of one reservation attempt.
type AttemptState string

const (
	StateInitiated AttemptState = "initiated"
	StatePriced    AttemptState = "priced"
	StateCredited  AttemptState = "credited"
	StateSeated    AttemptState = "seated"
	StateConfirmed AttemptState = "confirmed"
	StateAborted   AttemptState = "aborted"
)

// attempt tracks the state machine of a single reserve call.  Transitions
// only move forward; abort is reachable from any state.
type attempt struct {
	state AttemptState
	log   *zap.Logger
}

func newAttempt(log *zap.Logger) *attempt {
	a := &attempt{state: StateInitiated, log: log}
	a.log.Debug("reservation attempt", zap.String("state", string(StateInitiated)))
	return a
}

func (a *attempt) advance(to AttemptState) {
	a.log.Debug("reservation attempt",
		zap.String("from", string(a.state)), zap.String("state", string(to)))
	a.state = to
}

// abort moves the attempt to aborted and returns err unchanged so call
// sites can `return nil, a.abort(err)`.
func (a *attempt) abort(err error) error {
	a.log.Debug("reservation attempt aborted",
		zap.String("from", string(a.state)), zap.Error(err))
	a.state = StateAborted
	return err
}
