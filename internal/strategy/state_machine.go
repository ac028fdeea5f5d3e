package strategy

import "sync"

// StateMachine has no transition out of Paused; resuming needs a restart.
type StateMachine struct {
	mu    sync.Mutex
	state Status
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StatusStopped}
}

func (s *StateMachine) Apply(event Event) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func (s *StateMachine) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func nextState(current Status, event Event) Status {
	switch current {
	case StatusStopped:
		if event == EventStart {
			return StatusRunning
		}
	case StatusRunning:
		if event == EventDrawdownBreach || event == EventOperatorPause {
			return StatusPaused
		}
	}
	return current
}
