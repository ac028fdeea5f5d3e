package strategy

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if sm.Status() != StatusStopped {
		t.Fatalf("expected %s, got %s", StatusStopped, sm.Status())
	}
	if sm.Apply(EventDrawdownBreach) != StatusStopped {
		t.Fatalf("breach before start must not change state")
	}
	if sm.Apply(EventStart) != StatusRunning {
		t.Fatalf("expected %s, got %s", StatusRunning, sm.Status())
	}
	if sm.Apply(EventStart) != StatusRunning {
		t.Fatalf("repeated start must keep %s", StatusRunning)
	}
	if sm.Apply(EventDrawdownBreach) != StatusPaused {
		t.Fatalf("expected %s, got %s", StatusPaused, sm.Status())
	}
}

func TestStateMachinePausedIsTerminal(t *testing.T) {
	sm := NewStateMachine()
	sm.Apply(EventStart)
	sm.Apply(EventOperatorPause)
	for _, event := range []Event{EventStart, EventDrawdownBreach, EventOperatorPause} {
		if sm.Apply(event) != StatusPaused {
			t.Fatalf("event %s must not leave %s", event, StatusPaused)
		}
	}
}
