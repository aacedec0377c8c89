package blesvc

import (
	"testing"

	"github.com/pdg-labs/rl-ble-gateway/internal/events"
)

func newTestPhaseBus(fn func(Phase)) *events.Bus[PhaseEvent] {
	bus := events.New[PhaseEvent]()
	bus.Subscribe(func(e PhaseEvent) { fn(e.Phase) })
	return bus
}

func TestPhaseString(t *testing.T) {
	if PhaseScan.String() != "scan" {
		t.Errorf("PhaseScan.String() = %q, want scan", PhaseScan.String())
	}
	if PhaseControl.String() != "control" {
		t.Errorf("PhaseControl.String() = %q, want control", PhaseControl.String())
	}
}

func TestCoordinatorPhaseTransitionEvents(t *testing.T) {
	c := &Coordinator{phase: PhaseScan}

	fired := 0
	var last Phase
	c.phaseBus = newTestPhaseBus(func(p Phase) {
		fired++
		last = p
	})

	c.setPhase(PhaseScan) // no-op, same phase
	if fired != 0 {
		t.Fatalf("setPhase to the same phase should not publish, got %d events", fired)
	}

	c.setPhase(PhaseControl)
	if fired != 1 || last != PhaseControl {
		t.Fatalf("setPhase(PhaseControl) = %d events, last=%v; want 1 event, PhaseControl", fired, last)
	}
}
