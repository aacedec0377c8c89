package game

import (
	"testing"
	"time"

	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/registry"
)

func newTestGame() *Game {
	return New(registry.New(nil, nil, config.BLEConfig{}, nil))
}

func TestNotStartedRemainingIsFullLength(t *testing.T) {
	g := newTestGame()
	snap := g.Snapshot()
	if snap.State != StateNotStarted {
		t.Fatalf("state = %v, want not_started", snap.State)
	}
	if snap.Remaining != DefaultMatchLengthSeconds {
		t.Fatalf("remaining = %d, want %d", snap.Remaining, DefaultMatchLengthSeconds)
	}
}

func TestStartEndStartYieldsFreshGame(t *testing.T) {
	g := newTestGame()
	g.Start(120)
	_ = g.Score("red", "", 1)
	g.End()

	g.Start(120)
	snap := g.Snapshot()
	if len(snap.Goals) != 0 {
		t.Fatalf("goals after restart = %v, want empty", snap.Goals)
	}
	if snap.Teams["red"].Score != 0 {
		t.Fatalf("red score after restart = %d, want 0", snap.Teams["red"].Score)
	}
	if snap.Remaining != 120 {
		t.Fatalf("remaining after restart = %d, want 120 (full length)", snap.Remaining)
	}
}

func TestPauseExcludedFromElapsed(t *testing.T) {
	g := newTestGame()
	g.Start(300)

	time.Sleep(20 * time.Millisecond)
	g.Stop()
	pausedElapsed := g.Elapsed()

	time.Sleep(50 * time.Millisecond) // while paused, must not count
	if g.Elapsed() != pausedElapsed {
		t.Fatalf("elapsed advanced while paused: before=%d after=%d", pausedElapsed, g.Elapsed())
	}

	g.Resume()
	if g.Snapshot().State != StateActive {
		t.Fatalf("state after resume = %v, want active", g.Snapshot().State)
	}
}

func TestTickEndsMatchWhenRemainingHitsZero(t *testing.T) {
	g := newTestGame()
	ended := false
	g.OnEnded(func(EndedEvent) { ended = true })

	g.Start(0) // defaults to 300s, but we force an immediate expiry below
	g.mu.Lock()
	g.matchLengthSeconds = 0
	g.mu.Unlock()

	g.Tick()

	if !ended {
		t.Fatal("Tick() did not fire OnEnded when remaining reached 0")
	}
	if g.Snapshot().State != StateEnded {
		t.Fatalf("state after tick expiry = %v, want ended", g.Snapshot().State)
	}
}
