// Package game implements the Game state external collaborator (§6.3):
// teams, goals, and a pause-aware match clock that derives elapsed and
// remaining time on every read rather than decrementing a live counter.
package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/pdg-labs/rl-ble-gateway/internal/registry"
)

// State is the coarse lifecycle of a match.
type State string

const (
	StateNotStarted State = "not_started"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateEnded      State = "ended"
)

// DefaultMatchLengthSeconds is used when start() omits match_length_seconds.
const DefaultMatchLengthSeconds = 300

// Team holds one side's roster and score.
type Team struct {
	Color string
	Name  string
	Score int
	Cars  map[int64]struct{}
}

// Goal records one scoring event.
type Goal struct {
	Team     string
	PlayerID string
	CarID    int64
	ScoredAt time.Time
}

// EndedEvent is published once when the match transitions to Ended,
// whether by explicit end() or by the clock reaching zero.
type EndedEvent struct{}

// Snapshot is the read-only view returned by Snapshot() (§6.3).
type Snapshot struct {
	Teams     map[string]Team
	Goals     []Goal
	Elapsed   int
	Remaining int
	State     State
}

// Game tracks one match's teams, goals, and pause-aware clock.
//
// Car membership on a team depends only on the Car Registry (§9 design
// note: "GameManager depends on CarManager, not vice versa" — this is
// the one-way reference, never the other direction).
type Game struct {
	mu sync.Mutex

	cars *registry.Registry

	teams map[string]*Team
	goals []Goal

	matchLengthSeconds int
	startedAt          *time.Time
	pausedAt           *time.Time
	endedAt            *time.Time
	totalPausedSeconds int

	state State

	onEnded []func(EndedEvent)
}

// New constructs a Game in state not_started, with the two default
// teams ("red", "blue") pre-registered, matching the original server's
// default roster.
func New(cars *registry.Registry) *Game {
	g := &Game{
		cars:               cars,
		teams:               make(map[string]*Team),
		matchLengthSeconds: DefaultMatchLengthSeconds,
		state:               StateNotStarted,
	}
	g.addTeamLocked("red", "")
	g.addTeamLocked("blue", "")
	return g
}

// OnEnded subscribes a callback fired exactly once when the match ends,
// whether by explicit end_game or automatic clock expiry.
func (g *Game) OnEnded(fn func(EndedEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onEnded = append(g.onEnded, fn)
}

func (g *Game) fireEnded() {
	for _, fn := range g.onEnded {
		fn(EndedEvent{})
	}
}

func (g *Game) addTeamLocked(color, name string) *Team {
	t := &Team{Color: color, Name: name, Cars: make(map[int64]struct{})}
	g.teams[color] = t
	return t
}

// AddTeam registers a new team (§6.1 add_team).
func (g *Game) AddTeam(color, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addTeamLocked(color, name)
}

// AddCarToTeam assigns car to team, removing it from any other team
// first. Validates car existence against the Registry.
func (g *Game) AddCarToTeam(carID int64, teamColor string) error {
	if _, ok := g.cars.Get(carID); !ok {
		return fmt.Errorf("game: unknown car %d", carID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	team, ok := g.teams[teamColor]
	if !ok {
		return fmt.Errorf("game: unknown team %q", teamColor)
	}

	for color, other := range g.teams {
		if color != teamColor {
			delete(other.Cars, carID)
		}
	}
	team.Cars[carID] = struct{}{}
	return nil
}

// RemoveCarFromTeams removes car from every team.
func (g *Game) RemoveCarFromTeams(carID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, team := range g.teams {
		delete(team.Cars, carID)
	}
}

// Start begins a fresh match. A zero matchLengthSeconds uses the
// default.
func (g *Game) Start(matchLengthSeconds int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if matchLengthSeconds <= 0 {
		matchLengthSeconds = DefaultMatchLengthSeconds
	}

	now := time.Now()
	g.matchLengthSeconds = matchLengthSeconds
	g.startedAt = &now
	g.pausedAt = nil
	g.endedAt = nil
	g.totalPausedSeconds = 0
	g.goals = nil
	for _, team := range g.teams {
		team.Score = 0
	}
	g.state = StateActive
}

// Stop pauses an active match; a no-op if not active.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateActive {
		return
	}
	now := time.Now()
	g.pausedAt = &now
	g.state = StatePaused
}

// Resume continues a paused match, folding the pause duration into
// total_paused_time.
func (g *Game) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pausedAt == nil || g.state == StateEnded {
		return
	}
	g.totalPausedSeconds += int(time.Since(*g.pausedAt).Seconds())
	g.pausedAt = nil
	g.state = StateActive
}

// End finalizes the match permanently.
func (g *Game) End() {
	g.mu.Lock()
	if g.state == StateEnded {
		g.mu.Unlock()
		return
	}
	if g.pausedAt != nil {
		g.totalPausedSeconds += int(time.Since(*g.pausedAt).Seconds())
		g.pausedAt = nil
	}
	now := time.Now()
	g.endedAt = &now
	g.state = StateEnded
	g.mu.Unlock()

	g.fireEnded()
}

// Score records a goal for teamColor.
func (g *Game) Score(teamColor, playerID string, carID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	team, ok := g.teams[teamColor]
	if !ok {
		return fmt.Errorf("game: unknown team %q", teamColor)
	}
	team.Score++
	g.goals = append(g.goals, Goal{Team: teamColor, PlayerID: playerID, CarID: carID, ScoredAt: time.Now()})
	return nil
}

// endTimeLocked returns the instant elapsed/remaining are measured
// against: pause time if paused, end time if ended, else now. Caller
// must hold mu.
func (g *Game) endTimeLocked() time.Time {
	switch {
	case g.pausedAt != nil:
		return *g.pausedAt
	case g.endedAt != nil:
		return *g.endedAt
	default:
		return time.Now()
	}
}

// Elapsed returns seconds elapsed since start, excluding paused time.
// Derived on every call; never stored as a live-decrementing field.
func (g *Game) Elapsed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsedLocked()
}

func (g *Game) elapsedLocked() int {
	if g.startedAt == nil {
		return 0
	}
	total := int(g.endTimeLocked().Sub(*g.startedAt).Seconds()) - g.totalPausedSeconds
	if total < 0 {
		total = 0
	}
	return total
}

// Remaining returns seconds remaining in the match, excluding paused
// time, clamped to zero.
func (g *Game) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingLocked()
}

func (g *Game) remainingLocked() int {
	if g.startedAt == nil {
		return g.matchLengthSeconds
	}
	if g.state == StateEnded {
		return 0
	}
	remaining := g.matchLengthSeconds - g.elapsedLocked()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Tick is driven at 1 Hz by the caller (§6.3: "a clock tick at 1Hz must
// trigger automatic transition to ended when remaining time reaches
// 0"). It is a no-op unless the match is Active and has expired.
func (g *Game) Tick() {
	g.mu.Lock()
	shouldEnd := g.state == StateActive && g.remainingLocked() <= 0
	g.mu.Unlock()

	if shouldEnd {
		g.End()
	}
}

// Snapshot returns the current teams, goals, elapsed/remaining time, and
// state (§6.3).
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	teams := make(map[string]Team, len(g.teams))
	for color, t := range g.teams {
		teams[color] = *t
	}

	goals := make([]Goal, len(g.goals))
	copy(goals, g.goals)

	return Snapshot{
		Teams:     teams,
		Goals:     goals,
		Elapsed:   g.elapsedLocked(),
		Remaining: g.remainingLocked(),
		State:     g.state,
	}
}
