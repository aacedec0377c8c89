// Package dispatch implements the Session Dispatcher (§4.5): per-message
// JSON decode, the flat action table (§6.1), drive command translation,
// and broadcast fan-out. It is the composition root that wires the Car
// Registry, Adapter Coordinator, and Game state together; none of those
// collaborators know about each other directly (§9: no process-wide
// singletons, explicit construction instead).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pdg-labs/rl-ble-gateway/internal/blesvc"
	"github.com/pdg-labs/rl-ble-gateway/internal/game"
	"github.com/pdg-labs/rl-ble-gateway/internal/metrics"
	"github.com/pdg-labs/rl-ble-gateway/internal/registry"
)

// Transport is the narrow surface the Dispatcher needs from the
// WebSocket layer: send a reply to one session, or fan it out to every
// live session (§4.5 step 5).
type Transport interface {
	Send(sessionID string, payload any) error
	Broadcast(payload any)
}

// broadcastActions mirrors §6.1: "a handful of actions ... additionally
// broadcast the same reply to all active sessions." end_game is deliberately
// absent: the match can also end on its own via the 1Hz clock with no
// client action in play, so its broadcast is driven by game.Game.OnEnded
// instead (wired once at startup), covering both triggers uniformly.
var broadcastActions = map[string]bool{
	"start_game":  true,
	"stop_game":   true,
	"resume_game": true,
	"goal_scored": true,
}

// envelope is the union of every field any action in §6.1 may carry.
// The dispatcher decodes once into this loosely-typed shape rather than
// maintaining one struct per action, matching the source's dict-based
// handlers while staying statically typed at the edges it touches.
type envelope struct {
	Action string `json:"action"`

	Car  *int64 `json:"car"`
	Move string `json:"move"`
	X    *int   `json:"x"`
	Boost bool  `json:"boost"`

	Command string `json:"command"`
	Message string `json:"message"`

	SSID     string `json:"ssid"`
	Password string `json:"password"`

	MatchLengthSeconds *int `json:"match_length_seconds"`

	Team     string `json:"team"`
	PlayerID string `json:"player_id"`
	CarID    *int64 `json:"car_id"`

	TeamColor string `json:"team_color"`
	Color     string `json:"color"`
	Name      string `json:"name"`

	DeviceAddress string `json:"device_address"`
}

// Dispatcher is constructed once per process and handed the transport
// layer's callbacks (§9: "explicitly constructed root").
type Dispatcher struct {
	cars      *registry.Registry
	coord     *blesvc.Coordinator
	match     *game.Game
	transport Transport
	log       *slog.Logger
}

// New constructs a Dispatcher. transport is set separately via
// SetTransport because the transport layer typically needs a reference
// back to the Dispatcher to route inbound frames, creating an
// unavoidable two-step wiring at startup.
func New(cars *registry.Registry, coord *blesvc.Coordinator, match *game.Game, log *slog.Logger) *Dispatcher {
	return &Dispatcher{cars: cars, coord: coord, match: match, log: log}
}

// SetTransport wires the outbound Send/Broadcast surface.
func (d *Dispatcher) SetTransport(t Transport) { d.transport = t }

// EndSession implements the session-end half of §4.5 step 6: every car
// owned by sessionID is released.
func (d *Dispatcher) EndSession(sessionID string) {
	freed := d.cars.FreeAllBy(sessionID)
	if len(freed) > 0 {
		d.log.Info("session end released cars", "session", sessionID, "cars", freed)
	}
}

// HandleMessage implements §4.5's per-message lifecycle steps 1-4. Step 5
// (send/broadcast) is left to the caller, normally Dispatch, which uses
// the returned reply and shouldBroadcast.
func (d *Dispatcher) HandleMessage(ctx context.Context, sessionID string, raw []byte) (reply map[string]any, shouldBroadcast bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return map[string]any{"status": "error", "message": "Invalid JSON format"}, false
	}

	handler, ok := actionTable[env.Action]
	if !ok {
		return map[string]any{"status": "error", "message": "Unknown action", "action": env.Action}, false
	}

	reply = handler(ctx, d, sessionID, env)
	return reply, broadcastActions[env.Action]
}

// Dispatch sends (and, where applicable, broadcasts) the reply for one
// inbound message, fully implementing §4.5 step 5.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, raw []byte) {
	reply, broadcast := d.HandleMessage(ctx, sessionID, raw)
	if broadcast {
		d.transport.Broadcast(reply)
		return
	}
	if err := d.transport.Send(sessionID, reply); err != nil {
		d.log.Debug("send reply failed, session likely closed", "session", sessionID, "error", err)
	}
}

type handlerFunc func(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any

var actionTable = map[string]handlerFunc{
	"get_all_cars":             handleGetAllCars,
	"get_free_cars":            handleGetFreeCars,
	"select_car":               handleSelectCar,
	"free_car":                 handleFreeCar,
	"get_car_status":           handleGetCarStatus,
	"move_car":                 handleMoveCar,
	"send_to_car":              handleSendToCar,
	"connect_to_car":           handleConnectToCar,
	"switch_to_scan_phase":     handleSwitchToScanPhase,
	"switch_to_control_phase":  handleSwitchToControlPhase,
	"get_phase_status":         handleGetPhaseStatus,
	"start_game":               handleStartGame,
	"stop_game":                handleStopGame,
	"resume_game":              handleResumeGame,
	"end_game":                 handleEndGame,
	"goal_scored":              handleGoalScored,
	"get_game_status":          handleGetGameStatus,
	"score_goal":               handleGoalScored,
	"add_car_to_team":          handleAddCarToTeam,
	"remove_car_from_teams":    handleRemoveCarFromTeams,
	"add_team":                 handleAddTeam,
	"get_bluetooth_status":     handleGetBluetoothStatus,
	"start_bluetooth_scan":     handleStartBluetoothScan,
	"stop_bluetooth_scan":      handleStopBluetoothScan,
	"pair_bluetooth_device":    handlePairBluetoothDevice,
	"ping":                     handlePing,
}

func ownerOf(car *registry.Car) string {
	if car.Owner == registry.Unassigned {
		return ""
	}
	return car.Owner
}

func carSnapshot(car *registry.Car) map[string]any {
	return map[string]any{
		"car_id":    car.ID,
		"name":      car.DisplayName,
		"ble_name":  car.BLEName,
		"address":   car.BLEAddress,
		"rssi":      car.RSSI,
		"battery":   car.Telemetry.Battery,
		"status":    car.Telemetry.Status,
		"x":         car.Telemetry.X,
		"y":         car.Telemetry.Y,
		"speed":     car.Telemetry.Speed,
		"decay":     car.Telemetry.Decay,
		"owner":     ownerOf(car),
		"connected": car.Session != nil && car.Session.IsConnected(),
	}
}

func handleGetAllCars(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	cars := d.cars.List()
	out := make([]map[string]any, 0, len(cars))
	for _, c := range cars {
		out = append(out, carSnapshot(c))
	}
	return map[string]any{"status": "success", "action": "get_all_cars", "cars": out}
}

func handleGetFreeCars(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	ids := d.cars.ListFree()
	return map[string]any{
		"status":  "success",
		"action":  "get_free_cars",
		"cars":    ids,
		"message": fmt.Sprintf("Found %d available cars", len(ids)),
	}
}

func handleSelectCar(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "select_car", "message": "Car ID is required"}
	}

	err := d.cars.Select(*env.Car, sessionID)
	switch err {
	case nil:
		return map[string]any{"status": "success", "action": "select_car", "car": *env.Car, "message": fmt.Sprintf("Car %d successfully selected", *env.Car)}
	case registry.ErrNotFound:
		return map[string]any{"status": "error", "action": "select_car", "message": fmt.Sprintf("Car %d not found", *env.Car)}
	case registry.ErrBusy:
		return map[string]any{"status": "error", "action": "select_car", "message": fmt.Sprintf("Car %d is already selected by another client", *env.Car)}
	default:
		return map[string]any{"status": "error", "action": "select_car", "message": err.Error()}
	}
}

func handleFreeCar(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "free_car", "message": "Car ID is required"}
	}

	err := d.cars.Free(*env.Car, sessionID)
	switch err {
	case nil:
		return map[string]any{"status": "success", "action": "free_car", "car": *env.Car, "message": fmt.Sprintf("Car %d has been freed", *env.Car)}
	case registry.ErrNotFound:
		return map[string]any{"status": "error", "action": "free_car", "message": fmt.Sprintf("Car %d not found", *env.Car)}
	case registry.ErrNotOwner:
		return map[string]any{"status": "error", "action": "free_car", "message": fmt.Sprintf("Car %d is not selected by this client", *env.Car)}
	default:
		return map[string]any{"status": "error", "action": "free_car", "message": err.Error()}
	}
}

func handleGetCarStatus(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "get_car_status", "message": "Car ID is required"}
	}
	car, ok := d.cars.Get(*env.Car)
	if !ok {
		return map[string]any{"status": "error", "action": "get_car_status", "message": fmt.Sprintf("Car %d not found", *env.Car)}
	}
	return map[string]any{
		"status":      "success",
		"action":      "get_car_status",
		"car":         car.ID,
		"battery":     car.Telemetry.Battery,
		"move":        car.Telemetry.Status,
		"x":           car.Telemetry.X,
		"boost":       car.Telemetry.Decay == 1,
		"boost_value": car.Telemetry.Decay,
	}
}

// handleMoveCar implements the drive command translation table (§4.5).
func handleMoveCar(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "move_car", "message": "Car ID is required"}
	}
	car, ok := d.cars.Get(*env.Car)
	if !ok {
		return map[string]any{"status": "error", "action": "move_car", "message": fmt.Sprintf("Car %d not found", *env.Car)}
	}
	if ownerOf(car) != sessionID {
		return map[string]any{"status": "error", "action": "move_car", "message": fmt.Sprintf("Car %d is controlled by another client. Select the car first.", *env.Car)}
	}

	x := 0
	if env.X != nil {
		x = *env.X
	}
	if x < -100 || x > 100 {
		return map[string]any{"status": "error", "action": "move_car", "message": fmt.Sprintf("Invalid x parameter: %d. Must be between -100 and 100", x)}
	}

	driveX, driveY, speed, decay := TranslateMove(env.Move, x, env.Boost)

	car.Telemetry.X = driveX
	car.Telemetry.Y = driveY
	car.Telemetry.Speed = speed
	car.Telemetry.Decay = decay

	scheduled := scheduleDrive(d, car, driveX, driveY, speed, decay)
	metrics.DriveCommandsScheduled.WithLabelValues(fmt.Sprintf("%t", scheduled)).Inc()

	return map[string]any{
		"status":                 "success",
		"action":                 "move_car",
		"car":                    car.ID,
		"bluetooth_command_sent": scheduled,
		"message":                fmt.Sprintf("Car %d command received and executed", car.ID) + boostSuffix(scheduled),
	}
}

func boostSuffix(scheduled bool) string {
	if scheduled {
		return " and Bluetooth drive command initiated"
	}
	return ""
}

// scheduleDrive launches the BLE write as a detached task (§9: "fire-
// and-forget BLE tasks ... modeled as detached tasks on the shared
// executor"). It reports only whether the task was schedulable, not
// whether it completed.
func scheduleDrive(d *Dispatcher, car *registry.Car, x, y, speed, decay int) bool {
	if d.coord.Phase() != blesvc.PhaseControl {
		return false
	}
	if car.Session == nil || !car.Session.IsConnected() {
		return false
	}

	sess := car.Session
	go func() {
		if err := sess.SetDrive(x, y, speed, decay); err != nil {
			d.log.Warn("drive command failed", "car", car.ID, "error", err)
		}
	}()
	return true
}

func handleSendToCar(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "send_to_car", "message": "Car ID is required"}
	}
	car, ok := d.cars.Get(*env.Car)
	if !ok {
		return map[string]any{"status": "error", "action": "send_to_car", "message": fmt.Sprintf("Car %d not found", *env.Car)}
	}
	if ownerOf(car) != sessionID {
		return map[string]any{"status": "error", "action": "send_to_car", "message": fmt.Sprintf("Car %d is controlled by another client. Select the car first.", *env.Car)}
	}
	if car.Session == nil || !car.Session.IsConnected() {
		return map[string]any{"status": "error", "action": "send_to_car", "message": fmt.Sprintf("Car %d BLE device not found. Try discovering cars first.", *env.Car)}
	}

	return map[string]any{"status": "success", "action": "send_to_car", "message": fmt.Sprintf("Command sent to car %s", car.DisplayName)}
}

func handleConnectToCar(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "connect_to_car", "message": "Car ID is required"}
	}
	car, ok := d.cars.Get(*env.Car)
	if !ok {
		return map[string]any{"status": "error", "action": "connect_to_car", "message": fmt.Sprintf("Car not found (ID: %d)", *env.Car)}
	}

	go func() {
		if _, err := d.coord.ConnectToDevice(context.Background(), car.BLEAddress); err != nil {
			d.log.Warn("connect_to_car failed", "car", car.ID, "error", err)
		}
	}()

	return map[string]any{
		"status":  "success",
		"action":  "connect_to_car",
		"message": fmt.Sprintf("Connection initiated to car %s (%s)", car.DisplayName, car.BLEAddress),
	}
}

func handleSwitchToScanPhase(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	d.coord.SwitchToScanPhase()
	return map[string]any{"status": "pending", "action": "switch_to_scan_phase", "message": "Switching to scan phase..."}
}

func handleSwitchToControlPhase(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	d.coord.SwitchToControlPhase()
	return map[string]any{"status": "pending", "action": "switch_to_control_phase", "message": "Switching to control phase..."}
}

func handleGetPhaseStatus(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	return map[string]any{"status": "success", "action": "get_phase_status", "phase": d.coord.Phase().String()}
}

func handleStartGame(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	length := 0
	if env.MatchLengthSeconds != nil {
		length = *env.MatchLengthSeconds
	}
	d.match.Start(length)
	return map[string]any{"status": "success", "action": "start_game", "message": "Game started!"}
}

func handleStopGame(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	d.match.Stop()
	return map[string]any{"status": "success", "action": "stop_game", "message": "Game paused!"}
}

func handleResumeGame(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	d.match.Resume()
	return map[string]any{"status": "success", "action": "resume_game", "message": "Game resumed!"}
}

func handleEndGame(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	d.match.End()
	return map[string]any{"status": "success", "action": "end_game", "message": "Game ended!"}
}

func handleGoalScored(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	team := env.Team
	if team == "" {
		team = env.TeamColor
	}
	carID := int64(0)
	if env.CarID != nil {
		carID = *env.CarID
	}
	if err := d.match.Score(team, env.PlayerID, carID); err != nil {
		return map[string]any{"status": "error", "action": "goal_scored", "message": err.Error()}
	}
	return map[string]any{"status": "success", "action": "goal_scored", "team": team}
}

func handleGetGameStatus(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	snap := d.match.Snapshot()
	teams := make(map[string]any, len(snap.Teams))
	for color, t := range snap.Teams {
		teams[color] = map[string]any{"name": t.Name, "score": t.Score, "cars": len(t.Cars)}
	}
	return map[string]any{
		"status":    "success",
		"action":    "get_game_status",
		"state":     string(snap.State),
		"elapsed":   snap.Elapsed,
		"remaining": snap.Remaining,
		"teams":     teams,
		"goals":     len(snap.Goals),
	}
}

func handleAddCarToTeam(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "add_car_to_team", "message": "Car ID is required"}
	}
	team := env.Team
	if team == "" {
		team = env.TeamColor
	}
	if err := d.match.AddCarToTeam(*env.Car, team); err != nil {
		return map[string]any{"status": "error", "action": "add_car_to_team", "message": err.Error()}
	}
	return map[string]any{"status": "success", "action": "add_car_to_team", "car": *env.Car, "team": team}
}

func handleRemoveCarFromTeams(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.Car == nil {
		return map[string]any{"status": "error", "action": "remove_car_from_teams", "message": "Car ID is required"}
	}
	d.match.RemoveCarFromTeams(*env.Car)
	return map[string]any{"status": "success", "action": "remove_car_from_teams", "car": *env.Car}
}

func handleAddTeam(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	color := env.Color
	if color == "" {
		color = env.Team
	}
	d.match.AddTeam(color, env.Name)
	return map[string]any{"status": "success", "action": "add_team", "color": color}
}

func handleGetBluetoothStatus(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	return map[string]any{"status": "success", "action": "get_bluetooth_status", "phase": d.coord.Phase().String()}
}

func handleStartBluetoothScan(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	go func() {
		if err := d.coord.Discover(context.Background(), 0); err != nil {
			d.log.Warn("bluetooth scan failed", "error", err)
		}
	}()
	return map[string]any{"status": "success", "action": "start_bluetooth_scan", "message": "Scan started"}
}

func handleStopBluetoothScan(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	return map[string]any{"status": "success", "action": "stop_bluetooth_scan", "message": "Scan stop requested"}
}

func handlePairBluetoothDevice(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	if env.DeviceAddress == "" {
		return map[string]any{"status": "error", "action": "pair_bluetooth_device", "message": "device_address is required"}
	}
	go func() {
		if _, err := d.coord.ConnectToDevice(context.Background(), env.DeviceAddress); err != nil {
			d.log.Warn("pair_bluetooth_device failed", "address", env.DeviceAddress, "error", err)
		}
	}()
	return map[string]any{"status": "success", "action": "pair_bluetooth_device", "message": fmt.Sprintf("Pairing initiated to %s", env.DeviceAddress)}
}

// handlePing answers the client's application-level keepalive action with
// a pong reply, independent of the transport-level ping/pong frames
// wsapi.Server already exchanges underneath the websocket connection.
func handlePing(ctx context.Context, d *Dispatcher, sessionID string, env envelope) map[string]any {
	return map[string]any{"status": "success", "action": "pong"}
}
