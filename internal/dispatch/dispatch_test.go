package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/pdg-labs/rl-ble-gateway/internal/blesvc"
	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/game"
	"github.com/pdg-labs/rl-ble-gateway/internal/registry"
)

func testAdvertisement(carID int64, bleName string) blesvc.Advertisement {
	return blesvc.Advertisement{Address: fmt.Sprintf("addr-%d", carID), Name: bleName, RSSI: -50}
}

func newTestDispatcher() (*Dispatcher, *registry.Registry) {
	log := slog.Default()
	cars := registry.New(nil, nil, config.BLEConfig{}, log)
	match := game.New(cars)
	d := New(cars, nil, match, log)
	return d, cars
}

func TestUnknownActionReply(t *testing.T) {
	d, _ := newTestDispatcher()
	reply, broadcast := d.HandleMessage(context.Background(), "s1", []byte(`{"action":"nonsense"}`))
	if reply["status"] != "error" || reply["message"] != "Unknown action" {
		t.Fatalf("unknown action reply = %v", reply)
	}
	if broadcast {
		t.Fatalf("unknown action must not broadcast")
	}
}

func TestInvalidJSONReply(t *testing.T) {
	d, _ := newTestDispatcher()
	reply, _ := d.HandleMessage(context.Background(), "s1", []byte(`{not json`))
	if reply["status"] != "error" || reply["message"] != "Invalid JSON format" {
		t.Fatalf("invalid JSON reply = %v", reply)
	}
}

func TestPingRepliesPong(t *testing.T) {
	d, _ := newTestDispatcher()
	reply, broadcast := d.HandleMessage(context.Background(), "s1", []byte(`{"action":"ping"}`))
	if reply["status"] != "success" || reply["action"] != "pong" {
		t.Fatalf("ping reply = %v", reply)
	}
	if broadcast {
		t.Fatalf("ping must not broadcast")
	}
}

func TestSelectCarContentionScenario(t *testing.T) {
	// §8 end-to-end scenario 1 (car id derived from the advertised name,
	// not the literal figure quoted in the scenario's narrative).
	d, cars := newTestDispatcher()
	const bleName = "RL-CAR-cc:ba:97:0d:8c:b5"
	cars.UpsertFromAdvertisement(testAdvertisement(1, bleName))
	carID := registry.DeriveCarID(bleName)

	selectMsg := []byte(fmt.Sprintf(`{"action":"select_car","car":%d}`, carID))

	replyA, _ := d.HandleMessage(context.Background(), "session-A", selectMsg)
	if replyA["status"] != "success" {
		t.Fatalf("session A select = %v, want success", replyA)
	}

	replyB, _ := d.HandleMessage(context.Background(), "session-B", selectMsg)
	if replyB["status"] != "error" {
		t.Fatalf("session B select while held = %v, want error", replyB)
	}

	d.EndSession("session-A")

	replyB2, _ := d.HandleMessage(context.Background(), "session-B", selectMsg)
	if replyB2["status"] != "success" {
		t.Fatalf("session B retry after A ends = %v, want success", replyB2)
	}
}

func TestMoveCarRejectsOutOfRangeSteering(t *testing.T) {
	d, cars := newTestDispatcher()
	const bleName = "RL-CAR-aa:bb:cc:dd:ee:01"
	cars.UpsertFromAdvertisement(testAdvertisement(1, bleName))
	carID := registry.DeriveCarID(bleName)

	selectMsg := []byte(fmt.Sprintf(`{"action":"select_car","car":%d}`, carID))
	_, _ = d.HandleMessage(context.Background(), "session-A", selectMsg)

	moveMsg := []byte(fmt.Sprintf(`{"action":"move_car","car":%d,"move":"forward","x":101,"boost":false}`, carID))
	reply, _ := d.HandleMessage(context.Background(), "session-A", moveMsg)
	if reply["status"] != "error" {
		t.Fatalf("move_car with x=101 = %v, want error", reply)
	}
}

func TestMoveCarRejectsNonOwner(t *testing.T) {
	d, cars := newTestDispatcher()
	const bleName = "RL-CAR-aa:bb:cc:dd:ee:01"
	cars.UpsertFromAdvertisement(testAdvertisement(1, bleName))
	carID := registry.DeriveCarID(bleName)

	selectMsg := []byte(fmt.Sprintf(`{"action":"select_car","car":%d}`, carID))
	_, _ = d.HandleMessage(context.Background(), "session-A", selectMsg)

	moveMsg := []byte(fmt.Sprintf(`{"action":"move_car","car":%d,"move":"forward","x":10,"boost":false}`, carID))
	reply, _ := d.HandleMessage(context.Background(), "session-B", moveMsg)
	if reply["status"] != "error" {
		t.Fatalf("move_car from non-owner = %v, want error", reply)
	}
}

func TestStartGameBroadcasts(t *testing.T) {
	d, _ := newTestDispatcher()
	reply, broadcast := d.HandleMessage(context.Background(), "session-A", []byte(`{"action":"start_game","match_length_seconds":120}`))
	if !broadcast {
		t.Fatalf("start_game must broadcast")
	}
	if reply["message"] != "Game started!" {
		t.Fatalf("start_game message = %v, want 'Game started!'", reply["message"])
	}
}
