package blesvc

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// HostAdapterControl performs the host-level adapter manipulation that the
// BLE backend library does not expose: listing/clearing stale kernel-level
// links and power-cycling the adapter (§6.4). Every step logs and
// continues on failure; no step here is permitted to abort the caller.
type HostAdapterControl interface {
	// ClearStaleLink disconnects any host-level link to address that the
	// BLE backend may not know about.
	ClearStaleLink(ctx context.Context, address string)

	// ResetAdapter power-cycles the named adapter.
	ResetAdapter(ctx context.Context, adapter string)
}

// shellAdapterControl shells out to hcitool/bluetoothctl/hciconfig, the
// same tools the original Bluetooth service used. It is safe to use on
// hosts that lack these binaries: exec.LookPath failures are logged at
// debug and otherwise ignored.
type shellAdapterControl struct {
	log *slog.Logger
}

// NewShellAdapterControl returns a HostAdapterControl backed by the
// standard Linux BlueZ command-line tools.
func NewShellAdapterControl(log *slog.Logger) HostAdapterControl {
	return &shellAdapterControl{log: log}
}

func (s *shellAdapterControl) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		s.log.Debug("host shell command failed", "command", name, "args", args, "error", err)
	}
	return string(out), err
}

// ClearStaleLink checks hcitool's and bluetoothctl's view of active
// connections and disconnects address from both if present.
func (s *shellAdapterControl) ClearStaleLink(ctx context.Context, address string) {
	if out, err := s.run(ctx, "hcitool", "con"); err == nil && strings.Contains(out, address) {
		s.log.Warn("found existing hcitool connection, disconnecting", "address", address)
		s.run(ctx, "sudo", "hcitool", "dc", address)
	}

	if out, err := s.run(ctx, "bluetoothctl", "info", address); err == nil && strings.Contains(out, "Connected: yes") {
		s.log.Warn("found existing bluetoothctl connection, disconnecting", "address", address)
		s.run(ctx, "bluetoothctl", "disconnect", address)
	}
}

// ResetAdapter disconnects everything, cycles the named adapter down and
// up via hciconfig, and additionally power-cycles bluetoothctl's view as
// a belt-and-braces measure.
func (s *shellAdapterControl) ResetAdapter(ctx context.Context, adapter string) {
	if out, err := s.run(ctx, "hcitool", "con"); err == nil {
		for _, field := range strings.Fields(out) {
			if strings.Count(field, ":") == 5 {
				s.run(ctx, "sudo", "hcitool", "dc", field)
			}
		}
	}

	s.run(ctx, "sudo", "hciconfig", adapter, "down")
	s.run(ctx, "sudo", "hciconfig", adapter, "up")

	s.run(ctx, "bluetoothctl", "power", "off")
	s.run(ctx, "bluetoothctl", "power", "on")

	if out, err := s.run(ctx, "hciconfig", adapter); err != nil || !strings.Contains(out, "UP RUNNING") {
		s.log.Warn("adapter does not report UP RUNNING after reset", "adapter", adapter)
	}
}

// noopAdapterControl is used on hosts where shelling out to BlueZ tools
// makes no sense (§6.4: "replaceable by a no-op/stub for non-Linux
// hosts").
type noopAdapterControl struct{}

// NewNoopAdapterControl returns a HostAdapterControl that does nothing.
func NewNoopAdapterControl() HostAdapterControl { return noopAdapterControl{} }

func (noopAdapterControl) ClearStaleLink(ctx context.Context, address string) {}
func (noopAdapterControl) ResetAdapter(ctx context.Context, adapter string)   {}
