// Package blesvc implements the per-car BLE lifecycle (§4.2 Device
// Session) and the single-adapter arbitration, scan/control phase machine,
// and recovery routines built on top of it (§4.3 Adapter Coordinator).
package blesvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/gattcodec"
	"github.com/pdg-labs/rl-ble-gateway/internal/metrics"
)

// ConnState is a Device Session's lifecycle state (§4.2).
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "idle"
	}
}

// StaleLinkClearer clears host-level links for an address before/after a
// connect or disconnect (§4.2, §6.4). Both HostAdapterControl and the
// Coordinator satisfy it; the Device Session never runs host commands
// itself, only through this interface.
type StaleLinkClearer interface {
	ClearStaleLink(ctx context.Context, address string)
}

// Session represents one car's BLE link (§4.2).
type Session struct {
	mu sync.Mutex

	address    bluetooth.Address
	addressStr string
	name       string
	deviceID   string
	rssi       int16

	state ConnState

	adapter *bluetooth.Adapter
	device  *bluetooth.Device
	chars   map[bluetooth.UUID]bluetooth.DeviceCharacteristic

	clearer StaleLinkClearer
	cfg     config.BLEConfig
	log     *slog.Logger
}

// NewSession constructs an idle Device Session for a discovered address.
// The backend bluetooth.Address handle is unresolved until the first
// UpdateScanResult call (from a discovery or focused rescan); Connect
// uses whatever handle was last cached.
func NewSession(adapter *bluetooth.Adapter, address string, name string, clearer StaleLinkClearer, cfg config.BLEConfig, log *slog.Logger) *Session {
	return &Session{
		addressStr: address,
		name:       name,
		adapter:    adapter,
		clearer:    clearer,
		cfg:        cfg,
		state:      StateIdle,
		log:        log,
	}
}

// Address returns the BLE MAC-style address string.
func (s *Session) Address() string {
	return s.addressStr
}

// State returns the current lifecycle state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the GATT link is currently open (§3
// invariant: is_connected true only while the link is open).
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// UpdateScanResult refreshes the cached backend handle and RSSI after a
// rediscovery (§4.3).
func (s *Session) UpdateScanResult(address bluetooth.Address, rssi int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
	s.rssi = rssi
}

// DeviceID returns the last-read Device ID, if any.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Connect attempts to bring the session to Connected, with up to `retries`
// attempts and an adaptive backoff between them (§4.2). It closes any
// prior client, asks its StaleLinkClearer to clear stale host links, then
// attempts the GATT connect. Each attempt is bounded by
// ConnectPerAttemptTimeout; no overall time budget is applied, here or in
// the Coordinator's ConnectToDevice, beyond cancellation of ctx.
func (s *Session) Connect(ctx context.Context, retries int) error {
	s.mu.Lock()
	if s.device != nil {
		s.closeDeviceLocked()
	}
	s.state = StateConnecting
	addr := s.address
	s.mu.Unlock()

	if s.clearer != nil {
		s.clearer.ClearStaleLink(ctx, s.addressStr)
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		device, err := s.attemptConnect(ctx, addr)
		if err == nil {
			s.mu.Lock()
			s.device = device
			s.state = StateConnected
			s.mu.Unlock()

			if err := s.probeAfterConnect(ctx); err != nil {
				s.log.Warn("liveness probe after connect failed", "address", s.addressStr, "error", err)
			}

			metrics.ConnectAttempts.WithLabelValues("success").Inc()
			return nil
		}

		lastErr = err
		class := ClassifyError(err)
		s.log.Debug("connect attempt failed", "address", s.addressStr, "attempt", attempt, "class", class.String(), "error", err)
		metrics.ConnectAttempts.WithLabelValues("retry").Inc()

		if clearsStaleLinkOnRetry(class) && s.clearer != nil {
			s.clearer.ClearStaleLink(ctx, s.addressStr)
		}

		if attempt < retries {
			delay := backoffDelay(class, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				s.mu.Lock()
				s.state = StateIdle
				s.mu.Unlock()
				return ctx.Err()
			}
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	metrics.ConnectAttempts.WithLabelValues("failed").Inc()
	return &ConnectError{Address: s.addressStr, Attempts: retries, Cause: lastErr}
}

func (s *Session) attemptConnect(ctx context.Context, addr bluetooth.Address) (*bluetooth.Device, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectPerAttemptTimeout)
	defer cancel()

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)

	go func() {
		d, err := s.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{device: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if err := s.discoverCharacteristics(&r.device); err != nil {
			r.device.Disconnect()
			return nil, err
		}
		return &r.device, nil
	case <-attemptCtx.Done():
		return nil, fmt.Errorf("connection timeout: %w", attemptCtx.Err())
	}
}

func (s *Session) discoverCharacteristics(device *bluetooth.Device) error {
	services, err := device.DiscoverServices([]bluetooth.UUID{ServiceUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("discover service: %w", err)
	}

	uuids := []bluetooth.UUID{CharSSID, CharPass, CharApply, CharStatus, CharBattery, CharDirX, CharDirY, CharDirSpeed, CharDevID, CharDecay}
	chars, err := services[0].DiscoverCharacteristics(uuids)
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}

	table := make(map[bluetooth.UUID]bluetooth.DeviceCharacteristic, len(chars))
	for _, c := range chars {
		table[c.UUID()] = c
	}

	s.mu.Lock()
	s.chars = table
	s.mu.Unlock()
	return nil
}

// probeAfterConnect performs the Device-ID and Status liveness probe
// required once on a successful connect (§4.2).
func (s *Session) probeAfterConnect(ctx context.Context) error {
	devID, err := s.readString(CharDevID)
	if err == nil {
		s.mu.Lock()
		s.deviceID = devID
		s.mu.Unlock()
	}

	if _, err := s.readString(CharStatus); err != nil {
		return err
	}
	return nil
}

// closeDeviceLocked disconnects and clears the prior backend handle.
// Caller must hold s.mu.
func (s *Session) closeDeviceLocked() {
	if s.device != nil {
		s.device.Disconnect()
		s.device = nil
	}
	s.chars = nil
}

// Disconnect stops notifications, closes the GATT link, asks its
// StaleLinkClearer to clear stale host links, and transitions to Idle.
// Idempotent.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnecting

	if statusChar, ok := s.chars[CharStatus]; ok {
		_ = statusChar.EnableNotifications(nil)
	}
	s.closeDeviceLocked()
	s.state = StateIdle
	s.mu.Unlock()

	if s.clearer != nil {
		s.clearer.ClearStaleLink(ctx, s.addressStr)
	}
	return nil
}

// MarkLost moves a Connected session to Idle after an unsolicited link
// loss is detected by a failed read/write or backend disconnect callback
// (§4.2).
func (s *Session) MarkLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDeviceLocked()
	s.state = StateIdle
}

// IsHealthy issues a short Status read; true iff it completes within the
// configured health-check timeout.
func (s *Session) IsHealthy(ctx context.Context) bool {
	if !s.IsConnected() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.readString(CharStatus)
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

func (s *Session) charLocked(uuid bluetooth.UUID) (bluetooth.DeviceCharacteristic, bool) {
	c, ok := s.chars[uuid]
	return c, ok
}

func (s *Session) readString(uuid bluetooth.UUID) (string, error) {
	if !s.IsConnected() {
		return "", ErrNotConnected
	}
	s.mu.Lock()
	c, ok := s.charLocked(uuid)
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("blesvc: characteristic %s not discovered", uuid.String())
	}

	buf := make([]byte, 256)
	n, err := c.Read(buf)
	if err != nil {
		s.MarkLost()
		return "", err
	}
	return gattcodec.DecodeString(buf[:n])
}

func (s *Session) readU8(uuid bluetooth.UUID) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	s.mu.Lock()
	c, ok := s.charLocked(uuid)
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("blesvc: characteristic %s not discovered", uuid.String())
	}

	buf := make([]byte, 1)
	n, err := c.Read(buf)
	if err != nil {
		s.MarkLost()
		return 0, err
	}
	return gattcodec.DecodeU8(buf[:n])
}

func (s *Session) readI8(uuid bluetooth.UUID) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	s.mu.Lock()
	c, ok := s.charLocked(uuid)
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("blesvc: characteristic %s not discovered", uuid.String())
	}

	buf := make([]byte, 1)
	n, err := c.Read(buf)
	if err != nil {
		s.MarkLost()
		return 0, err
	}
	return gattcodec.DecodeI8(buf[:n])
}

func (s *Session) writeBytes(uuid bluetooth.UUID, data []byte) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	s.mu.Lock()
	c, ok := s.charLocked(uuid)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("blesvc: characteristic %s not discovered", uuid.String())
	}

	// write-with-response, per §4.2/§6.2: every car characteristic write
	// confirms delivery before the call returns.
	_, err := c.Write(data)
	if err != nil {
		s.MarkLost()
		return err
	}
	return nil
}

// ReadBattery reads battery level (0-100).
func (s *Session) ReadBattery() (int, error) { return s.readU8(CharBattery) }

// ReadStatus reads the firmware status string.
func (s *Session) ReadStatus() (string, error) { return s.readString(CharStatus) }

// ReadWifiSSID reads the currently configured SSID.
func (s *Session) ReadWifiSSID() (string, error) { return s.readString(CharSSID) }

// ReadMotorState reads the four motor-control characteristics.
func (s *Session) ReadMotorState() (x, y, speed, decay int, err error) {
	if x, err = s.readI8(CharDirX); err != nil {
		return
	}
	if y, err = s.readI8(CharDirY); err != nil {
		return
	}
	if speed, err = s.readI8(CharDirSpeed); err != nil {
		return
	}
	decay, err = s.readI8(CharDecay)
	return
}

// SetDrive writes the four motor characteristics in fixed order
// X -> Y -> Speed -> Decay, each write-with-response, applying the
// domain-specific clamps from §4.1 before the codec sees the value. On
// partial failure it returns DriveError naming the first failed axis;
// prior writes are not rolled back.
func (s *Session) SetDrive(x, y, speed, decay int) error {
	x = gattcodec.Clamp(x, SteeringMin, SteeringMax)
	y = gattcodec.Clamp(y, ForwardMin, ForwardMax)
	speed = gattcodec.Clamp(speed, SpeedMin, SpeedMax)
	decay = gattcodec.Clamp(decay, DecayMin, DecayMax)

	writes := []struct {
		uuid bluetooth.UUID
		data []byte
	}{
		{CharDirX, gattcodec.EncodeI8(x)},
		{CharDirY, gattcodec.EncodeI8(y)},
		{CharDirSpeed, gattcodec.EncodeI8(speed)},
		{CharDecay, gattcodec.EncodeI8(decay)},
	}

	for i, w := range writes {
		if err := s.writeBytes(w.uuid, w.data); err != nil {
			metrics.GATTWrites.WithLabelValues("drive", "failed").Inc()
			return &DriveError{FailedIndex: i, Cause: err}
		}
	}
	metrics.GATTWrites.WithLabelValues("drive", "success").Inc()
	return nil
}

// SetWifi writes SSID, then PASS, then Apply=true, in that order, waits
// one second, and re-reads Status. If Status is not "configured" the
// caller is told via the returned warning string but no error is
// returned; the writes themselves already succeeded.
func (s *Session) SetWifi(ssid, password string) (warning string, err error) {
	if err = s.writeBytes(CharSSID, gattcodec.EncodeString(ssid)); err != nil {
		return "", err
	}
	if err = s.writeBytes(CharPass, gattcodec.EncodeString(password)); err != nil {
		return "", err
	}
	if err = s.writeBytes(CharApply, gattcodec.EncodeBool(true)); err != nil {
		return "", err
	}

	time.Sleep(time.Second)

	status, readErr := s.readString(CharStatus)
	if readErr != nil {
		return "", nil
	}
	if status != "configured" {
		return fmt.Sprintf("unexpected status after wifi apply: %q", status), nil
	}
	return "", nil
}
