package blesvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/events"
	"github.com/pdg-labs/rl-ble-gateway/internal/metrics"
)

// Phase is the adapter-wide scan/control mode (§4.3, §3).
type Phase int

const (
	PhaseScan Phase = iota
	PhaseControl
)

func (p Phase) String() string {
	if p == PhaseControl {
		return "control"
	}
	return "scan"
}

// PhaseEvent is published whenever the adapter phase changes.
type PhaseEvent struct {
	Phase Phase
}

// Advertisement is one filtered scan result (§4.3 discovery). Address is
// the backend's string form (e.g. a MAC); the registry and dispatch
// layers key cars by this string rather than by bluetooth.Address.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

// DiscoveredEvent fires for an address never seen before.
type DiscoveredEvent struct{ Advertisement }

// RediscoveredEvent fires for an address already known to the registry.
type RediscoveredEvent struct{ Advertisement }

// ConnectedEvent fires when connect_to_device succeeds.
type ConnectedEvent struct {
	Address string
}

// SessionStore is the narrow slice of Car Registry behavior the
// Coordinator depends on (§3: "each Car's Device Session is owned by the
// Registry"). Defined here, on the consumer side, so blesvc never imports
// the registry package.
type SessionStore interface {
	// ExistingSession returns the session for an address already known
	// to the registry, or nil.
	ExistingSession(address string) *Session

	// MarkSeen updates ble_name/rssi/last_seen for an already-known
	// address and reports whether it was new.
	MarkSeen(adv Advertisement) (isNew bool)

	// ConnectedSessions lists every session currently connected, for the
	// stale-connection sweep.
	ConnectedSessions() []*Session
}

// Coordinator owns the single host BLE adapter (§4.3).
type Coordinator struct {
	adapterMu sync.Mutex // the adapter-wide exclusive lock (§5)

	phaseMu sync.RWMutex
	phase   Phase

	adapter *bluetooth.Adapter
	store   SessionStore
	host    HostAdapterControl
	cfg     config.BLEConfig
	log     *slog.Logger

	phaseBus        *events.Bus[PhaseEvent]
	discoveredBus   *events.Bus[DiscoveredEvent]
	rediscoveredBus *events.Bus[RediscoveredEvent]
	connectedBus    *events.Bus[ConnectedEvent]
}

// NewCoordinator constructs a Coordinator in the Scan phase.
func NewCoordinator(adapter *bluetooth.Adapter, store SessionStore, host HostAdapterControl, cfg config.BLEConfig, log *slog.Logger) *Coordinator {
	return &Coordinator{
		phase:           PhaseScan,
		adapter:         adapter,
		store:           store,
		host:            host,
		cfg:             cfg,
		log:             log,
		phaseBus:        events.New[PhaseEvent](),
		discoveredBus:   events.New[DiscoveredEvent](),
		rediscoveredBus: events.New[RediscoveredEvent](),
		connectedBus:    events.New[ConnectedEvent](),
	}
}

// Phase returns the current adapter phase.
func (c *Coordinator) Phase() Phase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

// OnPhaseChange subscribes to phase transitions.
func (c *Coordinator) OnPhaseChange(fn func(PhaseEvent)) events.Handle { return c.phaseBus.Subscribe(fn) }

// OnDiscovered subscribes to first-sight advertisements.
func (c *Coordinator) OnDiscovered(fn func(DiscoveredEvent)) events.Handle {
	return c.discoveredBus.Subscribe(fn)
}

// OnRediscovered subscribes to repeat advertisements.
func (c *Coordinator) OnRediscovered(fn func(RediscoveredEvent)) events.Handle {
	return c.rediscoveredBus.Subscribe(fn)
}

// OnConnected subscribes to successful connect_to_device completions.
func (c *Coordinator) OnConnected(fn func(ConnectedEvent)) events.Handle { return c.connectedBus.Subscribe(fn) }

func (c *Coordinator) setPhase(p Phase) {
	c.phaseMu.Lock()
	changed := c.phase != p
	c.phase = p
	c.phaseMu.Unlock()

	if changed {
		metrics.PhaseTransitions.WithLabelValues(p.String()).Inc()
		c.phaseBus.Publish(PhaseEvent{Phase: p})
	}
}

// SwitchToScanPhase forces phase = Scan (§6.1 switch_to_scan_phase).
func (c *Coordinator) SwitchToScanPhase() { c.setPhase(PhaseScan) }

// SwitchToControlPhase forces phase = Control (§6.1 switch_to_control_phase).
func (c *Coordinator) SwitchToControlPhase() { c.setPhase(PhaseControl) }

// ClearStaleLink implements StaleLinkClearer by delegating to the host
// shell fallback (§6.4).
func (c *Coordinator) ClearStaleLink(ctx context.Context, address string) {
	c.host.ClearStaleLink(ctx, address)
}

// resetAdapterLocked forcibly disconnects active links, cycles the adapter, and
// confirms it reports running (§4.3 item 3). Caller must already hold the
// adapter lock.
func (c *Coordinator) resetAdapterLocked(ctx context.Context) {
	metrics.AdapterResets.WithLabelValues("attempted").Inc()
	c.host.ResetAdapter(ctx, c.cfg.Adapter)
	metrics.AdapterResets.WithLabelValues("completed").Inc()
}

// staleConnectionSweep force-disconnects any session the registry
// believes Connected but which fails is_healthy() (§4.3). Caller must
// already hold the adapter lock.
func (c *Coordinator) staleConnectionSweep(ctx context.Context) {
	for _, sess := range c.store.ConnectedSessions() {
		if !sess.IsHealthy(ctx) {
			c.log.Info("stale connection sweep disconnecting unhealthy session", "address", sess.Address())
			_ = sess.Disconnect(ctx)
		}
	}
}

// Discover runs one timed passive scan, filtered by the Service UUID and
// local-name prefix, and reconciles results against the
// registry (§4.3). Acquires the adapter lock for its duration.
func (c *Coordinator) Discover(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.DiscoveryScanTimeout
	}

	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()

	c.staleConnectionSweep(ctx)

	c.setPhase(PhaseScan)

	type hit struct {
		realAddr bluetooth.Address
		adv      Advertisement
	}
	results := make(map[string]hit)
	var mu sync.Mutex

	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if len(name) < len(CarDevicePrefix) || name[:len(CarDevicePrefix)] != CarDevicePrefix {
				return
			}
			if !result.HasServiceUUID(ServiceUUID) {
				return
			}
			addr := result.Address.String()
			mu.Lock()
			results[addr] = hit{
				realAddr: result.Address,
				adv:      Advertisement{Address: addr, Name: name, RSSI: result.RSSI},
			}
			mu.Unlock()
		})
	}()

	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	c.adapter.StopScan()
	<-scanErrCh

	seenAny := len(results) > 0
	metrics.ScanCycles.WithLabelValues(fmt.Sprintf("%t", seenAny)).Inc()
	for _, h := range results {
		isNew := c.store.MarkSeen(h.adv)
		if sess := c.store.ExistingSession(h.adv.Address); sess != nil {
			sess.UpdateScanResult(h.realAddr, h.adv.RSSI)
		}
		if isNew {
			c.discoveredBus.Publish(DiscoveredEvent{Advertisement: h.adv})
		} else {
			c.rediscoveredBus.Publish(RediscoveredEvent{Advertisement: h.adv})
		}
	}

	if seenAny {
		c.setPhase(PhaseControl)
	} else {
		c.setPhase(PhaseScan)
	}
	return nil
}

// ConnectToDevice runs the ordered connect strategy of §4.3.
func (c *Coordinator) ConnectToDevice(ctx context.Context, address string) (*Session, error) {
	if c.Phase() != PhaseControl {
		return nil, ErrPhase
	}

	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()

	sess := c.store.ExistingSession(address)
	if sess == nil {
		return nil, fmt.Errorf("blesvc: %w: %s", ErrNotConnected, address)
	}

	if sess.IsConnected() && sess.IsHealthy(ctx) {
		return sess, nil
	}

	c.focusedRescan(ctx, address, sess)

	if err := sess.Connect(ctx, c.cfg.FirstAttemptRetries); err == nil {
		c.connectedBus.Publish(ConnectedEvent{Address: address})
		return sess, nil
	}

	c.resetAdapterLocked(ctx)

	select {
	case <-time.After(c.cfg.PostResetWait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.focusedRescanWithTimeout(ctx, address, sess, c.cfg.PostResetRescanTimeout)

	if err := sess.Connect(ctx, c.cfg.SecondAttemptRetries); err != nil {
		return nil, err
	}

	c.connectedBus.Publish(ConnectedEvent{Address: address})
	return sess, nil
}

// focusedRescan refreshes a single address's backend handle and RSSI
// using the default focused-scan timeout (§4.3 step 4).
func (c *Coordinator) focusedRescan(ctx context.Context, address string, sess *Session) {
	c.focusedRescanWithTimeout(ctx, address, sess, c.cfg.FocusedScanTimeout)
}

func (c *Coordinator) focusedRescanWithTimeout(ctx context.Context, address string, sess *Session, timeout time.Duration) {
	found := make(chan bluetooth.ScanResult, 1)

	go func() {
		c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.Address.String() == address {
				adapter.StopScan()
				select {
				case found <- result:
				default:
				}
			}
		})
	}()

	select {
	case result := <-found:
		sess.UpdateScanResult(result.Address, result.RSSI)
	case <-time.After(timeout):
		c.adapter.StopScan()
	case <-ctx.Done():
		c.adapter.StopScan()
	}
}
