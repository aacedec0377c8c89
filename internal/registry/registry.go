// Package registry holds the canonical Car Registry & Ownership table
// (§4.4): the mapping from BLE address to Car, derivation of stable car
// ids from advertised names, and the select/free ownership protocol.
package registry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/pdg-labs/rl-ble-gateway/internal/blesvc"
	"github.com/pdg-labs/rl-ble-gateway/internal/config"
)

// Errors returned by ownership operations (§7).
var (
	ErrNotFound = errors.New("registry: car not found")
	ErrBusy     = errors.New("registry: car already selected by another client")
	ErrNotOwner = errors.New("registry: caller does not own this car")
)

// Unassigned is the owner value of a free car.
const Unassigned = ""

// Telemetry is the last-known state read from or written to a car (§3).
type Telemetry struct {
	Battery      int
	Status       string
	X, Y, Speed  int
	Decay        int
	WifiSSID     string
	ApplyPending bool
}

// Car is the canonical identity record for one physical car (§3).
type Car struct {
	ID         int64
	DisplayName string
	BLEName    string
	BLEAddress string
	LastSeen   time.Time
	RSSI       int16
	Telemetry  Telemetry
	Owner      string
	Session    *blesvc.Session
}

// IsFree reports whether the car is currently unowned.
func (c *Car) IsFree() bool { return c.Owner == Unassigned }

// Registry holds every known Car, indexed by address, name, and id.
type Registry struct {
	mu        sync.Mutex
	byAddress map[string]*Car
	byName    map[string]*Car
	byID      map[int64]*Car

	adapter *bluetooth.Adapter
	clearer blesvc.StaleLinkClearer
	cfg     config.BLEConfig
	log     *slog.Logger
}

// New constructs an empty Registry. adapter/clearer/cfg/log are threaded
// into every Device Session the registry lazily creates for a newly
// discovered address.
func New(adapter *bluetooth.Adapter, clearer blesvc.StaleLinkClearer, cfg config.BLEConfig, log *slog.Logger) *Registry {
	return &Registry{
		byAddress: make(map[string]*Car),
		byName:    make(map[string]*Car),
		byID:      make(map[int64]*Car),
		adapter:   adapter,
		clearer:   clearer,
		cfg:       cfg,
		log:       log,
	}
}

// DeriveCarID implements the §4.4 derivation rule: the integer value of
// the last 4 hex digits of the MAC (colons stripped), falling back to a
// stable hash of the full name modulo 10000 if that parse fails.
func DeriveCarID(bleName string) int64 {
	mac := strings.TrimPrefix(bleName, blesvc.CarDevicePrefix)
	stripped := strings.ReplaceAll(mac, ":", "")

	if len(stripped) >= 4 {
		last4 := stripped[len(stripped)-4:]
		if v, err := strconv.ParseInt(last4, 16, 64); err == nil {
			return v
		}
	}

	h := fnv.New32a()
	h.Write([]byte(bleName))
	return int64(h.Sum32() % 10000)
}

// DeriveDisplayName implements "Rocket League Car (<last 8 chars of
// mac>)" (§4.4).
func DeriveDisplayName(bleName string) string {
	mac := strings.TrimPrefix(bleName, blesvc.CarDevicePrefix)
	stripped := strings.ReplaceAll(mac, ":", "")
	tail := stripped
	if len(stripped) > 8 {
		tail = stripped[len(stripped)-8:]
	}
	return fmt.Sprintf("Rocket League Car (%s)", tail)
}

// carForLocked returns the Car for address, constructing one via the
// derivation rules if this is the first sighting. Caller must hold mu.
func (r *Registry) carForLocked(adv blesvc.Advertisement) (*Car, bool) {
	address := adv.Address
	if car, ok := r.byAddress[address]; ok {
		return car, false
	}

	car := &Car{
		ID:          DeriveCarID(adv.Name),
		DisplayName: DeriveDisplayName(adv.Name),
		BLEName:     adv.Name,
		BLEAddress:  address,
		LastSeen:    time.Now(),
		RSSI:        adv.RSSI,
		Owner:       Unassigned,
		Session:     blesvc.NewSession(r.adapter, adv.Address, adv.Name, r.clearer, r.cfg, r.log),
	}

	r.byAddress[address] = car
	r.byName[adv.Name] = car
	r.byID[car.ID] = car
	return car, true
}

// UpsertFromAdvertisement records/refreshes a car from a raw sighting,
// independent of the Coordinator's discovered/rediscovered bookkeeping.
func (r *Registry) UpsertFromAdvertisement(adv blesvc.Advertisement) *Car {
	r.mu.Lock()
	defer r.mu.Unlock()
	car, _ := r.carForLocked(adv)
	car.BLEName = adv.Name
	car.RSSI = adv.RSSI
	car.LastSeen = time.Now()
	return car
}

// MarkSeen implements blesvc.SessionStore: refreshes an existing car's
// name/rssi/last_seen, or creates a new one, reporting whether the
// address was new.
func (r *Registry) MarkSeen(adv blesvc.Advertisement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	car, isNew := r.carForLocked(adv)
	if !isNew {
		car.BLEName = adv.Name
		car.RSSI = adv.RSSI
		car.LastSeen = time.Now()
	}
	return isNew
}

// ExistingSession implements blesvc.SessionStore.
func (r *Registry) ExistingSession(address string) *blesvc.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if car, ok := r.byAddress[address]; ok {
		return car.Session
	}
	return nil
}

// ConnectedSessions implements blesvc.SessionStore.
func (r *Registry) ConnectedSessions() []*blesvc.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*blesvc.Session
	for _, car := range r.byAddress {
		if car.Session != nil && car.Session.IsConnected() {
			out = append(out, car.Session)
		}
	}
	return out
}

// Get returns the Car for id, if any.
func (r *Registry) Get(id int64) (*Car, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	car, ok := r.byID[id]
	return car, ok
}

// List returns a snapshot of every known car.
func (r *Registry) List() []*Car {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Car, 0, len(r.byID))
	for _, car := range r.byID {
		out = append(out, car)
	}
	return out
}

// ListFree enumerates ids of unowned cars (§4.4).
func (r *Registry) ListFree() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, car := range r.byID {
		if car.IsFree() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Select assigns car id to session s. Idempotent if s already owns it;
// fails with ErrBusy if another session owns it, ErrNotFound if id is
// unknown (§4.4).
func (r *Registry) Select(id int64, s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	car, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if car.Owner != Unassigned && car.Owner != s {
		return ErrBusy
	}
	car.Owner = s
	return nil
}

// Free releases ownership of car id. If owner is non-empty, the car must
// currently be owned by it (ErrNotOwner otherwise). Idempotent when
// already free (§4.4).
func (r *Registry) Free(id int64, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	car, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if car.IsFree() {
		return nil
	}
	if owner != "" && car.Owner != owner {
		return ErrNotOwner
	}
	car.Owner = Unassigned
	return nil
}

// FreeAllBy releases every car owned by s, returning the freed ids
// (§4.4, invoked on session end).
func (r *Registry) FreeAllBy(s string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var freed []int64
	for id, car := range r.byID {
		if car.Owner == s {
			car.Owner = Unassigned
			freed = append(freed, id)
		}
	}
	return freed
}
