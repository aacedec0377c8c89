// Package metrics exposes Prometheus instrumentation for the BLE
// coordination subsystem: connect attempts, GATT write outcomes, scan
// cycles, phase transitions, adapter resets, and ownership/connection/
// session gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts counts connect() attempts by outcome.
	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlble_connect_attempts_total",
		Help: "Device Session connect attempts by outcome.",
	}, []string{"outcome"})

	// GATTWrites counts characteristic writes by characteristic and outcome.
	GATTWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlble_gatt_writes_total",
		Help: "GATT characteristic writes by characteristic and outcome.",
	}, []string{"characteristic", "outcome"})

	// DriveCommandsScheduled counts move_car commands accepted for
	// fire-and-forget BLE dispatch, split by whether the BLE task itself
	// was schedulable.
	DriveCommandsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlble_drive_commands_scheduled_total",
		Help: "move_car commands processed, by whether a BLE task was scheduled.",
	}, []string{"scheduled"})

	// ScanCycles counts discovery scans by whether any car was seen.
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlble_scan_cycles_total",
		Help: "Discovery scan cycles by whether a car was seen.",
	}, []string{"found_car"})

	// PhaseTransitions counts adapter phase transitions by destination phase.
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlble_phase_transitions_total",
		Help: "Adapter phase transitions by destination phase.",
	}, []string{"phase"})

	// AdapterResets counts reset_adapter invocations by outcome.
	AdapterResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlble_adapter_resets_total",
		Help: "Adapter reset invocations by outcome.",
	}, []string{"outcome"})

	// CarsOwned is a gauge for the number of cars assigned to a session.
	// No package in the gateway sets it, so it reports 0.
	CarsOwned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rlble_cars_owned",
		Help: "Number of cars currently owned by a client session.",
	})

	// CarsConnected is a gauge for the number of cars with an open GATT
	// link. No package in the gateway sets it, so it reports 0.
	CarsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rlble_cars_connected",
		Help: "Number of cars currently connected over BLE.",
	})

	// ActiveSessions is the live count of connected client sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rlble_active_sessions",
		Help: "Number of currently connected client sessions.",
	})
)
