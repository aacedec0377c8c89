// gatewayd is the RL BLE Gateway daemon: it owns the host Bluetooth
// adapter, the Car Registry, the Game state, and the client-facing
// WebSocket/admin HTTP surfaces, wiring them together the way §9
// describes (explicit construction, no process-wide singletons).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/pdg-labs/rl-ble-gateway/internal/adminhttp"
	"github.com/pdg-labs/rl-ble-gateway/internal/blesvc"
	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/dispatch"
	"github.com/pdg-labs/rl-ble-gateway/internal/game"
	"github.com/pdg-labs/rl-ble-gateway/internal/logger"
	"github.com/pdg-labs/rl-ble-gateway/internal/registry"
	"github.com/pdg-labs/rl-ble-gateway/internal/wsapi"
)

var (
	version = "0.1.0"

	cfgFile    string
	verbose    bool
	noAdapter  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "gatewayd",
		Short:   "RL BLE Gateway - control server bridging Rocket League clients to BLE cars",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: search well-known paths)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noAdapter, "no-adapter", false, "run without a host BLE adapter (host-shell control disabled)")

	rootCmd.AddCommand(newStartCmd(), newStatusCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Gateway Status:")
			fmt.Println("  State: not running")
			fmt.Println("\nUse 'gatewayd start' to start the daemon.")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatewayd %s\n", version)
		},
	}
}

func runStart() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log := logger.New(cfg.Logging)
	logger.SetGlobal(log)

	adapter := bluetooth.DefaultAdapter
	if !noAdapter {
		if err := adapter.Enable(); err != nil {
			return fmt.Errorf("enable BLE adapter: %w", err)
		}
	}

	hostControl := blesvc.NewShellAdapterControl(log.Logger)
	if noAdapter {
		hostControl = blesvc.NewNoopAdapterControl()
	}

	cars := registry.New(adapter, hostControl, cfg.BLE, log.Logger)

	coord := blesvc.NewCoordinator(adapter, cars, hostControl, cfg.BLE, log.Logger)
	match := game.New(cars)

	disp := dispatch.New(cars, coord, match, log.Logger)

	wsServer := wsapi.NewServer(cfg.WS, disp, log.Logger)
	disp.SetTransport(wsServer)

	// The match can end either via the end_game action or on its own once
	// the clock runs out (§6.3, §8 scenario 5); both must reach every
	// client with the same broadcast, so it is wired here once rather than
	// duplicated between the dispatcher's action table and the game clock.
	match.OnEnded(func(game.EndedEvent) {
		wsServer.Broadcast(map[string]any{"status": "success", "action": "end_game", "message": "Game ended!"})
	})

	adminServer := adminhttp.NewServer(cfg.Admin, cars, coord, match, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := wsServer.Start(); err != nil {
		return fmt.Errorf("start websocket server: %w", err)
	}
	if err := adminServer.Start(); err != nil {
		return fmt.Errorf("start admin http server: %w", err)
	}

	go runGameClock(ctx, match)
	go runPeriodicDiscovery(ctx, coord, cfg.BLE)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("gatewayd running", "ws_address", cfg.WS.Address, "admin_address", cfg.Admin.Address)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := wsServer.Stop(shutdownCtx); err != nil {
		log.Warn("websocket server shutdown error", "error", err)
	}
	if err := adminServer.Stop(shutdownCtx); err != nil {
		log.Warn("admin http server shutdown error", "error", err)
	}

	return nil
}

// runGameClock ticks the Game's pause-aware clock once a second (§4.6).
func runGameClock(ctx context.Context, match *game.Game) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			match.Tick()
		}
	}
}

// runPeriodicDiscovery re-runs Discover on PhaseEntryScanTimeout cadence
// while the adapter is in the Scan phase, so cars that power on after
// startup are still found without an explicit start_bluetooth_scan
// message (§4.3).
func runPeriodicDiscovery(ctx context.Context, coord *blesvc.Coordinator, cfg config.BLEConfig) {
	ticker := time.NewTicker(cfg.PhaseEntryScanTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if coord.Phase() != blesvc.PhaseControl {
				_ = coord.Discover(ctx, cfg.DiscoveryScanTimeout)
			}
		}
	}
}
