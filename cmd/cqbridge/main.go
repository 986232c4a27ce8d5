package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("cqbridge v%s\n", version)
	fmt.Println("Foot controller to CQ mixer bridge daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  cqbridge [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that bridges a wireless foot controller (Bluetooth MIDI or")
	fmt.Println("  evdev) to an Allen & Heath CQ-series mixer over TCP MIDI. Button")
	fmt.Println("  presses become NRPN and soft-key sequences; the session is kept")
	fmt.Println("  alive with a periodic liveness byte and reconnects automatically.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (defaults apply when omitted)")
	fmt.Println()
	fmt.Println("  -mixer-addr string")
	fmt.Printf("        Mixer host:port (default %q)\n", defaultMixerAddr)
	fmt.Println()
	fmt.Println("  -input-mode string")
	fmt.Println("        Input adapter: midi|evdev (default \"midi\")")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Evdev device node (evdev mode only, e.g. /dev/input/event4)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -state-ws-port int")
	fmt.Printf("        State WebSocket listener port, 0 disables (default %d)\n", defaultStateWSPort)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with a config file")
	fmt.Println("  cqbridge -config /etc/cqbridge/config.yaml")
	fmt.Println()
	fmt.Println("  # Point at a different mixer without editing the config")
	fmt.Println("  cqbridge -config config.yaml -mixer-addr 10.0.0.7:51325")
	fmt.Println()
	fmt.Println("  # HID footswitch instead of Bluetooth MIDI")
	fmt.Println("  cqbridge -input-mode evdev -input-device /dev/input/event4")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - The mixer's MIDI-over-TCP control port must be enabled")
	fmt.Println("  - evdev mode requires read access to the input device (input group)")
	fmt.Println("  - Presses during a mixer outage are dropped, not queued")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		mixerAddr   = flag.String("mixer-addr", "", "Mixer host:port")
		inputMode   = flag.String("input-mode", "", "Input adapter: midi|evdev")
		inputDevice = flag.String("input-device", "", "Evdev device node")
		ipcSocket   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		stateWSPort = flag.Int("state-ws-port", -1, "State WebSocket listener port (0 disables)")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config file first, flags on top.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	overrides := FlagOverrides{}
	if *mixerAddr != "" {
		overrides.MixerAddr = mixerAddr
	}
	if *inputMode != "" {
		overrides.InputMode = inputMode
	}
	if *inputDevice != "" {
		overrides.InputDevice = inputDevice
	}
	if *ipcSocket != "" {
		overrides.IPCSocketPath = ipcSocket
	}
	if *stateWSPort >= 0 {
		overrides.StateWSPort = stateWSPort
	}
	if *logLevelStr != "" {
		overrides.LogLevel = logLevelStr
	}
	overrides.Apply(&cfg)

	// Config problems are the only fatal failures; everything after this
	// point recovers or retries.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core components: toggle store, transport, dispatcher.
	store := NewToggleStore(cfg.ControllableIDs()...)
	transport := NewTransport(cfg.TransportConfig(), logger)
	dispatcher := NewDispatcher(&cfg, store, transport, logger)

	// State hub: snapshots and change broadcasts for monitoring clients.
	stateServer := NewStateServer(logger, func() StateSnapshot {
		return StateSnapshot{
			Session: transport.State().String(),
			Toggles: store.Snapshot(),
		}
	}, HubConfig{})
	dispatcher.SetNotify(stateServer.Hub().BroadcastToggle)
	transport.SetNotify(stateServer.Hub().BroadcastSession)

	actions := make(chan Action, 64)

	logger.Info("starting cqbridge", "version", version,
		"mixer_addr", cfg.Network.MixerAddr,
		"input_mode", cfg.Input.Mode,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws_port", cfg.StateWS.Port)

	g, ctx := errgroup.WithContext(ctx)

	// Reconnect loop: the sole owner of the session cell.
	g.Go(func() error {
		return transport.Run(ctx)
	})

	// State hub + its HTTP listener.
	g.Go(func() error {
		stateServer.Hub().Run(ctx)
		return nil
	})
	if cfg.StateWS.Port > 0 {
		g.Go(func() error {
			return runStateServer(ctx, cfg.StateWS.Port, stateServer, logger)
		})
	}

	// IPC control socket.
	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, actions, logger)
	})

	// Input adapter.
	switch cfg.Input.Mode {
	case inputModeEvdev:
		input, err := NewEvdevInput(cfg.Input.Devices, actions, logger)
		if err != nil {
			logger.Error("evdev input setup failed", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return input.Run(ctx)
		})
	default:
		input, err := NewMIDIInput(cfg.Input.DeviceNamePatterns, actions, logger)
		if err != nil {
			logger.Error("midi input setup failed", "error", err,
				"tip", "rtmidi requires ALSA/CoreMIDI support")
			os.Exit(1)
		}
		g.Go(func() error {
			return input.Run(ctx)
		})
	}

	// Event-processing path: strictly one action at a time.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case action := <-actions:
				switch a := action.(type) {
				case ButtonPress:
					dispatcher.Handle(a)
				case Trigger:
					dispatcher.HandleTrigger(a.Controllable)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("daemon exiting", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
