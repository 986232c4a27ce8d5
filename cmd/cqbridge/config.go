package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the cqbridge daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation are centralized here so the rest of the code can assume a
// well-formed config, and in particular so that a missing NRPN address is a
// startup failure, never a runtime one.
type Config struct {
	// Network holds the console session parameters.
	Network NetworkConfig `yaml:"network"`

	// MIDI holds the wire channel and pacing constants.
	MIDI MIDIConfig `yaml:"midi"`

	// Input selects and configures the button input adapter.
	Input InputConfig `yaml:"input"`

	// Buttons maps input event codes to controllables.
	Buttons []ButtonConfig `yaml:"buttons"`

	// Controllables declares the named toggles the buttons drive.
	Controllables map[string]ControllableConfig `yaml:"controllables"`

	// NRPN is the parameter address table, keyed by controllable id or
	// "mute_group_<n>". Values come from the console's MIDI protocol guide.
	NRPN map[string]NRPNAddressConfig `yaml:"nrpn"`

	// Debounce controls duplicate-event handling.
	Debounce DebounceConfig `yaml:"debounce"`

	// IPC configures the Unix socket control interface.
	IPC IPCConfig `yaml:"ipc"`

	// StateWS configures the state WebSocket server (0 disables it).
	StateWS StateWSConfig `yaml:"state_ws"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type NetworkConfig struct {
	MixerAddr           string `yaml:"mixer_addr"`
	ConnectTimeoutMS    int    `yaml:"connect_timeout_ms"`
	ReconnectDelayMS    int    `yaml:"reconnect_delay_ms"`
	KeepaliveIntervalMS int    `yaml:"keepalive_interval_ms"`
	KeepaliveByte       int    `yaml:"keepalive_byte"`
}

type MIDIConfig struct {
	Channel     int `yaml:"channel"`       // MIDI channel 0-15
	SendDelayMS int `yaml:"send_delay_ms"` // inter-frame pacing
	PulseGapMS  int `yaml:"pulse_gap_ms"`  // soft key press-to-release gap
}

type InputConfig struct {
	Mode string `yaml:"mode"` // "midi" or "evdev"

	// MIDI mode: substrings matched case-insensitively against available
	// input port names (e.g. the Bluetooth pedal's advertised name).
	DeviceNamePatterns []string `yaml:"device_name_patterns,omitempty"`

	// Evdev mode: input device nodes to monitor.
	Devices []string `yaml:"devices,omitempty"`
}

type ButtonConfig struct {
	Code         int    `yaml:"code"`
	Controllable string `yaml:"controllable"`
	Polarity     string `yaml:"polarity,omitempty"`  // "press" (default) or "release"
	Threshold    int    `yaml:"threshold,omitempty"` // value boundary for the press edge
}

// ControllableConfig declares one named toggle. Kind decides which of the
// remaining fields apply.
type ControllableConfig struct {
	Kind string `yaml:"kind"`

	// pulse: console soft key note number.
	SoftKey int `yaml:"soft_key,omitempty"`

	// level: NRPN table key of the channel plus the two preset values.
	Channel string         `yaml:"channel,omitempty"`
	Levels  map[string]int `yaml:"levels,omitempty"` // "low" and "high"

	// group: mute group number.
	Group int `yaml:"group,omitempty"`

	// scene: group sets for the active and inactive states.
	Active   *SceneStateConfig `yaml:"active,omitempty"`
	Inactive *SceneStateConfig `yaml:"inactive,omitempty"`
}

type SceneStateConfig struct {
	MuteGroups   []int `yaml:"mute_groups"`
	UnmuteGroups []int `yaml:"unmute_groups"`
}

type NRPNAddressConfig struct {
	MSB int `yaml:"msb"`
	LSB int `yaml:"lsb"`
}

type DebounceConfig struct {
	WindowMS int `yaml:"window_ms"`
	// Mode decides whether duplicates inside the window are dropped
	// ("suppress") or still toggled and sent ("passthrough", which matches
	// controllers that genuinely report one event per press).
	Mode string `yaml:"mode"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults matching a
// four-button pedal on a CQ-series console. Keep this aligned with
// constants.go.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			MixerAddr:           defaultMixerAddr,
			ConnectTimeoutMS:    defaultConnectTimeoutMS,
			ReconnectDelayMS:    defaultReconnectDelayMS,
			KeepaliveIntervalMS: defaultKeepaliveMS,
			KeepaliveByte:       defaultKeepaliveByte,
		},
		MIDI: MIDIConfig{
			Channel:     0,
			SendDelayMS: defaultSendDelayMS,
			PulseGapMS:  defaultPulseGapMS,
		},
		Input: InputConfig{
			Mode:               inputModeMIDI,
			DeviceNamePatterns: []string{"M-VAVE", "Chocolate", "FootCtrl"},
			Devices:            []string{"/dev/input/event0"},
		},
		Buttons: []ButtonConfig{
			{Code: 20, Controllable: "recording", Polarity: polarityPress},
			{Code: 21, Controllable: "monitor_level", Polarity: polarityPress},
			{Code: 22, Controllable: "fx_mute", Polarity: polarityPress},
			{Code: 23, Controllable: "break_mode", Polarity: polarityPress},
		},
		Controllables: map[string]ControllableConfig{
			"recording": {
				Kind:    kindPulse,
				SoftKey: 0x30,
			},
			"monitor_level": {
				Kind:    kindLevel,
				Channel: "aux_send_level",
				Levels:  map[string]int{"low": 64, "high": 100},
			},
			"fx_mute": {
				Kind:  kindGroup,
				Group: 1,
			},
			"break_mode": {
				Kind:     kindScene,
				Active:   &SceneStateConfig{MuteGroups: []int{1, 2}, UnmuteGroups: []int{3}},
				Inactive: &SceneStateConfig{MuteGroups: []int{3}, UnmuteGroups: []int{1, 2}},
			},
		},
		NRPN: map[string]NRPNAddressConfig{
			"aux_send_level": {MSB: 0x4C, LSB: 0x0B},
			"mute_group_1":   {MSB: 0x00, LSB: 0x51},
			"mute_group_2":   {MSB: 0x00, LSB: 0x52},
			"mute_group_3":   {MSB: 0x00, LSB: 0x53},
			"mute_group_4":   {MSB: 0x00, LSB: 0x54},
		},
		Debounce: DebounceConfig{
			WindowMS: defaultDebounceWindowMS,
			Mode:     debounceSuppress,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		StateWS: StateWSConfig{
			Port: defaultStateWSPort,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true),
// and trailing documents are an error.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	// A second document is a mistake regardless of its content, so decode
	// into a permissive target; only a clean EOF means the file held exactly
	// one document.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies flag values on top of a loaded config. Each override
// is applied only when its pointer is non-nil, so a config file stays the
// primary source while flags cover debugging / systemd drop-ins.
type FlagOverrides struct {
	MixerAddr     *string
	InputMode     *string
	InputDevice   *string
	IPCSocketPath *string
	StateWSPort   *int
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.MixerAddr != nil {
		cfg.Network.MixerAddr = *o.MixerAddr
	}
	if o.InputMode != nil {
		cfg.Input.Mode = *o.InputMode
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSPort != nil {
		cfg.StateWS.Port = *o.StateWSPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error. It is
// the only place a missing mapping or address is allowed to surface: once it
// passes, the builder's address lookups cannot fail.
func (c *Config) Validate() error {
	// Network
	if c.Network.MixerAddr == "" {
		return errors.New("network.mixer_addr must not be empty")
	}
	if c.Network.ConnectTimeoutMS <= 0 {
		return errors.New("network.connect_timeout_ms must be > 0")
	}
	if c.Network.ReconnectDelayMS <= 0 {
		return errors.New("network.reconnect_delay_ms must be > 0")
	}
	if c.Network.KeepaliveIntervalMS <= 0 {
		return errors.New("network.keepalive_interval_ms must be > 0")
	}
	if c.Network.KeepaliveByte < 0 || c.Network.KeepaliveByte > 0xFF {
		return errors.New("network.keepalive_byte must be a byte value")
	}

	// MIDI
	if c.MIDI.Channel < 0 || c.MIDI.Channel > 15 {
		return errors.New("midi.channel must be between 0 and 15")
	}
	if c.MIDI.SendDelayMS < 0 {
		return errors.New("midi.send_delay_ms must be >= 0")
	}
	if c.MIDI.PulseGapMS < 0 {
		return errors.New("midi.pulse_gap_ms must be >= 0")
	}

	// Input
	switch c.Input.Mode {
	case inputModeMIDI:
		if len(c.Input.DeviceNamePatterns) == 0 {
			return errors.New("input.device_name_patterns must not be empty in midi mode")
		}
	case inputModeEvdev:
		if len(c.Input.Devices) == 0 {
			return errors.New("input.devices must not be empty in evdev mode")
		}
		for i, dev := range c.Input.Devices {
			if dev == "" {
				return fmt.Errorf("input.devices[%d] is empty", i)
			}
		}
	default:
		return fmt.Errorf("input.mode must be %q or %q", inputModeMIDI, inputModeEvdev)
	}

	// Buttons
	if len(c.Buttons) == 0 {
		return errors.New("buttons must not be empty")
	}
	seen := make(map[int]bool, len(c.Buttons))
	for i, b := range c.Buttons {
		if b.Code < 0 || b.Code > 127 {
			return fmt.Errorf("buttons[%d].code must be between 0 and 127", i)
		}
		if seen[b.Code] {
			return fmt.Errorf("buttons[%d].code %d is mapped twice", i, b.Code)
		}
		seen[b.Code] = true
		if _, ok := c.Controllables[b.Controllable]; !ok {
			return fmt.Errorf("buttons[%d] references unknown controllable %q", i, b.Controllable)
		}
		switch b.Polarity {
		case "", polarityPress, polarityRelease:
		default:
			return fmt.Errorf("buttons[%d].polarity must be %q or %q", i, polarityPress, polarityRelease)
		}
		if b.Threshold < 0 || b.Threshold > 127 {
			return fmt.Errorf("buttons[%d].threshold must be between 0 and 127", i)
		}
	}

	// Controllables + address table cross-check
	for id, spec := range c.Controllables {
		switch spec.Kind {
		case kindPulse:
			if spec.SoftKey < 0 || spec.SoftKey > 127 {
				return fmt.Errorf("controllables.%s.soft_key must be between 0 and 127", id)
			}
		case kindLevel:
			if spec.Channel == "" {
				return fmt.Errorf("controllables.%s.channel must not be empty", id)
			}
			if _, ok := c.NRPN[spec.Channel]; !ok {
				return fmt.Errorf("controllables.%s.channel %q has no nrpn address", id, spec.Channel)
			}
			for _, name := range []string{"low", "high"} {
				v, ok := spec.Levels[name]
				if !ok {
					return fmt.Errorf("controllables.%s.levels.%s is required", id, name)
				}
				if v < 0 || v > 127 {
					return fmt.Errorf("controllables.%s.levels.%s must be between 0 and 127", id, name)
				}
			}
		case kindGroup:
			if spec.Group <= 0 {
				return fmt.Errorf("controllables.%s.group must be > 0", id)
			}
			if _, ok := c.NRPN[muteGroupKey(spec.Group)]; !ok {
				return fmt.Errorf("controllables.%s: no nrpn address for %s", id, muteGroupKey(spec.Group))
			}
		case kindScene:
			if spec.Active == nil || spec.Inactive == nil {
				return fmt.Errorf("controllables.%s needs both active and inactive states", id)
			}
			for _, st := range []*SceneStateConfig{spec.Active, spec.Inactive} {
				for _, group := range append(append([]int{}, st.MuteGroups...), st.UnmuteGroups...) {
					if group <= 0 {
						return fmt.Errorf("controllables.%s: group numbers must be > 0", id)
					}
					if _, ok := c.NRPN[muteGroupKey(group)]; !ok {
						return fmt.Errorf("controllables.%s: no nrpn address for %s", id, muteGroupKey(group))
					}
				}
			}
		default:
			return fmt.Errorf("controllables.%s.kind must be one of %s, %s, %s, %s",
				id, kindPulse, kindLevel, kindGroup, kindScene)
		}
	}

	// NRPN addresses are 7-bit coordinates.
	for key, addr := range c.NRPN {
		if addr.MSB < 0 || addr.MSB > 127 || addr.LSB < 0 || addr.LSB > 127 {
			return fmt.Errorf("nrpn.%s: msb and lsb must be between 0 and 127", key)
		}
	}

	// Debounce
	if c.Debounce.WindowMS < 0 {
		return errors.New("debounce.window_ms must be >= 0")
	}
	switch c.Debounce.Mode {
	case debounceSuppress, debouncePassthrough:
	default:
		return fmt.Errorf("debounce.mode must be %q or %q", debounceSuppress, debouncePassthrough)
	}

	// IPC / state WS
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.StateWS.Port < 0 || c.StateWS.Port > 65535 {
		return errors.New("state_ws.port must be a valid port (0 disables)")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// AddressTable resolves the config into the builder's address table.
func (c *Config) AddressTable() *AddressTable {
	nrpn := make(map[string]NRPNAddress, len(c.NRPN))
	for key, addr := range c.NRPN {
		nrpn[key] = NRPNAddress{MSB: byte(addr.MSB), LSB: byte(addr.LSB)}
	}
	return &AddressTable{
		Channel: byte(c.MIDI.Channel),
		NRPN:    nrpn,
	}
}

// Timing resolves the builder pacing constants.
func (c *Config) Timing() Timing {
	return Timing{
		FrameGap: time.Duration(c.MIDI.SendDelayMS) * time.Millisecond,
		PulseGap: time.Duration(c.MIDI.PulseGapMS) * time.Millisecond,
	}
}

// TransportConfig resolves the session and reconnect policy.
func (c *Config) TransportConfig() TransportConfig {
	return TransportConfig{
		Addr:           c.Network.MixerAddr,
		ConnectTimeout: time.Duration(c.Network.ConnectTimeoutMS) * time.Millisecond,
		ReconnectDelay: time.Duration(c.Network.ReconnectDelayMS) * time.Millisecond,
		Session: SessionConfig{
			FrameGap:          time.Duration(c.MIDI.SendDelayMS) * time.Millisecond,
			KeepaliveInterval: time.Duration(c.Network.KeepaliveIntervalMS) * time.Millisecond,
			KeepaliveByte:     byte(c.Network.KeepaliveByte),
		},
	}
}

// ControllableIDs lists the declared controllables, for seeding the toggle
// store.
func (c *Config) ControllableIDs() []string {
	ids := make([]string, 0, len(c.Controllables))
	for id := range c.Controllables {
		ids = append(ids, id)
	}
	return ids
}
