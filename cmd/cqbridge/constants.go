package main

// MIDI status bytes for the CQ control protocol (status | channel nibble).
const (
	statusControlChange = 0xB0
	statusNoteOn        = 0x90
	statusNoteOff       = 0x80
)

// Control-change controller numbers used by the NRPN message sequence.
// The console expects exactly this frame order: parameter select (MSB, LSB)
// followed by data entry (MSB, LSB).
const (
	ccNRPNParamMSB = 0x63
	ccNRPNParamLSB = 0x62
	ccDataEntryMSB = 0x06
	ccDataEntryLSB = 0x26
)

// Soft key velocities. The console treats soft keys as momentary: a full
// press is note-on at 0x7F followed by note-off at 0x00.
const (
	velocityKeyOn  = 0x7F
	velocityKeyOff = 0x00
)

// Mute group NRPN data values.
const (
	muteOnValue  = 127
	muteOffValue = 0
)

// Network and timing defaults. The console drops the session if it sees no
// traffic for roughly a second, hence the keepalive cadence.
const (
	defaultMixerAddr        = "192.168.1.50:51325"
	defaultKeepaliveByte    = 0xFE
	defaultKeepaliveMS      = 300
	defaultConnectTimeoutMS = 5000
	defaultReconnectDelayMS = 2000
	defaultSendDelayMS      = 10
	defaultPulseGapMS       = 50
	defaultDebounceWindowMS = 150
	defaultIPCSocketPath    = "/tmp/cqbridge.sock"
	defaultStateWSPort      = 8731
)

// Controllable kinds. Each named controllable in the config declares one of
// these, which decides how a qualifying button event is turned into wire
// traffic.
const (
	kindPulse = "pulse" // momentary soft key (e.g. remote recorder)
	kindLevel = "level" // two-position level preset on one channel
	kindGroup = "group" // single mute group on/off
	kindScene = "scene" // coordinated mute/unmute across groups
)

// Button trigger polarity. Most controllers report value 127 on press and 0
// on release; some invert that.
const (
	polarityPress   = "press"
	polarityRelease = "release"
)

// Debounce modes for duplicate events inside the debounce window.
const (
	debounceSuppress    = "suppress"
	debouncePassthrough = "passthrough"
)

// Input adapter modes.
const (
	inputModeMIDI  = "midi"
	inputModeEvdev = "evdev"
)
