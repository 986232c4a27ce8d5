package main

import (
	"fmt"
	"time"
)

// ==============================
// Protocol message builder
// ==============================
//
// BuildFrames is a pure function from a LogicalOperation to the exact frame
// sequence the console requires. It performs no I/O and keeps no state; the
// only failure mode is a missing entry in the NRPN address table, which
// startup validation is supposed to rule out.

// Frame is one atomic unit of the wire protocol (3 raw bytes here).
//
// Gap is the pause to hold after this frame before the next one is written.
// Zero means "use the transport's configured inter-frame delay"; the builder
// only sets it where the protocol wants a different pacing (the gap between
// a soft key press and its release).
type Frame struct {
	Data []byte
	Gap  time.Duration
}

// FrameSequence is the ordered set of frames realizing one logical
// operation. The transport transmits it without interleaving.
type FrameSequence []Frame

// NRPNAddress is the two 7-bit parameter coordinates of one console
// parameter. These come from the console's MIDI protocol guide via config;
// the bridge treats them as opaque.
type NRPNAddress struct {
	MSB byte
	LSB byte
}

// AddressTable maps controllable ids to their protocol coordinates.
// Mute groups are keyed "mute_group_<n>".
type AddressTable struct {
	Channel byte // MIDI channel 0-15, baked into every status byte
	NRPN    map[string]NRPNAddress
}

func muteGroupKey(group int) string { return fmt.Sprintf("mute_group_%d", group) }

func (t *AddressTable) lookup(id string) (NRPNAddress, error) {
	addr, ok := t.NRPN[id]
	if !ok {
		return NRPNAddress{}, &MissingAddressError{Controllable: id}
	}
	return addr, nil
}

// MissingAddressError reports an operation referencing a controllable absent
// from the address table. Config validation checks every bound controllable,
// so hitting this at runtime means the config path was bypassed.
type MissingAddressError struct {
	Controllable string
}

func (e *MissingAddressError) Error() string {
	return fmt.Sprintf("no NRPN address configured for %q", e.Controllable)
}

// Timing carries the pacing constants the builder bakes into sequences.
type Timing struct {
	FrameGap time.Duration // delay between frames within one sequence
	PulseGap time.Duration // delay between a key press and its release
}

// BuildFrames translates op into its frame sequence.
func BuildFrames(op LogicalOperation, table *AddressTable, timing Timing) (FrameSequence, error) {
	switch o := op.(type) {
	case PulseKey:
		return pulseFrames(table.Channel, o.Code, timing), nil

	case SetLevel:
		addr, err := table.lookup(o.Channel)
		if err != nil {
			return nil, err
		}
		return nrpnFrames(table.Channel, addr, o.Value), nil

	case SetGroupState:
		addr, err := table.lookup(muteGroupKey(o.Group))
		if err != nil {
			return nil, err
		}
		value := muteOffValue
		if o.Muted {
			value = muteOnValue
		}
		return nrpnFrames(table.Channel, addr, value), nil

	case ApplyScene:
		var seq FrameSequence
		for _, group := range orderedGroups(o.MuteGroups) {
			sub, err := BuildFrames(SetGroupState{Group: group, Muted: true}, table, timing)
			if err != nil {
				return nil, err
			}
			seq = append(seq, sub...)
		}
		for _, group := range orderedGroups(o.UnmuteGroups) {
			sub, err := BuildFrames(SetGroupState{Group: group, Muted: false}, table, timing)
			if err != nil {
				return nil, err
			}
			seq = append(seq, sub...)
		}
		return seq, nil

	default:
		return nil, fmt.Errorf("unknown operation type: %T", op)
	}
}

// nrpnFrames builds the four-frame parameter change sequence:
// parameter select MSB, parameter select LSB, data entry MSB, data entry LSB.
//
// The value split (value>>7, value&0x7F) is emitted even though every value
// in this domain fits in 7 bits; the console requires both data entry frames.
func nrpnFrames(channel byte, addr NRPNAddress, value int) FrameSequence {
	if value < 0 {
		value = 0
	}
	if value > 127 {
		value = 127
	}
	status := byte(statusControlChange | (channel & 0x0F))
	return FrameSequence{
		{Data: []byte{status, ccNRPNParamMSB, addr.MSB}},
		{Data: []byte{status, ccNRPNParamLSB, addr.LSB}},
		{Data: []byte{status, ccDataEntryMSB, byte(value >> 7)}},
		{Data: []byte{status, ccDataEntryLSB, byte(value & 0x7F)}},
	}
}

// pulseFrames builds the soft key press/release pair. The press frame
// carries the pulse gap so the transport holds it before the release.
func pulseFrames(channel byte, code byte, timing Timing) FrameSequence {
	return FrameSequence{
		{Data: []byte{byte(statusNoteOn | (channel & 0x0F)), code, velocityKeyOn}, Gap: timing.PulseGap},
		{Data: []byte{byte(statusNoteOff | (channel & 0x0F)), code, velocityKeyOff}},
	}
}
