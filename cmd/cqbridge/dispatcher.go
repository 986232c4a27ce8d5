package main

import (
	"errors"
	"log/slog"
	"time"
)

// ==============================
// Operation dispatcher
// ==============================
//
// The dispatcher is the only component that interprets raw input events
// semantically. For each event it looks up the button binding, checks the
// trigger edge and the debounce window, flips the toggle store, derives the
// logical operation, and hands the built frame sequence to the transport.
//
// Toggle mutations are never rolled back on a send failure: the store tracks
// operator intent, and with no read-back channel there is nothing to
// reconcile against. A press during an outage is dropped, not queued.

// frameSender is the slice of the transport the dispatcher needs.
type frameSender interface {
	Send(FrameSequence) error
}

// ToggleChange describes one applied state transition, for observers.
type ToggleChange struct {
	Controllable string
	Active       bool
	Operation    string
}

// Dispatcher is the button-event state machine.
type Dispatcher struct {
	bindings      map[int]ButtonConfig
	controllables map[string]ControllableConfig
	table         *AddressTable
	timing        Timing

	store  *ToggleStore
	sender frameSender
	logger *slog.Logger

	debounceWindow time.Duration
	debounceMode   string
	lastTrigger    map[int]time.Time

	// now is the clock, injectable for tests.
	now func() time.Time

	// notify, when set, observes applied toggle changes (state hub hook).
	notify func(ToggleChange)
}

// NewDispatcher wires a dispatcher from a validated config.
func NewDispatcher(cfg *Config, store *ToggleStore, sender frameSender, logger *slog.Logger) *Dispatcher {
	bindings := make(map[int]ButtonConfig, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		if b.Polarity == "" {
			b.Polarity = polarityPress
		}
		bindings[b.Code] = b
	}
	return &Dispatcher{
		bindings:       bindings,
		controllables:  cfg.Controllables,
		table:          cfg.AddressTable(),
		timing:         cfg.Timing(),
		store:          store,
		sender:         sender,
		logger:         logger,
		debounceWindow: time.Duration(cfg.Debounce.WindowMS) * time.Millisecond,
		debounceMode:   cfg.Debounce.Mode,
		lastTrigger:    make(map[int]time.Time),
		now:            time.Now,
	}
}

// SetNotify registers a toggle-change observer. Must be set before events flow.
func (d *Dispatcher) SetNotify(fn func(ToggleChange)) { d.notify = fn }

// Handle processes one input event. Fires zero or one logical operation.
// Unknown codes and non-trigger edges are no-ops.
func (d *Dispatcher) Handle(ev ButtonPress) {
	binding, ok := d.bindings[ev.Code]
	if !ok {
		d.logger.Debug("unmapped input code", "code", ev.Code, "value", ev.Value)
		return
	}

	if !triggered(binding, ev.Value) {
		return
	}

	now := d.now()
	if last, seen := d.lastTrigger[ev.Code]; seen && now.Sub(last) < d.debounceWindow {
		if d.debounceMode == debounceSuppress {
			d.logger.Debug("duplicate event suppressed",
				"code", ev.Code, "since_last", now.Sub(last))
			d.lastTrigger[ev.Code] = now
			return
		}
		d.logger.Debug("duplicate event within debounce window, passing through",
			"code", ev.Code, "since_last", now.Sub(last))
	}
	d.lastTrigger[ev.Code] = now

	d.fire(binding.Controllable)
}

// HandleTrigger fires a controllable by name (IPC path). It goes through the
// same toggle/build/send pipeline as a button press, minus debouncing.
func (d *Dispatcher) HandleTrigger(controllable string) {
	if _, ok := d.controllables[controllable]; !ok {
		d.logger.Warn("trigger for unknown controllable", "controllable", controllable)
		return
	}
	d.fire(controllable)
}

// fire toggles the controllable and emits its operation.
func (d *Dispatcher) fire(id string) {
	spec := d.controllables[id]

	active := d.store.Toggle(id)

	var op LogicalOperation
	switch spec.Kind {
	case kindPulse:
		// The console owns the actual recording boolean; the soft key is
		// momentary, so every qualifying press pulses it regardless of our
		// local toggle. The local value only feeds display and logging.
		op = PulseKey{Code: byte(spec.SoftKey)}
		d.logger.Info("soft key pulse", "controllable", id, "local_state", active)

	case kindLevel:
		value := spec.Levels["low"]
		if active {
			value = spec.Levels["high"]
		}
		op = SetLevel{Channel: spec.Channel, Value: value}
		d.logger.Info("level preset", "controllable", id, "high", active, "value", value)

	case kindGroup:
		op = SetGroupState{Group: spec.Group, Muted: active}
		d.logger.Info("mute group", "controllable", id, "group", spec.Group, "muted", active)

	case kindScene:
		state := spec.Inactive
		if active {
			state = spec.Active
		}
		op = ApplyScene{MuteGroups: state.MuteGroups, UnmuteGroups: state.UnmuteGroups}
		d.logger.Info("scene", "controllable", id, "active", active,
			"mute", state.MuteGroups, "unmute", state.UnmuteGroups)

	default:
		d.logger.Error("controllable has unknown kind", "controllable", id, "kind", spec.Kind)
		return
	}

	seq, err := BuildFrames(op, d.table, d.timing)
	if err != nil {
		// Validation rules this out; reaching here is a config wiring bug.
		d.logger.Error("frame build failed", "operation", op.String(), "error", err)
		return
	}

	if err := d.sender.Send(seq); err != nil {
		var sendErr *SendError
		if errors.As(err, &sendErr) && sendErr.Kind == SendNotConnected {
			d.logger.Warn("mixer not connected, dropping operation", "operation", op.String())
		} else {
			d.logger.Error("send failed", "operation", op.String(), "error", err)
		}
		// Intentionally no rollback: local state follows operator intent.
	}

	if d.notify != nil {
		d.notify(ToggleChange{Controllable: id, Active: active, Operation: op.String()})
	}
}

// triggered reports whether the event value is on the binding's firing edge.
func triggered(b ButtonConfig, value int) bool {
	if b.Polarity == polarityRelease {
		return value <= b.Threshold
	}
	return value > b.Threshold
}
