//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ==============================
// Evdev input adapter (Linux)
// ==============================
//
// Some footswitches enumerate as plain HID keyboards rather than MIDI
// devices. This adapter reads Linux input events from one or more
// /dev/input/eventN nodes and normalizes key presses to ButtonPress actions:
// the key code passes through, press maps to value 127 and release to 0, so
// the dispatcher's polarity handling works identically for both adapters.
//
// Like the MIDI adapter, a missing or disconnected device is not fatal:
// Run closes everything and retries on a delay until the node comes back.

// Linux input event types and values (from <linux/input.h>)
const (
	evKey = 0x01

	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// inputEvent mirrors struct input_event:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const defaultEvdevReopenDelay = 2 * time.Second

// EvdevInput reads raw input events from the configured device nodes.
type EvdevInput struct {
	devices []string
	actions chan<- Action
	logger  *slog.Logger

	reopenDelay time.Duration
}

// NewEvdevInput builds the adapter; devices are opened in Run.
func NewEvdevInput(devices []string, actions chan<- Action, logger *slog.Logger) (*EvdevInput, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("no input devices configured")
	}
	return &EvdevInput{
		devices:     devices,
		actions:     actions,
		logger:      logger,
		reopenDelay: defaultEvdevReopenDelay,
	}, nil
}

// Run pumps events until ctx is cancelled. Device failures (missing node,
// unplug, hangup) close everything and retry after the reopen delay; a
// pedal outage must never take the bridge down.
func (e *EvdevInput) Run(ctx context.Context) error {
	for {
		err := e.runOnce(ctx)
		if err == nil {
			return nil
		}
		e.logger.Warn("evdev devices unavailable, retrying",
			"error", err, "retry_in", e.reopenDelay)
		if !sleepCtx(ctx, e.reopenDelay) {
			return nil
		}
	}
}

// runOnce opens the devices and pumps events until ctx is cancelled (nil) or
// a device fails (error). Requires read access to the nodes (input group or
// root).
func (e *EvdevInput) runOnce(ctx context.Context) error {
	files := make([]*os.File, 0, len(e.devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	for _, dev := range e.devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
		e.logger.Info("evdev device opened", "device", dev)
	}

	events := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(files, events, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("evdev reader: %w", err)

		case ev := <-events:
			if ev.Type != evKey {
				continue
			}
			switch ev.Value {
			case evValuePress:
				e.actions <- ButtonPress{Code: int(ev.Code), Value: 127}
			case evValueRelease:
				e.actions <- ButtonPress{Code: int(ev.Code), Value: 0}
			case evValueRepeat:
				// Auto-repeat is noise for momentary switches.
			}
		}
	}
}

// readInputEventsEpoll reads from multiple input devices using one epoll
// instance: a single goroutine, woken by the kernel only when events are
// available, instead of one blocked goroutine per device.
func readInputEventsEpoll(files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File)
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s", f.Name())
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			events <- ev
		}
	}
}
